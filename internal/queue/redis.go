package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"decline-notifier/internal/logger"
	"decline-notifier/internal/model"
)

const (
	// DefaultLiveTTL bounds how long a dedup key can outlive a crashed worker.
	DefaultLiveTTL = 24 * time.Hour

	pollTimeout  = time.Second
	promoteBatch = 100
)

// promoteScript moves due members of the delayed set to the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// RedisQueue keeps tasks in Redis: a SET NX key per live job, a ready list
// (LPUSH/BRPOP) and a sorted set of delayed retries scored by due time.
type RedisQueue struct {
	client  *redis.Client
	prefix  string
	liveTTL time.Duration
	log     *zap.SugaredLogger
}

func NewRedisQueue(addr string, password string, db int, prefix string) *RedisQueue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Try to ping to ensure connection, but don't fail fatally to allow retry
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q := NewRedisQueueFromClient(rdb, prefix)
	if err := rdb.Ping(ctx).Err(); err != nil {
		q.log.Warnw("Failed to connect to Redis", logger.FieldAddress, addr, logger.FieldError, err)
	}
	return q
}

// NewRedisQueueFromClient wraps an existing client.
func NewRedisQueueFromClient(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "decline:"
	}
	return &RedisQueue{
		client:  rdb,
		prefix:  prefix,
		liveTTL: DefaultLiveTTL,
		log:     logger.Named("queue.redis"),
	}
}

// WithLiveTTL overrides the dedup key expiry.
func (q *RedisQueue) WithLiveTTL(ttl time.Duration) *RedisQueue {
	if ttl > 0 {
		q.liveTTL = ttl
	}
	return q
}

// Client exposes the underlying connection for components sharing it.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

func (q *RedisQueue) liveKey(dedupKey string) string { return q.prefix + "live:" + dedupKey }
func (q *RedisQueue) readyKey() string               { return q.prefix + "ready" }
func (q *RedisQueue) delayedKey() string             { return q.prefix + "delayed" }

func (q *RedisQueue) Enqueue(ctx context.Context, task *model.Task) (bool, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return false, errors.Wrap(err, "marshal task")
	}

	ok, err := q.client.SetNX(ctx, q.liveKey(task.DedupKey), task.ID, q.liveTTL).Result()
	if err != nil {
		return false, errors.Wrapf(err, "claim dedup key %s", task.DedupKey)
	}
	if !ok {
		return false, nil
	}

	// Use LPUSH to add to the head
	if err := q.client.LPush(ctx, q.readyKey(), data).Err(); err != nil {
		q.client.Del(context.WithoutCancel(ctx), q.liveKey(task.DedupKey))
		return false, errors.Wrap(err, "push task")
	}
	return true, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*model.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.promote(ctx); err != nil && ctx.Err() == nil {
			q.log.Warnw("Promoting delayed tasks failed", logger.FieldError, err)
		}

		// Use BRPOP to remove from the tail (Blocking Pop)
		result, err := q.client.BRPop(ctx, pollTimeout, q.readyKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q.log.Warnw("Redis dequeue error, retrying in 1s", logger.FieldError, err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		// result is a slice: [key, value]
		if len(result) < 2 {
			continue
		}

		var task model.Task
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			q.log.Errorw("Failed to unmarshal task from Redis, skipping", logger.FieldError, err, "raw", result[1])
			continue
		}

		owner, err := q.client.Get(ctx, q.liveKey(task.DedupKey)).Result()
		if errors.Is(err, redis.Nil) || (err == nil && owner != task.ID) {
			// Completed or cancelled while waiting.
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "check task ownership")
		}
		return &task, nil
	}
}

func (q *RedisQueue) Schedule(ctx context.Context, task *model.Task, delay time.Duration) error {
	task.NextRetryAt = time.Now().Add(delay)
	data, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "marshal task")
	}

	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(task.NextRetryAt.UnixMilli()), Member: data})
	pipe.Expire(ctx, q.liveKey(task.DedupKey), q.liveTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "schedule retry for %s", task.DedupKey)
	}
	return nil
}

func (q *RedisQueue) Complete(ctx context.Context, dedupKey string) error {
	return errors.Wrap(q.client.Del(ctx, q.liveKey(dedupKey)).Err(), "release dedup key")
}

func (q *RedisQueue) Live(ctx context.Context, dedupKey string) (bool, error) {
	n, err := q.client.Exists(ctx, q.liveKey(dedupKey)).Result()
	if err != nil {
		return false, errors.Wrap(err, "check dedup key")
	}
	return n > 0, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.readyKey()}, now, promoteBatch).Err()
}

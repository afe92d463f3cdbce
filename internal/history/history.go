// Package history keeps a short per-call record of delivery attempts so
// operators can see why a decline did or did not reach the endpoint.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"decline-notifier/internal/model"
)

// Record is one attempt as seen by operators.
type Record struct {
	TaskID     string    `json:"task_id"`
	CallID     string    `json:"call_id"`
	Attempt    int       `json:"attempt"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Decision   string    `json:"decision"`
	Delay      string    `json:"delay,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// FromAttempt flattens an attempt for storage.
func FromAttempt(task *model.Task, a model.Attempt, at time.Time) Record {
	r := Record{
		TaskID:     task.ID,
		CallID:     task.Request.CallID,
		Attempt:    a.Number,
		HTTPStatus: a.HTTPStatus,
		Outcome:    a.Outcome.Kind.String(),
		Reason:     a.Decision.Reason,
		Decision:   a.Decision.Kind.String(),
		At:         at.UTC(),
	}
	if a.Decision.Kind == model.DecisionRetry {
		r.Delay = a.Decision.Delay.String()
	}
	if a.Err != nil {
		r.Error = a.Err.Error()
	}
	return r
}

// Log stores attempt records, newest first.
type Log interface {
	Append(ctx context.Context, r Record) error
	List(ctx context.Context, callID string) ([]Record, error)
}

// maxRecords is how many attempts are kept per call.
const maxRecords = 20

// MemoryLog is an in-process Log.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[string][]Record)}
}

func (l *MemoryLog) Append(_ context.Context, r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := append([]Record{r}, l.records[r.CallID]...)
	if len(recs) > maxRecords {
		recs = recs[:maxRecords]
	}
	l.records[r.CallID] = recs
	return nil
}

func (l *MemoryLog) List(_ context.Context, callID string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records[callID]))
	copy(out, l.records[callID])
	return out, nil
}

// RedisLog keeps records in a capped Redis list per call.
type RedisLog struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLog(client *redis.Client, prefix string, ttl time.Duration) *RedisLog {
	if prefix == "" {
		prefix = "decline:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisLog{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLog) key(callID string) string {
	return l.prefix + "attempts:" + callID
}

func (l *RedisLog) Append(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal attempt record")
	}
	k := l.key(r.CallID)
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, k, data)
	pipe.LTrim(ctx, k, 0, maxRecords-1)
	pipe.Expire(ctx, k, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "append attempt for %s", r.CallID)
	}
	return nil
}

func (l *RedisLog) List(ctx context.Context, callID string) ([]Record, error) {
	raw, err := l.client.LRange(ctx, l.key(callID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list attempts for %s", callID)
	}
	out := make([]Record, 0, len(raw))
	for _, s := range raw {
		var r Record
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

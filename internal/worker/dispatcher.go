package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"decline-notifier/internal/dedup"
	"decline-notifier/internal/history"
	"decline-notifier/internal/logger"
	"decline-notifier/internal/model"
	"decline-notifier/internal/netcheck"
	"decline-notifier/internal/queue"
)

// Runner executes one delivery attempt.
type Runner interface {
	Run(ctx context.Context, req model.DeclineRequest, attempt int) model.Attempt
}

// Dispatcher is the scheduler loop around the delivery job. It enforces the
// network precondition, applies retry delays and releases dedup keys.
type Dispatcher struct {
	WorkerPoolSize int
	Queue          queue.Queue
	Job            Runner
	Network        netcheck.Checker
	History        history.Log
	// OfflineDelay is how long a task waits when the network check fails.
	OfflineDelay time.Duration

	log *zap.SugaredLogger

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewDispatcher(poolSize int, q queue.Queue, job Runner) *Dispatcher {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Dispatcher{
		WorkerPoolSize: poolSize,
		Queue:          q,
		Job:            job,
		Network:        netcheck.Always{},
		OfflineDelay:   5 * time.Second,
		log:            logger.Named("dispatcher"),
		inFlight:       make(map[string]context.CancelFunc),
	}
}

// Run starts the workers. They stop when ctx is done; Wait blocks until then.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.WorkerPoolSize; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.log.Infow("Dispatcher started", "workers", d.WorkerPoolSize)
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Cancel drops the job for callID: the dedup key is released and an attempt
// in flight is abandoned.
func (d *Dispatcher) Cancel(ctx context.Context, callID string) error {
	key := dedup.Key(callID)
	if err := d.Queue.Complete(ctx, key); err != nil {
		return errors.Wrapf(err, "cancel %s", callID)
	}
	d.mu.Lock()
	cancel, ok := d.inFlight[key]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	d.log.Infow("Decline job cancelled", logger.FieldCallID, callID, "in_flight", ok)
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		task, err := d.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			d.log.Warnw("Dequeue failed", logger.FieldWorker, id, logger.FieldError, err)
			continue
		}
		d.process(ctx, id, task)
	}
}

func (d *Dispatcher) process(ctx context.Context, workerID int, task *model.Task) {
	log := d.log.With(logger.FieldWorker, workerID, logger.FieldTaskID, task.ID,
		logger.FieldCallID, task.Request.CallID, logger.FieldDedupKey, task.DedupKey,
		logger.FieldAttempt, task.Attempt)

	if live, err := d.Queue.Live(ctx, task.DedupKey); err == nil && !live {
		log.Infow("Skipping cancelled decline job")
		return
	}

	// Bookkeeping must finish even when the dispatcher is stopping.
	bg := context.WithoutCancel(ctx)

	if d.Network != nil && !d.Network.Online(ctx) {
		if ctx.Err() != nil {
			log.Infow("Dispatcher stopping, handing back deferred attempt")
			d.schedule(bg, log, task, 0)
			return
		}
		log.Infow("Network unavailable, deferring attempt", logger.FieldDelay, d.OfflineDelay)
		d.schedule(bg, log, task, d.OfflineDelay)
		return
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	d.track(task.DedupKey, cancel)
	rec := d.Job.Run(attemptCtx, task.Request, task.Attempt)
	d.untrack(task.DedupKey)
	cancel()

	d.record(bg, log, task, rec)

	if !rec.Decision.Done() {
		task.Attempt++
		d.schedule(bg, log, task, rec.Decision.Delay)
		return
	}
	if rec.Decision.Reason == "cancelled" {
		if ctx.Err() != nil {
			// Shutdown rather than Cancel: hand the same attempt to the next process.
			d.schedule(bg, log, task, 0)
		}
		// Cancel already released the key.
		return
	}
	if err := d.Queue.Complete(bg, task.DedupKey); err != nil {
		log.Errorw("Failed to release dedup key", logger.FieldError, err)
	}
	if rec.Decision.Kind == model.DecisionFailure {
		log.Errorw("Decline job failed permanently",
			logger.FieldReason, rec.Decision.Reason, logger.FieldError, rec.Err)
	}
}

func (d *Dispatcher) schedule(ctx context.Context, log *zap.SugaredLogger, task *model.Task, delay time.Duration) {
	if err := d.Queue.Schedule(ctx, task, delay); err != nil {
		log.Errorw("Failed to schedule retry", logger.FieldDelay, delay, logger.FieldError, err)
		return
	}
	log.Infow("Decline retry scheduled", logger.FieldDelay, delay, "next_attempt", task.Attempt)
}

func (d *Dispatcher) record(ctx context.Context, log *zap.SugaredLogger, task *model.Task, rec model.Attempt) {
	if d.History == nil {
		return
	}
	if err := d.History.Append(ctx, history.FromAttempt(task, rec, time.Now())); err != nil {
		log.Warnw("Failed to record attempt", logger.FieldError, err)
	}
}

func (d *Dispatcher) track(key string, cancel context.CancelFunc) {
	d.mu.Lock()
	d.inFlight[key] = cancel
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(key string) {
	d.mu.Lock()
	delete(d.inFlight, key)
	d.mu.Unlock()
}

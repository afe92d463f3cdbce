// Package delivery runs one attempt of the decline notification: build the
// request, call the endpoint once, classify, and ask the retry policy what
// the scheduler should do next.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"decline-notifier/internal/classify"
	"decline-notifier/internal/logger"
	"decline-notifier/internal/model"
	"decline-notifier/internal/policy"
	"decline-notifier/internal/request"
)

// Job is stateless across invocations; everything an attempt needs comes in
// through Run.
type Job struct {
	builder   request.Builder
	transport Transport
	policy    policy.RetryPolicy
	log       *zap.SugaredLogger
}

// Option customizes a Job.
type Option func(*Job)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(j *Job) {
		if l != nil {
			j.log = l
		}
	}
}

func NewJob(b request.Builder, t Transport, p policy.RetryPolicy, opts ...Option) *Job {
	j := &Job{
		builder:   b,
		transport: t,
		policy:    p,
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run performs attempt number attempt (0-based) for req and returns the
// attempt record, including the decision for the scheduler.
func (j *Job) Run(ctx context.Context, req model.DeclineRequest, attempt int) model.Attempt {
	rec := model.Attempt{Number: attempt}
	log := j.log.With(logger.FieldCallID, req.CallID, logger.FieldAttempt, attempt)

	wire, err := j.builder.Build(req)
	if err != nil {
		rec.Outcome = model.Outcome{Kind: model.OutcomeTerminal, Reason: "validation"}
		rec.Err = err
		rec.Decision = j.policy.Decide(attempt, rec.Outcome)
		log.Errorw("Decline request invalid, not sending",
			"base_url", req.BaseURL, logger.FieldError, err)
		return rec
	}

	start := time.Now()
	res := j.call(ctx, wire)
	log = log.With(logger.FieldMethod, wire.Method, logger.FieldURL, wire.URL,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	// A status that arrived before cancellation is still a delivery result.
	if res.Err != nil && ctx.Err() != nil {
		rec.Err = errors.Wrap(ctx.Err(), "decline attempt abandoned")
		rec.Outcome = model.Outcome{Kind: model.OutcomeTerminal, Reason: "cancelled"}
		rec.Decision = model.JobDecision{Kind: model.DecisionFailure, Reason: "cancelled"}
		log.Infow("Decline attempt cancelled")
		return rec
	}

	rec.HTTPStatus = res.StatusCode
	rec.Outcome = classify.Classify(res)
	rec.Decision = j.policy.Decide(attempt, rec.Outcome)

	switch {
	case res.Err != nil:
		rec.Err = errors.Mark(errors.Wrap(res.Err, "decline transport failed"), model.ErrRetryableDelivery)
	case rec.Outcome.Kind != model.OutcomeSuccess:
		rec.Err = errors.Mark(errors.Newf("decline endpoint returned status %d", res.StatusCode), model.ErrRetryableDelivery)
	}
	if rec.Decision.Kind == model.DecisionFailure && rec.Decision.Reason == "exhausted" {
		rec.Err = errors.Mark(rec.Err, model.ErrExhausted)
	}

	log = log.With(logger.FieldOutcome, rec.Outcome.Kind.String(), logger.FieldDecision, rec.Decision.Kind.String())
	switch rec.Decision.Kind {
	case model.DecisionSuccess:
		log.Infow("Decline notified", logger.FieldStatus, res.StatusCode)
	case model.DecisionRetry:
		log.Warnw("Decline failed, retry scheduled",
			logger.FieldStatus, res.StatusCode,
			logger.FieldReason, rec.Outcome.Reason,
			logger.FieldDelay, rec.Decision.Delay,
			logger.FieldError, rec.Err)
	default:
		log.Errorw("Decline failed, retry limit reached",
			logger.FieldStatus, res.StatusCode,
			logger.FieldReason, rec.Outcome.Reason,
			logger.FieldError, rec.Err)
	}
	return rec
}

// call shields the job from transports that panic.
func (j *Job) call(ctx context.Context, w request.Wire) (res classify.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = classify.Result{Err: errors.Newf("transport panic: %s", fmt.Sprint(r))}
		}
	}()
	if j.transport == nil {
		return classify.Result{Err: errors.New("no transport configured")}
	}
	return j.transport.Do(ctx, w)
}

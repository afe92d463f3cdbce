package policy

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"

	"decline-notifier/internal/model"
)

const (
	DefaultMaxRetries  = 1
	DefaultBaseDelay   = 5 * time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxDelay    = 5 * time.Minute
	maxRetriesCeiling  = 10
	minBackoffFloor    = time.Millisecond
	maxMultiplierLimit = 10.0
)

// RetryPolicy decides what happens after each attempt. MaxRetries counts
// retries after the first attempt.
type RetryPolicy struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// Default mirrors the single-retry delivery: one extra attempt after 5s.
func Default() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Multiplier: DefaultMultiplier,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Normalize fills zero values with defaults and rejects values that cannot
// describe a bounded schedule.
func (p RetryPolicy) Normalize() (RetryPolicy, error) {
	n := p
	if n.MaxRetries < 0 || n.MaxRetries > maxRetriesCeiling {
		return RetryPolicy{}, errors.Newf("invalid retry policy: max_retries=%d (allowed 0..%d)", n.MaxRetries, maxRetriesCeiling)
	}
	if n.BaseDelay <= 0 {
		n.BaseDelay = DefaultBaseDelay
	}
	if n.BaseDelay < minBackoffFloor {
		n.BaseDelay = minBackoffFloor
	}
	if n.Multiplier == 0 {
		n.Multiplier = DefaultMultiplier
	}
	if n.Multiplier < 1 || n.Multiplier > maxMultiplierLimit || math.IsNaN(n.Multiplier) {
		return RetryPolicy{}, errors.Newf("invalid retry policy: multiplier=%v (allowed 1..%v)", n.Multiplier, maxMultiplierLimit)
	}
	if n.MaxDelay <= 0 {
		n.MaxDelay = DefaultMaxDelay
	}
	if n.MaxDelay < n.BaseDelay {
		n.MaxDelay = n.BaseDelay
	}
	return n, nil
}

// Decide maps an attempt number and its outcome to a decision. attempt is the
// 0-based number of attempts already made before this one.
func (p RetryPolicy) Decide(attempt int, out model.Outcome) model.JobDecision {
	switch out.Kind {
	case model.OutcomeSuccess:
		return model.JobDecision{Kind: model.DecisionSuccess, Reason: out.Reason}
	case model.OutcomeRetryable:
		if attempt < p.MaxRetries {
			return model.JobDecision{Kind: model.DecisionRetry, Delay: p.Backoff(attempt), Reason: out.Reason}
		}
		return model.JobDecision{Kind: model.DecisionFailure, Reason: "exhausted"}
	default:
		// Terminal and anything unrecognized stop immediately.
		reason := out.Reason
		if reason == "" {
			reason = "terminal"
		}
		return model.JobDecision{Kind: model.DecisionFailure, Reason: reason}
	}
}

// Backoff returns BaseDelay * Multiplier^attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = DefaultMultiplier
	}
	d := float64(base) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

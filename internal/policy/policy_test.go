package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decline-notifier/internal/model"
)

var (
	success   = model.Outcome{Kind: model.OutcomeSuccess, Reason: "success"}
	retryable = model.Outcome{Kind: model.OutcomeRetryable, Reason: "http_503"}
	terminal  = model.Outcome{Kind: model.OutcomeTerminal, Reason: "validation"}
)

func TestDecide_SuccessAlwaysCompletes(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2}
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Decide(attempt, success)
		assert.Equal(t, model.DecisionSuccess, d.Kind, "attempt %d", attempt)
	}
}

func TestDecide_RetryBoundary(t *testing.T) {
	for budget := 0; budget <= 4; budget++ {
		p := RetryPolicy{MaxRetries: budget, BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Hour}
		for attempt := 0; attempt < budget; attempt++ {
			d := p.Decide(attempt, retryable)
			assert.Equal(t, model.DecisionRetry, d.Kind, "budget %d attempt %d", budget, attempt)
		}
		d := p.Decide(budget, retryable)
		assert.Equal(t, model.DecisionFailure, d.Kind, "budget %d", budget)
		assert.Equal(t, "exhausted", d.Reason)

		assert.Equal(t, model.DecisionFailure, p.Decide(budget+1, retryable).Kind)
	}
}

func TestDecide_TerminalBypassesBudget(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, Multiplier: 2}
	d := p.Decide(0, terminal)
	assert.Equal(t, model.DecisionFailure, d.Kind)
	assert.Equal(t, "validation", d.Reason)

	d = p.Decide(0, model.Outcome{})
	assert.Equal(t, model.DecisionFailure, d.Kind)
}

func TestDecide_DefaultSingleRetry(t *testing.T) {
	p := Default()
	first := p.Decide(0, retryable)
	require.Equal(t, model.DecisionRetry, first.Kind)
	assert.Equal(t, 5*time.Second, first.Delay)

	assert.Equal(t, model.DecisionSuccess, p.Decide(1, success).Kind)
	assert.Equal(t, model.DecisionFailure, p.Decide(1, retryable).Kind)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Second, Multiplier: 2, MaxDelay: time.Minute}
	assert.Equal(t, 10*time.Second, p.Backoff(0))
	assert.Equal(t, 20*time.Second, p.Backoff(1))
	assert.Equal(t, 40*time.Second, p.Backoff(2))
	assert.Equal(t, time.Minute, p.Backoff(3))
	assert.Equal(t, time.Minute, p.Backoff(50))
	assert.Equal(t, 10*time.Second, p.Backoff(-1))
}

func TestNormalize(t *testing.T) {
	n, err := RetryPolicy{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 0, n.MaxRetries)
	assert.Equal(t, DefaultBaseDelay, n.BaseDelay)
	assert.Equal(t, DefaultMultiplier, n.Multiplier)
	assert.Equal(t, DefaultMaxDelay, n.MaxDelay)

	n, err = RetryPolicy{MaxRetries: 2, BaseDelay: time.Minute, MaxDelay: time.Second}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, n.MaxDelay)

	_, err = RetryPolicy{MaxRetries: -1}.Normalize()
	assert.Error(t, err)
	_, err = RetryPolicy{MaxRetries: 11}.Normalize()
	assert.Error(t, err)
	_, err = RetryPolicy{Multiplier: 0.5}.Normalize()
	assert.Error(t, err)
}

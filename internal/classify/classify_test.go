package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"decline-notifier/internal/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify_StatusCodes(t *testing.T) {
	tests := []struct {
		status int
		kind   model.OutcomeKind
		reason string
	}{
		{200, model.OutcomeSuccess, "success"},
		{204, model.OutcomeSuccess, "success"},
		{299, model.OutcomeSuccess, "success"},
		{199, model.OutcomeRetryable, "http_199"},
		{300, model.OutcomeRetryable, "http_300"},
		{400, model.OutcomeRetryable, "http_400"},
		{404, model.OutcomeRetryable, "http_404"},
		{500, model.OutcomeRetryable, "http_500"},
		{503, model.OutcomeRetryable, "http_503"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			out := Classify(Result{StatusCode: tt.status})
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestClassify_TransportErrors(t *testing.T) {
	out := Classify(Result{Err: errors.New("connection refused")})
	assert.Equal(t, model.OutcomeRetryable, out.Kind)
	assert.Equal(t, "transport_error", out.Reason)

	out = Classify(Result{Err: fmt.Errorf("dial: %w", timeoutErr{})})
	assert.Equal(t, model.OutcomeRetryable, out.Kind)
	assert.Equal(t, "transport_timeout", out.Reason)

	out = Classify(Result{Err: context.DeadlineExceeded})
	assert.Equal(t, "transport_timeout", out.Reason)
}

func TestClassify_NeverTerminal(t *testing.T) {
	for status := 0; status < 700; status++ {
		assert.NotEqual(t, model.OutcomeTerminal, Classify(Result{StatusCode: status}).Kind)
	}
}

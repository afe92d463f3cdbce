// Package classify maps a transport result to an attempt outcome. It never
// looks at attempt counts; terminality is decided by the retry policy.
package classify

import (
	"context"
	"net"
	"strconv"

	"github.com/cockroachdb/errors"

	"decline-notifier/internal/model"
)

// Result is what the transport returns for one call: either a status code or
// the error that prevented a response. StatusCode is 0 when Err is set.
type Result struct {
	StatusCode int
	Err        error
}

// Classify returns Success for 2xx and Retryable for everything else.
func Classify(res Result) model.Outcome {
	if res.Err != nil {
		if isTimeout(res.Err) {
			return model.Outcome{Kind: model.OutcomeRetryable, Reason: "transport_timeout"}
		}
		return model.Outcome{Kind: model.OutcomeRetryable, Reason: "transport_error"}
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return model.Outcome{Kind: model.OutcomeSuccess, Reason: "success"}
	}
	return model.Outcome{Kind: model.OutcomeRetryable, Reason: "http_" + strconv.Itoa(res.StatusCode)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

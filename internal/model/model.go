package model

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Error classes surfaced to the scheduler and to operators.
var (
	// ErrValidation marks a request that can never become deliverable.
	ErrValidation = errors.New("invalid decline request")
	// ErrRetryableDelivery marks a non-2xx response or a transport failure.
	ErrRetryableDelivery = errors.New("decline delivery failed")
	// ErrExhausted marks a job whose retry budget has been consumed.
	ErrExhausted = errors.New("decline retry budget exhausted")
)

// DeclineRequest is the payload handed to the delivery job. It is passed by
// value and must not change between attempts of the same job.
type DeclineRequest struct {
	CallID      string `json:"call_id"`
	BaseURL     string `json:"base_url"`
	ReceiverID  string `json:"receiver_id,omitempty"`
	ActionToken string `json:"action_token,omitempty"`
}

// NewDeclineRequest trims the base URL and validates the required fields.
func NewDeclineRequest(callID, baseURL, receiverID, actionToken string) (DeclineRequest, error) {
	req := DeclineRequest{
		CallID:      callID,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		ReceiverID:  receiverID,
		ActionToken: actionToken,
	}
	if err := req.Validate(); err != nil {
		return DeclineRequest{}, err
	}
	return req, nil
}

// Validate reports ErrValidation when call_id or base_url is blank.
func (r DeclineRequest) Validate() error {
	if strings.TrimSpace(r.CallID) == "" {
		return errors.WithHint(errors.Wrap(ErrValidation, "call_id is blank"), "enqueue with the call identifier")
	}
	if strings.TrimSpace(strings.TrimRight(r.BaseURL, "/")) == "" {
		return errors.WithHint(errors.Wrap(ErrValidation, "base_url is blank"), "enqueue with the endpoint base URL")
	}
	return nil
}

// OutcomeKind classifies the result of one attempt.
type OutcomeKind int

const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeSuccess
	OutcomeRetryable
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is a classified attempt result.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// DecisionKind is what the scheduler must do after an attempt.
type DecisionKind int

const (
	DecisionSuccess DecisionKind = iota + 1
	DecisionFailure
	DecisionRetry
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionSuccess:
		return "complete_success"
	case DecisionFailure:
		return "complete_failure"
	case DecisionRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// JobDecision is returned to the scheduler. Delay is only meaningful for
// DecisionRetry; the scheduler owns waiting it out.
type JobDecision struct {
	Kind   DecisionKind
	Delay  time.Duration
	Reason string
}

// Done reports whether the job reached a terminal decision.
func (d JobDecision) Done() bool {
	return d.Kind == DecisionSuccess || d.Kind == DecisionFailure
}

// Attempt records a single execution of the delivery job.
type Attempt struct {
	Number     int
	Outcome    Outcome
	HTTPStatus int // 0 when no response was received
	Err        error
	Decision   JobDecision
}

// Task wraps the request with scheduling metadata
type Task struct {
	ID          string         `json:"id"`
	DedupKey    string         `json:"dedup_key"`
	Request     DeclineRequest `json:"request"`
	Attempt     int            `json:"attempt"`
	NextRetryAt time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

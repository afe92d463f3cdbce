package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"decline-notifier/internal/dedup"
	"decline-notifier/internal/model"
	"decline-notifier/internal/queue"
)

// NewTask wraps req for the queue. The request must already be validated.
func NewTask(req model.DeclineRequest) *model.Task {
	return &model.Task{
		ID:        uuid.NewString(),
		DedupKey:  dedup.Key(req.CallID),
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
}

// Submit validates and enqueues a decline. It returns the new task and true,
// or nil and false when a job for the same call is already live.
func Submit(ctx context.Context, q queue.Queue, callID, baseURL, receiverID, actionToken string) (*model.Task, bool, error) {
	req, err := model.NewDeclineRequest(callID, baseURL, receiverID, actionToken)
	if err != nil {
		return nil, false, err
	}
	task := NewTask(req)
	ok, err := q.Enqueue(ctx, task)
	if err != nil || !ok {
		return nil, false, err
	}
	return task, true, nil
}

package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Inline runs tasks synchronously in the caller's goroutine, sleeping
// between retries. A cancelled ctx abandons the task without OnExhausted. The CLI uses it so a one-shot import finishes before exit.
type Inline struct{}

func (Inline) Publish(ctx context.Context, task *Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = time.Now()

	for {
		task.Status = TaskRunning
		err := runAttempt(ctx, task)
		if err == nil {
			task.Status = TaskCompleted
			return task.ID, nil
		}
		task.Error = err.Error()
		if ctx.Err() != nil {
			task.Status = TaskDropped
			return task.ID, ctx.Err()
		}

		if task.Attempt >= task.MaxRetries {
			task.Status = TaskFailed
			if task.OnExhausted != nil {
				task.OnExhausted(ctx, err)
			}
			return task.ID, nil
		}
		task.Attempt++

		select {
		case <-time.After(task.RetryDelay):
		case <-ctx.Done():
			task.Status = TaskDropped
			return task.ID, ctx.Err()
		}
	}
}

var _ Publisher = Inline{}

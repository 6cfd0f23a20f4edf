// Package worker runs background tasks on an in-process channel queue with
// a fixed pool of workers and fixed-delay retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("queue is closed")

// TaskStatus represents the current status of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskRetrying  TaskStatus = "retrying"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	// TaskDropped marks a task abandoned by Stop before it could finish.
	TaskDropped TaskStatus = "dropped"
)

// Task is a unit of background work.
type Task struct {
	ID         string
	Name       string
	MaxRetries int
	RetryDelay time.Duration

	// Run executes one attempt, numbered from 0. A returned error triggers a
	// retry until MaxRetries is reached.
	Run func(ctx context.Context, attempt int) error
	// OnExhausted runs once after the final failed attempt.
	OnExhausted func(ctx context.Context, err error)

	Attempt   int
	Status    TaskStatus
	Error     string
	CreatedAt time.Time
}

// Snapshot is a copy of a task's bookkeeping fields.
type Snapshot struct {
	ID        string
	Name      string
	Attempt   int
	Status    TaskStatus
	Error     string
	CreatedAt time.Time
}

// Publisher enqueues tasks and returns their handle.
type Publisher interface {
	Publish(ctx context.Context, task *Task) (string, error)
}

// Queue is an in-memory implementation of Publisher. It is safe for
// concurrent use and suits single-instance deployments.
type Queue struct {
	taskChan  chan *Task
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	logger    *slog.Logger

	// runCtx outlives the context passed to Start; Stop cancels it only
	// when its deadline passes.
	runCtx    context.Context
	cancelRun context.CancelFunc

	statusMu sync.RWMutex
	tasks    map[string]Snapshot
}

// NewQueue creates a queue. bufferSize bounds how many tasks can wait before
// Publish blocks.
func NewQueue(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Queue{
		taskChan:  make(chan *Task, bufferSize),
		closeChan: make(chan struct{}),
		logger:    logger,
		tasks:     make(map[string]Snapshot),
	}
}

// Publish enqueues a task for asynchronous processing.
func (q *Queue) Publish(ctx context.Context, task *Task) (string, error) {
	if task.Run == nil {
		return "", fmt.Errorf("task %q has no run function", task.Name)
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.Status = TaskPending
	q.record(task)

	if err := q.enqueue(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

func (q *Queue) enqueue(ctx context.Context, task *Task) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	select {
	case q.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrClosed
	}
}

// Start launches workerCount goroutines consuming the queue. Tasks run on
// a context detached from ctx, so cancelling ctx does not interrupt them;
// use Stop to shut the workers down.
func (q *Queue) Start(ctx context.Context, workerCount int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.runCtx == nil {
		q.runCtx, q.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	}
	runCtx := q.runCtx
	q.mu.Unlock()

	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		q.wg.Add(1)
		go q.worker(runCtx)
	}
	q.logger.Info("worker queue started", slog.Int("workers", workerCount))
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-q.closeChan:
			q.drain(ctx)
			return
		case task := <-q.taskChan:
			if task == nil {
				return
			}
			if ctx.Err() != nil {
				q.drop(task)
				continue
			}
			q.process(ctx, task)
		}
	}
}

// drain runs the tasks still buffered when the queue closed, until the
// buffer is empty or Stop gives up.
func (q *Queue) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case task := <-q.taskChan:
			q.process(ctx, task)
		default:
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, task *Task) {
	task.Status = TaskRunning
	q.record(task)

	err := runAttempt(ctx, task)
	if err == nil {
		task.Status = TaskCompleted
		task.Error = ""
		q.record(task)
		return
	}

	task.Error = err.Error()
	if ctx.Err() != nil {
		q.drop(task)
		return
	}
	if task.Attempt < task.MaxRetries {
		task.Attempt++
		task.Status = TaskRetrying
		q.record(task)
		q.logger.Warn("task failed, retrying",
			slog.String("task", task.Name),
			slog.String("id", task.ID),
			slog.Int("attempt", task.Attempt),
			slog.Any("error", err))

		time.AfterFunc(task.RetryDelay, func() {
			task.Status = TaskPending
			err := q.enqueue(ctx, task)
			switch {
			case errors.Is(err, ErrClosed) || ctx.Err() != nil:
				q.drop(task)
			case err != nil:
				q.exhaust(ctx, task, err)
			}
		})
		return
	}

	q.exhaust(ctx, task, err)
}

func (q *Queue) exhaust(ctx context.Context, task *Task, err error) {
	task.Status = TaskFailed
	task.Error = err.Error()
	q.record(task)
	q.logger.Error("task failed permanently",
		slog.String("task", task.Name),
		slog.String("id", task.ID),
		slog.Any("error", err))
	if task.OnExhausted != nil {
		task.OnExhausted(ctx, err)
	}
}

// drop records a task abandoned at shutdown. OnExhausted is not called: the
// task did not fail, it was interrupted.
func (q *Queue) drop(task *Task) {
	task.Status = TaskDropped
	q.record(task)
	q.logger.Warn("task dropped at shutdown",
		slog.String("task", task.Name),
		slog.String("id", task.ID),
		slog.Int("attempt", task.Attempt))
}

// runAttempt converts a panic inside Run into an error.
func runAttempt(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(ctx, task.Attempt)
}

func (q *Queue) record(task *Task) {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	q.tasks[task.ID] = Snapshot{
		ID:        task.ID,
		Name:      task.Name,
		Attempt:   task.Attempt,
		Status:    task.Status,
		Error:     task.Error,
		CreatedAt: task.CreatedAt,
	}
}

// Get returns the latest snapshot of a task.
func (q *Queue) Get(id string) (Snapshot, bool) {
	q.statusMu.RLock()
	defer q.statusMu.RUnlock()
	s, ok := q.tasks[id]
	return s, ok
}

// Stop closes the queue, lets the workers finish the running and buffered
// tasks and waits for them. When ctx ends first, running tasks are cancelled,
// the remaining buffered tasks are dropped and ctx's error is returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	cancelRun := q.cancelRun
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancelRun != nil {
			cancelRun()
		}
		return nil
	case <-ctx.Done():
		if cancelRun != nil {
			cancelRun()
		}
		return ctx.Err()
	}
}

var _ Publisher = (*Queue)(nil)

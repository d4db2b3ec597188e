package workqueue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/retry"
)

// ErrQueueClosed is returned by Enqueue after Cancel or Shutdown.
var ErrQueueClosed = errors.New("work queue is closed")

// DefaultHistoryLimit is how many finished tasks the queue remembers.
const DefaultHistoryLimit = 200

// DefaultRetryConfig retries agent tasks on transient model errors.
// Backoff schedule: 2s, 4s, 8s, 16s, then 30s (capped).
func DefaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:   6,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Queue runs background tasks for the life of the process. Concurrency is
// governed by a ConcurrencyStrategy; failures that retry.IsRetryable accepts
// are retried with exponential backoff.
type Queue struct {
	mu     sync.Mutex
	tasks  []*TaskState
	closed bool

	strategy     ConcurrencyStrategy
	retryConfig  *retry.Config
	historyLimit int

	// idle is closed whenever no task is pending or running.
	idle chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	onUpdate func([]TaskSnapshot)

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig sets the retry configuration. A nil config disables retries.
func WithRetryConfig(config *retry.Config) QueueOption {
	return func(q *Queue) {
		if config == nil {
			config = &retry.Config{}
		}
		q.retryConfig = config
	}
}

// WithHistoryLimit caps how many finished tasks GetTasks reports.
func WithHistoryLimit(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.historyLimit = n
		}
	}
}

// New creates a new work queue with the given options.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		tasks:        make([]*TaskState, 0),
		strategy:     NewSerializedStrategy(),
		retryConfig:  DefaultRetryConfig(),
		historyLimit: DefaultHistoryLimit,
		idle:         idle,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// SetOnUpdate sets the callback invoked when task state changes.
//
// WARNING: The callback is invoked while holding the queue's internal lock.
// Do NOT call any Queue methods from within the callback or it will deadlock.
func (q *Queue) SetOnUpdate(callback func([]TaskSnapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onUpdate = callback
}

// Enqueue adds a task to the queue and starts it if the strategy allows.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("Queue closed, rejecting task",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return ErrQueueClosed
	}

	q.markBusyLocked()

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)

	q.logger.Info("Task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.String("owner", task.Owner().String()),
		zap.Bool("requires_llm", task.RequiresLLM()))

	q.notifyUpdateLocked()
	q.tryStartTasksLocked()
	return nil
}

// tryStartTasksLocked starts pending tasks in FIFO order while the strategy
// has room. Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.closed {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}

		requiresLLM := ts.Task.RequiresLLM()
		if !q.strategy.CanStart(requiresLLM) {
			continue
		}

		q.strategy.OnStart(requiresLLM)
		ts.SetStatus(TaskStatusRunning)
		q.notifyUpdateLocked()

		q.logger.Debug("Starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask executes a task with retry logic for transient errors.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	var lastErr error

	for attempt := 0; attempt <= q.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := q.calculateBackoff(attempt)
			q.logger.Info("Retrying task after backoff",
				zap.String("task_id", ts.Task.ID()),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", q.retryConfig.MaxRetries),
				zap.Duration("backoff", backoff))

			timer := time.NewTimer(backoff)
			select {
			case <-q.ctx.Done():
				timer.Stop()
				q.finishTask(ts, q.ctx.Err())
				return
			case <-timer.C:
			}
		}

		err := q.execute(ts)
		if err == nil {
			q.finishTask(ts, nil)
			return
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			break
		}

		if !retry.IsRetryable(err) {
			q.logger.Warn("Non-retryable error, failing task",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Error(err))
			break
		}

		if attempt >= q.retryConfig.MaxRetries {
			q.logger.Error("Task failed after max retries",
				zap.String("task_id", ts.Task.ID()),
				zap.Int("retry_count", ts.GetRetryCount()),
				zap.Error(err))
			break
		}
		ts.IncrementRetryCount()
	}

	q.finishTask(ts, lastErr)
}

// execute runs one attempt, turning a panic into an error.
func (q *Queue) execute(ts *TaskState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked",
				zap.String("task_id", ts.Task.ID()),
				zap.Any("panic", r))
			err = &panicError{value: r}
		}
	}()
	return ts.Task.Execute(q.ctx)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "task panicked"
}

// IsRetryable keeps a crashing task from being run again.
func (e *panicError) IsRetryable() bool { return false }

// calculateBackoff computes the backoff duration for a retry attempt.
func (q *Queue) calculateBackoff(attempt int) time.Duration {
	cfg := q.retryConfig
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		backoff += backoff * cfg.JitterFactor * (rand.Float64()*2 - 1)
	}
	return time.Duration(backoff)
}

// finishTask records the outcome and starts whatever the strategy now allows.
func (q *Queue) finishTask(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(ts.Task.RequiresLLM())

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.logger.Info("Task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()))
	case errors.Is(err, context.Canceled):
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("Task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetError(err)
		ts.SetStatus(TaskStatusFailed)
		q.logger.Error("Task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()),
			zap.Error(err))
	}

	q.pruneLocked()
	q.notifyUpdateLocked()

	if q.allTasksDoneLocked() {
		q.markIdleLocked()
		return
	}
	q.tryStartTasksLocked()
}

// pruneLocked drops the oldest finished tasks beyond the history limit.
// Must be called with lock held.
func (q *Queue) pruneLocked() {
	finished := 0
	for _, ts := range q.tasks {
		if ts.GetStatus().IsTerminal() {
			finished++
		}
	}
	excess := finished - q.historyLimit
	if excess <= 0 {
		return
	}

	kept := q.tasks[:0]
	for _, ts := range q.tasks {
		if excess > 0 && ts.GetStatus().IsTerminal() {
			excess--
			continue
		}
		kept = append(kept, ts)
	}
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = kept
}

// allTasksDoneLocked returns true if no task is pending or running.
// Must be called with lock held.
func (q *Queue) allTasksDoneLocked() bool {
	for _, ts := range q.tasks {
		if !ts.GetStatus().IsTerminal() {
			return false
		}
	}
	return true
}

// markIdleLocked closes the idle channel if it is open.
// Must be called with lock held.
func (q *Queue) markIdleLocked() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// markBusyLocked replaces a closed idle channel so Wait blocks again.
// Must be called with lock held.
func (q *Queue) markBusyLocked() {
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
}

// notifyUpdateLocked calls the update callback with a snapshot of all tasks.
// Must be called with lock held.
func (q *Queue) notifyUpdateLocked() {
	if q.onUpdate == nil {
		return
	}
	q.onUpdate(q.snapshotLocked(uuid.Nil))
}

func (q *Queue) snapshotLocked(owner uuid.UUID) []TaskSnapshot {
	snapshots := make([]TaskSnapshot, 0, len(q.tasks))
	for _, ts := range q.tasks {
		if owner != uuid.Nil && ts.Task.Owner() != owner {
			continue
		}
		snapshots = append(snapshots, ts.Snapshot())
	}
	return snapshots
}

// GetTasks returns a snapshot of all tasks still in history.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked(uuid.Nil)
}

// TasksFor returns the tasks belonging to one owner.
func (q *Queue) TasksFor(owner uuid.UUID) []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	if owner == uuid.Nil {
		return []TaskSnapshot{}
	}
	return q.snapshotLocked(owner)
}

// Wait blocks until no task is pending or running, or ctx is done.
// It returns the error of the first failed task still in history.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusFailed {
			return ts.GetError()
		}
	}
	return nil
}

// Cancel stops accepting tasks, signals running tasks to stop and marks
// pending tasks cancelled.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.logger.Info("Queue cancelled, signaling running tasks to stop")
	q.cancel()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}

	q.notifyUpdateLocked()

	if q.allTasksDoneLocked() {
		q.markIdleLocked()
	}
}

// Shutdown cancels the queue and waits for running tasks to return.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.Cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns a progress summary.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/metrics"
)

// ErrQueueClosed is returned by Enqueue after the pool has stopped.
var ErrQueueClosed = errors.New("queue is closed")

const pollInterval = 100 * time.Millisecond

// WorkerPool runs long-lived workers that cooperatively poll the queue.
type WorkerPool struct {
	queue      *Queue
	maxWorkers int
	softLimit  time.Duration
	hardLimit  time.Duration
	client     *http.Client

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// sleepFn is swapped in tests to avoid real backoff waits.
	sleepFn func(d time.Duration, fn func())
}

// NewWorkerPool creates a pool of maxWorkers over the queue. Soft limit
// warns; hard limit cancels the handler context.
func NewWorkerPool(q *Queue, maxWorkers int, softLimit, hardLimit time.Duration) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if hardLimit <= 0 {
		hardLimit = 10 * time.Minute
	}
	if softLimit <= 0 || softLimit > hardLimit {
		softLimit = hardLimit / 2
	}
	return &WorkerPool{
		queue:      q,
		maxWorkers: maxWorkers,
		softLimit:  softLimit,
		hardLimit:  hardLimit,
		client:     &http.Client{Timeout: 10 * time.Second},
		sleepFn: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// Start launches the workers. Idempotent.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
	p.queue.log.Info().Int("workers", p.maxWorkers).Msg("worker pool started")
}

// Stop closes the queue to new work, lets workers drain their current
// task and waits for them to exit. Idempotent. Still-pending tasks stay
// in the journal for the next run.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	p.queue.close()
	cancel()
	p.wg.Wait()
	p.queue.log.Info().Msg("worker pool stopped")
}

// worker polls for tasks, sleeping briefly when the queue is empty.
func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task := p.queue.Dequeue()
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		metrics.WorkersBusy.Inc()
		p.process(ctx, task)
		metrics.WorkersBusy.Dec()
	}
}

// process runs one attempt of a task through its handler.
func (p *WorkerPool) process(ctx context.Context, task *Task) {
	started := time.Now()

	handler, ok := p.queue.handler(task.Type)
	if !ok {
		// No retry: a missing handler will not appear by waiting.
		p.finish(task, &Result{
			TaskID:     task.ID,
			Status:     StatusFailed,
			Error:      fmt.Sprintf("No handler registered for task type %q", task.Type),
			StartedAt:  started,
			RetryCount: task.RetryCount,
		})
		return
	}

	hardLimit := p.hardLimit
	if task.TimeoutSeconds > 0 {
		hardLimit = time.Duration(task.TimeoutSeconds) * time.Second
	}

	taskCtx, cancel := context.WithTimeout(ctx, hardLimit)
	softTimer := time.AfterFunc(p.softLimit, func() {
		p.queue.log.Warn().
			Str("task_id", task.ID).
			Str("task_type", task.Type).
			Dur("soft_limit", p.softLimit).
			Msg("task exceeded soft time limit")
	})

	result, err := handler(taskCtx, task.Payload, task.Metadata)
	softTimer.Stop()
	cancel()

	if taskCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("hard time limit exceeded after %s", hardLimit)
	}

	if err != nil {
		p.fail(task, started, err)
		return
	}

	p.finish(task, &Result{
		TaskID:     task.ID,
		Status:     StatusCompleted,
		Result:     result,
		StartedAt:  started,
		RetryCount: task.RetryCount,
	})
}

// fail routes a failed attempt to retry or terminal failure.
func (p *WorkerPool) fail(task *Task, started time.Time, err error) {
	if task.RetryCount < task.MaxRetries {
		backoff := retryBackoff(task.RetryCount)
		task.RetryCount++
		metrics.TaskRetries.Inc()
		p.queue.log.Info().
			Str("task_id", task.ID).
			Int("retry", task.RetryCount).
			Dur("backoff", backoff).
			Err(err).
			Msg("task failed, scheduling retry")

		p.queue.recordResult(&Result{
			TaskID:     task.ID,
			Status:     StatusRetry,
			Error:      err.Error(),
			StartedAt:  started,
			RetryCount: task.RetryCount,
		})
		p.sleepFn(backoff, func() { p.queue.requeue(task) })
		return
	}

	p.finish(task, &Result{
		TaskID:     task.ID,
		Status:     StatusFailed,
		Error:      err.Error(),
		StartedAt:  started,
		RetryCount: task.RetryCount,
	})
}

// finish records a terminal result and fires the callback if configured.
func (p *WorkerPool) finish(task *Task, res *Result) {
	res.CompletedAt = time.Now()
	res.DurationSeconds = res.CompletedAt.Sub(task.EnqueuedAt).Seconds()
	p.queue.recordResult(res)

	if p.queue.journal != nil {
		_ = p.queue.journal.UpdateTaskStatus(task.ID, res.Status, task.RetryCount)
	}
	metrics.TasksCompleted.WithLabelValues(task.Type, string(res.Status)).Inc()

	if task.CallbackURL != "" {
		p.postCallback(task, res)
	}
}

// retryBackoff returns min(2^retry, 60) seconds.
func retryBackoff(retryCount int) time.Duration {
	secs := 1 << retryCount
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// postCallback POSTs the result envelope to the task's callback URL.
// Best effort: failures are logged, never retried.
func (p *WorkerPool) postCallback(task *Task, res *Result) {
	envelope := map[string]interface{}{
		"task_id":          task.ID,
		"task_type":        task.Type,
		"status":           res.Status,
		"result":           res.Result,
		"duration_seconds": res.DurationSeconds,
	}
	if res.Error != "" {
		envelope["error"] = res.Error
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	resp, err := p.client.Post(task.CallbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		p.queue.log.Warn().Err(err).Str("task_id", task.ID).Msg("callback delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.queue.log.Warn().
			Int("status", resp.StatusCode).
			Str("task_id", task.ID).
			Msg("callback returned non-2xx")
	}
}

package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/metrics"
)

// taskHeap orders tasks by (priority, enqueued_at); earlier wins ties.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// Journal persists queue state across restarts. Implemented by the sqlite
// store in this package; nil disables durability.
type Journal interface {
	SaveTask(task *Task, status Status) error
	UpdateTaskStatus(taskID string, status Status, retryCount int) error
	PendingTasks() ([]*Task, error)
}

// Queue is the priority task queue. The heap and the pending/processing/
// result sets are mutated only under the queue's internal lock.
type Queue struct {
	mu         sync.Mutex
	heap       taskHeap
	pending    map[string]*Task
	processing map[string]*Task
	results    map[string]*Result
	resultAge  map[string]time.Time
	handlers   map[string]Handler

	retention time.Duration
	journal   Journal
	closed    bool

	totalProcessed int64
	totalDuration  time.Duration

	log zerolog.Logger
}

// New creates a queue. retention bounds how long terminal results stay in
// memory; journal may be nil.
func New(retention time.Duration, journal Journal) *Queue {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Queue{
		pending:    make(map[string]*Task),
		processing: make(map[string]*Task),
		results:    make(map[string]*Result),
		resultAge:  make(map[string]time.Time),
		handlers:   make(map[string]Handler),
		retention:  retention,
		journal:    journal,
		log:        logging.Component("queue"),
	}
}

// RegisterHandler binds a task type to a handler. Last registration wins.
func (q *Queue) RegisterHandler(taskType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = handler
}

// handler looks up the handler for a type.
func (q *Queue) handler(taskType string) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handlers[taskType]
	return h, ok
}

// EnqueueOpts are the optional knobs for Enqueue.
type EnqueueOpts struct {
	Timeout     time.Duration
	MaxRetries  int
	CallbackURL string
	Metadata    map[string]interface{}
}

// Enqueue submits a task and returns its id. Fails closed after Stop.
func (q *Queue) Enqueue(taskType string, payload map[string]interface{}, priority Priority, opts EnqueueOpts) (string, error) {
	task := NewTask(taskType, payload, priority)
	if opts.Timeout > 0 {
		task.TimeoutSeconds = int(opts.Timeout.Seconds())
	}
	if opts.MaxRetries > 0 {
		task.MaxRetries = opts.MaxRetries
	}
	task.CallbackURL = opts.CallbackURL
	task.Metadata = opts.Metadata

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	heap.Push(&q.heap, task)
	q.pending[task.ID] = task
	depth := len(q.heap)
	q.mu.Unlock()

	if q.journal != nil {
		if err := q.journal.SaveTask(task, StatusPending); err != nil {
			q.log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to journal task")
		}
	}

	metrics.TasksEnqueued.WithLabelValues(taskType, priority.QueueName()).Inc()
	metrics.QueueDepth.Set(float64(depth))
	return task.ID, nil
}

// requeue puts a retried task back on the heap at its original priority.
func (q *Queue) requeue(task *Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	heap.Push(&q.heap, task)
	q.pending[task.ID] = task
	delete(q.processing, task.ID)
	depth := len(q.heap)
	q.mu.Unlock()

	if q.journal != nil {
		_ = q.journal.UpdateTaskStatus(task.ID, StatusRetry, task.RetryCount)
	}
	metrics.QueueDepth.Set(float64(depth))
}

// Dequeue pops the highest-priority task, moving it to processing.
// Returns nil when the queue is empty.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	task := heap.Pop(&q.heap).(*Task)
	delete(q.pending, task.ID)
	q.processing[task.ID] = task
	metrics.QueueDepth.Set(float64(len(q.heap)))
	return task
}

// GetTaskStatus returns the task's lifecycle state, or ok=false when the
// id is unknown (or its result aged out of retention).
func (q *Queue) GetTaskStatus(taskID string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[taskID]; ok {
		return StatusPending, true
	}
	if _, ok := q.processing[taskID]; ok {
		return StatusProcessing, true
	}
	if res, ok := q.results[taskID]; ok {
		return res.Status, true
	}
	return "", false
}

// GetTaskResult returns the terminal result for a task, or nil while the
// task is still in flight.
func (q *Queue) GetTaskResult(taskID string) *Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.results[taskID]
	if !ok || !res.Status.Terminal() {
		return nil
	}
	return res
}

// CancelTask removes a pending task. Returns false when the task is
// already processing (or unknown).
func (q *Queue) CancelTask(taskID string) bool {
	q.mu.Lock()
	task, ok := q.pending[taskID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	heap.Remove(&q.heap, task.index)
	delete(q.pending, taskID)
	q.results[taskID] = &Result{
		TaskID:      taskID,
		Status:      StatusCancelled,
		CompletedAt: time.Now(),
	}
	q.resultAge[taskID] = time.Now()
	depth := len(q.heap)
	q.mu.Unlock()

	if q.journal != nil {
		_ = q.journal.UpdateTaskStatus(taskID, StatusCancelled, task.RetryCount)
	}
	metrics.QueueDepth.Set(float64(depth))
	return true
}

// recordResult stores a terminal (or retry-marker) result.
func (q *Queue) recordResult(res *Result) {
	q.mu.Lock()
	delete(q.processing, res.TaskID)
	q.results[res.TaskID] = res
	q.resultAge[res.TaskID] = time.Now()
	if res.Status.Terminal() {
		q.totalProcessed++
		q.totalDuration += time.Duration(res.DurationSeconds * float64(time.Second))
	}
	q.mu.Unlock()
}

// CleanupResults drops terminal results older than the retention window
// and returns how many were removed.
func (q *Queue) CleanupResults() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-q.retention)
	removed := 0
	for id, at := range q.resultAge {
		if at.Before(cutoff) {
			delete(q.results, id)
			delete(q.resultAge, id)
			removed++
		}
	}
	return removed
}

// GetStats returns counts across states plus averages.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Pending:        len(q.pending),
		Processing:     len(q.processing),
		TotalProcessed: q.totalProcessed,
	}
	for _, res := range q.results {
		switch res.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	if q.totalProcessed > 0 {
		stats.AvgDurationSec = q.totalDuration.Seconds() / float64(q.totalProcessed)
	}
	return stats
}

// Restore re-seeds the heap from the journal's pending and retry rows.
func (q *Queue) Restore() (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	tasks, err := q.journal.PendingTasks()
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	for _, task := range tasks {
		heap.Push(&q.heap, task)
		q.pending[task.ID] = task
	}
	depth := len(q.heap)
	q.mu.Unlock()
	metrics.QueueDepth.Set(float64(depth))
	return len(tasks), nil
}

// close stops accepting enqueues.
func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

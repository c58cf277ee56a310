package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
)

// Schedule registers a recurring task: every Interval, a task of TaskType
// with Args is enqueued at the given priority.
type Schedule struct {
	Name     string                 `json:"name"`
	Interval time.Duration          `json:"interval"`
	TaskType string                 `json:"task_type"`
	Args     map[string]interface{} `json:"args,omitempty"`
	Queue    Priority               `json:"queue"`

	NextDue time.Time `json:"next_due"`
}

// Scheduler is a single loop that wakes on the minimum next-due interval
// and enqueues the corresponding task.
type Scheduler struct {
	queue *Queue

	mu        sync.Mutex
	schedules []*Schedule
	started   bool
	cancel    context.CancelFunc
	wake      chan struct{}
	done      chan struct{}

	log zerolog.Logger
}

// NewScheduler creates a scheduler over the queue.
func NewScheduler(q *Queue) *Scheduler {
	return &Scheduler{
		queue: q,
		wake:  make(chan struct{}, 1),
		log:   logging.Component("scheduler"),
	}
}

// Register adds a recurring schedule. Safe before or after Start.
func (s *Scheduler) Register(name string, interval time.Duration, taskType string, args map[string]interface{}, priority Priority) {
	s.mu.Lock()
	s.schedules = append(s.schedules, &Schedule{
		Name:     name,
		Interval: interval,
		TaskType: taskType,
		Args:     args,
		Queue:    priority,
		NextDue:  time.Now().Add(interval),
	})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Schedules returns a snapshot of the registered schedules.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, len(s.schedules))
	for i, sched := range s.schedules {
		out[i] = *sched
	}
	return out
}

// Start launches the scheduler loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx)
	s.log.Info().Int("schedules", len(s.schedules)).Msg("scheduler started")
}

// Stop halts the loop. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		wait := s.fireDue()

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-time.After(wait):
		}
	}
}

// fireDue enqueues every due schedule and returns the time until the next
// one comes due.
func (s *Scheduler) fireDue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	next := time.Hour // upper bound when nothing is registered

	for _, sched := range s.schedules {
		if !sched.NextDue.After(now) {
			if _, err := s.queue.Enqueue(sched.TaskType, sched.Args, sched.Queue, EnqueueOpts{
				Metadata: map[string]interface{}{"scheduled_by": sched.Name},
			}); err != nil {
				s.log.Warn().Err(err).Str("schedule", sched.Name).Msg("scheduled enqueue failed")
			} else {
				s.log.Debug().Str("schedule", sched.Name).Str("task_type", sched.TaskType).Msg("scheduled task enqueued")
			}
			sched.NextDue = now.Add(sched.Interval)
		}
		if until := time.Until(sched.NextDue); until < next {
			next = until
		}
	}

	if next < 10*time.Millisecond {
		next = 10 * time.Millisecond
	}
	return next
}

// Package executor runs agent invocations concurrently under a bounded
// semaphore with per-task timeouts, fallbacks and strategy semantics.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/metrics"
)

// Strategy governs fan-out semantics.
type Strategy string

const (
	// AllSucceed executes every task and logs a warning if any failed.
	AllSucceed Strategy = "all_succeed"
	// BestEffort executes every task and returns whatever was obtained.
	BestEffort Strategy = "best_effort"
	// FirstSuccess returns as soon as one task succeeds and cancels the rest.
	FirstSuccess Strategy = "first_success"
	// MajorityVote executes every task and warns when successes < ceil(N/2).
	MajorityVote Strategy = "majority_vote"
)

// Task is one agent invocation in a fan-out call.
type Task struct {
	AgentName string
	Message   agent.Message
	Timeout   time.Duration // zero means the executor default
	Weight    float64
	Fallback  FallbackFunc
}

// FallbackFunc is invoked when the primary agent call fails.
type FallbackFunc func(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error)

// Result is the outcome of one task.
type Result struct {
	TaskID        string
	AgentName     string
	Success       bool
	Response      *agent.Response
	Error         string
	ExecutionTime time.Duration
	Metadata      map[string]interface{}
}

// Stats holds running totals across all fan-out calls.
type Stats struct {
	TotalTasks      int64
	SuccessfulTasks int64
	FailedTasks     int64
	TotalTime       time.Duration
}

// AvgSuccessRate returns successes over total, or zero when idle.
func (s Stats) AvgSuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.SuccessfulTasks) / float64(s.TotalTasks)
}

// AvgExecutionTime returns mean per-task time, or zero when idle.
func (s Stats) AvgExecutionTime() time.Duration {
	if s.TotalTasks == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.TotalTasks)
}

// Executor fans agent invocations out under a counting semaphore. The
// semaphore belongs to the executor, so the cap holds across concurrent
// Execute calls, not per call.
type Executor struct {
	registry       *agent.Registry
	pool           *agent.Pool
	sem            *semaphore.Weighted
	defaultTimeout time.Duration
	enablePooling  bool

	mu    sync.Mutex
	stats Stats

	log zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithPooling enables pool-scoped agent acquisition.
func WithPooling(pool *agent.Pool) Option {
	return func(e *Executor) {
		e.pool = pool
		e.enablePooling = pool != nil
	}
}

// New creates an executor. maxConcurrent bounds simultaneously running
// tasks; defaultTimeout applies to tasks that do not set their own.
func New(registry *agent.Registry, maxConcurrent int, defaultTimeout time.Duration, opts ...Option) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	e := &Executor{
		registry:       registry,
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		defaultTimeout: defaultTimeout,
		log:            logging.Component("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every task under the given strategy and returns the
// gathered results. It never returns an error for individual task
// failures; those are reported per-result.
func (e *Executor) Execute(ctx context.Context, tasks []Task, ic *agent.InvestigationContext, strategy Strategy) []Result {
	if len(tasks) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan Result, len(tasks))

	for _, task := range tasks {
		go e.runTask(runCtx, task, ic, resultCh)
	}

	var results []Result
	for range tasks {
		res, ok := <-resultCh
		if !ok {
			break
		}
		results = append(results, res)
		if strategy == FirstSuccess && res.Success {
			// Cancel siblings; their partial results are discarded.
			cancel()
			break
		}
	}

	e.applyStrategyWarnings(strategy, tasks, results)
	return results
}

// runTask executes a single task: semaphore slot, agent acquisition,
// timed invocation, fallback, release.
func (e *Executor) runTask(ctx context.Context, task Task, ic *agent.InvestigationContext, out chan<- Result) {
	taskID := uuid.New().String()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		// Cancelled before the slot came free; no observable result.
		return
	}
	defer e.sem.Release(1)

	started := time.Now()
	res := e.invoke(ctx, task, ic)
	res.TaskID = taskID
	res.ExecutionTime = time.Since(started)

	e.record(res)

	select {
	case out <- res:
	case <-ctx.Done():
	}
}

// invoke performs the agent call with timeout and fallback semantics.
func (e *Executor) invoke(ctx context.Context, task Task, ic *agent.InvestigationContext) Result {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	resp, err := e.callAgent(ctx, task, ic, timeout)
	if err == nil && resp != nil && resp.Status != agent.StatusError {
		return Result{
			AgentName: task.AgentName,
			Success:   true,
			Response:  resp,
		}
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	} else if resp != nil {
		errMsg = resp.Error
	}

	if task.Fallback != nil {
		fbResp, fbErr := task.Fallback(ctx, task.Message, ic)
		if fbErr == nil && fbResp != nil && fbResp.Status != agent.StatusError {
			return Result{
				AgentName: task.AgentName,
				Success:   true,
				Response:  fbResp,
				Metadata:  map[string]interface{}{"used_fallback": true, "primary_error": errMsg},
			}
		}
		if fbErr != nil {
			errMsg = fmt.Sprintf("%s (fallback: %s)", errMsg, fbErr.Error())
		}
	}

	return Result{
		AgentName: task.AgentName,
		Success:   false,
		Response:  resp,
		Error:     errMsg,
	}
}

// callAgent obtains the agent (pooled or fresh) and runs Process under a
// cooperative timeout. On expiry the invocation is abandoned and a
// synthetic timeout error is returned.
func (e *Executor) callAgent(ctx context.Context, task Task, ic *agent.InvestigationContext, timeout time.Duration) (*agent.Response, error) {
	var (
		inst agent.Agent
		err  error
	)
	if e.enablePooling {
		inst, err = e.pool.Acquire(ctx, task.AgentName)
		if err != nil {
			return nil, err
		}
		defer e.pool.Release(context.WithoutCancel(ctx), inst)
	} else {
		factory, ferr := e.registry.Factory(task.AgentName)
		if ferr != nil {
			return nil, ferr
		}
		inst = factory()
		if ierr := inst.Initialize(ctx); ierr != nil {
			return nil, ierr
		}
		defer inst.Shutdown(context.WithoutCancel(ctx))
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		resp *agent.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, perr := inst.Process(callCtx, task.Message, ic)
		done <- outcome{resp, perr}
	}()

	select {
	case o := <-done:
		return o.resp, o.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("timeout after %s", timeout)
	}
}

// record updates the running statistics under the private lock.
func (e *Executor) record(res Result) {
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	metrics.ExecutorTasks.WithLabelValues(res.AgentName, outcome).Inc()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TotalTasks++
	e.stats.TotalTime += res.ExecutionTime
	if res.Success {
		e.stats.SuccessfulTasks++
	} else {
		e.stats.FailedTasks++
	}
}

// Stats returns a snapshot of the running totals.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Executor) applyStrategyWarnings(strategy Strategy, tasks []Task, results []Result) {
	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		}
	}

	switch strategy {
	case AllSucceed:
		if successes < len(results) {
			e.log.Warn().
				Int("failed", len(results)-successes).
				Int("total", len(results)).
				Msg("all_succeed strategy had failing tasks")
		}
	case MajorityVote:
		needed := (len(tasks) + 1) / 2
		if successes < needed {
			e.log.Warn().
				Int("successes", successes).
				Int("needed", needed).
				Msg("majority_vote strategy fell short of majority")
		}
	}
}

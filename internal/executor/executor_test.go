package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
)

// stubAgent yields a fixed result payload, optional error and optional
// artificial latency.
type stubAgent struct {
	name    string
	latency time.Duration
	err     error
	result  map[string]interface{}

	running *int32 // incremented while Process runs, for cap checks
	maxSeen *int32
}

func (s *stubAgent) Name() string                         { return s.name }
func (s *stubAgent) Description() string                  { return "stub" }
func (s *stubAgent) Capabilities() []string               { return nil }
func (s *stubAgent) Initialize(ctx context.Context) error { return nil }
func (s *stubAgent) Shutdown(ctx context.Context) error   { return nil }

func (s *stubAgent) Process(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error) {
	if s.running != nil {
		now := atomic.AddInt32(s.running, 1)
		for {
			max := atomic.LoadInt32(s.maxSeen)
			if now <= max || atomic.CompareAndSwapInt32(s.maxSeen, max, now) {
				break
			}
		}
		defer atomic.AddInt32(s.running, -1)
	}
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return agent.CompletedResponse(s.name, s.result, time.Now()), nil
}

func registerStub(reg *agent.Registry, stub *stubAgent) {
	reg.Register(stub.name, func() agent.Agent { return stub })
}

func task(name string) Task {
	return Task{AgentName: name, Message: agent.Message{Action: "run"}}
}

func TestBestEffortMixedOutcomes(t *testing.T) {
	reg := agent.NewRegistry()
	registerStub(reg, &stubAgent{name: "ok1", result: map[string]interface{}{"findings": []interface{}{1.0}}})
	registerStub(reg, &stubAgent{name: "bad", err: errors.New("boom")})
	registerStub(reg, &stubAgent{name: "ok2", result: map[string]interface{}{"findings": []interface{}{3.0}}})

	e := New(reg, 5, time.Second)
	results := e.Execute(context.Background(), []Task{task("ok1"), task("bad"), task("ok2")}, nil, BestEffort)

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		}
	}
	if successes != 2 {
		t.Fatalf("successes = %d, want 2", successes)
	}

	agg := AggregateResults(results, "findings")
	if agg.Successful != 2 || agg.Failed != 1 {
		t.Errorf("aggregate counts = %d/%d, want 2/1", agg.Successful, agg.Failed)
	}
	if len(agg.Items) != 2 {
		t.Errorf("aggregated findings = %d items, want 2", len(agg.Items))
	}
}

func TestFirstSuccessBeatsSlow(t *testing.T) {
	reg := agent.NewRegistry()
	registerStub(reg, &stubAgent{name: "slow", latency: 2 * time.Second, result: map[string]interface{}{}})
	registerStub(reg, &stubAgent{name: "fast", latency: 50 * time.Millisecond, result: map[string]interface{}{}})

	e := New(reg, 5, 5*time.Second)
	started := time.Now()
	results := e.Execute(context.Background(), []Task{task("slow"), task("fast")}, nil, FirstSuccess)
	elapsed := time.Since(started)

	anySuccess := false
	for _, r := range results {
		if r.Success {
			anySuccess = true
		}
	}
	if !anySuccess {
		t.Fatal("no successful result")
	}
	if elapsed >= 500*time.Millisecond {
		t.Errorf("wall time %v, want < 500ms", elapsed)
	}
}

// After the first success no further completed result may be appended.
func TestFirstSuccessSingleWinner(t *testing.T) {
	reg := agent.NewRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		registerStub(reg, &stubAgent{name: name, latency: 10 * time.Millisecond, result: map[string]interface{}{}})
	}

	e := New(reg, 4, time.Second)
	results := e.Execute(context.Background(), []Task{task("a"), task("b"), task("c"), task("d")}, nil, FirstSuccess)

	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
}

func TestConcurrencyCap(t *testing.T) {
	var running, maxSeen int32
	reg := agent.NewRegistry()
	var tasks []Task
	for _, name := range []string{"w1", "w2", "w3", "w4", "w5", "w6"} {
		registerStub(reg, &stubAgent{
			name:    name,
			latency: 30 * time.Millisecond,
			result:  map[string]interface{}{},
			running: &running,
			maxSeen: &maxSeen,
		})
		tasks = append(tasks, task(name))
	}

	e := New(reg, 2, time.Second)
	e.Execute(context.Background(), tasks, nil, BestEffort)

	if got := atomic.LoadInt32(&maxSeen); got > 2 {
		t.Errorf("max concurrent tasks = %d, want <= 2", got)
	}
}

// The cap is per executor, so concurrent Execute calls share it.
func TestConcurrencyCapSpansExecuteCalls(t *testing.T) {
	var running, maxSeen int32
	reg := agent.NewRegistry()
	var batchA, batchB []Task
	for i, name := range []string{"a1", "a2", "a3", "a4", "b1", "b2", "b3", "b4"} {
		registerStub(reg, &stubAgent{
			name:    name,
			latency: 30 * time.Millisecond,
			result:  map[string]interface{}{},
			running: &running,
			maxSeen: &maxSeen,
		})
		if i < 4 {
			batchA = append(batchA, task(name))
		} else {
			batchB = append(batchB, task(name))
		}
	}

	e := New(reg, 2, time.Second)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.Execute(context.Background(), batchA, nil, BestEffort)
	}()
	go func() {
		defer wg.Done()
		e.Execute(context.Background(), batchB, nil, BestEffort)
	}()
	wg.Wait()

	if got := atomic.LoadInt32(&maxSeen); got > 2 {
		t.Errorf("max concurrent tasks across calls = %d, want <= 2", got)
	}
}

func TestTaskTimeout(t *testing.T) {
	reg := agent.NewRegistry()
	registerStub(reg, &stubAgent{name: "hang", latency: time.Second, result: map[string]interface{}{}})

	e := New(reg, 5, time.Second)
	results := e.Execute(context.Background(), []Task{{
		AgentName: "hang",
		Message:   agent.Message{Action: "run"},
		Timeout:   30 * time.Millisecond,
	}}, nil, BestEffort)

	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Success {
		t.Fatal("timed-out task reported success")
	}
	if results[0].Error == "" {
		t.Fatal("timed-out task has no error")
	}
}

func TestUnknownAgentFails(t *testing.T) {
	e := New(agent.NewRegistry(), 5, time.Second)
	results := e.Execute(context.Background(), []Task{task("ghost")}, nil, BestEffort)
	if len(results) != 1 || results[0].Success {
		t.Fatalf("unknown agent result = %+v, want failure", results)
	}
}

func TestFallbackUsed(t *testing.T) {
	reg := agent.NewRegistry()
	registerStub(reg, &stubAgent{name: "flaky", err: errors.New("primary down")})

	e := New(reg, 5, time.Second)
	results := e.Execute(context.Background(), []Task{{
		AgentName: "flaky",
		Message:   agent.Message{Action: "run"},
		Fallback: func(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error) {
			return agent.CompletedResponse("flaky", map[string]interface{}{"findings": []interface{}{"fb"}}, time.Now()), nil
		},
	}}, nil, BestEffort)

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("fallback result = %+v, want success", results)
	}
	if used, _ := results[0].Metadata["used_fallback"].(bool); !used {
		t.Error("result metadata missing used_fallback marker")
	}
}

func TestStatsAccumulate(t *testing.T) {
	reg := agent.NewRegistry()
	registerStub(reg, &stubAgent{name: "ok", result: map[string]interface{}{}})
	registerStub(reg, &stubAgent{name: "bad", err: errors.New("boom")})

	e := New(reg, 5, time.Second)
	e.Execute(context.Background(), []Task{task("ok"), task("bad")}, nil, BestEffort)

	stats := e.Stats()
	if stats.TotalTasks != 2 || stats.SuccessfulTasks != 1 || stats.FailedTasks != 1 {
		t.Errorf("stats = %+v, want 2 total, 1 success, 1 failure", stats)
	}
	if rate := stats.AvgSuccessRate(); rate != 0.5 {
		t.Errorf("avg success rate = %v, want 0.5", rate)
	}
}

package queue

import (
	"testing"
	"time"
)

func TestDequeuePriorityOrder(t *testing.T) {
	q := New(time.Hour, nil)

	low, _ := q.Enqueue("noop", nil, PriorityLow, EnqueueOpts{})
	critical, _ := q.Enqueue("noop", nil, PriorityCritical, EnqueueOpts{})
	high, _ := q.Enqueue("noop", nil, PriorityHigh, EnqueueOpts{})

	for _, want := range []string{critical, high, low} {
		task := q.Dequeue()
		if task == nil {
			t.Fatal("queue empty before all tasks were dequeued")
		}
		if task.ID != want {
			t.Errorf("dequeued %s, want %s", task.ID, want)
		}
	}
	if q.Dequeue() != nil {
		t.Error("queue not empty after draining")
	}
}

func TestDequeueFIFOWithinPriority(t *testing.T) {
	q := New(time.Hour, nil)

	first, _ := q.Enqueue("noop", nil, PriorityNormal, EnqueueOpts{})
	time.Sleep(time.Millisecond)
	second, _ := q.Enqueue("noop", nil, PriorityNormal, EnqueueOpts{})

	if got := q.Dequeue().ID; got != first {
		t.Errorf("first dequeue = %s, want %s", got, first)
	}
	if got := q.Dequeue().ID; got != second {
		t.Errorf("second dequeue = %s, want %s", got, second)
	}
}

func TestTaskLifecycleStatus(t *testing.T) {
	q := New(time.Hour, nil)

	id, err := q.Enqueue("noop", map[string]interface{}{"k": "v"}, PriorityNormal, EnqueueOpts{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if status, ok := q.GetTaskStatus(id); !ok || status != StatusPending {
		t.Errorf("status = %v/%v, want pending", status, ok)
	}
	if res := q.GetTaskResult(id); res != nil {
		t.Errorf("pending task has result %+v", res)
	}

	task := q.Dequeue()
	if status, ok := q.GetTaskStatus(id); !ok || status != StatusProcessing {
		t.Errorf("status after dequeue = %v/%v, want processing", status, ok)
	}

	q.recordResult(&Result{TaskID: task.ID, Status: StatusCompleted, CompletedAt: time.Now()})
	if status, ok := q.GetTaskStatus(id); !ok || status != StatusCompleted {
		t.Errorf("status after completion = %v/%v, want completed", status, ok)
	}
	if res := q.GetTaskResult(id); res == nil || res.Status != StatusCompleted {
		t.Errorf("completed task result = %+v", res)
	}

	if _, ok := q.GetTaskStatus("no-such-task"); ok {
		t.Error("unknown task id reported a status")
	}
}

func TestCancelPendingOnly(t *testing.T) {
	q := New(time.Hour, nil)

	id, _ := q.Enqueue("noop", nil, PriorityNormal, EnqueueOpts{})
	if !q.CancelTask(id) {
		t.Fatal("cancel of pending task failed")
	}
	if status, ok := q.GetTaskStatus(id); !ok || status != StatusCancelled {
		t.Errorf("status = %v/%v, want cancelled", status, ok)
	}
	if q.Dequeue() != nil {
		t.Error("cancelled task still on the heap")
	}

	// A processing task cannot be cancelled.
	other, _ := q.Enqueue("noop", nil, PriorityNormal, EnqueueOpts{})
	q.Dequeue()
	if q.CancelTask(other) {
		t.Error("cancel of processing task succeeded")
	}
	if q.CancelTask("no-such-task") {
		t.Error("cancel of unknown task succeeded")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	q := New(time.Hour, nil)
	q.close()
	if _, err := q.Enqueue("noop", nil, PriorityNormal, EnqueueOpts{}); err != ErrQueueClosed {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}

func TestCleanupResults(t *testing.T) {
	q := New(50*time.Millisecond, nil)

	id, _ := q.Enqueue("noop", nil, PriorityNormal, EnqueueOpts{})
	q.Dequeue()
	q.recordResult(&Result{TaskID: id, Status: StatusCompleted, CompletedAt: time.Now()})

	if removed := q.CleanupResults(); removed != 0 {
		t.Errorf("premature cleanup removed %d results", removed)
	}
	time.Sleep(80 * time.Millisecond)
	if removed := q.CleanupResults(); removed != 1 {
		t.Errorf("cleanup removed %d results, want 1", removed)
	}
	if _, ok := q.GetTaskStatus(id); ok {
		t.Error("aged-out result still visible")
	}
}

func TestGetStats(t *testing.T) {
	q := New(time.Hour, nil)

	q.Enqueue("noop", nil, PriorityNormal, EnqueueOpts{})
	done, _ := q.Enqueue("noop", nil, PriorityHigh, EnqueueOpts{})
	failed, _ := q.Enqueue("noop", nil, PriorityHigh, EnqueueOpts{})

	q.Dequeue()
	q.recordResult(&Result{TaskID: done, Status: StatusCompleted, DurationSeconds: 2, CompletedAt: time.Now()})
	q.Dequeue()
	q.recordResult(&Result{TaskID: failed, Status: StatusFailed, DurationSeconds: 4, CompletedAt: time.Now()})

	stats := q.GetStats()
	if stats.Pending != 1 || stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 pending, 1 completed, 1 failed", stats)
	}
	if stats.TotalProcessed != 2 {
		t.Errorf("total processed = %d, want 2", stats.TotalProcessed)
	}
	if stats.AvgDurationSec != 3 {
		t.Errorf("avg duration = %v, want 3", stats.AvgDurationSec)
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"critical":   PriorityCritical,
		"high":       PriorityHigh,
		"normal":     PriorityNormal,
		"low":        PriorityLow,
		"background": PriorityBackground,
		"whatever":   PriorityNormal,
	}
	for name, want := range cases {
		if got := ParsePriority(name); got != want {
			t.Errorf("ParsePriority(%q) = %v, want %v", name, got, want)
		}
		if want.QueueName() != name && name != "whatever" {
			t.Errorf("QueueName round trip for %q broken", name)
		}
	}
}

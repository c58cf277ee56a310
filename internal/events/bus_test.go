package events

import (
	"testing"
)

func TestSubscribeReceivesAll(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(New(AnomalyDetected, "test", map[string]interface{}{"n": 1}))
	bus.Publish(New(TaskCompleted, "test", nil))

	first := <-ch
	if first.Type != AnomalyDetected || first.Payload["n"] != 1 {
		t.Errorf("first event = %+v", first)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Error("event missing id or timestamp")
	}
	if second := <-ch; second.Type != TaskCompleted {
		t.Errorf("second event = %+v", second)
	}
}

func TestSubscribeTypeFilter(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(AlertDispatched, MonitorRunFinished)

	bus.Publish(New(AnomalyDetected, "test", nil))
	bus.Publish(New(AlertDispatched, "test", nil))
	bus.Publish(New(InvestigationStarted, "test", nil))
	bus.Publish(New(MonitorRunFinished, "test", nil))

	if got := <-ch; got.Type != AlertDispatched {
		t.Errorf("first filtered event = %s, want alert_dispatched", got.Type)
	}
	if got := <-ch; got.Type != MonitorRunFinished {
		t.Errorf("second filtered event = %s, want monitor_run_finished", got.Type)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected extra event %s", e.Type)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Publish(New(TaskCompleted, "test", nil))
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	// Overfill the subscriber buffer; the excess is dropped, not queued.
	for i := 0; i < 250; i++ {
		bus.Publish(New(TaskCompleted, "test", nil))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != 100 {
		t.Errorf("received = %d, want the buffer size 100", received)
	}
}

func TestIndependentSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(AnomalyDetected)
	b := bus.Subscribe(AnomalyDetected)

	bus.Publish(New(AnomalyDetected, "test", nil))

	if (<-a).Type != AnomalyDetected {
		t.Error("first subscriber missed the event")
	}
	if (<-b).Type != AnomalyDetected {
		t.Error("second subscriber missed the event")
	}
}

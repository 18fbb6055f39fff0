package event

import (
	"testing"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe("job.transitioned", func(e Event) {
		got = append(got, e)
	})

	bus.Publish(NewJobTransitionedEvent("job-1", "queued", "in_progress", "dispatched", "sess-1"))
	bus.Publish(NewCIPollEvent("job-1", 2, 1, 0, 0, 0)) // different type, not delivered

	if len(got) != 1 {
		t.Fatalf("handler received %d events, want 1", len(got))
	}

	te, ok := got[0].(JobTransitionedEvent)
	if !ok {
		t.Fatalf("event type = %T, want JobTransitionedEvent", got[0])
	}
	if te.From != "queued" || te.To != "in_progress" {
		t.Errorf("From/To = %s/%s, want queued/in_progress", te.From, te.To)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	var count int
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(NewQueueReplenishedEvent(3, 1, 5))
	bus.Publish(NewRunnerStoppedEvent("max_budget", 7, 42.5))

	if count != 2 {
		t.Errorf("wildcard handler received %d events, want 2", count)
	}
}

func TestSpecificHandlersRunBeforeWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })
	bus.Subscribe("ci.polled", func(Event) { order = append(order, "specific") })

	bus.Publish(NewCIPollEvent("job-1", 1, 0, 0, 0, 0))

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("dispatch order = %v, want [specific wildcard]", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	var count int
	id := bus.Subscribe("runner.snapshot", func(Event) { count++ })

	bus.Publish(NewRunnerSnapshotEvent(1, 0, 0, 0, 5, 0, 0, false, false))
	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for valid ID")
	}
	bus.Publish(NewRunnerSnapshotEvent(2, 1, 1, 0, 4, 0, 1.5, false, false))

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}

	if bus.Unsubscribe("sub-does-not-exist") {
		t.Error("Unsubscribe should return false for unknown ID")
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	var reached bool
	bus.Subscribe("job.completed", func(Event) { panic("boom") })
	bus.Subscribe("job.completed", func(Event) { reached = true })

	bus.Publish(NewJobCompletedEvent("job-1", true, false, "https://example.com/pr/1", 0.5, 0, ""))

	if !reached {
		t.Error("second handler should run despite first handler panicking")
	}
}

func TestSubscriptionCount(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", func(Event) {})
	bus.Subscribe("b", func(Event) {})
	bus.SubscribeAll(func(Event) {})

	if n := bus.SubscriptionCount(); n != 3 {
		t.Errorf("SubscriptionCount = %d, want 3", n)
	}

	bus.Clear()
	if n := bus.SubscriptionCount(); n != 0 {
		t.Errorf("SubscriptionCount after Clear = %d, want 0", n)
	}
}

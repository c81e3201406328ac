package api

import (
	"testing"
	"time"

	"routerisk/internal/model"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	owner := "u1"
	ch := b.Subscribe(owner)

	evt := ProgressEvent{Type: "progress", State: model.ProcessingState{JobID: "j1", CompletedItems: 3}}
	b.Publish(owner, evt)

	select {
	case got := <-ch:
		if got.Type != "progress" || got.State.JobID != "j1" || got.State.CompletedItems != 3 {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	// Other owners never see the event.
	other := b.Subscribe("u2")
	b.Publish(owner, evt)
	select {
	case got := <-other:
		t.Fatalf("cross-owner leak: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
	b.Unsubscribe("u2", other)

	b.Unsubscribe(owner, ch)
	// Drain the second publish, then observe the close.
	for {
		if _, ok := <-ch; !ok {
			return
		}
	}
}

func TestBrokerSlowSubscriberDropped(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("u1")
	// Fill the buffer past capacity; publishes must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("u1", ProgressEvent{Type: "progress"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	b.Unsubscribe("u1", ch)
}

func TestBrokerSinkFinished(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("u1")
	sink := brokerSink{broker: b}
	sink.Finished(model.Summary{JobID: "j1", OwnerID: "u1", Status: model.StatusCompleted, ResultID: "r1", Successful: 2})

	select {
	case got := <-ch:
		if got.Type != "finished" || got.State.ResultID != "r1" || got.State.CompletedItems != 2 {
			t.Fatalf("finished event: %+v", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for finished event")
	}
}

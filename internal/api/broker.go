package api

import (
	"sync"

	"routerisk/internal/model"
)

// ProgressEvent is one live job update pushed to stream subscribers.
type ProgressEvent struct {
	Type  string                `json:"type"` // progress | finished
	State model.ProcessingState `json:"state"`
}

// EventBroker fans job progress out to stream subscribers, keyed by owner.
type EventBroker interface {
	Subscribe(ownerID string) chan ProgressEvent
	Unsubscribe(ownerID string, ch chan ProgressEvent)
	Publish(ownerID string, evt ProgressEvent)
}

// Broker is the in-memory EventBroker used when no REDIS_URL is set.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan ProgressEvent]struct{} // ownerID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan ProgressEvent]struct{}{}}
}

func (b *Broker) Subscribe(ownerID string) chan ProgressEvent {
	ch := make(chan ProgressEvent, 8)
	b.mu.Lock()
	if b.subs[ownerID] == nil {
		b.subs[ownerID] = map[chan ProgressEvent]struct{}{}
	}
	b.subs[ownerID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ownerID string, ch chan ProgressEvent) {
	b.mu.Lock()
	if m := b.subs[ownerID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, ownerID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(ownerID string, evt ProgressEvent) {
	b.mu.Lock()
	m := b.subs[ownerID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

// brokerSink adapts the broker to the bulk pipeline's progress sink.
type brokerSink struct{ broker EventBroker }

func (s brokerSink) Progress(state model.ProcessingState) {
	s.broker.Publish(state.OwnerID, ProgressEvent{Type: "progress", State: state})
}

func (s brokerSink) Finished(sum model.Summary) {
	s.broker.Publish(sum.OwnerID, ProgressEvent{Type: "finished", State: model.ProcessingState{
		JobID:          sum.JobID,
		OwnerID:        sum.OwnerID,
		Status:         sum.Status,
		TotalItems:     sum.TotalItems,
		CompletedItems: sum.Successful,
		FailedItems:    sum.Failed,
		SkippedItems:   sum.Skipped,
		ResultID:       sum.ResultID,
	}})
}

package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"routerisk/internal/model"
	"routerisk/internal/store"
)

// Event types published on job lifecycle transitions.
const (
	EventJobCompleted = "bulk.job.completed"
	EventJobFailed    = "bulk.job.failed"
	EventJobCancelled = "bulk.job.cancelled"
)

// Publisher enqueues webhook deliveries for subscribed owners. It implements
// the bulk.ProgressSink interface for terminal notifications; intermediate
// progress is not webhooked.
type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher { return &Publisher{Store: s} }

// Progress is a no-op; live progress goes over the status endpoint and the
// websocket stream, not webhooks.
func (p *Publisher) Progress(model.ProcessingState) {}

// Finished enqueues one delivery per matching subscription.
func (p *Publisher) Finished(sum model.Summary) {
	eventType := EventJobCompleted
	switch sum.Status {
	case model.StatusFailed:
		eventType = EventJobFailed
	case model.StatusCancelled:
		eventType = EventJobCancelled
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	subs, err := p.Store.GetSubscriptionsForEvent(ctx, sum.OwnerID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":      eventType,
		"jobId":      sum.JobID,
		"resultId":   sum.ResultID,
		"status":     sum.Status,
		"totalItems": sum.TotalItems,
		"successful": sum.Successful,
		"failed":     sum.Failed,
		"skipped":    sum.Skipped,
		"elapsedMs":  sum.ElapsedMs,
	})
	if err != nil {
		return
	}
	for _, sub := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, sum.OwnerID, sub.ID, eventType, sub.URL, sub.Secret, payload); err != nil {
			log.Printf("webhooks: enqueue for %s failed: %v", sub.URL, err)
		}
	}
}

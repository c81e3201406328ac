package store

import (
	"context"
	"errors"
	"time"

	"routerisk/internal/model"
)

var ErrNotFound = errors.New("not found")

// WebhookDelivery is one pending or settled delivery attempt.
type WebhookDelivery struct {
	ID             string
	OwnerID        string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Attempts       int
}

// Subscription registers a callback URL for job lifecycle events.
type Subscription struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"ownerId"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Secret  string   `json:"-"`
}

// Store is the persistence interface used by the bulk pipeline and API server.
type Store interface {
	// Routes (primary entities)
	CreateRoute(ctx context.Context, r model.Route) error
	FindRouteByKey(ctx context.Context, ownerID, fromCode, toCode string) (model.Route, error)
	GetRoute(ctx context.Context, ownerID, id string) (model.Route, error)

	// Enrichment collections. Records are schemaless documents keyed by route;
	// CountEnrichmentRecords is the authoritative count the coordinator re-reads
	// after tasks settle.
	AddEnrichmentRecords(ctx context.Context, collection, routeID string, records []map[string]any) (int, error)
	CountEnrichmentRecords(ctx context.Context, collection, routeID string) (int, error)

	// Checkpoints, keyed by job.
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, jobID string) (model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, jobID string) error

	// Results artifacts.
	SaveSummary(ctx context.Context, s model.Summary) error
	GetSummary(ctx context.Context, ownerID, resultID string) (model.Summary, error)

	// Webhook subscriptions and deliveries.
	CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, ownerID, eventType string) ([]Subscription, error)
	EnqueueWebhook(ctx context.Context, ownerID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

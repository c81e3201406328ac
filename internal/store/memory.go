package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"routerisk/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set, and by tests.
type Memory struct {
	mu          sync.Mutex
	routes      map[string]model.Route              // id -> route
	routeKeys   map[string]string                   // owner|from|to -> route id
	enrichments map[string][]map[string]any         // collection|routeID -> records
	checkpoints map[string]model.Checkpoint         // jobID -> checkpoint
	summaries   map[string]model.Summary            // resultID -> summary
	subs        map[string][]Subscription           // owner -> subscriptions
	deliveries  map[string]*memDelivery             // id -> delivery
}

type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	Done          bool
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

func NewMemory() *Memory {
	return &Memory{
		routes:      map[string]model.Route{},
		routeKeys:   map[string]string{},
		enrichments: map[string][]map[string]any{},
		checkpoints: map[string]model.Checkpoint{},
		summaries:   map[string]model.Summary{},
		subs:        map[string][]Subscription{},
		deliveries:  map[string]*memDelivery{},
	}
}

func routeKey(ownerID, fromCode, toCode string) string {
	return ownerID + "|" + fromCode + "|" + toCode
}

func (m *Memory) CreateRoute(ctx context.Context, r model.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[r.ID] = r
	m.routeKeys[routeKey(r.OwnerID, r.FromCode, r.ToCode)] = r.ID
	return nil
}

func (m *Memory) FindRouteByKey(ctx context.Context, ownerID, fromCode, toCode string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.routeKeys[routeKey(ownerID, fromCode, toCode)]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return m.routes[id], nil
}

func (m *Memory) GetRoute(ctx context.Context, ownerID, id string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok || r.OwnerID != ownerID {
		return model.Route{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) AddEnrichmentRecords(ctx context.Context, collection, routeID string, records []map[string]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := collection + "|" + routeID
	m.enrichments[key] = append(m.enrichments[key], records...)
	return len(records), nil
}

func (m *Memory) CountEnrichmentRecords(ctx context.Context, collection, routeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enrichments[collection+"|"+routeID]), nil
}

func (m *Memory) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.JobID] = cp
	return nil
}

func (m *Memory) LoadCheckpoint(ctx context.Context, jobID string) (model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[jobID]
	if !ok {
		return model.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (m *Memory) DeleteCheckpoint(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, jobID)
	return nil
}

func (m *Memory) SaveSummary(ctx context.Context, s model.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[s.ResultID] = s
	return nil
}

func (m *Memory) GetSummary(ctx context.Context, ownerID, resultID string) (model.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[resultID]
	if !ok || s.OwnerID != ownerID {
		return model.Summary{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	m.subs[sub.OwnerID] = append(m.subs[sub.OwnerID], sub)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, ownerID, eventType string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subs[ownerID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, ownerID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{WebhookDelivery: WebhookDelivery{
		ID: id, OwnerID: ownerID, SubscriptionID: subscriptionID,
		EventType: eventType, URL: url, Secret: secret, Payload: payload,
	}}
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []WebhookDelivery
	for _, d := range m.deliveries {
		if d.Done || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Done = true
	} else if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Done = true
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

package bulk

import (
	"sync"
	"time"

	"routerisk/internal/model"
)

// Tracker holds a job's live ProcessingState. All mutation goes through its
// mutex; WorkItems settle concurrently but counter updates are serialized here.
type Tracker struct {
	mu    sync.Mutex
	state model.ProcessingState
}

func NewTracker(jobID, ownerID string, totalItems, totalBatches int) *Tracker {
	now := time.Now()
	return &Tracker{state: model.ProcessingState{
		JobID:            jobID,
		OwnerID:          ownerID,
		Status:           model.StatusStarting,
		TotalItems:       totalItems,
		TotalBatches:     totalBatches,
		EnrichmentTotals: map[string]int{},
		StartedAt:        now,
		LastUpdatedAt:    now,
	}}
}

// SeedCompleted pre-counts items settled by a prior run when resuming.
func (t *Tracker) SeedCompleted(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.CompletedItems = n
}

// StartProcessing transitions starting -> processing on first batch dispatch.
func (t *Tracker) StartProcessing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status == model.StatusStarting {
		t.state.Status = model.StatusProcessing
		t.state.LastUpdatedAt = time.Now()
	}
}

func (t *Tracker) BeginBatch(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.CurrentBatch = n
	t.state.LastUpdatedAt = time.Now()
}

func (t *Tracker) BeginItem(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.CurrentItem = key
	t.state.LastUpdatedAt = time.Now()
}

// ItemDone folds one settled item into the counters.
func (t *Tracker) ItemDone(res model.ItemResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch res.Status {
	case model.ItemFailed:
		t.state.FailedItems++
	case model.ItemSkipped:
		t.state.SkippedItems++
	default:
		t.state.CompletedItems++
	}
	for _, er := range res.Enrichments {
		if er.Succeeded {
			t.state.EnrichmentTotals[er.Task] += er.RecordsCreated
		}
	}
	settled := t.state.CompletedItems + t.state.FailedItems + t.state.SkippedItems
	if elapsed := time.Since(t.state.StartedAt).Seconds(); elapsed > 0 {
		t.state.ItemsPerSecond = float64(settled) / elapsed
	}
	t.state.LastUpdatedAt = time.Now()
}

// Settled returns how many items have a recorded outcome.
func (t *Tracker) Settled() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.CompletedItems + t.state.FailedItems + t.state.SkippedItems
}

func (t *Tracker) Complete(resultID string) { t.terminal(model.StatusCompleted, resultID, "") }
func (t *Tracker) Cancelled(resultID string) {
	t.terminal(model.StatusCancelled, resultID, "")
}

// Fail marks an unrecoverable job-level fault. Per-item failures never call
// this; they only increment FailedItems.
func (t *Tracker) Fail(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.terminal(model.StatusFailed, "", msg)
}

func (t *Tracker) terminal(status, resultID, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state.Status = status
	t.state.CurrentItem = ""
	if resultID != "" {
		t.state.ResultID = resultID
	}
	if errMsg != "" {
		t.state.Error = errMsg
	}
	t.state.LastUpdatedAt = time.Now()
}

// Snapshot returns a copy of the current state safe to hand to callers.
func (t *Tracker) Snapshot() model.ProcessingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	s.EnrichmentTotals = make(map[string]int, len(t.state.EnrichmentTotals))
	for k, v := range t.state.EnrichmentTotals {
		s.EnrichmentTotals[k] = v
	}
	return s
}

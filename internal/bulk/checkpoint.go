package bulk

import (
	"context"
	"log"
	"sync"
	"time"

	"routerisk/internal/metrics"
	"routerisk/internal/model"
	"routerisk/internal/store"
)

// Checkpointer snapshots job progress every Interval settled items. Items
// settle out of order within a batch, so the resume index is the length of the
// contiguous settled prefix: everything below it has a recorded outcome and is
// never re-run on resume.
type Checkpointer struct {
	Store       store.Store
	Interval    int
	JobID       string
	OwnerID     string
	TotalItems  int
	Fingerprint string

	mu      sync.Mutex
	settled map[int]bool
	prefix  int // next index not yet known settled
	count   int // monotonically increasing settled count
}

func NewCheckpointer(st store.Store, interval int, jobID, ownerID string, totalItems, startIndex int, fingerprint string) *Checkpointer {
	return &Checkpointer{
		Store:       st,
		Interval:    interval,
		JobID:       jobID,
		OwnerID:     ownerID,
		TotalItems:  totalItems,
		Fingerprint: fingerprint,
		settled:     map[int]bool{},
		prefix:      startIndex,
		count:       startIndex,
	}
}

// ItemSettled records the item's outcome position and writes a checkpoint when
// the settled count crosses the interval.
func (c *Checkpointer) ItemSettled(ctx context.Context, index int, state model.ProcessingState) {
	c.mu.Lock()
	c.settled[index] = true
	for c.settled[c.prefix] {
		delete(c.settled, c.prefix)
		c.prefix++
	}
	c.count++
	write := c.Interval > 0 && c.count%c.Interval == 0
	cp := model.Checkpoint{
		JobID:               c.JobID,
		OwnerID:             c.OwnerID,
		TotalItems:          c.TotalItems,
		CompletedCount:      c.count,
		ResumeIndex:         c.prefix,
		SettingsFingerprint: c.Fingerprint,
		State:               state,
		WrittenAt:           time.Now().UTC(),
	}
	c.mu.Unlock()

	if !write {
		return
	}
	if err := c.Store.SaveCheckpoint(ctx, cp); err != nil {
		log.Printf("bulk: checkpoint write failed for job %s: %v", c.JobID, err)
		return
	}
	metrics.CheckpointsWritten.Inc()
}

// Final writes a terminal checkpoint unconditionally so a resume after a crash
// during summary persistence still sees the full progress.
func (c *Checkpointer) Final(ctx context.Context, state model.ProcessingState) {
	c.mu.Lock()
	cp := model.Checkpoint{
		JobID:               c.JobID,
		OwnerID:             c.OwnerID,
		TotalItems:          c.TotalItems,
		CompletedCount:      c.count,
		ResumeIndex:         c.prefix,
		SettingsFingerprint: c.Fingerprint,
		State:               state,
		WrittenAt:           time.Now().UTC(),
	}
	c.mu.Unlock()
	if err := c.Store.SaveCheckpoint(ctx, cp); err != nil {
		log.Printf("bulk: final checkpoint write failed for job %s: %v", c.JobID, err)
	}
}

// ValidateResume checks a stored checkpoint against the manifest being
// resubmitted. A different item count or settings fingerprint rejects the
// resume rather than silently applying stale settings.
func ValidateResume(cp model.Checkpoint, manifestItems int, fingerprint string) error {
	if cp.TotalItems != manifestItems {
		return ErrCheckpointMismatch
	}
	if cp.SettingsFingerprint != fingerprint {
		return ErrCheckpointMismatch
	}
	return nil
}

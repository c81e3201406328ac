package bulk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"routerisk/internal/model"
	"routerisk/internal/store"
)

// Coordinator fans one route out to the enabled enrichment tasks. Tasks run
// concurrently and settle independently: a timeout or panic in one never
// cancels or fails its siblings, and the coordinator always waits for a full
// set of outcomes before returning.
type Coordinator struct {
	Store store.Store
	Tasks []TaskSpec
}

func NewCoordinator(st store.Store) *Coordinator {
	return &Coordinator{Store: st, Tasks: DefaultTasks()}
}

type taskOutcome struct {
	index   int
	records int
	err     error
}

// Enrich runs the enabled tasks against the route, each under perTaskTimeout.
// A task that overruns is marked failed immediately; its goroutine is left to
// drain in the background with a cancelled context.
func (c *Coordinator) Enrich(ctx context.Context, route model.Route, enabled func(string) bool, perTaskTimeout time.Duration) []model.EnrichmentResult {
	results := make([]model.EnrichmentResult, len(c.Tasks))
	type running struct {
		ch     chan taskOutcome
		cancel context.CancelFunc
		start  time.Time
	}
	launched := map[int]running{}

	for i, spec := range c.Tasks {
		results[i] = model.EnrichmentResult{Task: spec.Name}
		if !enabled(spec.Name) {
			continue
		}
		results[i].Attempted = true
		tctx, cancel := context.WithTimeout(ctx, perTaskTimeout)
		ch := make(chan taskOutcome, 1)
		launched[i] = running{ch: ch, cancel: cancel, start: time.Now()}
		go func(i int, spec TaskSpec, tctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					ch <- taskOutcome{index: i, err: fmt.Errorf("task panic: %v", r)}
				}
			}()
			n, err := spec.Run(tctx, c.Store, route)
			ch <- taskOutcome{index: i, records: n, err: err}
		}(i, spec, tctx)
	}

	// Collect every launched task's outcome, success or failure.
	for i, run := range launched {
		select {
		case out := <-run.ch:
			if out.err != nil {
				results[i].Error = out.err.Error()
			} else {
				results[i].Succeeded = true
				results[i].RecordsCreated = out.records
			}
		case <-timeoutChan(run.start, perTaskTimeout):
			// The timer can fire late when the collector was blocked on a
			// slower sibling. A buffered outcome means the task finished in
			// time, so it wins over the timeout.
			select {
			case out := <-run.ch:
				if out.err != nil {
					results[i].Error = out.err.Error()
				} else {
					results[i].Succeeded = true
					results[i].RecordsCreated = out.records
				}
			default:
				results[i].Error = fmt.Sprintf("task timeout after %s", perTaskTimeout)
			}
		}
		run.cancel()
		results[i].ElapsedMs = time.Since(run.start).Milliseconds()
	}

	// Re-read authoritative record counts; a task's own tally can disagree
	// with what actually persisted.
	for i, spec := range c.Tasks {
		if !results[i].Attempted || !results[i].Succeeded {
			continue
		}
		if n, err := c.Store.CountEnrichmentRecords(ctx, spec.Collection, route.ID); err == nil {
			results[i].RecordsCreated = n
		}
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Task < results[b].Task })
	return results
}

func timeoutChan(start time.Time, d time.Duration) <-chan time.Time {
	remaining := d - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	return time.After(remaining)
}

package bulk

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"routerisk/internal/model"
)

// ItemFunc runs one WorkItem's pipeline and returns its settled result. It
// must not panic through; the scheduler still guards with a recover.
type ItemFunc func(ctx context.Context, item model.WorkItem) model.ItemResult

// Scheduler partitions WorkItems into sequential batches and bounds
// concurrency within each batch. A batch fully settles before the next one
// starts; the inter-batch pause is where rate limits are respected and where
// the governor gets to act.
type Scheduler struct {
	BatchSize       int
	Concurrency     int
	InterBatchPause time.Duration
	ItemTimeout     time.Duration
	Limiter         *rate.Limiter // optional dispatch throttle
	Governor        *Governor     // optional, consulted between batches
	OnBatch         func(batchNo, totalBatches int)
}

// NumBatches returns how many batches n items will produce.
func (s *Scheduler) NumBatches(n int) int {
	if n == 0 || s.BatchSize <= 0 {
		return 0
	}
	return (n + s.BatchSize - 1) / s.BatchSize
}

// Run processes items. stop is the cooperative cancel check, consulted only at
// batch boundaries: a batch that has started always settles. ctx is the hard
// context (process shutdown); its cancellation is a job fault, not a cancel.
// Returns stopped=true when the cooperative stop cut the run short.
func (s *Scheduler) Run(ctx context.Context, items []model.WorkItem, process ItemFunc, onDone func(model.ItemResult), stop func() bool) (stopped bool, err error) {
	total := s.NumBatches(len(items))
	for bi := 0; bi*s.BatchSize < len(items); bi++ {
		if stop() {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if bi > 0 {
			if err := s.pauseBetween(ctx); err != nil {
				return false, err
			}
			if stop() {
				return true, nil
			}
		}

		start := bi * s.BatchSize
		end := start + s.BatchSize
		if end > len(items) {
			end = len(items)
		}
		if s.OnBatch != nil {
			s.OnBatch(bi+1, total)
		}

		g := new(errgroup.Group)
		g.SetLimit(s.Concurrency)
		for _, item := range items[start:end] {
			item := item
			if s.Limiter != nil {
				if err := s.Limiter.Wait(ctx); err != nil {
					// Hard shutdown mid-batch: the items dispatched so far
					// still settle below.
					break
				}
			}
			g.Go(func() error {
				onDone(s.runOne(ctx, item, process))
				return nil
			})
		}
		// Settle the whole batch, stragglers included.
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
	return false, nil
}

// runOne wraps one item in its wall-clock timeout. An item that overruns is
// recorded failed; the abandoned pipeline keeps a cancelled context so late
// writes stop at the store boundary.
func (s *Scheduler) runOne(ctx context.Context, item model.WorkItem, process ItemFunc) model.ItemResult {
	ictx, cancel := context.WithTimeout(ctx, s.ItemTimeout)
	defer cancel()
	start := time.Now()
	ch := make(chan model.ItemResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- model.ItemResult{
					Index:  item.SequenceIndex,
					Key:    item.Key(),
					Status: model.ItemFailed,
					Error:  fmt.Sprintf("item panic: %v", r),
				}
			}
		}()
		ch <- process(ictx, item)
	}()
	select {
	case res := <-ch:
		res.ElapsedMs = time.Since(start).Milliseconds()
		return res
	case <-ictx.Done():
		log.Printf("bulk: item %s exceeded %s, abandoning", item.Key(), s.ItemTimeout)
		return model.ItemResult{
			Index:     item.SequenceIndex,
			Key:       item.Key(),
			Status:    model.ItemFailed,
			Error:     fmt.Sprintf("item timeout after %s", s.ItemTimeout),
			ElapsedMs: time.Since(start).Milliseconds(),
		}
	}
}

func (s *Scheduler) pauseBetween(ctx context.Context) error {
	pause := s.InterBatchPause
	if s.Governor != nil {
		if p := s.Governor.CheckPressure(); p.Paused {
			log.Printf("bulk: memory pressure, extending pause by %s", p.ResumeAfter)
			pause += p.ResumeAfter
		}
	}
	if pause <= 0 {
		return nil
	}
	t := time.NewTimer(pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

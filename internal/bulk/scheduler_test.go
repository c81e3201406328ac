package bulk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"routerisk/internal/model"
)

func mkItems(n int) []model.WorkItem {
	items := make([]model.WorkItem, n)
	for i := range items {
		items[i] = model.WorkItem{FromCode: "A", ToCode: string(rune('A' + i)), SequenceIndex: i}
	}
	return items
}

func TestSchedulerNumBatches(t *testing.T) {
	s := &Scheduler{BatchSize: 2}
	if got := s.NumBatches(5); got != 3 {
		t.Fatalf("NumBatches(5): got %d want 3", got)
	}
	if got := s.NumBatches(0); got != 0 {
		t.Fatalf("NumBatches(0): got %d want 0", got)
	}
	if got := s.NumBatches(4); got != 2 {
		t.Fatalf("NumBatches(4): got %d want 2", got)
	}
}

func TestSchedulerBatchesSettleInOrder(t *testing.T) {
	s := &Scheduler{BatchSize: 2, Concurrency: 2, ItemTimeout: time.Second}
	var mu sync.Mutex
	var order []int

	var batches []int
	s.OnBatch = func(n, total int) {
		batches = append(batches, n)
		if total != 3 {
			t.Errorf("total batches: got %d want 3", total)
		}
	}

	process := func(ctx context.Context, item model.WorkItem) model.ItemResult {
		return model.ItemResult{Index: item.SequenceIndex, Key: item.Key(), Status: model.ItemSuccessful}
	}
	onDone := func(res model.ItemResult) {
		mu.Lock()
		order = append(order, res.Index)
		mu.Unlock()
	}

	stopped, err := s.Run(context.Background(), mkItems(5), process, onDone, func() bool { return false })
	if err != nil || stopped {
		t.Fatalf("Run: stopped=%v err=%v", stopped, err)
	}
	if len(order) != 5 {
		t.Fatalf("settled %d items, want 5", len(order))
	}
	// Items from batch k never settle before every item of batch k-1.
	seen := map[int]bool{}
	for _, idx := range order {
		for j := 0; j < 5; j++ {
			if j/2 < idx/2 && !seen[j] {
				t.Fatalf("item %d settled before item %d of an earlier batch (order %v)", idx, j, order)
			}
		}
		seen[idx] = true
	}
	if len(batches) != 3 || batches[0] != 1 || batches[2] != 3 {
		t.Fatalf("batch callbacks: %v", batches)
	}
}

func TestSchedulerConcurrencyBound(t *testing.T) {
	s := &Scheduler{BatchSize: 10, Concurrency: 2, ItemTimeout: time.Second}
	var active, peak int32

	process := func(ctx context.Context, item model.WorkItem) model.ItemResult {
		cur := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return model.ItemResult{Index: item.SequenceIndex, Status: model.ItemSuccessful}
	}

	_, err := s.Run(context.Background(), mkItems(8), process, func(model.ItemResult) {}, func() bool { return false })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("concurrency peaked at %d, want <= 2", p)
	}
}

func TestSchedulerCooperativeStopAtBatchBoundary(t *testing.T) {
	s := &Scheduler{BatchSize: 2, Concurrency: 2, ItemTimeout: time.Second}
	var settled int32
	var stop atomic.Bool

	process := func(ctx context.Context, item model.WorkItem) model.ItemResult {
		// Request cancel while the first batch is in flight.
		stop.Store(true)
		return model.ItemResult{Index: item.SequenceIndex, Status: model.ItemSuccessful}
	}
	onDone := func(model.ItemResult) { atomic.AddInt32(&settled, 1) }

	stopped, err := s.Run(context.Background(), mkItems(6), process, onDone, stop.Load)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stopped {
		t.Fatal("expected stopped=true")
	}
	// The whole first batch settles; later batches never dispatch.
	if n := atomic.LoadInt32(&settled); n != 2 {
		t.Fatalf("settled %d items, want 2", n)
	}
}

func TestSchedulerItemTimeout(t *testing.T) {
	s := &Scheduler{BatchSize: 2, Concurrency: 2, ItemTimeout: 30 * time.Millisecond}
	var results []model.ItemResult
	var mu sync.Mutex

	process := func(ctx context.Context, item model.WorkItem) model.ItemResult {
		if item.SequenceIndex == 0 {
			<-ctx.Done() // hang until the item deadline
			time.Sleep(5 * time.Millisecond)
		}
		return model.ItemResult{Index: item.SequenceIndex, Status: model.ItemSuccessful}
	}
	onDone := func(res model.ItemResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	stopped, err := s.Run(context.Background(), mkItems(2), process, onDone, func() bool { return false })
	if err != nil || stopped {
		t.Fatalf("Run: stopped=%v err=%v", stopped, err)
	}
	if len(results) != 2 {
		t.Fatalf("settled %d items, want 2", len(results))
	}
	byIndex := map[int]model.ItemResult{}
	for _, r := range results {
		byIndex[r.Index] = r
	}
	if byIndex[0].Status != model.ItemFailed {
		t.Fatalf("slow item: got status %q want failed", byIndex[0].Status)
	}
	if byIndex[1].Status != model.ItemSuccessful {
		t.Fatalf("fast item: got status %q, timeout leaked to sibling", byIndex[1].Status)
	}
}

func TestSchedulerItemPanicRecovered(t *testing.T) {
	s := &Scheduler{BatchSize: 2, Concurrency: 2, ItemTimeout: time.Second}
	var results []model.ItemResult
	var mu sync.Mutex

	process := func(ctx context.Context, item model.WorkItem) model.ItemResult {
		if item.SequenceIndex == 0 {
			panic("bad geometry")
		}
		return model.ItemResult{Index: item.SequenceIndex, Status: model.ItemSuccessful}
	}
	onDone := func(res model.ItemResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	if _, err := s.Run(context.Background(), mkItems(2), process, onDone, func() bool { return false }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	byIndex := map[int]model.ItemResult{}
	for _, r := range results {
		byIndex[r.Index] = r
	}
	if byIndex[0].Status != model.ItemFailed || byIndex[0].Error == "" {
		t.Fatalf("panicking item: %+v", byIndex[0])
	}
	if byIndex[1].Status != model.ItemSuccessful {
		t.Fatalf("sibling of panicking item: %+v", byIndex[1])
	}
}

func TestSchedulerHardContextFault(t *testing.T) {
	s := &Scheduler{BatchSize: 1, Concurrency: 1, ItemTimeout: time.Second, InterBatchPause: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	process := func(ictx context.Context, item model.WorkItem) model.ItemResult {
		cancel() // process shutdown mid-run
		return model.ItemResult{Index: item.SequenceIndex, Status: model.ItemSuccessful}
	}

	stopped, err := s.Run(ctx, mkItems(3), process, func(model.ItemResult) {}, func() bool { return false })
	if stopped {
		t.Fatal("hard cancel must not report cooperative stop")
	}
	if err == nil {
		t.Fatal("expected context error")
	}
}

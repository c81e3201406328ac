package bulk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"routerisk/internal/config"
	"routerisk/internal/metrics"
	"routerisk/internal/model"
	"routerisk/internal/store"
	"routerisk/internal/track"
)

// failedItemsCap bounds how many failed items the summary lists inline; the
// persisted artifact keeps the full set.
const failedItemsCap = 25

// ProgressSink receives job lifecycle notifications: live state snapshots
// while processing and the summary once terminal.
type ProgressSink interface {
	Progress(state model.ProcessingState)
	Finished(summary model.Summary)
}

// Job is the supervised handle for one submission.
type Job struct {
	ID      string
	OwnerID string

	tracker   *Tracker
	rowErrors []string
	cancelled atomic.Bool
	hardStop  context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	summary model.Summary
	hasSum  bool
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// State returns the live processing state.
func (j *Job) State() model.ProcessingState { return j.tracker.Snapshot() }

// Summary returns the final summary once the job is terminal.
func (j *Job) Summary() (model.Summary, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.summary, j.hasSum
}

func (j *Job) requestCancel() { j.cancelled.Store(true) }

// Controller owns the job registry (one live job per owner) and drives the
// whole pipeline: resolve, build, enrich, track, checkpoint.
type Controller struct {
	Store    store.Store
	Defaults config.Bulk
	Sinks    []ProgressSink

	mu   sync.Mutex
	jobs map[string]*Job // ownerID -> most recent job
}

func NewController(st store.Store, defaults config.Bulk, sinks ...ProgressSink) *Controller {
	return &Controller{Store: st, Defaults: defaults, Sinks: sinks, jobs: map[string]*Job{}}
}

// Submit registers and starts a background job for the owner. A second
// submission while the previous job is live is rejected with ErrJobActive; a
// terminal job is superseded.
func (c *Controller) Submit(ownerID string, items []model.WorkItem, rowErrors []string, opts Options) (*Job, error) {
	job, err := c.register(ownerID, items, rowErrors, &opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	job.hardStop = cancel
	go func() {
		defer cancel()
		c.run(ctx, job, items, opts)
	}()
	return job, nil
}

// RunSync processes the manifest in the foreground. Intended for small
// manifests; the job still registers so status polling works during the run.
func (c *Controller) RunSync(ctx context.Context, ownerID string, items []model.WorkItem, rowErrors []string, opts Options) (model.Summary, error) {
	job, err := c.register(ownerID, items, rowErrors, &opts)
	if err != nil {
		return model.Summary{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	job.hardStop = cancel
	defer cancel()
	c.run(ctx, job, items, opts)
	sum, _ := job.Summary()
	if job.State().Status == model.StatusFailed {
		return sum, errors.New(job.State().Error)
	}
	return sum, nil
}

func (c *Controller) register(ownerID string, items []model.WorkItem, rowErrors []string, opts *Options) (*Job, error) {
	opts.normalize(c.Defaults)
	if opts.ResumeFromIndex > len(items) {
		return nil, fmt.Errorf("resumeFromIndex %d beyond manifest of %d items", opts.ResumeFromIndex, len(items))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.jobs[ownerID]; ok && !prev.tracker.Snapshot().Terminal() {
		return nil, ErrJobActive
	}
	remaining := len(items) - opts.ResumeFromIndex
	batches := 0
	if opts.BatchSize > 0 {
		batches = (remaining + opts.BatchSize - 1) / opts.BatchSize
	}
	jobID := uuid.New().String()
	tracker := NewTracker(jobID, ownerID, len(items), batches)
	// Items settled before the resume point count as completed in this run.
	tracker.SeedCompleted(opts.ResumeFromIndex)
	job := &Job{
		ID:        jobID,
		OwnerID:   ownerID,
		tracker:   tracker,
		rowErrors: rowErrors,
		done:      make(chan struct{}),
	}
	c.jobs[ownerID] = job
	return job, nil
}

// Status returns the live state of the owner's most recent job.
func (c *Controller) Status(ownerID string) (model.ProcessingState, error) {
	c.mu.Lock()
	job, ok := c.jobs[ownerID]
	c.mu.Unlock()
	if !ok {
		return model.ProcessingState{}, ErrJobNotFound
	}
	return job.State(), nil
}

// Cancel marks the owner's job cancelled. Cancellation is cooperative: the
// current batch settles, then no further batches dispatch.
func (c *Controller) Cancel(ownerID string) error {
	c.mu.Lock()
	job, ok := c.jobs[ownerID]
	c.mu.Unlock()
	if !ok || job.State().Terminal() {
		return ErrJobNotFound
	}
	job.requestCancel()
	return nil
}

// ResumePoint loads and validates the checkpoint for a job, returning it for
// a resubmission with resumeFromIndex.
func (c *Controller) ResumePoint(ctx context.Context, jobID string, manifestItems int, opts Options) (model.Checkpoint, error) {
	opts.normalize(c.Defaults)
	cp, err := c.Store.LoadCheckpoint(ctx, jobID)
	if err != nil {
		return model.Checkpoint{}, err
	}
	if err := ValidateResume(cp, manifestItems, opts.Fingerprint()); err != nil {
		return model.Checkpoint{}, err
	}
	return cp, nil
}

// run drives one job to a terminal state. Unexpected faults outside the
// per-item boundary land here and fail the job; per-item failures never do.
func (c *Controller) run(ctx context.Context, job *Job, items []model.WorkItem, opts Options) {
	defer close(job.done)
	tracker := job.tracker
	start := time.Now()

	resolver := track.NewResolver(opts.InputFolderPath, c.Defaults.MaxPointsPerFile)
	builder := &Builder{Store: c.Store, StoredPointCap: c.Defaults.StoredPointCap}
	coordinator := NewCoordinator(c.Store)
	checkpointer := NewCheckpointer(c.Store, opts.CheckpointInterval, job.ID, job.OwnerID,
		len(items), opts.ResumeFromIndex, opts.Fingerprint())

	var limiter *rate.Limiter
	if c.Defaults.DispatchPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Defaults.DispatchPerSecond), 1)
	}
	sched := &Scheduler{
		BatchSize:       opts.BatchSize,
		Concurrency:     opts.Concurrency,
		InterBatchPause: opts.interBatchPause(),
		ItemTimeout:     opts.itemTimeout(),
		Limiter:         limiter,
		Governor:        NewGovernor(c.Defaults.MemoryHighWaterMB, c.Defaults.GovernorPause),
		OnBatch: func(n, total int) {
			tracker.StartProcessing()
			tracker.BeginBatch(n)
			c.notifyProgress(tracker.Snapshot())
		},
	}

	var results []model.ItemResult
	var resultsMu sync.Mutex

	process := func(ictx context.Context, item model.WorkItem) model.ItemResult {
		tracker.BeginItem(item.Key())
		return c.processItem(ictx, item, job.OwnerID, opts, resolver, builder, coordinator)
	}
	onDone := func(res model.ItemResult) {
		resultsMu.Lock()
		results = append(results, res)
		resultsMu.Unlock()
		tracker.ItemDone(res)
		metrics.BulkItemsProcessed.WithLabelValues(res.Status).Inc()
		metrics.BulkItemDuration.Observe(float64(res.ElapsedMs) / 1000)
		for _, er := range res.Enrichments {
			if !er.Attempted {
				continue
			}
			status := "failed"
			if er.Succeeded {
				status = "ok"
			}
			metrics.EnrichmentTasks.WithLabelValues(er.Task, status).Inc()
		}
		checkpointer.ItemSettled(context.Background(), res.Index, tracker.Snapshot())
		c.notifyProgress(tracker.Snapshot())
	}

	pending := items[opts.ResumeFromIndex:]
	stopped, err := sched.Run(ctx, pending, process, onDone, job.cancelled.Load)

	switch {
	case err != nil:
		log.Printf("bulk: job %s fault: %v", job.ID, err)
		tracker.Fail(err)
		checkpointer.Final(context.Background(), tracker.Snapshot())
	case stopped:
		sum := c.finish(job, tracker, checkpointer, results, opts, start, model.StatusCancelled)
		tracker.Cancelled(sum.ResultID)
	default:
		sum := c.finish(job, tracker, checkpointer, results, opts, start, model.StatusCompleted)
		tracker.Complete(sum.ResultID)
		// A completed run no longer needs its checkpoint.
		_ = c.Store.DeleteCheckpoint(context.Background(), job.ID)
	}

	final := tracker.Snapshot()
	metrics.JobsTerminal.WithLabelValues(final.Status).Inc()
	c.notifyProgress(final)
	if sum, ok := job.Summary(); ok {
		for _, sink := range c.Sinks {
			sink.Finished(sum)
		}
	}
	log.Printf("bulk: job %s %s: %d/%d items in %s", job.ID, final.Status,
		final.CompletedItems, final.TotalItems, time.Since(start).Round(time.Millisecond))
}

// processItem is one WorkItem's pipeline: resolve track, build route, enrich.
func (c *Controller) processItem(ctx context.Context, item model.WorkItem, ownerID string, opts Options,
	resolver *track.Resolver, builder *Builder, coordinator *Coordinator) model.ItemResult {

	res := model.ItemResult{Index: item.SequenceIndex, Key: item.Key()}

	seq, err := resolver.Resolve(item)
	if err != nil {
		res.Status = model.ItemFailed
		res.Error = err.Error()
		return res
	}

	route, existing, err := builder.Build(ctx, item, seq, ownerID, opts.Terrain, opts.SkipExisting)
	if err != nil {
		res.Status = model.ItemFailed
		res.Error = err.Error()
		return res
	}
	res.RouteID = route.ID
	res.Existing = existing
	res.DistanceKm = route.TotalDistanceKm

	if existing && !opts.enrichExisting() {
		res.Status = model.ItemSkipped
		return res
	}

	res.Enrichments = coordinator.Enrich(ctx, route, opts.taskEnabled, opts.perTaskTimeout())
	failures := 0
	for _, er := range res.Enrichments {
		if er.Attempted && !er.Succeeded {
			failures++
		}
	}
	switch {
	case failures == 0:
		res.Status = model.ItemSuccessful
	case opts.ContinueOnTaskFailure:
		res.Status = model.ItemWithWarnings
	default:
		res.Status = model.ItemFailed
		res.Error = fmt.Sprintf("%d enrichment task(s) failed", failures)
	}
	return res
}

// finish assembles and persists the summary artifact.
func (c *Controller) finish(job *Job, tracker *Tracker, checkpointer *Checkpointer,
	results []model.ItemResult, opts Options, start time.Time, status string) model.Summary {

	state := tracker.Snapshot()
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })

	sum := model.Summary{
		ResultID:         uuid.New().String(),
		JobID:            job.ID,
		OwnerID:          job.OwnerID,
		Status:           status,
		TotalItems:       state.TotalItems,
		Successful:       state.CompletedItems,
		Failed:           state.FailedItems,
		Skipped:          state.SkippedItems,
		RowErrors:        job.rowErrors,
		EnrichmentTotals: state.EnrichmentTotals,
		Items:            results,
		ElapsedMs:        time.Since(start).Milliseconds(),
		ItemsPerSecond:   state.ItemsPerSecond,
		FinishedAt:       time.Now().UTC(),
	}

	minD, maxD, total, n := 0.0, 0.0, 0.0, 0
	for _, r := range results {
		if r.Status == model.ItemFailed {
			if len(sum.FailedItems) < failedItemsCap {
				sum.FailedItems = append(sum.FailedItems, r)
			}
			if r.Error != "" && errorLooksLikeMissingFile(r.Error) {
				sum.FilesNotFound++
			}
			continue
		}
		if r.DistanceKm > 0 {
			if n == 0 || r.DistanceKm < minD {
				minD = r.DistanceKm
			}
			if r.DistanceKm > maxD {
				maxD = r.DistanceKm
			}
			total += r.DistanceKm
			n++
		}
	}
	sum.TotalDistanceKm = total
	sum.MinDistanceKm = minD
	sum.MaxDistanceKm = maxD
	if n > 0 {
		sum.AvgDistanceKm = total / float64(n)
	}

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Store.SaveSummary(sctx, sum); err != nil {
		log.Printf("bulk: saving summary for job %s failed: %v", job.ID, err)
	}
	// Keep the terminal checkpoint for cancelled runs so resume works.
	if status == model.StatusCancelled {
		stateCopy := state
		stateCopy.Status = model.StatusCancelled
		checkpointer.Final(sctx, stateCopy)
	}

	job.mu.Lock()
	job.summary = sum
	job.hasSum = true
	job.mu.Unlock()
	return sum
}

func (c *Controller) notifyProgress(state model.ProcessingState) {
	for _, sink := range c.Sinks {
		sink.Progress(state)
	}
}

func errorLooksLikeMissingFile(msg string) bool {
	return strings.Contains(msg, track.ErrInputFileNotFound.Error())
}

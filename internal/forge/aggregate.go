package forge

import (
	"context"
	"fmt"
	"log/slog"

	"atlasforge/internal/domain"
	"atlasforge/internal/store"
	"atlasforge/internal/telemetry"
)

// ProgressSink receives live progress snapshots for a job. Publish must not
// block for long; slow consumers should drop events.
type ProgressSink interface {
	Publish(event domain.ProgressEvent)
}

// NopSink discards progress events.
type NopSink struct{}

// Publish implements ProgressSink.
func (NopSink) Publish(domain.ProgressEvent) {}

// Aggregator is the single consumer of worker messages for one job run. It
// owns the job's live counters, groups result batches for the sink, and
// publishes progress snapshots. Because counter deltas are additive, the
// final counts are correct regardless of worker arrival order.
type Aggregator struct {
	results   store.ResultStore
	jobs      store.JobStore
	sink      ProgressSink
	recorder  *telemetry.Recorder
	log       *slog.Logger
	batchSize int
}

// NewAggregator creates an Aggregator writing results and counters to the
// given stores and progress to sink. recorder may be nil.
func NewAggregator(results store.ResultStore, jobs store.JobStore, sink ProgressSink, recorder *telemetry.Recorder, log *slog.Logger) *Aggregator {
	if sink == nil {
		sink = NopSink{}
	}
	return &Aggregator{
		results:   results,
		jobs:      jobs,
		sink:      sink,
		recorder:  recorder,
		log:       log,
		batchSize: DefaultFlushSize,
	}
}

// Run consumes worker messages until the channel closes. Pending result
// rows are grouped so no sink write carries fewer than the batch size,
// except the final flush.
func (a *Aggregator) Run(ctx context.Context, job *domain.Job, msgCh <-chan workerMsg) error {
	// Buffered results must still land after a cancel: workers flush on the
	// way out, so sink writes outlive the job context.
	ctx = context.WithoutCancel(ctx)

	var pending []domain.BranchResult
	var sinkErr error

	// The channel must be drained even after a sink failure, or workers
	// would block on their sends and the scheduler would never join them.
	for msg := range msgCh {
		job.CompletedBranches += msg.completedDelta
		job.PassingBranches += msg.passingDelta
		job.ErroredBranches += msg.erroredDelta
		a.recorder.BranchesCompleted(msg.completedDelta, msg.passingDelta)

		if len(msg.batch) > 0 && sinkErr == nil {
			pending = append(pending, msg.batch...)
			if len(pending) >= a.batchSize {
				sinkErr = a.flush(ctx, job, pending)
				pending = pending[:0]
			}
		}

		a.publish(ctx, job)
	}

	if len(pending) > 0 && sinkErr == nil {
		sinkErr = a.flush(ctx, job, pending)
	}
	a.publish(ctx, job)
	return sinkErr
}

func (a *Aggregator) flush(ctx context.Context, job *domain.Job, batch []domain.BranchResult) error {
	if err := a.results.InsertResults(ctx, batch); err != nil {
		return fmt.Errorf("appending %d results: %w", len(batch), err)
	}
	return nil
}

// publish persists the live counters and emits a progress snapshot. Counter
// persistence failures are logged, not fatal: the terminal update is the
// source of truth.
func (a *Aggregator) publish(ctx context.Context, job *domain.Job) {
	if err := a.jobs.UpdateJobCounters(ctx, job.ID, job.CompletedBranches, job.PassingBranches, job.ErroredBranches); err != nil {
		a.log.Warn("persisting counters failed", "jobId", job.ID, "err", err)
	}
	a.sink.Publish(domain.ProgressEvent{
		JobID:             job.ID,
		CompletedBranches: job.CompletedBranches,
		TotalBranches:     job.TotalBranches,
		PassingBranches:   job.PassingBranches,
		Status:            job.Status,
	})
}

package forge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"atlasforge/internal/domain"
	"atlasforge/internal/indicator"
	"atlasforge/internal/store"
	"atlasforge/internal/telemetry"
)

// Controller owns the lifecycle of forge jobs: it validates configs,
// persists job records, runs the scheduler, handles cancellation, and
// finalizes terminal status. The state machine is
// pending -> running -> {completed, cancelled, failed}; terminal states are
// final.
type Controller struct {
	prices   store.PriceStore
	results  store.ResultStore
	jobs     store.JobStore
	registry *indicator.Registry
	sink     ProgressSink
	recorder *telemetry.Recorder
	log      *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
}

// NewController wires a Controller with its dependencies. sink and recorder
// may be nil.
func NewController(prices store.PriceStore, results store.ResultStore, jobs store.JobStore,
	registry *indicator.Registry, sink ProgressSink, recorder *telemetry.Recorder, log *slog.Logger) *Controller {

	if sink == nil {
		sink = NopSink{}
	}
	return &Controller{
		prices:   prices,
		results:  results,
		jobs:     jobs,
		registry: registry,
		sink:     sink,
		recorder: recorder,
		log:      log,
		cancels:  make(map[string]context.CancelFunc),
		done:     make(map[string]chan struct{}),
	}
}

// Submit validates the config, persists a pending job with its closed-form
// total branch count, and starts it in the background. Config errors are
// rejected before the job record is created.
func (c *Controller) Submit(ctx context.Context, cfg domain.JobConfig) (*domain.Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job config: %w", err)
	}
	enum, err := NewEnumerator(cfg, c.registry)
	if err != nil {
		return nil, fmt.Errorf("invalid job config: %w", err)
	}

	job := &domain.Job{
		ID:            uuid.NewString(),
		Config:        cfg,
		Status:        domain.JobPending,
		TotalBranches: enum.Total(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	doneCh := make(chan struct{})
	c.mu.Lock()
	c.cancels[job.ID] = cancel
	c.done[job.ID] = doneCh
	c.mu.Unlock()

	go func() {
		defer close(doneCh)
		defer func() {
			c.mu.Lock()
			delete(c.cancels, job.ID)
			c.mu.Unlock()
		}()
		c.run(runCtx, job, enum)
	}()

	return job, nil
}

// Run executes a job synchronously: Submit plus Wait, then returns the
// persisted job record.
func (c *Controller) Run(ctx context.Context, cfg domain.JobConfig) (*domain.Job, error) {
	job, err := c.Submit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Wait(job.ID)
	return c.jobs.GetJob(ctx, job.ID)
}

func (c *Controller) run(ctx context.Context, job *domain.Job, enum *Enumerator) {
	start := time.Now()
	job.Status = domain.JobRunning
	if err := c.jobs.UpdateJobStatus(ctx, job.ID, domain.JobRunning, ""); err != nil {
		c.log.Error("marking job running failed", "jobId", job.ID, "err", err)
	}
	c.recorder.JobStarted(job.Config.Indicator)
	c.log.Info("job started",
		"jobId", job.ID,
		"indicator", job.Config.Indicator,
		"tickers", len(job.Config.Tickers),
		"total", job.TotalBranches,
	)

	scheduler := NewScheduler(c.prices, c.registry, c.log)
	aggregator := NewAggregator(c.results, c.jobs, c.sink, c.recorder, c.log)
	err := scheduler.Run(ctx, job, enum, aggregator)

	status := domain.JobCompleted
	errMsg := ""
	switch {
	case err != nil:
		status = domain.JobFailed
		errMsg = err.Error()
	case ctx.Err() != nil:
		status = domain.JobCancelled
	}
	job.Status = status

	// Terminal persistence must succeed even after a cancel.
	finalCtx := context.WithoutCancel(ctx)
	if err := c.jobs.UpdateJobStatus(finalCtx, job.ID, status, errMsg); err != nil {
		c.log.Error("finalizing job failed", "jobId", job.ID, "err", err)
	}
	c.recorder.JobFinished(string(status))
	c.sink.Publish(domain.ProgressEvent{
		JobID:             job.ID,
		CompletedBranches: job.CompletedBranches,
		TotalBranches:     job.TotalBranches,
		PassingBranches:   job.PassingBranches,
		Status:            status,
	})
	c.log.Info("job finished",
		"jobId", job.ID,
		"status", status,
		"completed", job.CompletedBranches,
		"passing", job.PassingBranches,
		"errored", job.ErroredBranches,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

// Cancel requests cooperative cancellation of a running job. Workers finish
// their in-flight branch, flush, and exit; the job then reaches the
// cancelled terminal state.
func (c *Controller) Cancel(jobID string) error {
	c.mu.Lock()
	cancel, ok := c.cancels[jobID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	cancel()
	return nil
}

// Wait blocks until the job has reached a terminal status. Unknown ids
// return immediately.
func (c *Controller) Wait(jobID string) {
	c.mu.Lock()
	doneCh, ok := c.done[jobID]
	c.mu.Unlock()
	if !ok {
		return
	}
	<-doneCh
}

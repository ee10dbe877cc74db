// Package store provides persistence: columnar price files in, result rows
// and job records out.
package store

import (
	"context"
	"errors"

	"atlasforge/internal/domain"
)

// ErrMissingData indicates that no usable price file exists for a ticker.
var ErrMissingData = errors.New("missing price data")

// ErrJobNotFound indicates that a job id has no record.
var ErrJobNotFound = errors.New("job not found")

// PriceStore loads immutable daily price series by ticker.
type PriceStore interface {
	// Load returns the dense, date-aligned series for a ticker. The returned
	// series is shared and must be treated as read-only. Returns
	// ErrMissingData when no usable file exists.
	Load(ctx context.Context, ticker string) (*domain.PriceSeries, error)

	// ListTickers returns all tickers with a price file, sorted.
	ListTickers(ctx context.Context) ([]string, error)
}

// ResultStore appends passing branch results. Rows are append-only.
type ResultStore interface {
	// InsertResults persists a batch of result rows in one transaction.
	InsertResults(ctx context.Context, results []domain.BranchResult) error

	// ListResults returns up to limit result rows for a job, newest last.
	ListResults(ctx context.Context, jobID string, limit int) ([]domain.BranchResult, error)

	// CountResults returns the number of persisted rows for a job.
	CountResults(ctx context.Context, jobID string) (int64, error)
}

// JobStore persists job records and their live counters.
type JobStore interface {
	// CreateJob inserts a new job record.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by id. Returns ErrJobNotFound when absent.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// ListJobs returns the most recent jobs, up to limit.
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)

	// UpdateJobStatus transitions a job's status, recording the error string
	// and timestamps for terminal states.
	UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error

	// UpdateJobCounters overwrites the completed/passing/errored counters.
	UpdateJobCounters(ctx context.Context, id string, completed, passing, errored int64) error
}

package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"atlasforge/internal/backtest"
	"atlasforge/internal/domain"
	"atlasforge/internal/indicator"
	"atlasforge/internal/store"
)

// ErrDegenerateSeries indicates a ticker has too few usable bars for the
// job's largest warm-up.
var ErrDegenerateSeries = errors.New("degenerate price series")

const (
	// DefaultFlushSize is the worker result-buffer capacity: a full buffer
	// is flushed to the aggregator as one batch.
	DefaultFlushSize = 100
	// DefaultProgressEvery is the branch cadence at which workers publish
	// their counter deltas.
	DefaultProgressEvery = 500
)

// workerMsg is one message from a worker to the aggregator: counter deltas
// plus an optional batch of passing results.
type workerMsg struct {
	workerID       int
	completedDelta int64
	passingDelta   int64
	erroredDelta   int64
	batch          []domain.BranchResult
}

// Scheduler shards a job's ticker list across worker goroutines. Each
// worker owns its indicator cache, backtest kernel, and metrics kernel;
// sharding by ticker guarantees no two workers ever want the same cache
// entry.
type Scheduler struct {
	prices        store.PriceStore
	registry      *indicator.Registry
	log           *slog.Logger
	flushSize     int
	progressEvery int
}

// NewScheduler creates a Scheduler reading prices from the given store.
func NewScheduler(prices store.PriceStore, registry *indicator.Registry, log *slog.Logger) *Scheduler {
	return &Scheduler{
		prices:        prices,
		registry:      registry,
		log:           log,
		flushSize:     DefaultFlushSize,
		progressEvery: DefaultProgressEvery,
	}
}

// Run executes the job's branches and blocks until every worker has exited
// and the aggregator has drained. Cancellation is cooperative: workers
// check ctx between branches, flush, and exit. A worker panic is returned
// as an error and marks the job failed upstream.
func (s *Scheduler) Run(ctx context.Context, job *domain.Job, enum *Enumerator, agg *Aggregator) error {
	workers := job.Config.NumWorkers
	if workers > len(job.Config.Tickers) {
		// Ticker-level locality beats core saturation: residual workers
		// stay idle for this job.
		workers = len(job.Config.Tickers)
	}
	shards := shardTickers(job.Config.Tickers, workers)

	msgCh := make(chan workerMsg, workers*2)
	crashCh := make(chan error, workers)

	var wg sync.WaitGroup
	for i, shard := range shards {
		wg.Add(1)
		go func(id int, tickers []string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					crashCh <- fmt.Errorf("worker %d crashed: %v", id, r)
				}
			}()
			s.worker(ctx, id, tickers, job, enum, msgCh)
		}(i, shard)
	}

	aggDone := make(chan error, 1)
	go func() { aggDone <- agg.Run(ctx, job, msgCh) }()

	wg.Wait()
	close(msgCh)
	close(crashCh)

	if err := <-aggDone; err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}
	if err := <-crashCh; err != nil {
		return err
	}
	return nil
}

// shardTickers assigns tickers round-robin to n shards.
func shardTickers(tickers []string, n int) [][]string {
	shards := make([][]string, n)
	for i, t := range tickers {
		shards[i%n] = append(shards[i%n], t)
	}
	return shards
}

// worker processes its shard's branches in enumeration order. Per-branch
// failures (missing data, degenerate series, unknown family) are accounted
// as errored and never stop the shard.
func (s *Scheduler) worker(ctx context.Context, id int, shard []string, job *domain.Job, enum *Enumerator, msgCh chan<- workerMsg) {
	cache := indicator.NewCache(s.registry, s.log)
	kernel := backtest.NewKernel(0)
	metrics := backtest.NewMetrics(0)

	var (
		buffer    []domain.BranchResult
		completed int64
		passing   int64
		errored   int64
		sinceLast int64
	)

	flush := func() {
		if len(buffer) == 0 && completed == 0 && passing == 0 && errored == 0 {
			return
		}
		msg := workerMsg{
			workerID:       id,
			completedDelta: completed,
			passingDelta:   passing,
			erroredDelta:   errored,
		}
		if len(buffer) > 0 {
			msg.batch = append([]domain.BranchResult(nil), buffer...)
			buffer = buffer[:0]
		}
		completed, passing, errored = 0, 0, 0
		msgCh <- msg
	}

	var (
		curTicker string
		series    *domain.PriceSeries
		tickerErr error
		isMask    []bool
		oosMask   []bool
		oosStart  time.Time
	)
	if job.Config.SplitStrategy == string(domain.SplitChronological) {
		oosStart, _ = time.Parse("2006-01-02", job.Config.OOSStartDate)
	}

	for branch := range enum.Branches(shard) {
		// Cancellation is checked between branches, never mid-branch.
		if ctx.Err() != nil {
			break
		}

		if branch.Ticker != curTicker {
			curTicker = branch.Ticker
			series, isMask, oosMask, tickerErr = s.loadTicker(ctx, curTicker, enum, job, oosStart)
		}

		if tickerErr != nil {
			errored++
		} else if passed, err := s.runBranch(job, branch, series, isMask, oosMask, cache, kernel, metrics, &buffer); err != nil {
			errored++
		} else if passed {
			passing++
		}

		completed++
		sinceLast++
		if len(buffer) >= s.flushSize {
			flush()
			sinceLast = 0
		} else if sinceLast >= int64(s.progressEvery) {
			flush()
			sinceLast = 0
		}
	}

	flush()
}

func (s *Scheduler) loadTicker(ctx context.Context, ticker string, enum *Enumerator, job *domain.Job, oosStart time.Time) (*domain.PriceSeries, []bool, []bool, error) {
	series, err := s.prices.Load(ctx, ticker)
	if err != nil {
		s.log.Warn("ticker unavailable, branches errored",
			"jobId", job.ID, "ticker", ticker, "err", err)
		return nil, nil, nil, err
	}
	if series.Len() < enum.MaxWarmup()+2 {
		s.log.Warn("series too short for job windows, branches errored",
			"jobId", job.ID, "ticker", ticker, "bars", series.Len(), "needed", enum.MaxWarmup()+2)
		return nil, nil, nil, fmt.Errorf("%w: %s has %d bars", ErrDegenerateSeries, ticker, series.Len())
	}

	isMask, oosMask, err := backtest.Partition(series.Dates, domain.SplitPolicy(job.Config.SplitStrategy), oosStart)
	if err != nil {
		return nil, nil, nil, err
	}
	return series, isMask, oosMask, nil
}

// runBranch evaluates one branch end to end and appends a result to the
// buffer when the in-sample metrics clear the filter.
func (s *Scheduler) runBranch(job *domain.Job, branch domain.Branch, series *domain.PriceSeries,
	isMask, oosMask []bool, cache *indicator.Cache, kernel *backtest.Kernel,
	metrics *backtest.Metrics, buffer *[]domain.BranchResult) (bool, error) {

	ind, warmup, err := cache.Get(series, branch.Family, branch.Window)
	if err != nil {
		return false, err
	}
	primary := backtest.Leg{Series: ind, Comparator: branch.Comparator, Threshold: branch.Threshold}

	var l2 *backtest.Leg
	if branch.L2 != nil {
		ind2, warmup2, err := cache.Get(series, branch.L2.Family, branch.L2.Window)
		if err != nil {
			return false, err
		}
		l2 = &backtest.Leg{Series: ind2, Comparator: branch.L2.Comparator, Threshold: branch.L2.Threshold}
		if warmup2 > warmup {
			warmup = warmup2
		}
	}

	res := kernel.Run(primary, l2, series.Returns, job.Config.CostBps)

	// The first bar a position can be held is one execution lag past the
	// warm-up; both partitions exclude everything before it.
	warmStart := warmup + 1

	is := metrics.Compute(res.Position, res.StratRet, series.Dates, isMask, warmStart)
	oos := metrics.Compute(res.Position, res.StratRet, series.Dates, oosMask, warmStart)
	if !backtest.Passes(is, job.Config.Filters) {
		return false, nil
	}

	*buffer = append(*buffer, domain.BranchResult{
		JobID:        job.ID,
		SignalTicker: branch.Ticker,
		InvestTicker: branch.Ticker,
		Branch:       branch,
		IS:           is,
		OOS:          oos,
		CreatedAt:    time.Now().UTC(),
	})
	return true, nil
}

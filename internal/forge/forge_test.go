package forge

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"atlasforge/internal/domain"
	"atlasforge/internal/indicator"
	"atlasforge/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writePrices writes a deterministic wavy price file with n daily bars.
func writePrices(t *testing.T, dir, ticker string, n int) {
	t.Helper()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/5) + float64(i)/20
		bars[i] = domain.Bar{
			Ticker:   ticker,
			Date:     start.AddDate(0, 0, i),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1e6,
			AdjClose: c,
		}
	}
	if err := store.WritePriceFile(dir, ticker, bars); err != nil {
		t.Fatalf("writing %s: %v", ticker, err)
	}
}

// captureSink records progress events for monotonicity checks.
type captureSink struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (s *captureSink) Publish(event domain.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) snapshot() []domain.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ProgressEvent(nil), s.events...)
}

type fixture struct {
	controller *Controller
	db         *store.SQLiteStore
	sink       *captureSink
}

func newFixture(t *testing.T, tickers []string, bars int) *fixture {
	t.Helper()
	dir := t.TempDir()
	for _, ticker := range tickers {
		writePrices(t, dir, ticker, bars)
	}

	db, err := store.NewSQLiteStore(filepath.Join(dir, "forge.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	prices := store.NewParquetPriceStore(dir, 0)
	sink := &captureSink{}
	controller := NewController(prices, db, db, indicator.NewRegistry(), sink, nil, testLogger())
	return &fixture{controller: controller, db: db, sink: sink}
}

func smaJobConfig(tickers []string) domain.JobConfig {
	return domain.JobConfig{
		Indicator:     "SMA",
		PeriodMin:     3,
		PeriodMax:     4,
		Tickers:       tickers,
		Comparator:    "BOTH",
		ThresholdMin:  90,
		ThresholdMax:  110,
		ThresholdStep: 10,
		Filters: domain.FilterThresholds{
			MinTIM:     0,
			MinTIMAR:   -1e9,
			MaxDD:      100,
			MinTrades:  0,
			MinTIMARDD: -1e9,
		},
		SplitStrategy: "even_odd_month",
		NumWorkers:    2,
	}
}

func TestJobRunsToCompletion(t *testing.T) {
	f := newFixture(t, []string{"AAA", "BBB"}, 300)
	cfg := smaJobConfig([]string{"AAA", "BBB"})

	job, err := f.controller.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if job.Status != domain.JobCompleted {
		t.Fatalf("status = %s (%s), want completed", job.Status, job.Error)
	}
	// 2 tickers * 2 windows * 2 comparators * 3 thresholds.
	if job.TotalBranches != 24 {
		t.Errorf("total = %d, want 24", job.TotalBranches)
	}
	if job.CompletedBranches != job.TotalBranches {
		t.Errorf("completed = %d, want %d", job.CompletedBranches, job.TotalBranches)
	}
	if job.PassingBranches > job.CompletedBranches {
		t.Errorf("passing %d exceeds completed %d", job.PassingBranches, job.CompletedBranches)
	}
	if job.ErroredBranches != 0 {
		t.Errorf("errored = %d, want 0", job.ErroredBranches)
	}

	// Persisted rows match the passing counter.
	count, err := f.db.CountResults(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != job.PassingBranches {
		t.Errorf("persisted rows = %d, passing = %d", count, job.PassingBranches)
	}

	// Every persisted row is a complete BranchResult.
	results, err := f.db.ListResults(context.Background(), job.ID, 1000)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.JobID != job.ID || r.SignalTicker == "" || r.InvestTicker == "" {
			t.Fatalf("partial result row: %+v", r)
		}
		if r.Branch.Family != domain.FamilySMA {
			t.Errorf("result family = %s, want SMA", r.Branch.Family)
		}
	}
}

func TestProgressMonotonic(t *testing.T) {
	f := newFixture(t, []string{"AAA"}, 300)
	cfg := smaJobConfig([]string{"AAA"})

	job, err := f.controller.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("status = %s", job.Status)
	}

	events := f.sink.snapshot()
	if len(events) == 0 {
		t.Fatal("no progress events published")
	}
	var prev domain.ProgressEvent
	for i, e := range events {
		if e.CompletedBranches < prev.CompletedBranches || e.PassingBranches < prev.PassingBranches {
			t.Fatalf("progress regressed at event %d: %+v after %+v", i, e, prev)
		}
		prev = e
	}
	last := events[len(events)-1]
	if last.Status != domain.JobCompleted || last.CompletedBranches != job.TotalBranches {
		t.Errorf("final event = %+v, want completed with full count", last)
	}
}

func TestCancellationConverges(t *testing.T) {
	f := newFixture(t, []string{"AAA"}, 300)

	// A wide sweep so cancellation lands before the job can finish.
	cfg := smaJobConfig([]string{"AAA"})
	cfg.PeriodMin, cfg.PeriodMax = 2, 40
	cfg.ThresholdMin, cfg.ThresholdMax, cfg.ThresholdStep = 50, 150, 0.1
	cfg.NumWorkers = 1

	job, err := f.controller.Submit(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.controller.Cancel(job.ID); err != nil {
		t.Fatal(err)
	}
	f.controller.Wait(job.ID)

	final, err := f.db.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != domain.JobCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.CompletedBranches >= final.TotalBranches {
		t.Errorf("completed %d of %d, cancel had no effect", final.CompletedBranches, final.TotalBranches)
	}

	// Any persisted rows must still be complete results.
	results, err := f.db.ListResults(context.Background(), job.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.JobID != job.ID || r.SignalTicker == "" {
			t.Fatalf("partial result row after cancel: %+v", r)
		}
	}
}

func TestMissingTickerErrorsBranchesOnly(t *testing.T) {
	f := newFixture(t, []string{"AAA"}, 300)
	cfg := smaJobConfig([]string{"AAA", "GHOST"})

	job, err := f.controller.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if job.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed despite missing ticker", job.Status)
	}
	if job.CompletedBranches != job.TotalBranches {
		t.Errorf("completed = %d, want %d", job.CompletedBranches, job.TotalBranches)
	}
	// GHOST contributes half the branches, all errored.
	if job.ErroredBranches != job.TotalBranches/2 {
		t.Errorf("errored = %d, want %d", job.ErroredBranches, job.TotalBranches/2)
	}
}

func TestDegenerateSeriesErrorsBranches(t *testing.T) {
	// Five bars cannot warm up RSI(10) plus lag, which needs 22 bars.
	f := newFixture(t, []string{"TINY"}, 5)
	cfg := smaJobConfig([]string{"TINY"})
	cfg.Indicator = "RSI"
	cfg.PeriodMin, cfg.PeriodMax = 10, 10

	job, err := f.controller.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.ErroredBranches != job.TotalBranches {
		t.Errorf("errored = %d, want all %d", job.ErroredBranches, job.TotalBranches)
	}
	if job.PassingBranches != 0 {
		t.Errorf("passing = %d, want 0", job.PassingBranches)
	}
}

// TestQuietRSINeverEnters: a gently oscillating series never drives RSI(3)
// below 10 (its lowest value, after the second run of four one-point down
// days, is ~18.4), so no branch can enter the market.
func TestQuietRSINeverEnters(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{100, 101, 102, 103, 104, 105, 104, 103, 102, 101,
		102, 103, 104, 105, 106, 107, 106, 105, 104, 103}
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Ticker: "CALM", Date: start.AddDate(0, 0, i),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1e5, AdjClose: c,
		}
	}
	if err := store.WritePriceFile(dir, "CALM", bars); err != nil {
		t.Fatal(err)
	}

	db, err := store.NewSQLiteStore(filepath.Join(dir, "forge.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	prices := store.NewParquetPriceStore(dir, 0)
	controller := NewController(prices, db, db, indicator.NewRegistry(), nil, nil, testLogger())

	cfg := domain.JobConfig{
		Indicator:     "RSI",
		PeriodMin:     3,
		PeriodMax:     3,
		Tickers:       []string{"CALM"},
		Comparator:    "LT",
		ThresholdMin:  10,
		ThresholdMax:  10,
		ThresholdStep: 1,
		Filters:       domain.FilterThresholds{MinTIM: 1, MaxDD: 100},
		SplitStrategy: "even_odd_month",
		NumWorkers:    1,
	}
	job, err := controller.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	if job.PassingBranches != 0 {
		t.Errorf("passing = %d, want 0: RSI never dips below 10 here", job.PassingBranches)
	}
	if job.ErroredBranches != 0 {
		t.Errorf("errored = %d, want 0", job.ErroredBranches)
	}
}

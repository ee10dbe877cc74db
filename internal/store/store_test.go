package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"atlasforge/internal/domain"
)

func testBars(ticker string, n int) []domain.Bar {
	start := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.Bar{
			Ticker:   ticker,
			Date:     start.AddDate(0, 0, i),
			Open:     c - 0.5,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1e6 + int64(i),
			AdjClose: c,
		}
	}
	return bars
}

func TestParquetPriceStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WritePriceFile(dir, "aapl", testBars("AAPL", 5)); err != nil {
		t.Fatal(err)
	}

	ps := NewParquetPriceStore(dir, 0)
	series, err := ps.Load(context.Background(), "AAPL")
	if err != nil {
		t.Fatal(err)
	}

	if series.Ticker != "AAPL" {
		t.Errorf("ticker = %q, want AAPL", series.Ticker)
	}
	if series.Len() != 5 {
		t.Fatalf("len = %d, want 5", series.Len())
	}
	if series.Close[0] != 100 || series.Close[4] != 104 {
		t.Errorf("closes = %v, want 100..104", series.Close)
	}

	// Returns are derived: returns[0] = 0, returns[i] = close[i]/close[i-1]-1.
	if series.Returns[0] != 0 {
		t.Errorf("returns[0] = %v, want 0", series.Returns[0])
	}
	want := 101.0/100.0 - 1
	if math.Abs(series.Returns[1]-want) > 1e-12 {
		t.Errorf("returns[1] = %v, want %v", series.Returns[1], want)
	}

	// Dates ascend.
	for i := 1; i < series.Len(); i++ {
		if !series.Dates[i].After(series.Dates[i-1]) {
			t.Fatalf("dates not ascending at %d", i)
		}
	}
}

func TestParquetPriceStoreCachesSnapshot(t *testing.T) {
	dir := t.TempDir()
	if err := WritePriceFile(dir, "SPY", testBars("SPY", 3)); err != nil {
		t.Fatal(err)
	}

	ps := NewParquetPriceStore(dir, 2)
	a, err := ps.Load(context.Background(), "SPY")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ps.Load(context.Background(), "spy")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second load should return the cached snapshot")
	}
}

func TestParquetPriceStoreLRUEviction(t *testing.T) {
	dir := t.TempDir()
	for _, ticker := range []string{"AAA", "BBB", "CCC"} {
		if err := WritePriceFile(dir, ticker, testBars(ticker, 3)); err != nil {
			t.Fatal(err)
		}
	}

	ps := NewParquetPriceStore(dir, 2)
	ctx := context.Background()

	a1, _ := ps.Load(ctx, "AAA")
	ps.Load(ctx, "BBB")
	ps.Load(ctx, "CCC") // evicts AAA
	a2, err := ps.Load(ctx, "AAA")
	if err != nil {
		t.Fatal(err)
	}
	if a1 == a2 {
		t.Error("AAA should have been evicted and reloaded")
	}
}

func TestParquetPriceStoreMissingData(t *testing.T) {
	ps := NewParquetPriceStore(t.TempDir(), 0)
	_, err := ps.Load(context.Background(), "NOPE")
	if !errors.Is(err, ErrMissingData) {
		t.Errorf("err = %v, want ErrMissingData", err)
	}
}

func TestParquetPriceStoreListTickers(t *testing.T) {
	dir := t.TempDir()
	for _, ticker := range []string{"MSFT", "AAPL"} {
		if err := WritePriceFile(dir, ticker, testBars(ticker, 2)); err != nil {
			t.Fatal(err)
		}
	}

	ps := NewParquetPriceStore(dir, 0)
	tickers, err := ps.ListTickers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tickers) != 2 || tickers[0] != "AAPL" || tickers[1] != "MSFT" {
		t.Errorf("tickers = %v, want [AAPL MSFT]", tickers)
	}
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

func newTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testJob(id string) *domain.Job {
	return &domain.Job{
		ID:     id,
		Status: domain.JobPending,
		Config: domain.JobConfig{
			Indicator:     "RSI",
			PeriodMin:     10,
			PeriodMax:     14,
			Tickers:       []string{"SPY"},
			Comparator:    "LT",
			ThresholdMin:  20,
			ThresholdMax:  40,
			ThresholdStep: 5,
			SplitStrategy: "even_odd_month",
			NumWorkers:    2,
		},
		TotalBranches: 25,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteJobLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job := testJob("job-1")
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobPending || got.TotalBranches != 25 {
		t.Errorf("job = %+v", got)
	}
	if got.Config.Indicator != "RSI" || got.Config.PeriodMax != 14 {
		t.Errorf("config round-trip failed: %+v", got.Config)
	}

	if err := db.UpdateJobStatus(ctx, "job-1", domain.JobRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateJobCounters(ctx, "job-1", 10, 3, 1); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateJobStatus(ctx, "job-1", domain.JobCompleted, ""); err != nil {
		t.Fatal(err)
	}

	got, err = db.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.CompletedBranches != 10 || got.PassingBranches != 3 || got.ErroredBranches != 1 {
		t.Errorf("counters = %d/%d/%d", got.CompletedBranches, got.PassingBranches, got.ErroredBranches)
	}
	if got.StartedAt.IsZero() || got.FinishedAt.IsZero() {
		t.Error("running/terminal transitions should stamp timestamps")
	}
}

func TestSQLiteJobNotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetJob(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
	if err := db.UpdateJobStatus(context.Background(), "missing", domain.JobRunning, ""); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestSQLiteResultsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job := testJob("job-2")
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	results := []domain.BranchResult{
		{
			JobID:        "job-2",
			SignalTicker: "SPY",
			InvestTicker: "SPY",
			Branch: domain.Branch{
				Ticker: "SPY", Family: domain.FamilyRSI, Window: 14,
				Comparator: domain.ComparatorLT, Threshold: 30,
			},
			IS:        domain.MetricTuple{TIM: 45.5, CAGR: 8.5, TIMAR: 18.7, MaxDD: -12.2, Trades: 125, AvgHold: 3.5, Sharpe: 1.25},
			OOS:       domain.MetricTuple{TIM: 44.1, CAGR: 7.9, TIMAR: 17.9, MaxDD: -13.0, Trades: 118, AvgHold: 3.4, Sharpe: 1.10},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
		{
			JobID:        "job-2",
			SignalTicker: "SPY",
			InvestTicker: "SPY",
			Branch: domain.Branch{
				Ticker: "SPY", Family: domain.FamilyRSI, Window: 10,
				Comparator: domain.ComparatorLT, Threshold: 25,
				L2: &domain.Leg{Family: domain.FamilySMA, Window: 50, Comparator: domain.ComparatorGT, Threshold: 0},
			},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
	}
	if err := db.InsertResults(ctx, results); err != nil {
		t.Fatal(err)
	}

	count, err := db.CountResults(ctx, "job-2")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	got, err := db.ListResults(ctx, "job-2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	first := got[0]
	if first.Branch.Family != domain.FamilyRSI || first.Branch.Window != 14 {
		t.Errorf("branch = %+v", first.Branch)
	}
	if first.IS.TIM != 45.5 || first.OOS.Trades != 118 {
		t.Errorf("metrics round-trip failed: IS=%+v OOS=%+v", first.IS, first.OOS)
	}
	if first.Branch.L2 != nil {
		t.Error("first row should have no L2 clause")
	}

	second := got[1]
	if second.Branch.L2 == nil {
		t.Fatal("second row should carry its L2 clause")
	}
	if second.Branch.L2.Family != domain.FamilySMA || second.Branch.L2.Window != 50 {
		t.Errorf("l2 = %+v", second.Branch.L2)
	}
}

package forge

import (
	"testing"

	"atlasforge/internal/domain"
	"atlasforge/internal/indicator"
)

func sweepConfig() domain.JobConfig {
	return domain.JobConfig{
		Indicator:     "RSI",
		PeriodMin:     10,
		PeriodMax:     14,
		Tickers:       []string{"SPY"},
		Comparator:    "BOTH",
		ThresholdMin:  10,
		ThresholdMax:  30,
		ThresholdStep: 5,
		SplitStrategy: "even_odd_month",
		NumWorkers:    1,
	}
}

func collect(e *Enumerator, tickers []string) []domain.Branch {
	var branches []domain.Branch
	for b := range e.Branches(tickers) {
		branches = append(branches, b)
	}
	return branches
}

// TestEnumeratorTotalCount is the closed-form count invariant: one ticker,
// five windows, both comparators, five thresholds is 50 branches.
func TestEnumeratorTotalCount(t *testing.T) {
	cfg := sweepConfig()
	e, err := NewEnumerator(cfg, indicator.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	if got := e.Total(); got != 50 {
		t.Errorf("Total() = %d, want 1*5*2*5 = 50", got)
	}
	branches := collect(e, cfg.Tickers)
	if int64(len(branches)) != e.Total() {
		t.Errorf("enumerated %d branches, want %d", len(branches), e.Total())
	}
}

func TestEnumeratorOrdering(t *testing.T) {
	cfg := sweepConfig()
	e, err := NewEnumerator(cfg, indicator.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	branches := collect(e, cfg.Tickers)

	// Windows ascend; for each window LT comes before GT; thresholds ascend
	// within a comparator.
	first := branches[0]
	if first.Window != 10 || first.Comparator != domain.ComparatorLT || first.Threshold != 10 {
		t.Errorf("first branch = %+v, want window 10, LT, threshold 10", first)
	}

	perWindow := 2 * 5
	for wi := 0; wi < 5; wi++ {
		window := branches[wi*perWindow].Window
		if window != 10+wi {
			t.Errorf("window block %d starts with window %d, want %d", wi, window, 10+wi)
		}
		for i := 0; i < 5; i++ {
			if c := branches[wi*perWindow+i].Comparator; c != domain.ComparatorLT {
				t.Fatalf("branch %d comparator = %s, want LT before GT", wi*perWindow+i, c)
			}
		}
		for i := 5; i < 10; i++ {
			if c := branches[wi*perWindow+i].Comparator; c != domain.ComparatorGT {
				t.Fatalf("branch %d comparator = %s, want GT after LT", wi*perWindow+i, c)
			}
		}
	}
}

func TestEnumeratorRestartable(t *testing.T) {
	cfg := sweepConfig()
	e, err := NewEnumerator(cfg, indicator.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	a := collect(e, cfg.Tickers)
	b := collect(e, cfg.Tickers)
	if len(a) != len(b) {
		t.Fatalf("restart produced %d branches, want %d", len(b), len(a))
	}
	for i := range a {
		if a[i].Ticker != b[i].Ticker || a[i].Window != b[i].Window ||
			a[i].Comparator != b[i].Comparator || a[i].Threshold != b[i].Threshold {
			t.Fatalf("restart diverged at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestEnumeratorWindowlessFamily(t *testing.T) {
	cfg := sweepConfig()
	cfg.Indicator = "Current Price"
	cfg.PeriodMin, cfg.PeriodMax = 5, 25 // ignored for windowless families

	e, err := NewEnumerator(cfg, indicator.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Total(); got != 10 {
		t.Errorf("Total() = %d, want 1*1*2*5 = 10", got)
	}
	for b := range e.Branches(cfg.Tickers) {
		if b.Window != 0 {
			t.Fatalf("windowless branch has window %d", b.Window)
		}
	}
}

func TestEnumeratorThresholdCount(t *testing.T) {
	tests := []struct {
		min, max, step float64
		want           int64
	}{
		{10, 30, 5, 5},
		{0, 1, 0.1, 11},
		{20, 20, 5, 1},
		{20, 24.9, 5, 1},
	}
	for _, tt := range tests {
		cfg := sweepConfig()
		cfg.Comparator = "LT"
		cfg.PeriodMin, cfg.PeriodMax = 10, 10
		cfg.ThresholdMin, cfg.ThresholdMax, cfg.ThresholdStep = tt.min, tt.max, tt.step

		e, err := NewEnumerator(cfg, indicator.NewRegistry())
		if err != nil {
			t.Fatal(err)
		}
		if got := e.Total(); got != tt.want {
			t.Errorf("thresholds(%v..%v step %v): Total = %d, want %d", tt.min, tt.max, tt.step, got, tt.want)
		}
	}
}

func TestEnumeratorL2MultipliesProduct(t *testing.T) {
	cfg := sweepConfig()
	cfg.L2 = &domain.L2Config{
		Indicator:     "SMA",
		PeriodMin:     5,
		PeriodMax:     6,
		Comparator:    "GT",
		ThresholdMin:  0,
		ThresholdMax:  10,
		ThresholdStep: 5,
	}

	e, err := NewEnumerator(cfg, indicator.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	// Primary 50 branches, L2 axes 2*1*3 = 6.
	if got := e.Total(); got != 300 {
		t.Errorf("Total() = %d, want 300", got)
	}

	branches := collect(e, cfg.Tickers)
	if int64(len(branches)) != 300 {
		t.Fatalf("enumerated %d, want 300", len(branches))
	}
	for i, b := range branches {
		if b.L2 == nil {
			t.Fatalf("branch %d missing L2 clause", i)
		}
	}
	// Adjacent branches differ only in the innermost L2 threshold.
	if branches[0].L2.Threshold != 0 || branches[1].L2.Threshold != 5 || branches[2].L2.Threshold != 10 {
		t.Errorf("L2 thresholds not innermost: %v %v %v",
			branches[0].L2.Threshold, branches[1].L2.Threshold, branches[2].L2.Threshold)
	}
}

func TestEnumeratorUnknownIndicator(t *testing.T) {
	cfg := sweepConfig()
	cfg.Indicator = "VWAP"
	if _, err := NewEnumerator(cfg, indicator.NewRegistry()); err == nil {
		t.Error("unknown indicator should fail enumeration")
	}
}

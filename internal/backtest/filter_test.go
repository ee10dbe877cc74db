package backtest

import (
	"testing"

	"atlasforge/internal/domain"
)

func passingTuple() domain.MetricTuple {
	return domain.MetricTuple{
		TIM:     40,
		CAGR:    12,
		TIMAR:   30,
		MaxDD:   -15,
		TIMARDD: 2,
		Trades:  80,
	}
}

func baseFilters() domain.FilterThresholds {
	return domain.FilterThresholds{
		MinTIM:     10,
		MinTIMAR:   20,
		MaxDD:      20,
		MinTrades:  50,
		MinTIMARDD: 1,
	}
}

func TestFilterPasses(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.MetricTuple)
		want   bool
	}{
		{"all bars cleared", func(m *domain.MetricTuple) {}, true},
		{"tim too low", func(m *domain.MetricTuple) { m.TIM = 5 }, false},
		{"timar too low", func(m *domain.MetricTuple) { m.TIMAR = 10 }, false},
		{"drawdown too deep", func(m *domain.MetricTuple) { m.MaxDD = -25 }, false},
		{"too few trades", func(m *domain.MetricTuple) { m.Trades = 10 }, false},
		{"timardd too low", func(m *domain.MetricTuple) { m.TIMARDD = 0.5 }, false},
		{"drawdown exactly at bar", func(m *domain.MetricTuple) { m.MaxDD = -20 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := passingTuple()
			tt.mutate(&m)
			if got := Passes(m, baseFilters()); got != tt.want {
				t.Errorf("Passes() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestFilterMonotonicity verifies that relaxing any bar never turns a
// passing tuple into a failing one.
func TestFilterMonotonicity(t *testing.T) {
	m := passingTuple()
	f := baseFilters()
	if !Passes(m, f) {
		t.Fatal("baseline must pass")
	}

	relaxed := []domain.FilterThresholds{
		{MinTIM: f.MinTIM - 5, MinTIMAR: f.MinTIMAR, MaxDD: f.MaxDD, MinTrades: f.MinTrades, MinTIMARDD: f.MinTIMARDD},
		{MinTIM: f.MinTIM, MinTIMAR: f.MinTIMAR - 5, MaxDD: f.MaxDD, MinTrades: f.MinTrades, MinTIMARDD: f.MinTIMARDD},
		{MinTIM: f.MinTIM, MinTIMAR: f.MinTIMAR, MaxDD: f.MaxDD + 10, MinTrades: f.MinTrades, MinTIMARDD: f.MinTIMARDD},
		{MinTIM: f.MinTIM, MinTIMAR: f.MinTIMAR, MaxDD: f.MaxDD, MinTrades: f.MinTrades - 10, MinTIMARDD: f.MinTIMARDD},
		{MinTIM: f.MinTIM, MinTIMAR: f.MinTIMAR, MaxDD: f.MaxDD, MinTrades: f.MinTrades, MinTIMARDD: f.MinTIMARDD - 0.5},
	}
	for i, rf := range relaxed {
		if !Passes(m, rf) {
			t.Errorf("relaxing bar %d broke a passing tuple", i)
		}
	}
}

package indicator

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"atlasforge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSeries builds a PriceSeries with the given closes; highs and lows are
// offset by one, volume is positive, dates are consecutive days.
func newSeries(t *testing.T, closes []float64) *domain.PriceSeries {
	t.Helper()
	n := len(closes)
	p := &domain.PriceSeries{
		Ticker:   "TEST",
		Dates:    make([]time.Time, n),
		Open:     make([]float64, n),
		High:     make([]float64, n),
		Low:      make([]float64, n),
		Close:    make([]float64, n),
		Volume:   make([]float64, n),
		AdjClose: make([]float64, n),
		Returns:  make([]float64, n),
	}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		p.Dates[i] = start.AddDate(0, 0, i)
		p.Open[i] = c
		p.High[i] = c + 1
		p.Low[i] = c - 1
		p.Close[i] = c
		p.AdjClose[i] = c
		p.Volume[i] = 1000 + float64(i)
		if i > 0 {
			p.Returns[i] = c/closes[i-1] - 1
		}
	}
	return p
}

// waveSeries is a deterministic non-degenerate series long enough for every
// family's warm-up.
func waveSeries(t *testing.T, n int) *domain.PriceSeries {
	t.Helper()
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/3) + float64(i)/10
	}
	return newSeries(t, closes)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMAKnownValues(t *testing.T) {
	p := newSeries(t, []float64{1, 2, 3, 4, 5})
	got := SMA(p, 3)

	for i := 0; i < 2; i++ {
		if !math.IsNaN(got[i]) {
			t.Errorf("SMA[%d] = %v, want NaN warm-up", i, got[i])
		}
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !almostEqual(got[i+2], w) {
			t.Errorf("SMA[%d] = %v, want %v", i+2, got[i+2], w)
		}
	}
}

func TestEMAKnownValues(t *testing.T) {
	p := newSeries(t, []float64{1, 2, 3, 4, 5})
	got := EMA(p, 3)

	// Seeded from SMA(3)=2 at index 2, then alpha=0.5.
	if !almostEqual(got[2], 2) {
		t.Errorf("EMA[2] = %v, want 2", got[2])
	}
	if !almostEqual(got[3], 3) {
		t.Errorf("EMA[3] = %v, want 3", got[3])
	}
	if !almostEqual(got[4], 4) {
		t.Errorf("EMA[4] = %v, want 4", got[4])
	}
}

func TestROCKnownValues(t *testing.T) {
	p := newSeries(t, []float64{100, 110, 121})
	got := ROC(p, 2)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Error("ROC warm-up should be NaN")
	}
	if !almostEqual(got[2], 0.21) {
		t.Errorf("ROC[2] = %v, want 0.21", got[2])
	}
}

func TestStdDevKnownValues(t *testing.T) {
	p := newSeries(t, []float64{1, 2, 3, 2, 1})
	got := StdDev(p, 3)
	if !almostEqual(got[2], 1) {
		t.Errorf("StdDev[2] = %v, want 1", got[2])
	}
}

func TestRSIRisingSeriesIsHundred(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	p := newSeries(t, closes)
	got := RSI(p, 3)

	for i := 0; i < 6; i++ {
		if !math.IsNaN(got[i]) {
			t.Errorf("RSI[%d] = %v, want NaN warm-up (2w=6)", i, got[i])
		}
	}
	for i := 6; i < len(got); i++ {
		if !almostEqual(got[i], 100) {
			t.Errorf("RSI[%d] = %v, want 100 on strictly rising series", i, got[i])
		}
	}
}

func TestOBVKnownValues(t *testing.T) {
	p := newSeries(t, []float64{10, 11, 10, 10})
	got := OBV(p, 0)
	want := []float64{0, 1001, 1001 - 1002, 1001 - 1002}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("OBV[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAllFamiliesRespectWarmup(t *testing.T) {
	p := waveSeries(t, 120)
	r := NewRegistry()

	const window = 5
	for _, name := range r.List() {
		fam, err := r.Resolve(name)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", name, err)
		}
		spec, _ := r.Get(fam)

		w := window
		if spec.Windowless {
			w = 0
		}
		series := spec.Compute(p, w)
		warmup := spec.Warmup(w)

		if len(series) != p.Len() {
			t.Errorf("%s: len = %d, want %d", name, len(series), p.Len())
			continue
		}
		for i := 0; i < warmup; i++ {
			if !math.IsNaN(series[i]) {
				t.Errorf("%s: value %v at warm-up index %d, want NaN", name, series[i], i)
				break
			}
		}
		defined := 0
		for i := warmup; i < len(series); i++ {
			if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
				defined++
			}
		}
		if defined == 0 {
			t.Errorf("%s: no defined values past warm-up %d", name, warmup)
		}
	}
}

func TestCacheIdempotence(t *testing.T) {
	p := waveSeries(t, 120)
	r := NewRegistry()
	log := testLogger()

	c1 := NewCache(r, log)
	c2 := NewCache(r, log)

	a, wa, err := c1.Get(p, domain.FamilyRSI, 14)
	if err != nil {
		t.Fatal(err)
	}
	b, wb, err := c1.Get(p, domain.FamilyRSI, 14)
	if err != nil {
		t.Fatal(err)
	}
	if &a[0] != &b[0] {
		t.Error("repeated Get should return the same cached array")
	}
	if wa != wb {
		t.Errorf("warm-up mismatch on repeated Get: %d vs %d", wa, wb)
	}

	c, _, err := c2.Get(p, domain.FamilyRSI, 14)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if math.IsNaN(a[i]) && math.IsNaN(c[i]) {
			continue
		}
		if a[i] != c[i] {
			t.Fatalf("cache divergence at %d: %v vs %v", i, a[i], c[i])
		}
	}

	if c1.Len() != 1 {
		t.Errorf("cache should hold 1 entry, got %d", c1.Len())
	}
}

func TestRegistryResolveAliases(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		in   string
		want domain.Family
	}{
		{"RSI", domain.FamilyRSI},
		{"rsi", domain.FamilyRSI},
		{"Current Price", domain.FamilyPrice},
		{"close", domain.FamilyPrice},
		{"Williams %R", domain.FamilyWillR},
		{"MACD Hist", domain.FamilyMACDH},
		{"bollinger", domain.FamilyBBands},
	}
	for _, tt := range tests {
		got, err := r.Resolve(tt.in)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := r.Resolve("VWAP"); err == nil {
		t.Error("Resolve of unknown family should fail")
	}
}

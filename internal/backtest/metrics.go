package backtest

import (
	"math"
	"sort"
	"time"

	"atlasforge/internal/domain"
)

const (
	daysPerYear    = 365.25
	tradingDays    = 252.0
	rollingYears   = 3.0
	rollingDaySpan = rollingYears * daysPerYear
)

// Metrics computes the twelve-metric tuple for one partition of one
// backtest. Like Kernel it owns reusable scratch buffers and must not be
// shared across goroutines.
type Metrics struct {
	equity     []float64 // compacted equity curve, equity[0] = 1
	drawdown   []float64 // pointwise drawdown, negative percent
	sorted     []float64 // scratch for percentile sort
	longPrefix []int     // prefix count of long bars
	dates      []time.Time
	position   []bool
}

// NewMetrics creates a Metrics kernel with buffers for series of up to n
// bars. Buffers grow automatically.
func NewMetrics(n int) *Metrics {
	return &Metrics{
		equity:     make([]float64, 0, n+1),
		drawdown:   make([]float64, 0, n),
		sorted:     make([]float64, 0, n),
		longPrefix: make([]int, 0, n+1),
		dates:      make([]time.Time, 0, n),
		position:   make([]bool, 0, n),
	}
}

// Compute evaluates the metric tuple over the bars selected by mask, in
// temporal order. Bars before warmStart are excluded regardless of the mask,
// so warm-up neither contributes trades nor biases TIM. CAGR uses the
// calendar-day span of the selected bars, not their count.
func (m *Metrics) Compute(position []bool, stratRet []float64, dates []time.Time, mask []bool, warmStart int) domain.MetricTuple {
	var t domain.MetricTuple

	// Compact the masked bars, building the equity curve and drawdown
	// series in the same pass.
	m.equity = append(m.equity[:0], 1.0)
	m.drawdown = m.drawdown[:0]
	m.longPrefix = append(m.longPrefix[:0], 0)
	m.dates = m.dates[:0]
	m.position = m.position[:0]

	long := 0
	runMax := 1.0
	maxDD := 0.0
	sum, sumSq := 0.0, 0.0
	for i := warmStart; i < len(mask); i++ {
		if !mask[i] {
			continue
		}
		r := stratRet[i]
		e := m.equity[len(m.equity)-1] * (1 + r)
		m.equity = append(m.equity, e)
		if e > runMax {
			runMax = e
		}
		dd := (e/runMax - 1) * 100
		m.drawdown = append(m.drawdown, dd)
		if dd < maxDD {
			maxDD = dd
		}

		if position[i] {
			long++
		}
		m.longPrefix = append(m.longPrefix, long)
		m.dates = append(m.dates, dates[i])
		m.position = append(m.position, position[i])

		sum += r
		sumSq += r * r
	}

	n := len(m.drawdown)
	if n == 0 {
		return t
	}

	t.TIM = 100 * float64(long) / float64(n)
	t.MaxDD = maxDD

	eFinal := m.equity[n]
	days := m.dates[n-1].Sub(m.dates[0]).Hours() / 24
	t.CAGR = cagr(eFinal, days)
	if t.TIM > 0 {
		t.TIMAR = 100 * t.CAGR / t.TIM
	}
	if t.MaxDD < 0 {
		t.TIMARDD = t.TIMAR / math.Abs(t.MaxDD)
	}

	t.Trades, t.AvgHold = m.countTrades()

	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance > 0 {
		t.Sharpe = math.Sqrt(tradingDays) * mean / math.Sqrt(variance)
	}

	m.sorted = append(m.sorted[:0], m.drawdown...)
	sort.Float64s(m.sorted)
	t.DD3 = percentile(m.sorted, 3)
	t.DD50 = percentile(m.sorted, 50)
	t.DD95 = percentile(m.sorted, 95)

	t.TIMAR3 = m.worstWindowTIMAR()

	return t
}

// cagr converts a final equity and a calendar-day span into an annualized
// growth rate in percent.
func cagr(eFinal, days float64) float64 {
	years := days / daysPerYear
	if years <= 0 || eFinal <= 0 {
		return 0
	}
	return (math.Pow(eFinal, 1/years) - 1) * 100
}

// countTrades walks the compacted position sequence: an entry is a
// false-to-true transition, hold is the number of selected bars spent long.
func (m *Metrics) countTrades() (int, float64) {
	trades := 0
	holdSum := 0
	hold := 0
	prev := false
	for _, p := range m.position {
		if p {
			if !prev {
				trades++
			}
			hold++
		} else if prev {
			holdSum += hold
			hold = 0
		}
		prev = p
	}
	holdSum += hold

	if trades == 0 {
		return 0, 0
	}
	return trades, float64(holdSum) / float64(trades)
}

// percentile returns the p-th percentile of sorted (ascending) values with
// linear interpolation between order statistics.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// worstWindowTIMAR finds the rolling window spanning three calendar years
// with the lowest equity ratio and returns the TIMAR computed on it. Returns
// 0 when the selected span is under three years.
func (m *Metrics) worstWindowTIMAR() float64 {
	n := len(m.dates)
	if n < 2 {
		return 0
	}
	if m.dates[n-1].Sub(m.dates[0]).Hours()/24 < rollingDaySpan {
		return 0
	}

	worstRatio := math.Inf(1)
	worstA, worstB := -1, -1
	b := 0
	for a := 0; a < n; a++ {
		if b < a {
			b = a
		}
		for b < n && m.dates[b].Sub(m.dates[a]).Hours()/24 < rollingDaySpan {
			b++
		}
		if b == n {
			break
		}
		ratio := m.equity[b+1] / m.equity[a]
		if ratio < worstRatio {
			worstRatio = ratio
			worstA, worstB = a, b
		}
	}
	if worstA < 0 {
		return 0
	}

	days := m.dates[worstB].Sub(m.dates[worstA]).Hours() / 24
	windowCAGR := cagr(worstRatio, days)
	bars := worstB - worstA + 1
	longBars := m.longPrefix[worstB+1] - m.longPrefix[worstA]
	tim := 100 * float64(longBars) / float64(bars)
	if tim <= 0 {
		return 0
	}
	return 100 * windowCAGR / tim
}

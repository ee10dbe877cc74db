// Package backtest runs the vectorized long/flat backtest kernel and the
// single-pass metrics kernel over daily price series.
package backtest

import (
	"atlasforge/internal/domain"
)

// Trade is one completed long position: [Entry, Exit) in bar indices.
// An open position at the end of the series is closed with Exit equal to the
// series length, so it covers the final bar.
type Trade struct {
	Entry    int
	Exit     int
	HoldDays int
	Return   float64
}

// Leg is one precomputed condition: an indicator array plus the comparison
// applied to it. Warm-up entries of Series are NaN and never satisfy either
// comparator.
type Leg struct {
	Series     []float64
	Comparator domain.Comparator
	Threshold  float64
}

func (l Leg) signalAt(i int) bool {
	v := l.Series[i]
	if l.Comparator == domain.ComparatorGT {
		return v > l.Threshold // false for NaN
	}
	return v < l.Threshold // false for NaN
}

// Kernel computes signals, positions, strategy returns, and the trade log
// for one branch at a time. It owns reusable scratch buffers so that running
// millions of branches allocates nothing per bar; a Kernel is therefore not
// safe for concurrent use. Each worker owns one.
type Kernel struct {
	position []bool
	stratRet []float64
	trades   []Trade
}

// NewKernel creates a Kernel with buffers sized for series of up to n bars.
// Buffers grow automatically if a longer series arrives.
func NewKernel(n int) *Kernel {
	return &Kernel{
		position: make([]bool, n),
		stratRet: make([]float64, n),
		trades:   make([]Trade, 0, 64),
	}
}

// Result is a view over the kernel's scratch buffers. It is valid only until
// the next Run call on the same Kernel.
type Result struct {
	Position []bool
	StratRet []float64
	Trades   []Trade
}

const executionLag = 1

// Run evaluates one branch: the primary leg, an optional L2 leg ANDed in,
// one-day execution lag, per-entry cost in basis points. returns must be the
// daily close-to-close returns aligned with the leg series.
func (k *Kernel) Run(primary Leg, l2 *Leg, returns []float64, costBps float64) Result {
	n := len(returns)
	k.grow(n)

	position := k.position[:n]
	stratRet := k.stratRet[:n]
	trades := k.trades[:0]
	cost := costBps / 10000.0

	// position[i] = rawSignal[i-lag]; position[0..lag-1] = false.
	for i := 0; i < executionLag && i < n; i++ {
		position[i] = false
		stratRet[i] = 0
	}

	entry := -1
	tradeEquity := 1.0
	for i := executionLag; i < n; i++ {
		raw := primary.signalAt(i - executionLag)
		if raw && l2 != nil {
			raw = l2.signalAt(i - executionLag)
		}
		position[i] = raw

		r := 0.0
		if raw {
			r = returns[i]
			if !position[i-1] {
				r -= cost
			}
		}
		stratRet[i] = r

		switch {
		case raw && entry < 0:
			entry = i
			tradeEquity = 1 + r
		case raw:
			tradeEquity *= 1 + r
		case entry >= 0:
			trades = append(trades, Trade{
				Entry:    entry,
				Exit:     i,
				HoldDays: i - entry,
				Return:   tradeEquity - 1,
			})
			entry = -1
		}
	}
	if entry >= 0 {
		trades = append(trades, Trade{
			Entry:    entry,
			Exit:     n,
			HoldDays: n - entry,
			Return:   tradeEquity - 1,
		})
	}

	k.trades = trades
	return Result{Position: position, StratRet: stratRet, Trades: trades}
}

func (k *Kernel) grow(n int) {
	if cap(k.position) < n {
		k.position = make([]bool, n)
		k.stratRet = make([]float64, n)
	}
	k.position = k.position[:cap(k.position)]
	k.stratRet = k.stratRet[:cap(k.stratRet)]
}

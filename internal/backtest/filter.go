package backtest

import (
	"math"

	"atlasforge/internal/domain"
)

// Passes applies the in-sample quality bars to a metric tuple. Out-of-sample
// metrics are never part of the predicate; they are retained on the result
// row for later analysis.
func Passes(is domain.MetricTuple, f domain.FilterThresholds) bool {
	if is.TIM < f.MinTIM {
		return false
	}
	if is.TIMAR < f.MinTIMAR {
		return false
	}
	if math.Abs(is.MaxDD) > f.MaxDD {
		return false
	}
	if is.Trades < f.MinTrades {
		return false
	}
	return is.TIMARDD >= f.MinTIMARDD
}

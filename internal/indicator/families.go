// Package indicator computes technical indicator series over daily price
// data and memoizes them per (ticker, family, window).
//
// Every kernel returns a slice aligned with the input series. Bars inside an
// indicator's warm-up prefix are set to NaN; any threshold comparison against
// NaN is false, which is exactly the non-participating contract the backtest
// kernel relies on.
package indicator

import (
	"math"

	"atlasforge/internal/domain"
)

// Sentinel marks warm-up and otherwise undefined indicator values.
var Sentinel = math.NaN()

// markWarmup overwrites the first n entries of out with the sentinel.
func markWarmup(out []float64, n int) {
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = Sentinel
	}
}

// CurrentPrice is the close itself. Windowless, no warm-up.
func CurrentPrice(p *domain.PriceSeries, _ int) []float64 {
	out := make([]float64, p.Len())
	copy(out, p.Close)
	return out
}

// SMA is the rolling arithmetic mean of close over w bars.
func SMA(p *domain.PriceSeries, w int) []float64 {
	return smaOf(p.Close, w)
}

func smaOf(values []float64, w int) []float64 {
	n := len(values)
	out := make([]float64, n)
	markWarmup(out, w-1)

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += values[i]
		if i >= w {
			sum -= values[i-w]
		}
		if i >= w-1 {
			out[i] = sum / float64(w)
		}
	}
	return out
}

// EMA is the exponential moving average with alpha = 2/(w+1), seeded from
// the SMA of the first w closes.
func EMA(p *domain.PriceSeries, w int) []float64 {
	return emaOf(p.Close, w)
}

func emaOf(values []float64, w int) []float64 {
	n := len(values)
	out := make([]float64, n)
	markWarmup(out, n)
	if n < w {
		return out
	}

	alpha := 2.0 / (float64(w) + 1.0)
	seed := 0.0
	for i := 0; i < w; i++ {
		seed += values[i]
	}
	prev := seed / float64(w)
	out[w-1] = prev
	for i := w; i < n; i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RSI is Wilder's relative strength index: smoothed average gain over
// smoothed average loss, mapped to 0..100. Warm-up is 2w bars.
func RSI(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	out := make([]float64, n)
	markWarmup(out, n)
	if n < w+1 {
		return out
	}

	close := p.Close
	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= w; i++ {
		change := close[i] - close[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(w)
	avgLoss /= float64(w)

	warm := 2 * w
	set := func(i int) {
		if i < warm {
			return
		}
		if avgLoss == 0 {
			out[i] = 100
			return
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	set(w)

	for i := w + 1; i < n; i++ {
		change := close[i] - close[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(w-1) + gain) / float64(w)
		avgLoss = (avgLoss*float64(w-1) + loss) / float64(w)
		set(i)
	}
	return out
}

// ROC is the w-bar rate of change: close[i]/close[i-w] - 1.
func ROC(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	out := make([]float64, n)
	markWarmup(out, w)
	for i := w; i < n; i++ {
		out[i] = p.Close[i]/p.Close[i-w] - 1
	}
	return out
}

// StdDev is the sample standard deviation of close over w bars.
func StdDev(p *domain.PriceSeries, w int) []float64 {
	return stddevOf(p.Close, w)
}

func stddevOf(values []float64, w int) []float64 {
	n := len(values)
	out := make([]float64, n)
	markWarmup(out, w-1)
	if w < 2 {
		for i := range out {
			out[i] = 0
		}
		return out
	}

	sum, sumSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		sum += values[i]
		sumSq += values[i] * values[i]
		if i >= w {
			sum -= values[i-w]
			sumSq -= values[i-w] * values[i-w]
		}
		if i >= w-1 {
			variance := (sumSq - sum*sum/float64(w)) / float64(w-1)
			if variance < 0 {
				variance = 0 // rounding in the running sums
			}
			out[i] = math.Sqrt(variance)
		}
	}
	return out
}

// BBandsPctB is Bollinger %B with k=2: (close-lower)/(upper-lower) where the
// bands are SMA(w) +/- 2*stddev(w). A zero-width band yields the sentinel.
func BBandsPctB(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	sma := smaOf(p.Close, w)
	sd := stddevOf(p.Close, w)

	out := make([]float64, n)
	markWarmup(out, w-1)
	for i := w - 1; i < n; i++ {
		width := 4 * sd[i] // upper-lower = 2k*stddev with k=2
		if width == 0 || math.IsNaN(width) {
			out[i] = Sentinel
			continue
		}
		lower := sma[i] - 2*sd[i]
		out[i] = (p.Close[i] - lower) / width
	}
	return out
}

// trueRange returns the Wilder true range series. tr[0] is high-low.
func trueRange(p *domain.PriceSeries) []float64 {
	n := p.Len()
	tr := make([]float64, n)
	if n == 0 {
		return tr
	}
	tr[0] = p.High[0] - p.Low[0]
	for i := 1; i < n; i++ {
		hl := p.High[i] - p.Low[i]
		hc := math.Abs(p.High[i] - p.Close[i-1])
		lc := math.Abs(p.Low[i] - p.Close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// ATR is the Wilder-smoothed true range over w bars.
func ATR(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	out := make([]float64, n)
	markWarmup(out, n)
	if n < w+1 {
		return out
	}

	tr := trueRange(p)
	sum := 0.0
	for i := 1; i <= w; i++ {
		sum += tr[i]
	}
	prev := sum / float64(w)
	out[w] = prev
	for i := w + 1; i < n; i++ {
		prev = (prev*float64(w-1) + tr[i]) / float64(w)
		out[i] = prev
	}
	return out
}

// rollingExtremes fills hh and ll with the highest high and lowest low over
// the trailing w bars using monotonic deques. Entries before w-1 are NaN.
func rollingExtremes(high, low []float64, w int, hh, ll []float64) {
	n := len(high)
	maxDeque := make([]int, 0, w)
	minDeque := make([]int, 0, w)
	for i := 0; i < n; i++ {
		if len(maxDeque) > 0 && maxDeque[0] <= i-w {
			maxDeque = maxDeque[1:]
		}
		for len(maxDeque) > 0 && high[maxDeque[len(maxDeque)-1]] <= high[i] {
			maxDeque = maxDeque[:len(maxDeque)-1]
		}
		maxDeque = append(maxDeque, i)

		if len(minDeque) > 0 && minDeque[0] <= i-w {
			minDeque = minDeque[1:]
		}
		for len(minDeque) > 0 && low[minDeque[len(minDeque)-1]] >= low[i] {
			minDeque = minDeque[:len(minDeque)-1]
		}
		minDeque = append(minDeque, i)

		if i >= w-1 {
			hh[i] = high[maxDeque[0]]
			ll[i] = low[minDeque[0]]
		} else {
			hh[i] = Sentinel
			ll[i] = Sentinel
		}
	}
}

// WilliamsR is -100 * (HH - close) / (HH - LL) over w bars.
func WilliamsR(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	hh := make([]float64, n)
	ll := make([]float64, n)
	rollingExtremes(p.High, p.Low, w, hh, ll)

	out := make([]float64, n)
	markWarmup(out, w-1)
	for i := w - 1; i < n; i++ {
		span := hh[i] - ll[i]
		if span == 0 {
			out[i] = Sentinel
			continue
		}
		out[i] = -100 * (hh[i] - p.Close[i]) / span
	}
	return out
}

// StochK is the fast stochastic %K: 100 * (close - LL) / (HH - LL).
func StochK(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	hh := make([]float64, n)
	ll := make([]float64, n)
	rollingExtremes(p.High, p.Low, w, hh, ll)

	out := make([]float64, n)
	markWarmup(out, w-1)
	for i := w - 1; i < n; i++ {
		span := hh[i] - ll[i]
		if span == 0 {
			out[i] = Sentinel
			continue
		}
		out[i] = 100 * (p.Close[i] - ll[i]) / span
	}
	return out
}

// StochD is the 3-bar SMA of %K(w).
func StochD(p *domain.PriceSeries, w int) []float64 {
	k := StochK(p, w)
	n := len(k)
	out := make([]float64, n)
	markWarmup(out, w+1)
	for i := w + 1; i < n; i++ {
		out[i] = (k[i] + k[i-1] + k[i-2]) / 3
	}
	return out
}

// CCI is the commodity channel index over the typical price:
// (tp - SMA(tp)) / (0.015 * mean deviation).
func CCI(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	tp := make([]float64, n)
	for i := 0; i < n; i++ {
		tp[i] = (p.High[i] + p.Low[i] + p.Close[i]) / 3
	}
	sma := smaOf(tp, w)

	out := make([]float64, n)
	markWarmup(out, w-1)
	for i := w - 1; i < n; i++ {
		dev := 0.0
		for j := i - w + 1; j <= i; j++ {
			dev += math.Abs(tp[j] - sma[i])
		}
		dev /= float64(w)
		if dev == 0 {
			out[i] = Sentinel
			continue
		}
		out[i] = (tp[i] - sma[i]) / (0.015 * dev)
	}
	return out
}

// ADX is Wilder's average directional index over w bars: the Wilder-smoothed
// DX, where DX = 100 * |+DI - -DI| / (+DI + -DI). Warm-up is 2w bars.
func ADX(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	out := make([]float64, n)
	markWarmup(out, n)
	if n < 2*w+1 {
		return out
	}

	tr := trueRange(p)
	smTR, smPlus, smMinus := 0.0, 0.0, 0.0
	for i := 1; i <= w; i++ {
		up := p.High[i] - p.High[i-1]
		down := p.Low[i-1] - p.Low[i]
		if up > down && up > 0 {
			smPlus += up
		}
		if down > up && down > 0 {
			smMinus += down
		}
		smTR += tr[i]
	}

	dx := func() float64 {
		if smTR == 0 {
			return 0
		}
		plusDI := 100 * smPlus / smTR
		minusDI := 100 * smMinus / smTR
		sum := plusDI + minusDI
		if sum == 0 {
			return 0
		}
		return 100 * math.Abs(plusDI-minusDI) / sum
	}

	adx := dx()
	count := 1
	for i := w + 1; i < n; i++ {
		up := p.High[i] - p.High[i-1]
		down := p.Low[i-1] - p.Low[i]
		plusDM, minusDM := 0.0, 0.0
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}
		smTR = smTR - smTR/float64(w) + tr[i]
		smPlus = smPlus - smPlus/float64(w) + plusDM
		smMinus = smMinus - smMinus/float64(w) + minusDM

		d := dx()
		if count < w {
			adx += d
			count++
			if count == w {
				adx /= float64(w)
				if i >= 2*w {
					out[i] = adx
				}
			}
			continue
		}
		adx = (adx*float64(w-1) + d) / float64(w)
		if i >= 2*w {
			out[i] = adx
		}
	}
	return out
}

// MACD histogram parameters. Windowless: the classic 12/26/9 configuration.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// MACDHist is the MACD histogram: (EMA12 - EMA26) - EMA9(EMA12 - EMA26).
func MACDHist(p *domain.PriceSeries, _ int) []float64 {
	n := p.Len()
	out := make([]float64, n)
	markWarmup(out, n)
	if n < macdSlow+macdSignal-1 {
		return out
	}

	fast := emaOf(p.Close, macdFast)
	slow := emaOf(p.Close, macdSlow)

	// MACD line is defined from the slow warm-up onward; its signal EMA is
	// seeded from the first macdSignal defined values.
	macd := make([]float64, 0, n-macdSlow+1)
	for i := macdSlow - 1; i < n; i++ {
		macd = append(macd, fast[i]-slow[i])
	}
	signal := emaOf(macd, macdSignal)

	base := macdSlow - 1
	for j := macdSignal - 1; j < len(macd); j++ {
		out[base+j] = macd[j] - signal[j]
	}
	return out
}

// Aroon is the Aroon oscillator: aroonUp - aroonDown over w bars, in
// -100..100.
func Aroon(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	out := make([]float64, n)
	markWarmup(out, w)
	for i := w; i < n; i++ {
		hiIdx, loIdx := i, i
		for j := i - w; j <= i; j++ {
			if p.High[j] >= p.High[hiIdx] {
				hiIdx = j
			}
			if p.Low[j] <= p.Low[loIdx] {
				loIdx = j
			}
		}
		up := 100 * float64(w-(i-hiIdx)) / float64(w)
		down := 100 * float64(w-(i-loIdx)) / float64(w)
		out[i] = up - down
	}
	return out
}

// MFI is the money flow index over w bars: 100 - 100/(1 + posFlow/negFlow)
// on typical-price money flow.
func MFI(p *domain.PriceSeries, w int) []float64 {
	n := p.Len()
	out := make([]float64, n)
	markWarmup(out, n)
	if n < w+1 {
		return out
	}

	tp := make([]float64, n)
	for i := 0; i < n; i++ {
		tp[i] = (p.High[i] + p.Low[i] + p.Close[i]) / 3
	}

	pos := make([]float64, n)
	neg := make([]float64, n)
	for i := 1; i < n; i++ {
		flow := tp[i] * p.Volume[i]
		if tp[i] > tp[i-1] {
			pos[i] = flow
		} else if tp[i] < tp[i-1] {
			neg[i] = flow
		}
	}

	posSum, negSum := 0.0, 0.0
	for i := 1; i < n; i++ {
		posSum += pos[i]
		negSum += neg[i]
		if i > w {
			posSum -= pos[i-w]
			negSum -= neg[i-w]
		}
		if i >= w {
			if negSum == 0 {
				out[i] = 100
				continue
			}
			out[i] = 100 - 100/(1+posSum/negSum)
		}
	}
	return out
}

// OBV is on-balance volume: cumulative volume signed by the close-to-close
// direction. Windowless, no warm-up.
func OBV(p *domain.PriceSeries, _ int) []float64 {
	n := p.Len()
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	out[0] = 0
	for i := 1; i < n; i++ {
		switch {
		case p.Close[i] > p.Close[i-1]:
			out[i] = out[i-1] + p.Volume[i]
		case p.Close[i] < p.Close[i-1]:
			out[i] = out[i-1] - p.Volume[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

package indicator

import (
	"fmt"
	"log/slog"
	"math"

	"atlasforge/internal/domain"
)

type cacheKey struct {
	ticker string
	family domain.Family
	window int
}

// Cache memoizes indicator arrays per (ticker, family, window). One Cache is
// owned by exactly one worker, so no locking is needed; arrays are computed
// lazily on first request and retained for the lifetime of the job.
type Cache struct {
	registry *Registry
	series   map[cacheKey][]float64
	warmups  map[cacheKey]int
	anomaly  map[string]struct{} // "family/ticker" pairs already logged
	log      *slog.Logger
}

// NewCache creates an empty Cache resolving families through the given
// registry.
func NewCache(registry *Registry, log *slog.Logger) *Cache {
	return &Cache{
		registry: registry,
		series:   make(map[cacheKey][]float64),
		warmups:  make(map[cacheKey]int),
		anomaly:  make(map[string]struct{}),
		log:      log,
	}
}

// Get returns the indicator array and its warm-up index for the given price
// series, family, and window. The returned slice is shared: callers must
// treat it as read-only.
func (c *Cache) Get(p *domain.PriceSeries, family domain.Family, window int) ([]float64, int, error) {
	spec, ok := c.registry.Get(family)
	if !ok {
		return nil, 0, fmt.Errorf("unknown indicator family %q", family)
	}
	if spec.Windowless {
		window = 0
	}

	key := cacheKey{ticker: p.Ticker, family: family, window: window}
	if s, ok := c.series[key]; ok {
		return s, c.warmups[key], nil
	}

	series := spec.Compute(p, window)
	warmup := spec.Warmup(window)
	c.scrub(series, warmup, family, p.Ticker)

	c.series[key] = series
	c.warmups[key] = warmup
	return series, warmup, nil
}

// Len returns the number of cached (ticker, family, window) entries.
func (c *Cache) Len() int { return len(c.series) }

// scrub replaces NaN/Inf values past the warm-up with the sentinel so they
// cannot participate in signals, logging at most once per family per ticker.
func (c *Cache) scrub(series []float64, warmup int, family domain.Family, ticker string) {
	logged := false
	for i := warmup; i < len(series); i++ {
		v := series[i]
		if math.IsInf(v, 0) || math.IsNaN(v) {
			if math.IsInf(v, 0) {
				series[i] = Sentinel
			}
			if !logged {
				pair := string(family) + "/" + ticker
				if _, seen := c.anomaly[pair]; !seen {
					c.anomaly[pair] = struct{}{}
					c.log.Warn("numeric anomaly in indicator, bars treated as warm-up",
						"family", family, "ticker", ticker, "bar", i)
				}
				logged = true
			}
		}
	}
}

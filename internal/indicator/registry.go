package indicator

import (
	"fmt"
	"sort"
	"strings"

	"atlasforge/internal/domain"
)

// ComputeFunc computes one indicator series for a price series and window.
// Windowless families ignore the window argument.
type ComputeFunc func(p *domain.PriceSeries, window int) []float64

// Spec describes one indicator family: how to compute it and how many
// leading bars its warm-up consumes for a given window.
type Spec struct {
	Family     domain.Family
	Windowless bool
	Compute    ComputeFunc
	// Warmup returns the index of the first defined bar for the window.
	Warmup func(window int) int
}

// Registry maps family names (and friendly aliases) to indicator specs.
type Registry struct {
	specs   map[domain.Family]Spec
	aliases map[string]domain.Family
}

// NewRegistry creates a Registry populated with every built-in family.
func NewRegistry() *Registry {
	r := &Registry{
		specs:   make(map[domain.Family]Spec),
		aliases: make(map[string]domain.Family),
	}

	fixed := func(n int) func(int) int { return func(int) int { return n } }

	r.register(Spec{domain.FamilyPrice, true, CurrentPrice, fixed(0)}, "current price", "price", "close")
	r.register(Spec{domain.FamilySMA, false, SMA, func(w int) int { return w - 1 }}, "sma")
	r.register(Spec{domain.FamilyEMA, false, EMA, func(w int) int { return w - 1 }}, "ema")
	r.register(Spec{domain.FamilyRSI, false, RSI, func(w int) int { return 2 * w }}, "rsi")
	r.register(Spec{domain.FamilyROC, false, ROC, func(w int) int { return w }}, "roc", "rate of change")
	r.register(Spec{domain.FamilyStdDev, false, StdDev, func(w int) int { return w - 1 }}, "stddev", "std dev")
	r.register(Spec{domain.FamilyBBands, false, BBandsPctB, func(w int) int { return w - 1 }}, "bbands", "%b", "bollinger")
	r.register(Spec{domain.FamilyATR, false, ATR, func(w int) int { return w }}, "atr")
	r.register(Spec{domain.FamilyWillR, false, WilliamsR, func(w int) int { return w - 1 }}, "willr", "williams %r")
	r.register(Spec{domain.FamilyCCI, false, CCI, func(w int) int { return w - 1 }}, "cci")
	r.register(Spec{domain.FamilyStochK, false, StochK, func(w int) int { return w - 1 }}, "stochk", "stoch %k")
	r.register(Spec{domain.FamilyStochD, false, StochD, func(w int) int { return w + 1 }}, "stochd", "stoch %d")
	r.register(Spec{domain.FamilyADX, false, ADX, func(w int) int { return 2 * w }}, "adx")
	r.register(Spec{domain.FamilyMACDH, true, MACDHist, fixed(macdSlow + macdSignal - 2)}, "macdh", "macd hist")
	r.register(Spec{domain.FamilyAroon, false, Aroon, func(w int) int { return w }}, "aroon")
	r.register(Spec{domain.FamilyMFI, false, MFI, func(w int) int { return w }}, "mfi")
	r.register(Spec{domain.FamilyOBV, true, OBV, fixed(0)}, "obv", "on-balance volume")

	return r
}

func (r *Registry) register(s Spec, aliases ...string) {
	r.specs[s.Family] = s
	r.aliases[strings.ToLower(string(s.Family))] = s.Family
	for _, a := range aliases {
		r.aliases[a] = s.Family
	}
}

// Resolve maps a user-facing indicator name to its family. The lookup is
// case-insensitive and accepts the aliases seen in job payloads.
func (r *Registry) Resolve(name string) (domain.Family, error) {
	fam, ok := r.aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown indicator %q", name)
	}
	return fam, nil
}

// Get returns the spec for a family. The second return value indicates
// whether the family is registered.
func (r *Registry) Get(family domain.Family) (Spec, bool) {
	s, ok := r.specs[family]
	return s, ok
}

// List returns a sorted slice of all registered family names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.specs))
	for f := range r.specs {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return names
}

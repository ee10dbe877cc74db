// Package forge implements the branch-generation engine: search-space
// enumeration, ticker-sharded scheduling, result aggregation, and the job
// lifecycle.
package forge

import (
	"fmt"
	"iter"
	"math"

	"atlasforge/internal/domain"
	"atlasforge/internal/indicator"
)

// sweep is one resolved condition sweep: the family plus the window,
// comparator, and threshold axes of the Cartesian product.
type sweep struct {
	family      domain.Family
	windowless  bool
	windows     []int
	comparators []domain.Comparator
	thrMin      float64
	thrStep     float64
	thrCount    int
	maxWarmup   int
}

func (s *sweep) size() int64 {
	return int64(len(s.windows)) * int64(len(s.comparators)) * int64(s.thrCount)
}

func (s *sweep) threshold(i int) float64 {
	return s.thrMin + float64(i)*s.thrStep
}

// Enumerator produces the lazy Cartesian product of a validated job config.
// Iteration order is ticker outermost, then window ascending, then
// comparator (LT before GT), then threshold ascending; the optional L2 axes
// nest innermost in the same order. Enumeration is restartable: every call
// to Branches walks the product from the start.
type Enumerator struct {
	cfg     domain.JobConfig
	primary sweep
	l2      *sweep
}

// NewEnumerator resolves the config's indicator names against the registry
// and precomputes the axis sizes. The config must already be validated.
func NewEnumerator(cfg domain.JobConfig, registry *indicator.Registry) (*Enumerator, error) {
	primary, err := resolveSweep(registry, cfg.Indicator, cfg.PeriodMin, cfg.PeriodMax,
		cfg.Comparator, cfg.ThresholdMin, cfg.ThresholdMax, cfg.ThresholdStep)
	if err != nil {
		return nil, err
	}

	e := &Enumerator{cfg: cfg, primary: primary}
	if l2 := cfg.L2; l2 != nil {
		second, err := resolveSweep(registry, l2.Indicator, l2.PeriodMin, l2.PeriodMax,
			l2.Comparator, l2.ThresholdMin, l2.ThresholdMax, l2.ThresholdStep)
		if err != nil {
			return nil, fmt.Errorf("l2: %w", err)
		}
		e.l2 = &second
	}
	return e, nil
}

func resolveSweep(registry *indicator.Registry, name string, perMin, perMax int,
	cmpMode string, thrMin, thrMax, thrStep float64) (sweep, error) {

	family, err := registry.Resolve(name)
	if err != nil {
		return sweep{}, err
	}
	spec, _ := registry.Get(family)

	s := sweep{
		family:     family,
		windowless: spec.Windowless,
		thrMin:     thrMin,
		thrStep:    thrStep,
	}

	if spec.Windowless {
		s.windows = []int{0}
	} else {
		if perMin < 1 {
			return sweep{}, fmt.Errorf("%s requires periodMin >= 1, got %d", family, perMin)
		}
		for w := perMin; w <= perMax; w++ {
			s.windows = append(s.windows, w)
		}
	}
	for _, w := range s.windows {
		if wu := spec.Warmup(w); wu > s.maxWarmup {
			s.maxWarmup = wu
		}
	}

	switch domain.ComparatorMode(cmpMode) {
	case domain.ModeLT:
		s.comparators = []domain.Comparator{domain.ComparatorLT}
	case domain.ModeGT:
		s.comparators = []domain.Comparator{domain.ComparatorGT}
	case domain.ModeBoth:
		s.comparators = []domain.Comparator{domain.ComparatorLT, domain.ComparatorGT}
	}

	// floor((max-min)/step)+1 thresholds; the epsilon absorbs float error
	// when the range is an exact multiple of the step.
	s.thrCount = int(math.Floor((thrMax-thrMin)/thrStep+1e-9)) + 1

	return s, nil
}

// Total returns the closed-form branch count for the full ticker list.
func (e *Enumerator) Total() int64 {
	per := e.PerTicker()
	return int64(len(e.cfg.Tickers)) * per
}

// PerTicker returns the number of branches each ticker contributes.
func (e *Enumerator) PerTicker() int64 {
	per := e.primary.size()
	if e.l2 != nil {
		per *= e.l2.size()
	}
	return per
}

// MaxWarmup returns the largest warm-up any branch of the job needs; the
// scheduler treats a ticker with fewer than MaxWarmup()+2 bars as degenerate
// for the whole job.
func (e *Enumerator) MaxWarmup() int {
	wu := e.primary.maxWarmup
	if e.l2 != nil && e.l2.maxWarmup > wu {
		wu = e.l2.maxWarmup
	}
	return wu
}

// Branches returns a restartable sequence over the branches of the given
// tickers (a shard of the job's ticker list).
func (e *Enumerator) Branches(tickers []string) iter.Seq[domain.Branch] {
	return func(yield func(domain.Branch) bool) {
		for _, ticker := range tickers {
			for _, w := range e.primary.windows {
				for _, cmp := range e.primary.comparators {
					for t := 0; t < e.primary.thrCount; t++ {
						b := domain.Branch{
							Ticker:     ticker,
							Family:     e.primary.family,
							Window:     w,
							Comparator: cmp,
							Threshold:  e.primary.threshold(t),
						}
						if e.l2 == nil {
							if !yield(b) {
								return
							}
							continue
						}
						if !e.yieldL2(b, yield) {
							return
						}
					}
				}
			}
		}
	}
}

func (e *Enumerator) yieldL2(b domain.Branch, yield func(domain.Branch) bool) bool {
	for _, w := range e.l2.windows {
		for _, cmp := range e.l2.comparators {
			for t := 0; t < e.l2.thrCount; t++ {
				b.L2 = &domain.Leg{
					Family:     e.l2.family,
					Window:     w,
					Comparator: cmp,
					Threshold:  e.l2.threshold(t),
				}
				if !yield(b) {
					return false
				}
			}
		}
	}
	return true
}

// Package domain defines the core data types of the forge engine: price
// series, indicator families, search branches, metric tuples, and jobs.
package domain

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Price data
// ---------------------------------------------------------------------------

// Bar is a single daily OHLCV bar for one ticker.
type Bar struct {
	Ticker   string
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	AdjClose float64
}

// PriceSeries holds the dense, date-aligned columns for one ticker. All
// slices share the same length and the same index space; Returns is derived
// from Close once at load time (Returns[0] == 0). A PriceSeries is immutable
// after construction and may be shared across goroutines.
type PriceSeries struct {
	Ticker   string
	Dates    []time.Time
	Open     []float64
	High     []float64
	Low      []float64
	Close    []float64
	Volume   []float64
	AdjClose []float64
	Returns  []float64
}

// Len returns the number of bars in the series.
func (p *PriceSeries) Len() int { return len(p.Dates) }

// ---------------------------------------------------------------------------
// Search space
// ---------------------------------------------------------------------------

// Family identifies an indicator family.
type Family string

const (
	FamilyPrice  Family = "PRICE" // current close, windowless
	FamilySMA    Family = "SMA"
	FamilyEMA    Family = "EMA"
	FamilyRSI    Family = "RSI"
	FamilyROC    Family = "ROC"
	FamilyStdDev Family = "STDDEV"
	FamilyBBands Family = "BBANDS" // %B of Bollinger bands
	FamilyATR    Family = "ATR"
	FamilyWillR  Family = "WILLR"
	FamilyCCI    Family = "CCI"
	FamilyStochK Family = "STOCHK"
	FamilyStochD Family = "STOCHD"
	FamilyADX    Family = "ADX"
	FamilyMACDH  Family = "MACDH" // MACD histogram, windowless
	FamilyAroon  Family = "AROON" // Aroon oscillator
	FamilyMFI    Family = "MFI"
	FamilyOBV    Family = "OBV" // on-balance volume, windowless
)

// Comparator is the direction of a threshold comparison.
type Comparator string

const (
	ComparatorLT Comparator = "LT"
	ComparatorGT Comparator = "GT"
)

// Leg is one (indicator, window, comparator, threshold) condition.
type Leg struct {
	Family     Family     `json:"indicator"`
	Window     int        `json:"period"`
	Comparator Comparator `json:"comparator"`
	Threshold  float64    `json:"threshold"`
}

// Branch is one point in the search Cartesian product: a primary condition
// on a signal ticker, plus an optional second condition that is ANDed in.
type Branch struct {
	Ticker     string     `json:"signalTicker"`
	Family     Family     `json:"indicator"`
	Window     int        `json:"period"`
	Comparator Comparator `json:"comparator"`
	Threshold  float64    `json:"threshold"`
	L2         *Leg       `json:"l2,omitempty"`
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// MetricTuple holds the twelve performance metrics for one partition of one
// backtest. TIM, CAGR, MaxDD and the drawdown percentiles are percentages;
// MaxDD and the percentiles are non-positive.
type MetricTuple struct {
	TIM     float64 `json:"tim"`
	CAGR    float64 `json:"cagr"`
	TIMAR   float64 `json:"timar"`
	MaxDD   float64 `json:"maxDD"`
	TIMARDD float64 `json:"timarDD"`
	Trades  int     `json:"trades"`
	AvgHold float64 `json:"avgHold"`
	Sharpe  float64 `json:"sharpe"`
	DD3     float64 `json:"dd3"`
	DD50    float64 `json:"dd50"`
	DD95    float64 `json:"dd95"`
	TIMAR3  float64 `json:"timar3"`
}

// BranchResult is a passing branch plus its in-sample and out-of-sample
// metrics. Results are append-only; they are never mutated after emission.
type BranchResult struct {
	JobID        string      `json:"jobId"`
	SignalTicker string      `json:"signalTicker"`
	InvestTicker string      `json:"investTicker"`
	Branch       Branch      `json:"branch"`
	IS           MetricTuple `json:"is"`
	OOS          MetricTuple `json:"oos"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// SplitPolicy selects how bars are partitioned into IS and OOS.
type SplitPolicy string

const (
	SplitEvenOddMonth  SplitPolicy = "even_odd_month"
	SplitEvenOddYear   SplitPolicy = "even_odd_year"
	SplitChronological SplitPolicy = "chronological"
)

// ComparatorMode is the comparator selection in a job config.
type ComparatorMode string

const (
	ModeLT   ComparatorMode = "LT"
	ModeGT   ComparatorMode = "GT"
	ModeBoth ComparatorMode = "BOTH"
)

// FilterThresholds are the in-sample quality bars a branch must clear.
type FilterThresholds struct {
	MinTIM     float64 `json:"minTIM" yaml:"min_tim"`
	MinTIMAR   float64 `json:"minTIMAR" yaml:"min_timar"`
	MaxDD      float64 `json:"maxDD" yaml:"max_dd"`
	MinTrades  int     `json:"minTrades" yaml:"min_trades"`
	MinTIMARDD float64 `json:"minTIMARDD" yaml:"min_timardd"`
}

// L2Config is the optional second-condition sweep of a job.
type L2Config struct {
	Indicator     string  `json:"indicator" yaml:"indicator"`
	PeriodMin     int     `json:"periodMin" yaml:"period_min"`
	PeriodMax     int     `json:"periodMax" yaml:"period_max"`
	Comparator    string  `json:"comparator" yaml:"comparator"`
	ThresholdMin  float64 `json:"thresholdMin" yaml:"threshold_min"`
	ThresholdMax  float64 `json:"thresholdMax" yaml:"threshold_max"`
	ThresholdStep float64 `json:"thresholdStep" yaml:"threshold_step"`
}

// JobConfig is the typed configuration of one forge job. External JSON/YAML
// payloads are decoded into this record and validated at the boundary;
// unknown fields are rejected there.
type JobConfig struct {
	Indicator     string           `json:"indicator" yaml:"indicator"`
	PeriodMin     int              `json:"periodMin" yaml:"period_min"`
	PeriodMax     int              `json:"periodMax" yaml:"period_max"`
	Tickers       []string         `json:"tickers" yaml:"tickers"`
	Comparator    string           `json:"comparator" yaml:"comparator"`
	ThresholdMin  float64          `json:"thresholdMin" yaml:"threshold_min"`
	ThresholdMax  float64          `json:"thresholdMax" yaml:"threshold_max"`
	ThresholdStep float64          `json:"thresholdStep" yaml:"threshold_step"`
	Filters       FilterThresholds `json:"filters" yaml:"filters"`
	SplitStrategy string           `json:"splitStrategy" yaml:"split_strategy"`
	OOSStartDate  string           `json:"oosStartDate,omitempty" yaml:"oos_start_date"`
	NumWorkers    int              `json:"numWorkers" yaml:"num_workers"`
	CostBps       float64          `json:"costBps,omitempty" yaml:"cost_bps"`
	L2            *L2Config        `json:"l2,omitempty" yaml:"l2"`
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

// Job is the mutable record of one forge run. Only the job controller and
// the aggregator write to it.
type Job struct {
	ID                string    `json:"id"`
	Config            JobConfig `json:"config"`
	Status            JobStatus `json:"status"`
	TotalBranches     int64     `json:"totalBranches"`
	CompletedBranches int64     `json:"completedBranches"`
	PassingBranches   int64     `json:"passingBranches"`
	ErroredBranches   int64     `json:"erroredBranches"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	StartedAt         time.Time `json:"startedAt,omitempty"`
	FinishedAt        time.Time `json:"finishedAt,omitempty"`
}

// ProgressEvent is a monotonic snapshot of a running job, published at the
// worker reporting cadence.
type ProgressEvent struct {
	JobID             string    `json:"jobId"`
	CompletedBranches int64     `json:"completedBranches"`
	TotalBranches     int64     `json:"totalBranches"`
	PassingBranches   int64     `json:"passingBranches"`
	Status            JobStatus `json:"status"`
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks a JobConfig against the accepted ranges. It returns a
// descriptive error for the first violation found; a config that validates
// is guaranteed to enumerate a positive, finite branch count.
func (c *JobConfig) Validate() error {
	if c.Indicator == "" {
		return fmt.Errorf("indicator is required")
	}
	if len(c.Tickers) == 0 {
		return fmt.Errorf("tickers must be non-empty")
	}
	for _, t := range c.Tickers {
		if t == "" {
			return fmt.Errorf("tickers must not contain empty symbols")
		}
	}
	if c.PeriodMin < 0 || c.PeriodMax < 0 {
		return fmt.Errorf("periodMin/periodMax must be positive")
	}
	if c.PeriodMin > c.PeriodMax {
		return fmt.Errorf("periodMin %d exceeds periodMax %d", c.PeriodMin, c.PeriodMax)
	}
	switch ComparatorMode(c.Comparator) {
	case ModeLT, ModeGT, ModeBoth:
	default:
		return fmt.Errorf("comparator %q must be LT, GT, or BOTH", c.Comparator)
	}
	if c.ThresholdMin > c.ThresholdMax {
		return fmt.Errorf("thresholdMin %g exceeds thresholdMax %g", c.ThresholdMin, c.ThresholdMax)
	}
	if c.ThresholdStep <= 0 {
		return fmt.Errorf("thresholdStep must be > 0, got %g", c.ThresholdStep)
	}
	switch SplitPolicy(c.SplitStrategy) {
	case SplitEvenOddMonth, SplitEvenOddYear:
	case SplitChronological:
		if _, err := time.Parse("2006-01-02", c.OOSStartDate); err != nil {
			return fmt.Errorf("chronological split requires a valid oosStartDate: %w", err)
		}
	default:
		return fmt.Errorf("splitStrategy %q must be even_odd_month, even_odd_year, or chronological", c.SplitStrategy)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("numWorkers must be positive, got %d", c.NumWorkers)
	}
	if c.CostBps < 0 {
		return fmt.Errorf("costBps must be non-negative, got %g", c.CostBps)
	}
	if l2 := c.L2; l2 != nil {
		if l2.Indicator == "" {
			return fmt.Errorf("l2.indicator is required when l2 is present")
		}
		if l2.PeriodMin > l2.PeriodMax {
			return fmt.Errorf("l2.periodMin %d exceeds l2.periodMax %d", l2.PeriodMin, l2.PeriodMax)
		}
		switch ComparatorMode(l2.Comparator) {
		case ModeLT, ModeGT, ModeBoth:
		default:
			return fmt.Errorf("l2.comparator %q must be LT, GT, or BOTH", l2.Comparator)
		}
		if l2.ThresholdMin > l2.ThresholdMax {
			return fmt.Errorf("l2.thresholdMin %g exceeds l2.thresholdMax %g", l2.ThresholdMin, l2.ThresholdMax)
		}
		if l2.ThresholdStep <= 0 {
			return fmt.Errorf("l2.thresholdStep must be > 0, got %g", l2.ThresholdStep)
		}
	}
	return nil
}

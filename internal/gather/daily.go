package gather

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"atlasforge/internal/domain"
	"atlasforge/internal/store"
	"atlasforge/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*DailyBarGatherer)(nil)

// DailyBarGatherer downloads daily OHLCV bars for a ticker list via the
// Alpaca market-data API and writes one Parquet price file per ticker. It is
// resumable: completed tickers are tracked in a .fetched file and skipped on
// the next run.
type DailyBarGatherer struct {
	client     *marketdata.Client
	priceDir   string
	tickers    []string
	batchSize  int // symbols per API call
	maxWorkers int // concurrent goroutines
	startDate  string
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer writing into priceDir.
func NewDailyBarGatherer(apiKey, apiSecret, dataURL, priceDir string, tickers []string,
	batchSize, maxWorkers, ratePerMin int, startDate string) *DailyBarGatherer {

	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &DailyBarGatherer{
		client:     marketdata.NewClient(opts),
		priceDir:   priceDir,
		tickers:    tickers,
		batchSize:  max(batchSize, 1),
		maxWorkers: max(maxWorkers, 1),
		startDate:  startDate,
		limiter:    rate.NewLimiter(rate.Limit(float64(max(ratePerMin, 1))/60), 1),
		log:        slog.Default().With("gatherer", "daily-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily-bars" }

// Run fetches daily bars for every ticker not yet downloaded and writes
// them to the price directory. It is idempotent across restarts.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)

	tracker, err := newProgressTracker(g.priceDir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	var remaining []string
	for _, t := range g.tickers {
		if !tracker.IsFetched(t) {
			remaining = append(remaining, t)
		}
	}

	totalBatches := (len(remaining) + g.batchSize - 1) / g.batchSize
	g.log.Info("starting daily fetch",
		"tickers", len(g.tickers),
		"remaining", len(remaining),
		"batches", totalBatches,
		"start", g.startDate,
	)
	if len(remaining) == 0 {
		return nil
	}

	var batches [][]string
	for i := 0; i < len(remaining); i += g.batchSize {
		batches = append(batches, remaining[i:min(i+g.batchSize, len(remaining))])
	}

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalRows atomic.Int64
		errMu     sync.Mutex
		fetchErr  error
	)

	workers := min(g.maxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				if err := g.limiter.Wait(ctx); err != nil {
					return
				}

				batch := batches[batchIdx]
				rows, err := g.fetchBatch(ctx, batch, start, end, tracker)
				if err != nil {
					g.log.Error("batch fetch failed",
						"batch", fmt.Sprintf("%d/%d", batchIdx+1, totalBatches),
						"err", err,
					)
					errMu.Lock()
					fetchErr = err
					errMu.Unlock()
					continue
				}
				totalRows.Add(rows)
			}
		}()
	}
	wg.Wait()

	g.log.Info("daily fetch finished", "rows", totalRows.Load())
	if fetchErr != nil {
		return fmt.Errorf("some batches failed, rerun to resume: %w", fetchErr)
	}
	return ctx.Err()
}

// fetchBatch downloads one symbol batch and writes each ticker's file.
// Tickers that come back empty are marked fetched so they are not retried.
func (g *DailyBarGatherer) fetchBatch(ctx context.Context, symbols []string, start, end time.Time, tracker *progressTracker) (int64, error) {
	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, 3, 2*time.Second, func() error {
		var err error
		multiBars, err = g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Start:      start,
			End:        end,
			Adjustment: marketdata.Split,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("GetMultiBars: %w", err)
	}

	var rows int64
	for _, symbol := range symbols {
		alpacaBars := multiBars[symbol]
		if len(alpacaBars) == 0 {
			if err := tracker.MarkFetched(symbol); err != nil {
				return rows, err
			}
			continue
		}

		bars := make([]domain.Bar, 0, len(alpacaBars))
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Ticker:   strings.ToUpper(symbol),
				Date:     ab.Timestamp.UTC(),
				Open:     ab.Open,
				High:     ab.High,
				Low:      ab.Low,
				Close:    ab.Close,
				Volume:   int64(ab.Volume),
				AdjClose: ab.Close,
			})
		}

		if err := store.WritePriceFile(g.priceDir, symbol, bars); err != nil {
			return rows, fmt.Errorf("writing %s: %w", symbol, err)
		}
		if err := tracker.MarkFetched(symbol); err != nil {
			return rows, err
		}
		rows += int64(len(bars))
	}
	return rows, nil
}

// ReadTickersFile reads one ticker symbol per line, ignoring blanks and
// lines starting with '#'. Symbols are upper-cased and de-duplicated in
// order.
func ReadTickersFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tickers []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		sym := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if sym == "" || strings.HasPrefix(sym, "#") {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		tickers = append(tickers, sym)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers found in %s", path)
	}
	return tickers, nil
}

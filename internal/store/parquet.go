package store

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"atlasforge/internal/domain"
)

// Compile-time interface check.
var _ PriceStore = (*ParquetPriceStore)(nil)

// DefaultPriceCacheSize bounds how many ticker series are held in memory.
const DefaultPriceCacheSize = 128

// PriceRecord is the Parquet schema of one daily bar in a price file.
// Files are named <TICKER>.parquet, one per ticker, rows ascending by date.
type PriceRecord struct {
	Date     int64   `parquet:"Date,timestamp(millisecond)"` // Unix ms
	Open     float64 `parquet:"Open"`
	High     float64 `parquet:"High"`
	Low      float64 `parquet:"Low"`
	Close    float64 `parquet:"Close"`
	Volume   int64   `parquet:"Volume"`
	AdjClose float64 `parquet:"AdjClose,optional"`
}

// ParquetPriceStore implements PriceStore over a directory of per-ticker
// Parquet files, with an LRU cache of decoded series. Loaded series are
// immutable and shared across callers.
type ParquetPriceStore struct {
	DataDir string

	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element // ticker -> lru element
	lru      *list.List               // front = most recently used
}

type cacheEntry struct {
	ticker string
	series *domain.PriceSeries
}

// NewParquetPriceStore creates a store rooted at dataDir. A cacheSize of 0
// uses DefaultPriceCacheSize.
func NewParquetPriceStore(dataDir string, cacheSize int) *ParquetPriceStore {
	if cacheSize <= 0 {
		cacheSize = DefaultPriceCacheSize
	}
	return &ParquetPriceStore{
		DataDir:  dataDir,
		capacity: cacheSize,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Path returns the filesystem path of a ticker's price file.
func (s *ParquetPriceStore) Path(ticker string) string {
	return filepath.Join(s.DataDir, strings.ToUpper(ticker)+".parquet")
}

// Load reads a ticker's price file, derives the returns column, and caches
// the resulting series. Subsequent loads return the same snapshot.
func (s *ParquetPriceStore) Load(_ context.Context, ticker string) (*domain.PriceSeries, error) {
	ticker = strings.ToUpper(ticker)

	s.mu.Lock()
	if el, ok := s.entries[ticker]; ok {
		s.lru.MoveToFront(el)
		series := el.Value.(*cacheEntry).series
		s.mu.Unlock()
		return series, nil
	}
	s.mu.Unlock()

	series, err := s.read(ticker)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent loader may have won the race; keep its snapshot.
	if el, ok := s.entries[ticker]; ok {
		s.lru.MoveToFront(el)
		return el.Value.(*cacheEntry).series, nil
	}
	s.entries[ticker] = s.lru.PushFront(&cacheEntry{ticker: ticker, series: series})
	for s.lru.Len() > s.capacity {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.entries, oldest.Value.(*cacheEntry).ticker)
	}
	return series, nil
}

func (s *ParquetPriceStore) read(ticker string) (*domain.PriceSeries, error) {
	path := s.Path(ticker)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingData, ticker)
	}

	records, err := parquet.ReadFile[PriceRecord](path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMissingData, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissingData, ticker)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })

	n := len(records)
	series := &domain.PriceSeries{
		Ticker:   ticker,
		Dates:    make([]time.Time, 0, n),
		Open:     make([]float64, 0, n),
		High:     make([]float64, 0, n),
		Low:      make([]float64, 0, n),
		Close:    make([]float64, 0, n),
		Volume:   make([]float64, 0, n),
		AdjClose: make([]float64, 0, n),
	}

	var prev int64 = -1
	for _, r := range records {
		if r.Date == prev {
			continue // duplicate date rows: keep the first
		}
		prev = r.Date
		adj := r.AdjClose
		if adj == 0 {
			adj = r.Close
		}
		series.Dates = append(series.Dates, time.UnixMilli(r.Date).UTC())
		series.Open = append(series.Open, r.Open)
		series.High = append(series.High, r.High)
		series.Low = append(series.Low, r.Low)
		series.Close = append(series.Close, r.Close)
		series.Volume = append(series.Volume, float64(r.Volume))
		series.AdjClose = append(series.AdjClose, adj)
	}

	series.Returns = make([]float64, len(series.Close))
	for i := 1; i < len(series.Close); i++ {
		series.Returns[i] = series.Close[i]/series.Close[i-1] - 1
	}
	return series, nil
}

// ListTickers lists every ticker that has a price file in the data
// directory.
func (s *ParquetPriceStore) ListTickers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		tickers = append(tickers, strings.TrimSuffix(name, ".parquet"))
	}
	sort.Strings(tickers)
	return tickers, nil
}

// WritePriceFile writes a ticker's bars to its price file, replacing any
// existing file. Bars are sorted by date before writing.
func WritePriceFile(dataDir string, ticker string, bars []domain.Bar) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	records := make([]PriceRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, PriceRecord{
			Date:     b.Date.UnixMilli(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
			AdjClose: b.AdjClose,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })

	path := filepath.Join(dataDir, strings.ToUpper(ticker)+".parquet")
	return parquet.WriteFile(path, records)
}

package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// progressTracker manages the .fetched file so an interrupted download can
// resume without re-fetching completed tickers.
type progressTracker struct {
	mu      sync.Mutex
	fetched map[string]struct{}
	writer  *bufio.Writer
	file    *os.File
}

// newProgressTracker creates a tracker rooted at the price directory and
// loads any existing .fetched entries.
func newProgressTracker(priceDir string) (*progressTracker, error) {
	if err := os.MkdirAll(priceDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating price dir: %w", err)
	}

	pt := &progressTracker{fetched: make(map[string]struct{})}

	path := filepath.Join(priceDir, ".fetched")
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			sym := strings.TrimSpace(line)
			if sym != "" {
				pt.fetched[sym] = struct{}{}
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening .fetched: %w", err)
	}
	pt.file = f
	pt.writer = bufio.NewWriter(f)

	return pt, nil
}

// IsFetched returns true if the ticker was already downloaded.
func (p *progressTracker) IsFetched(ticker string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.fetched[ticker]
	return ok
}

// MarkFetched records tickers as downloaded and flushes to disk.
func (p *progressTracker) MarkFetched(tickers ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range tickers {
		if _, ok := p.fetched[t]; ok {
			continue
		}
		p.fetched[t] = struct{}{}
		if _, err := p.writer.WriteString(t + "\n"); err != nil {
			return err
		}
	}
	return p.writer.Flush()
}

// Reset truncates the .fetched file and clears the in-memory set.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = make(map[string]struct{})
	if err := p.file.Truncate(0); err != nil {
		return err
	}
	_, err := p.file.Seek(0, 0)
	return err
}

// Close flushes and closes the backing file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writer.Flush(); err != nil {
		return err
	}
	return p.file.Close()
}

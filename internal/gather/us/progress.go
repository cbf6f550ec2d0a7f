package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const progressFile = ".fetched"

// progressTracker remembers, per symbol, the last session date whose bars
// have been fetched, so later runs only request newer bars. State lives in
// an append-only <dailyDir>/.fetched file of "SYMBOL YYYY-MM-DD" lines; the
// last line for a symbol wins.
type progressTracker struct {
	mu       sync.Mutex
	fetched  map[string]time.Time
	writer   *bufio.Writer
	file     *os.File
	dailyDir string
}

// newProgressTracker creates a tracker rooted at the given daily directory
// and loads any existing entries.
func newProgressTracker(dailyDir string) (*progressTracker, error) {
	if err := os.MkdirAll(dailyDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating daily dir: %w", err)
	}

	pt := &progressTracker{
		fetched:  make(map[string]time.Time),
		dailyDir: dailyDir,
	}

	path := filepath.Join(dailyDir, progressFile)
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			sym, date, ok := strings.Cut(strings.TrimSpace(line), " ")
			if !ok {
				continue
			}
			d, err := time.Parse(time.DateOnly, date)
			if err != nil {
				continue
			}
			pt.fetched[sym] = d
		}
	}

	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(filepath.Join(p.dailyDir, progressFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", progressFile, err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// LastFetched returns the last fetched session date for symbol.
func (p *progressTracker) LastFetched(symbol string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.fetched[symbol]
	return d, ok
}

// MarkFetched records that bars up to and including date are stored for
// every symbol in symbols.
func (p *progressTracker) MarkFetched(symbols []string, date time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ds := date.Format(time.DateOnly)
	for _, sym := range symbols {
		if prev, ok := p.fetched[sym]; ok && !date.After(prev) {
			continue
		}
		p.fetched[sym] = date
		if _, err := p.writer.WriteString(sym + " " + ds + "\n"); err != nil {
			return fmt.Errorf("writing to %s: %w", progressFile, err)
		}
	}
	return p.writer.Flush()
}

// Reset forgets all progress so the next run refetches from the start date.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.fetched = make(map[string]time.Time)

	path := filepath.Join(p.dailyDir, progressFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return p.open()
}

// Close flushes and closes the progress file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

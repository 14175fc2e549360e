// Package universe supplies the permitted ticker set for a rebalance date.
package universe

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

const dateLayout = "2006-01-02"

// FileProvider reads constituents from a CSV file with a header row. The
// ticker column is named "ticker" or "symbol". Optional "start_date" and
// "end_date" columns (YYYY-MM-DD) bound membership so that historical
// replays see the index as it was on the date.
type FileProvider struct {
	path   string
	logger ports.Logger
}

var _ ports.UniverseProvider = (*FileProvider)(nil)

// NewFileProvider creates a provider for the given constituents file.
func NewFileProvider(path string, logger ports.Logger) (*FileProvider, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for universe provider: %w", ports.ErrConfigurationError)
	}
	if path == "" {
		return nil, fmt.Errorf("universe file is required: %w", ports.ErrConfigurationError)
	}
	return &FileProvider{path: path, logger: logger}, nil
}

// GetUniverse reads the file and returns the members as of the date.
func (p *FileProvider) GetUniverse(ctx context.Context, asOf time.Time) (*domain.Universe, error) {
	f, err := os.Open(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("universe file %s: %w", p.path, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("open universe file %s: %w", p.path, err)
	}
	defer f.Close()

	tickers, err := ParseConstituents(f, asOf)
	if err != nil {
		return nil, fmt.Errorf("universe file %s: %w", p.path, err)
	}
	u := domain.NewUniverse(asOf, tickers)
	p.logger.Debug(ctx, "Universe loaded", map[string]interface{}{
		"file":    p.path,
		"asOf":    asOf.Format(dateLayout),
		"tickers": u.Len(),
	})
	return u, nil
}

// ParseConstituents reads a constituents CSV and returns the tickers that
// are members on asOf.
func ParseConstituents(r io.Reader, asOf time.Time) ([]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %v: %w", err, ports.ErrInvalidRequest)
	}
	tickerCol, startCol, endCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "ticker", "symbol":
			if tickerCol < 0 {
				tickerCol = i
			}
		case "start_date":
			startCol = i
		case "end_date":
			endCol = i
		}
	}
	if tickerCol < 0 {
		return nil, fmt.Errorf("no ticker or symbol column: %w", ports.ErrInvalidRequest)
	}

	day := asOf.Format(dateLayout)
	var tickers []string
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ports.ErrInvalidRequest)
		}
		if tickerCol >= len(rec) {
			continue
		}
		// Dates in YYYY-MM-DD compare correctly as strings.
		if startCol >= 0 && startCol < len(rec) {
			if s := strings.TrimSpace(rec[startCol]); s != "" && s > day {
				continue
			}
		}
		if endCol >= 0 && endCol < len(rec) {
			if e := strings.TrimSpace(rec[endCol]); e != "" && e < day {
				continue
			}
		}
		tickers = append(tickers, rec[tickerCol])
	}
	return tickers, nil
}

// Static is a fixed ticker list, used for backtests and dry runs.
type Static []string

// GetUniverse returns the list regardless of date.
func (s Static) GetUniverse(ctx context.Context, asOf time.Time) (*domain.Universe, error) {
	return domain.NewUniverse(asOf, s), nil
}

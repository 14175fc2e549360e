package ports

import (
	"context"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// UniverseProvider returns the permitted set of tickers for a date.
type UniverseProvider interface {
	GetUniverse(ctx context.Context, asOf time.Time) (*domain.Universe, error)
}

// UniverseCache stores universe ticker lists keyed by date.
type UniverseCache interface {
	Get(ctx context.Context, date string) ([]string, bool, error)
	Set(ctx context.Context, date string, tickers []string) error
}

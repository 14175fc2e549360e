package universe

import (
	"context"
	"fmt"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// CachedProvider consults a UniverseCache before the underlying provider.
// Cache failures are logged and never fail the lookup.
type CachedProvider struct {
	next   ports.UniverseProvider
	cache  ports.UniverseCache
	logger ports.Logger
}

var _ ports.UniverseProvider = (*CachedProvider)(nil)

// NewCachedProvider wraps next with cache.
func NewCachedProvider(next ports.UniverseProvider, cache ports.UniverseCache, logger ports.Logger) (*CachedProvider, error) {
	if next == nil || cache == nil || logger == nil {
		return nil, fmt.Errorf("provider, cache and logger are required: %w", ports.ErrConfigurationError)
	}
	return &CachedProvider{next: next, cache: cache, logger: logger}, nil
}

func (p *CachedProvider) GetUniverse(ctx context.Context, asOf time.Time) (*domain.Universe, error) {
	date := asOf.Format(dateLayout)
	fields := map[string]interface{}{"date": date}

	tickers, ok, err := p.cache.Get(ctx, date)
	switch {
	case err != nil:
		p.logger.Warn(ctx, "Universe cache read failed", map[string]interface{}{"date": date, "error": err.Error()})
	case ok:
		p.logger.Debug(ctx, "Universe cache hit", fields)
		return domain.NewUniverse(asOf, tickers), nil
	}

	u, err := p.next.GetUniverse(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, date, u.Tickers()); err != nil {
		p.logger.Warn(ctx, "Universe cache write failed", map[string]interface{}{"date": date, "error": err.Error()})
	}
	return u, nil
}

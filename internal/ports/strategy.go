package ports

import (
	"context"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// StrategyInput is everything a strategy may look at to produce recommendations.
// The universe and market data are shared read-only for the cycle.
type StrategyInput struct {
	AsOf     time.Time
	Universe *domain.Universe
	Ledger   domain.LedgerSnapshot
	Market   MarketData
}

// Strategy is the single capability every strategy implements: produce raw
// recommendation output given a universe snapshot and an as-of time.
type Strategy interface {
	ID() domain.StrategyID
	Kind() domain.StrategyKind
	Recommend(ctx context.Context, in StrategyInput) (domain.RawOutput, error)
}

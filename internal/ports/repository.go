package ports

import (
	"context"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// LedgerRepository persists one PortfolioLedger record per strategy together
// with its order, event, position and equity history.
type LedgerRepository interface {
	// Save replaces the persisted state of one ledger.
	Save(ctx context.Context, state domain.LedgerState) error
	// Load retrieves one ledger. Returns ErrNotFound if it was never saved.
	Load(ctx context.Context, id domain.StrategyID) (*domain.LedgerState, error)
	// LoadAll retrieves every persisted ledger ordered by strategy ID.
	LoadAll(ctx context.Context) ([]domain.LedgerState, error)
	// Close releases the underlying connection.
	Close() error
}

package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Book is the registry of all strategy ledgers.
type Book struct {
	mu      sync.RWMutex
	ledgers map[domain.StrategyID]*Ledger
}

// NewBook creates an empty registry.
func NewBook() *Book {
	return &Book{ledgers: make(map[domain.StrategyID]*Ledger)}
}

// Open creates funded ledgers for the given strategies, skipping any already present.
func (b *Book) Open(ids []domain.StrategyID, startingCapital, transactionCost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if _, ok := b.ledgers[id]; !ok {
			b.ledgers[id] = New(id, startingCapital, transactionCost)
		}
	}
}

// Put registers a ledger, replacing any existing ledger for the strategy.
func (b *Book) Put(l *Ledger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledgers[l.StrategyID()] = l
}

// Get returns the ledger of a strategy.
func (b *Book) Get(id domain.StrategyID) (*Ledger, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.ledgers[id]
	if !ok {
		return nil, fmt.Errorf("ledger %s: %w", id, ports.ErrUnknownStrategy)
	}
	if l.StrategyID() != id {
		return nil, fmt.Errorf("ledger registered as %s belongs to %s: %w", id, l.StrategyID(), ports.ErrLedgerIsolationViolation)
	}
	return l, nil
}

// IDs returns the registered strategies in display order.
func (b *Book) IDs() []domain.StrategyID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rank := make(map[domain.StrategyID]int, len(domain.AllStrategies))
	for i, id := range domain.AllStrategies {
		rank[id] = i
	}
	out := make([]domain.StrategyID, 0, len(b.ledgers))
	for id := range b.ledgers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// States returns the persisted form of every ledger.
func (b *Book) States() []domain.LedgerState {
	ids := b.IDs()
	out := make([]domain.LedgerState, 0, len(ids))
	for _, id := range ids {
		l, err := b.Get(id)
		if err != nil {
			continue
		}
		out = append(out, l.State())
	}
	return out
}

// Restore replaces the book's ledgers with the given states.
func (b *Book) Restore(states []domain.LedgerState, transactionCost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range states {
		b.ledgers[st.StrategyID] = FromState(st, transactionCost)
	}
}

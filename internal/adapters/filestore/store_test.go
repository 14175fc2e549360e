package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

func state(id domain.StrategyID, cash float64) domain.LedgerState {
	return domain.LedgerState{
		StrategyID:      id,
		StartingCapital: 100000,
		Cash:            cash,
		Positions: map[string]domain.Position{
			"ACME": {Ticker: "ACME", Side: domain.Buy, Quantity: 5, AvgPrice: 10},
		},
		History: []domain.EquitySnapshot{{Date: time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC), Cash: cash, Equity: cash + 50}},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Load(ctx, domain.StrategyMomentum)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, s.Save(ctx, state(domain.StrategyMomentum, 99950)))
	require.NoError(t, s.Save(ctx, state(domain.StrategyChatGPT, 90000)))
	require.NoError(t, s.Save(ctx, state(domain.StrategyMomentum, 95000)))

	got, err := s.Load(ctx, domain.StrategyMomentum)
	require.NoError(t, err)
	assert.Equal(t, 95000.0, got.Cash)
	assert.Equal(t, int64(5), got.Positions["ACME"].Quantity)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.StrategyChatGPT, all[0].StrategyID)

	assert.ErrorIs(t, s.Save(ctx, domain.LedgerState{}), ports.ErrInvalidRequest)
}

func TestStore_RejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), state(domain.StrategyGemini, 1)))
	require.NoError(t, os.Rename(
		filepath.Join(dir, "Gemini-Pro"+ledgerExt),
		filepath.Join(dir, "Claude-Sonnet"+ledgerExt),
	))

	_, err = s.Load(context.Background(), domain.StrategyClaude)
	assert.ErrorIs(t, err, ports.ErrLedgerIsolationViolation)
}

func TestBackup_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 7, 20, 0, 0, 0, time.UTC)

	path, err := WriteBackup(dir, []domain.LedgerState{state(domain.StrategyClaude, 1), state(domain.StrategyGemini, 2)}, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ledgers-20240607-200000.json"), path)

	b, err := ReadBackup(path)
	require.NoError(t, err)
	assert.True(t, now.Equal(b.CreatedAt))
	require.Len(t, b.Ledgers, 2)
	assert.Equal(t, 2.0, b.Ledgers[1].Cash)

	dup, err := WriteBackup(dir, []domain.LedgerState{state(domain.StrategyClaude, 1), state(domain.StrategyClaude, 2)}, now.Add(time.Second))
	require.NoError(t, err)
	_, err = ReadBackup(dup)
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0644))
	_, err = ReadBackup(filepath.Join(dir, "bad.json"))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

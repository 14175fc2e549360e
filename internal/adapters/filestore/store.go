// Package filestore keeps ledgers as JSON files, one per strategy, and writes
// point-in-time backups of every ledger.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

const ledgerExt = ".ledger.json"

// Backup is the on-disk format of a full backup.
type Backup struct {
	CreatedAt time.Time            `json:"created_at"`
	Ledgers   []domain.LedgerState `json:"ledgers"`
}

// Store implements ports.LedgerRepository on a directory.
type Store struct {
	dir    string
	logger ports.Logger
	mu     sync.Mutex
}

var _ ports.LedgerRepository = (*Store)(nil)

// New creates the directory if needed.
func New(dir string, logger ports.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory is required: %w", ports.ErrConfigurationError)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create file store directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(id domain.StrategyID) string {
	return filepath.Join(s.dir, string(id)+ledgerExt)
}

// Save writes one ledger atomically.
func (s *Store) Save(ctx context.Context, st domain.LedgerState) error {
	if st.StrategyID == "" {
		return fmt.Errorf("save ledger without strategy id: %w", ports.ErrInvalidRequest)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger %s: %w", st.StrategyID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFile(s.path(st.StrategyID), data); err != nil {
		return fmt.Errorf("write ledger %s: %v: %w", st.StrategyID, err, ports.ErrUpdateFailed)
	}
	if s.logger != nil {
		s.logger.Debug(ctx, "Ledger file written", map[string]interface{}{"strategy": st.StrategyID, "bytes": len(data)})
	}
	return nil
}

// Load reads one ledger. Returns ports.ErrNotFound if no file exists.
func (s *Store) Load(ctx context.Context, id domain.StrategyID) (*domain.LedgerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(s.path(id), id)
}

func (s *Store) read(path string, id domain.StrategyID) (*domain.LedgerState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ledger %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("read ledger %s: %v: %w", id, err, ports.ErrQueryFailed)
	}
	var st domain.LedgerState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %v: %w", id, err, ports.ErrQueryFailed)
	}
	if st.StrategyID != id {
		return nil, fmt.Errorf("file %s holds ledger %s: %w", path, st.StrategyID, ports.ErrLedgerIsolationViolation)
	}
	if st.Positions == nil {
		st.Positions = make(map[string]domain.Position)
	}
	return &st, nil
}

// LoadAll reads every ledger file ordered by strategy ID.
func (s *Store) LoadAll(ctx context.Context) ([]domain.LedgerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %v: %w", s.dir, err, ports.ErrQueryFailed)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ledgerExt) {
			ids = append(ids, strings.TrimSuffix(e.Name(), ledgerExt))
		}
	}
	sort.Strings(ids)
	out := make([]domain.LedgerState, 0, len(ids))
	for _, id := range ids {
		st, err := s.read(filepath.Join(s.dir, id+ledgerExt), domain.StrategyID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// WriteBackup writes every ledger into one timestamped file under dir and
// returns its path.
func WriteBackup(dir string, states []domain.LedgerState, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(Backup{CreatedAt: now.UTC(), Ledgers: states}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	path := filepath.Join(dir, "ledgers-"+now.UTC().Format("20060102-150405")+".json")
	if err := writeFile(path, data); err != nil {
		return "", fmt.Errorf("write backup %s: %w", path, err)
	}
	return path, nil
}

// ReadBackup reads a file written by WriteBackup. Duplicate strategy IDs are
// rejected.
func ReadBackup(path string) (*Backup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup %s: %w", path, err)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode backup %s: %v: %w", path, err, ports.ErrInvalidRequest)
	}
	seen := make(map[domain.StrategyID]bool, len(b.Ledgers))
	for i, st := range b.Ledgers {
		if st.StrategyID == "" {
			return nil, fmt.Errorf("backup %s: ledger %d has no strategy id: %w", path, i, ports.ErrInvalidRequest)
		}
		if seen[st.StrategyID] {
			return nil, fmt.Errorf("backup %s: ledger %s appears twice: %w", path, st.StrategyID, ports.ErrDuplicateEntry)
		}
		seen[st.StrategyID] = true
		if st.Positions == nil {
			b.Ledgers[i].Positions = make(map[string]domain.Position)
		}
	}
	return &b, nil
}

// writeFile writes data atomically using the temp-then-rename pattern.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

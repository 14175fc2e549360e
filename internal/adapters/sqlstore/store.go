// Package sqlstore persists portfolio ledgers in SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const defaultQueryTimeout = 10 * time.Second

// Config holds configuration for the ledger store.
type Config struct {
	Driver       string // sqlite3 (default) or postgres
	DSN          string // file path for sqlite3, connection string for postgres
	QueryTimeout time.Duration
	Logger       ports.Logger
}

// Store implements ports.LedgerRepository on top of sqlx.
type Store struct {
	db      *sqlx.DB
	logger  ports.Logger
	timeout time.Duration
}

// Ensure Store implements the interface.
var _ ports.LedgerRepository = (*Store)(nil)

// New opens the database, verifies the connection and creates the schema.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger store: %w", ports.ErrConfigurationError)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required: %w", ports.ErrConfigurationError)
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
		db, err = sqlx.Open(DriverSQLite, cfg.DSN+"?_journal_mode=WAL&_busy_timeout=5000")
		if err == nil {
			// SQLite handles concurrency best with a single writer connection.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sqlx.Open(DriverPostgres, cfg.DSN)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q: %w", driver, ports.ErrConfigurationError)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %v: %w", driver, err, ports.ErrDBConnection)
	}

	s := NewWithDB(db, cfg.Logger, cfg.QueryTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %v: %w", driver, err, ports.ErrDBConnection)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Info(ctx, "Ledger store initialized", map[string]interface{}{"driver": driver})
	return s, nil
}

// NewWithDB wraps an existing connection. The schema is not created.
func NewWithDB(db *sqlx.DB, logger ports.Logger, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Store{db: db, logger: logger, timeout: timeout}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.db.DriverName() == DriverPostgres {
		ts = "TIMESTAMPTZ"
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, strings.ReplaceAll(stmt, "{ts}", ts)); err != nil {
			return fmt.Errorf("failed to initialize schema: %v: %w", err, ports.ErrQueryFailed)
		}
	}
	s.logger.Debug(ctx, "Ledger schema initialized")
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledgers (
		strategy_id       TEXT PRIMARY KEY,
		starting_capital  DOUBLE PRECISION NOT NULL,
		cash              DOUBLE PRECISION NOT NULL,
		paused            BOOLEAN NOT NULL DEFAULT FALSE,
		successful_cycles INTEGER NOT NULL DEFAULT 0,
		updated_at        {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		strategy_id TEXT NOT NULL,
		ticker      TEXT NOT NULL,
		side        TEXT NOT NULL,
		quantity    BIGINT NOT NULL,
		avg_price   DOUBLE PRECISION NOT NULL,
		last_price  DOUBLE PRECISION NOT NULL,
		opened_at   {ts} NOT NULL,
		PRIMARY KEY (strategy_id, ticker)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                TEXT PRIMARY KEY,
		strategy_id       TEXT NOT NULL,
		ordinal           INTEGER NOT NULL,
		client_order_id   TEXT NOT NULL,
		broker_order_id   TEXT NOT NULL DEFAULT '',
		ticker            TEXT NOT NULL,
		side              TEXT NOT NULL,
		quantity          BIGINT NOT NULL,
		entry_price_hint  DOUBLE PRECISION NOT NULL,
		stop_loss_price   DOUBLE PRECISION NOT NULL,
		take_profit_price DOUBLE PRECISION NOT NULL,
		max_hold_until    {ts} NOT NULL,
		state             TEXT NOT NULL,
		fill_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
		exit_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
		commission        DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_seq          BIGINT NOT NULL DEFAULT 0,
		reason            TEXT NOT NULL DEFAULT '',
		attempt           INTEGER NOT NULL DEFAULT 1,
		created_at        {ts} NOT NULL,
		updated_at        {ts} NOT NULL,
		filled_at         {ts},
		closed_at         {ts}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders (strategy_id, ordinal)`,
	`CREATE TABLE IF NOT EXISTS order_events (
		strategy_id TEXT NOT NULL,
		ordinal     INTEGER NOT NULL,
		order_id    TEXT NOT NULL,
		from_state  TEXT NOT NULL,
		to_state    TEXT NOT NULL,
		price       DOUBLE PRECISION NOT NULL DEFAULT 0,
		seq         BIGINT NOT NULL DEFAULT 0,
		reason      TEXT NOT NULL DEFAULT '',
		at          {ts} NOT NULL,
		PRIMARY KEY (strategy_id, ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS equity_history (
		strategy_id TEXT NOT NULL,
		day         {ts} NOT NULL,
		cash        DOUBLE PRECISION NOT NULL,
		equity      DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (strategy_id, day)
	)`,
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %v: %w", err, ports.ErrDBConnection)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing ledger store connection.")
		return s.db.Close()
	}
	return nil
}

// Save replaces every persisted row of one ledger in a single transaction.
func (s *Store) Save(ctx context.Context, st domain.LedgerState) error {
	if st.StrategyID == "" {
		return fmt.Errorf("save ledger without strategy id: %w", ports.ErrInvalidRequest)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v: %w", err, ports.ErrDBConnection)
	}
	defer tx.Rollback()

	const upsert = `
	INSERT INTO ledgers (strategy_id, starting_capital, cash, paused, successful_cycles, updated_at)
	VALUES (:strategy_id, :starting_capital, :cash, :paused, :successful_cycles, :updated_at)
	ON CONFLICT (strategy_id) DO UPDATE SET
		starting_capital = excluded.starting_capital,
		cash = excluded.cash,
		paused = excluded.paused,
		successful_cycles = excluded.successful_cycles,
		updated_at = excluded.updated_at`
	if _, err := tx.NamedExecContext(ctx, upsert, toLedgerRow(st)); err != nil {
		return s.writeErr("upsert ledger", st.StrategyID, err)
	}

	for _, table := range []string{"positions", "orders", "order_events", "equity_history"} {
		q := tx.Rebind("DELETE FROM " + table + " WHERE strategy_id = ?")
		if _, err := tx.ExecContext(ctx, q, st.StrategyID); err != nil {
			return s.writeErr("clear "+table, st.StrategyID, err)
		}
	}

	positions := make([]positionRow, 0, len(st.Positions))
	for _, p := range st.Positions {
		positions = append(positions, toPositionRow(st.StrategyID, p))
	}
	if err := insertAll(ctx, tx, insertPosition, positions); err != nil {
		return s.writeErr("insert positions", st.StrategyID, err)
	}

	orders := make([]orderRow, len(st.Orders))
	for i, o := range st.Orders {
		if o.StrategyID != st.StrategyID {
			return fmt.Errorf("order %s belongs to %s, not %s: %w", o.ID, o.StrategyID, st.StrategyID, ports.ErrLedgerIsolationViolation)
		}
		orders[i] = toOrderRow(i, o)
	}
	if err := insertAll(ctx, tx, insertOrder, orders); err != nil {
		return s.writeErr("insert orders", st.StrategyID, err)
	}

	events := make([]eventRow, len(st.Events))
	for i, ev := range st.Events {
		events[i] = toEventRow(st.StrategyID, i, ev)
	}
	if err := insertAll(ctx, tx, insertEvent, events); err != nil {
		return s.writeErr("insert order events", st.StrategyID, err)
	}

	history := make([]equityRow, len(st.History))
	for i, h := range st.History {
		history[i] = equityRow{StrategyID: string(st.StrategyID), Day: h.Date.UTC(), Cash: h.Cash, Equity: h.Equity}
	}
	if err := insertAll(ctx, tx, insertEquity, history); err != nil {
		return s.writeErr("insert equity history", st.StrategyID, err)
	}

	if err := tx.Commit(); err != nil {
		return s.writeErr("commit", st.StrategyID, err)
	}
	s.logger.Debug(ctx, "Ledger saved", map[string]interface{}{
		"strategy": st.StrategyID,
		"orders":   len(st.Orders),
		"events":   len(st.Events),
	})
	return nil
}

const (
	insertPosition = `
	INSERT INTO positions (strategy_id, ticker, side, quantity, avg_price, last_price, opened_at)
	VALUES (:strategy_id, :ticker, :side, :quantity, :avg_price, :last_price, :opened_at)`

	insertOrder = `
	INSERT INTO orders (id, strategy_id, ordinal, client_order_id, broker_order_id, ticker, side, quantity,
		entry_price_hint, stop_loss_price, take_profit_price, max_hold_until, state, fill_price, exit_price,
		commission, last_seq, reason, attempt, created_at, updated_at, filled_at, closed_at)
	VALUES (:id, :strategy_id, :ordinal, :client_order_id, :broker_order_id, :ticker, :side, :quantity,
		:entry_price_hint, :stop_loss_price, :take_profit_price, :max_hold_until, :state, :fill_price, :exit_price,
		:commission, :last_seq, :reason, :attempt, :created_at, :updated_at, :filled_at, :closed_at)`

	insertEvent = `
	INSERT INTO order_events (strategy_id, ordinal, order_id, from_state, to_state, price, seq, reason, at)
	VALUES (:strategy_id, :ordinal, :order_id, :from_state, :to_state, :price, :seq, :reason, :at)`

	insertEquity = `
	INSERT INTO equity_history (strategy_id, day, cash, equity)
	VALUES (:strategy_id, :day, :cash, :equity)`
)

func insertAll[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Load retrieves one ledger. Returns ports.ErrNotFound if it was never saved.
func (s *Store) Load(ctx context.Context, id domain.StrategyID) (*domain.LedgerState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var lr ledgerRow
	q := s.db.Rebind(`SELECT strategy_id, starting_capital, cash, paused, successful_cycles, updated_at
	FROM ledgers WHERE strategy_id = ?`)
	if err := s.db.GetContext(ctx, &lr, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ledger %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query ledger %s: %v: %w", id, err, ports.ErrQueryFailed)
	}
	st := lr.toDomain()

	var positions []positionRow
	q = s.db.Rebind(`SELECT strategy_id, ticker, side, quantity, avg_price, last_price, opened_at
	FROM positions WHERE strategy_id = ? ORDER BY ticker`)
	if err := s.db.SelectContext(ctx, &positions, q, id); err != nil {
		return nil, fmt.Errorf("failed to query positions of %s: %v: %w", id, err, ports.ErrQueryFailed)
	}
	for _, p := range positions {
		st.Positions[p.Ticker] = p.toDomain()
	}

	var orders []orderRow
	q = s.db.Rebind(`SELECT id, strategy_id, ordinal, client_order_id, broker_order_id, ticker, side, quantity,
		entry_price_hint, stop_loss_price, take_profit_price, max_hold_until, state, fill_price, exit_price,
		commission, last_seq, reason, attempt, created_at, updated_at, filled_at, closed_at
	FROM orders WHERE strategy_id = ? ORDER BY ordinal`)
	if err := s.db.SelectContext(ctx, &orders, q, id); err != nil {
		return nil, fmt.Errorf("failed to query orders of %s: %v: %w", id, err, ports.ErrQueryFailed)
	}
	st.Orders = make([]domain.Order, len(orders))
	for i, o := range orders {
		st.Orders[i] = o.toDomain()
	}

	var events []eventRow
	q = s.db.Rebind(`SELECT strategy_id, ordinal, order_id, from_state, to_state, price, seq, reason, at
	FROM order_events WHERE strategy_id = ? ORDER BY ordinal`)
	if err := s.db.SelectContext(ctx, &events, q, id); err != nil {
		return nil, fmt.Errorf("failed to query order events of %s: %v: %w", id, err, ports.ErrQueryFailed)
	}
	st.Events = make([]domain.OrderEvent, len(events))
	for i, ev := range events {
		st.Events[i] = ev.toDomain()
	}

	var history []equityRow
	q = s.db.Rebind(`SELECT strategy_id, day, cash, equity FROM equity_history WHERE strategy_id = ? ORDER BY day`)
	if err := s.db.SelectContext(ctx, &history, q, id); err != nil {
		return nil, fmt.Errorf("failed to query equity history of %s: %v: %w", id, err, ports.ErrQueryFailed)
	}
	st.History = make([]domain.EquitySnapshot, len(history))
	for i, h := range history {
		st.History[i] = domain.EquitySnapshot{Date: h.Day.UTC(), Cash: h.Cash, Equity: h.Equity}
	}
	return &st, nil
}

// LoadAll retrieves every persisted ledger ordered by strategy ID.
func (s *Store) LoadAll(ctx context.Context) ([]domain.LedgerState, error) {
	var ids []string
	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.db.SelectContext(qctx, &ids, `SELECT strategy_id FROM ledgers ORDER BY strategy_id`)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %v: %w", err, ports.ErrQueryFailed)
	}

	out := make([]domain.LedgerState, 0, len(ids))
	for _, id := range ids {
		st, err := s.Load(ctx, domain.StrategyID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (s *Store) writeErr(op string, id domain.StrategyID, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s for %s: %v: %w", op, id, err, ports.ErrDuplicateEntry)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s for %s: %w", op, id, ports.ErrTimeout)
	}
	s.logger.Error(context.Background(), err, "Ledger write failed", map[string]interface{}{"op": op, "strategy": id})
	return fmt.Errorf("%s for %s: %v: %w", op, id, err, ports.ErrUpdateFailed)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

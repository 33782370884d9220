/*
Package sqlite provides a SQLite-backed implementation of payout.TxStore.

PURPOSE:
  Persists batches, scheduled payments and earning line items, and serves
  the external tables the engine reads (writers, wallets, wallet ledger,
  orders, tips, fines). In production the same SQL applies to PostgreSQL
  with minor dialect differences.

INTERFACES IMPLEMENTED:
  payout.WriterDirectory: active writers and wallet resolution
  payout.EarningsSource:  orders, tips, bonuses and fines per writer
  payout.BatchStore:      batches, payments, line items, status updates
  payout.TxStore:         all of the above inside one SQL transaction

KEY TABLES:
  payment_batches:     one row per (tenant, schedule type, scheduled date)
  scheduled_payments:  one row per writer per batch
  earning_line_items:  one row per unit of work inside a payment
  writers, wallets, wallet_entries, orders, tips, fines: consumed tables

INDEXES:
  - idx_unique_batch_key: rejects a second batch for the same key
  - idx_unique_line_item: (kind, source_id, payment_id), also serves the
    settled-exclusion lookup by (kind, source_id)
  - idx_unique_payment_writer: one payment per writer per batch

SETTLED EXCLUSION:
  Source queries carry a NOT EXISTS precondition against line items whose
  payment is paid or whose batch is completed. It runs inside the same
  statement as the selection, so there is no window between "check" and
  "read" for a concurrent completion to slip through.

CONCURRENCY:
  Uses sync.RWMutex for the shared *sql.DB. WithTx takes the write lock for
  the whole transaction; statements on the transaction are serialized by
  the view's own mutex because the generator reads from several goroutines.
  Transactions begin IMMEDIATE so a second process blocks at BEGIN.

USAGE:
  store, err := sqlite.New("./data/payout.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  gen := payout.NewGenerator(store, ids)

SEE ALSO:
  - payout/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// timeLayout is fixed width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements payout.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
	rw sync.RWMutex
}

var _ payout.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would open its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	store.conn = conn{q: db, mu: &store.rw}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	-- Consumed tables (owned by other services, mirrored here)
	CREATE TABLE IF NOT EXISTS writers (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		schedule_type TEXT NOT NULL,
		date_preference TEXT NOT NULL DEFAULT '',
		wallet_id TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_writers_tenant_schedule
		ON writers(tenant_id, schedule_type, active);

	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		writer_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallets_writer
		ON wallets(tenant_id, writer_id);

	-- Append-only wallet ledger
	CREATE TABLE IF NOT EXISTS wallet_entries (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallet_entries_wallet_type_date
		ON wallet_entries(wallet_id, entry_type, created_at);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		assigned_writer_id TEXT,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		completed_at TEXT,
		payout_amount TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_writer_completed
		ON orders(tenant_id, assigned_writer_id, status, completed_at);

	CREATE TABLE IF NOT EXISTS tips (
		id TEXT PRIMARY KEY,
		writer_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		settlement_status TEXT NOT NULL,
		settled_at TEXT,
		writer_share TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tips_writer_settled
		ON tips(tenant_id, writer_id, settlement_status, settled_at);

	CREATE TABLE IF NOT EXISTS fines (
		id TEXT PRIMARY KEY,
		writer_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		amount TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fines_writer_created
		ON fines(tenant_id, writer_id, created_at);

	-- Produced tables
	CREATE TABLE IF NOT EXISTS payment_batches (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		schedule_type TEXT NOT NULL,
		scheduled_date TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		completed_by TEXT,
		reference_code TEXT NOT NULL UNIQUE,
		operator TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one batch per (tenant, schedule type, scheduled date).
	-- A second generation for the same key fails here and rolls back.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_batch_key
		ON payment_batches(tenant_id, schedule_type, scheduled_date);

	CREATE TABLE IF NOT EXISTS scheduled_payments (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES payment_batches(id),
		wallet_id TEXT NOT NULL,
		writer_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'paid', 'failed')),
		reference_code TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_payment_writer
		ON scheduled_payments(batch_id, writer_id);

	CREATE TABLE IF NOT EXISTS earning_line_items (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES scheduled_payments(id),
		kind TEXT NOT NULL CHECK (kind IN ('order', 'tip', 'bonus', 'fine')),
		source_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		occurred_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_line_item
		ON earning_line_items(kind, source_id, payment_id);
	CREATE INDEX IF NOT EXISTS idx_line_items_payment
		ON earning_line_items(payment_id);
`

// =============================================================================
// TRANSACTIONAL STORE (payout.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payout.Store) error) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txStore{conn: conn{q: sqlTx, mu: &exclusive{}}}
	if err := fn(view); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every statement on the transaction. It never falls back to
// the parent *sql.DB, whose lock WithTx is holding.
type txStore struct {
	conn
}

// =============================================================================
// CONNECTION - statements shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type locker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// exclusive is a locker whose readers also exclude each other.
type exclusive struct{ sync.Mutex }

func (e *exclusive) RLock()   { e.Lock() }
func (e *exclusive) RUnlock() { e.Unlock() }

type conn struct {
	q  querier
	mu locker
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseTime(s.String)
}

func formatMoney(m generic.Money) string { return m.Value.String() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// settledClause is the exclusion precondition for a source table aliased
// as alias. Arguments: line kind, batch id to ignore.
func settledClause(alias string) string {
	return strings.NewReplacer("{t}", alias).Replace(`
		AND NOT EXISTS (
			SELECT 1 FROM earning_line_items li
			JOIN scheduled_payments sp ON sp.id = li.payment_id
			JOIN payment_batches pb ON pb.id = sp.batch_id
			WHERE li.kind = ? AND li.source_id = {t}.id
			  AND pb.tenant_id = {t}.tenant_id
			  AND pb.id <> ?
			  AND (sp.status = 'paid' OR pb.completed = 1)
		)`)
}

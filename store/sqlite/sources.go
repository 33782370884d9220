package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// SEED WRITERS - consumed tables, written by fixtures and the CLI only
// =============================================================================

func (s *Store) SaveWriter(ctx context.Context, w payout.WriterProfile) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO writers (id, tenant_id, schedule_type, date_preference, wallet_id, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.ID, w.TenantID, w.ScheduleType, w.DatePreference, nullString(string(w.WalletID)), boolInt(w.Active))
	if err != nil {
		return fmt.Errorf("failed to save writer: %w", err)
	}
	return nil
}

func (s *Store) SaveWallet(ctx context.Context, w payout.Wallet) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO wallets (id, writer_id, tenant_id) VALUES (?, ?, ?)
	`, w.ID, w.WriterID, w.TenantID)
	if err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	return nil
}

// AppendWalletEntry adds a ledger row. The ledger is append-only.
func (s *Store) AppendWalletEntry(ctx context.Context, e payout.WalletEntry) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, wallet_id, tenant_id, entry_type, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.WalletID, e.TenantID, e.Type, formatMoney(e.Amount), formatTime(e.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("wallet entry %s: %w", e.ID, generic.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to append wallet entry: %w", err)
	}
	return nil
}

func (s *Store) SaveOrder(ctx context.Context, o payout.Order) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (id, assigned_writer_id, tenant_id, status, completed_at, payout_amount)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, nullString(string(o.AssignedWriterID)), o.TenantID, o.Status, nullTime(o.CompletedAt), formatMoney(o.PayoutAmount))
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *Store) SaveTip(ctx context.Context, t payout.Tip) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tips (id, writer_id, tenant_id, settlement_status, settled_at, writer_share)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.WriterID, t.TenantID, t.SettlementStatus, nullTime(t.SettledAt), formatMoney(t.WriterShare))
	if err != nil {
		return fmt.Errorf("failed to save tip: %w", err)
	}
	return nil
}

func (s *Store) SaveFine(ctx context.Context, f payout.Fine) error {
	s.rw.Lock()
	defer s.rw.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fines (id, writer_id, tenant_id, status, created_at, amount)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.WriterID, f.TenantID, f.Status, formatTime(f.CreatedAt), formatMoney(f.Amount))
	if err != nil {
		return fmt.Errorf("failed to save fine: %w", err)
	}
	return nil
}

// =============================================================================
// WRITER DIRECTORY (payout.WriterDirectory interface)
// =============================================================================

func (c conn) ActiveWriters(ctx context.Context, tenant payout.TenantID, scheduleType payout.ScheduleType) ([]payout.WriterProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.q.QueryContext(ctx, `
		SELECT id, tenant_id, schedule_type, date_preference, wallet_id, active
		FROM writers
		WHERE tenant_id = ? AND schedule_type = ? AND active = 1
		ORDER BY id
	`, tenant, scheduleType)
	if err != nil {
		return nil, fmt.Errorf("failed to query writers: %w", err)
	}
	defer rows.Close()

	var writers []payout.WriterProfile
	for rows.Next() {
		var (
			w        payout.WriterProfile
			walletID sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.TenantID, &w.ScheduleType, &w.DatePreference, &walletID, &w.Active); err != nil {
			return nil, fmt.Errorf("failed to scan writer: %w", err)
		}
		w.WalletID = payout.WalletID(walletID.String)
		writers = append(writers, w)
	}
	return writers, rows.Err()
}

// WalletForWriter resolves the profile's wallet reference, or the writer's
// wallet in the same tenant when the profile carries none.
func (c conn) WalletForWriter(ctx context.Context, w payout.WriterProfile) (*payout.Wallet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var row *sql.Row
	if w.WalletID != "" {
		row = c.q.QueryRowContext(ctx, `SELECT id, writer_id, tenant_id FROM wallets WHERE id = ?`, w.WalletID)
	} else {
		row = c.q.QueryRowContext(ctx, `
			SELECT id, writer_id, tenant_id FROM wallets
			WHERE writer_id = ? AND tenant_id = ?
			ORDER BY id LIMIT 1
		`, w.ID, w.TenantID)
	}

	var wallet payout.Wallet
	err := row.Scan(&wallet.ID, &wallet.WriterID, &wallet.TenantID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// =============================================================================
// EARNINGS SOURCE (payout.EarningsSource interface)
// =============================================================================

// withSettled appends the exclusion precondition when the query asks for it.
func withSettled(query, alias string, kind payout.LineKind, q payout.EarningsQuery, args []any) (string, []any) {
	if !q.ExcludeSettled {
		return query, args
	}
	return query + settledClause(alias), append(args, kind, q.IgnoreBatch)
}

func (c conn) Orders(ctx context.Context, q payout.EarningsQuery) ([]payout.Order, error) {
	query, args := withSettled(`
		SELECT o.id, o.assigned_writer_id, o.tenant_id, o.status, o.completed_at, o.payout_amount
		FROM orders o
		WHERE o.tenant_id = ? AND o.assigned_writer_id = ? AND o.status = ?
		  AND o.completed_at >= ? AND o.completed_at <= ?`,
		"o", payout.LineOrder, q,
		[]any{q.Tenant, q.Writer, payout.OrderCompleted, formatTime(q.Window.Start), formatTime(q.Window.End)})

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.q.QueryContext(ctx, query+` ORDER BY o.completed_at, o.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []payout.Order
	for rows.Next() {
		var (
			o                   payout.Order
			writer, completedAt sql.NullString
			amount              string
		)
		if err := rows.Scan(&o.ID, &writer, &o.TenantID, &o.Status, &completedAt, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.AssignedWriterID = payout.WriterID(writer.String)
		if o.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		if o.PayoutAmount, err = generic.ParseMoney(amount); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (c conn) Tips(ctx context.Context, q payout.EarningsQuery) ([]payout.Tip, error) {
	query, args := withSettled(`
		SELECT t.id, t.writer_id, t.tenant_id, t.settlement_status, t.settled_at, t.writer_share
		FROM tips t
		WHERE t.tenant_id = ? AND t.writer_id = ? AND t.settlement_status = ?
		  AND t.settled_at >= ? AND t.settled_at <= ?`,
		"t", payout.LineTip, q,
		[]any{q.Tenant, q.Writer, payout.TipCompleted, formatTime(q.Window.Start), formatTime(q.Window.End)})

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.q.QueryContext(ctx, query+` ORDER BY t.settled_at, t.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tips: %w", err)
	}
	defer rows.Close()

	var tips []payout.Tip
	for rows.Next() {
		var (
			t         payout.Tip
			settledAt sql.NullString
			share     string
		)
		if err := rows.Scan(&t.ID, &t.WriterID, &t.TenantID, &t.SettlementStatus, &settledAt, &share); err != nil {
			return nil, fmt.Errorf("failed to scan tip: %w", err)
		}
		if t.SettledAt, err = parseNullTime(settledAt); err != nil {
			return nil, err
		}
		if t.WriterShare, err = generic.ParseMoney(share); err != nil {
			return nil, err
		}
		tips = append(tips, t)
	}
	return tips, rows.Err()
}

func (c conn) Bonuses(ctx context.Context, q payout.EarningsQuery) ([]payout.WalletEntry, error) {
	query, args := withSettled(`
		SELECT e.id, e.wallet_id, e.tenant_id, e.entry_type, e.amount, e.created_at
		FROM wallet_entries e
		WHERE e.tenant_id = ? AND e.wallet_id = ? AND e.entry_type = ?
		  AND e.created_at >= ? AND e.created_at <= ?`,
		"e", payout.LineBonus, q,
		[]any{q.Tenant, q.Wallet, payout.WalletEntryBonus, formatTime(q.Window.Start), formatTime(q.Window.End)})

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.q.QueryContext(ctx, query+` ORDER BY e.created_at, e.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet entries: %w", err)
	}
	defer rows.Close()

	var entries []payout.WalletEntry
	for rows.Next() {
		var (
			e                 payout.WalletEntry
			amount, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.WalletID, &e.TenantID, &e.Type, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet entry: %w", err)
		}
		if e.Amount, err = generic.ParseMoney(amount); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (c conn) Fines(ctx context.Context, q payout.EarningsQuery) ([]payout.Fine, error) {
	query, args := withSettled(`
		SELECT f.id, f.writer_id, f.tenant_id, f.status, f.created_at, f.amount
		FROM fines f
		WHERE f.tenant_id = ? AND f.writer_id = ?
		  AND f.created_at >= ? AND f.created_at <= ?`,
		"f", payout.LineFine, q,
		[]any{q.Tenant, q.Writer, formatTime(q.Window.Start), formatTime(q.Window.End)})

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.q.QueryContext(ctx, query+` ORDER BY f.created_at, f.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fines: %w", err)
	}
	defer rows.Close()

	var fines []payout.Fine
	for rows.Next() {
		var (
			f                 payout.Fine
			createdAt, amount string
		)
		if err := rows.Scan(&f.ID, &f.WriterID, &f.TenantID, &f.Status, &createdAt, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan fine: %w", err)
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if f.Amount, err = generic.ParseMoney(amount); err != nil {
			return nil, err
		}
		fines = append(fines, f)
	}
	return fines, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// BATCH STORE (payout.BatchStore interface)
// =============================================================================

const batchColumns = `
	id, tenant_id, schedule_type, scheduled_date, period_start, period_end,
	completed, completed_at, completed_by, reference_code, operator, created_at`

func (c conn) CreateBatch(ctx context.Context, b payout.PaymentBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO payment_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID,
		b.TenantID,
		b.ScheduleType,
		generic.FormatDate(b.ScheduledDate),
		formatTime(b.PeriodStart),
		formatTime(b.PeriodEnd),
		boolInt(b.Completed),
		nullTimePtr(b.CompletedAt),
		nullString(b.CompletedBy),
		b.ReferenceCode,
		nullString(b.Operator),
		formatTime(b.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("batch %s: %w", b.Key(), generic.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// CreatePayment inserts the payment and its line items. On the plain store
// it opens its own transaction; on a txStore it joins the enclosing one.
func (c conn) CreatePayment(ctx context.Context, p payout.ScheduledPayment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.q.(*sql.DB); ok {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()
		if err := insertPayment(ctx, tx, p); err != nil {
			return err
		}
		return tx.Commit()
	}
	return insertPayment(ctx, c.q, p)
}

func insertPayment(ctx context.Context, db querier, p payout.ScheduledPayment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO scheduled_payments
		(id, batch_id, wallet_id, writer_id, total_amount, status, reference_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.BatchID, p.WalletID, p.WriterID, formatMoney(p.TotalAmount), p.Status,
		p.ReferenceCode, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("payment %s: %w", p.ID, generic.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	for _, li := range p.LineItems {
		_, err := db.ExecContext(ctx, `
			INSERT INTO earning_line_items (id, payment_id, kind, source_id, amount, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, li.ID, p.ID, li.Kind, li.SourceID, formatMoney(li.Amount), formatTime(li.OccurredAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("line item %s/%s in payment %s: %w", li.Kind, li.SourceID, p.ID, generic.ErrDuplicateKey)
			}
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}
	return nil
}

func (c conn) GetBatch(ctx context.Context, id payout.BatchID) (*payout.PaymentBatch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM payment_batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c conn) FindBatch(ctx context.Context, key payout.BatchKey) (*payout.PaymentBatch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.q.QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM payment_batches
		WHERE tenant_id = ? AND schedule_type = ? AND scheduled_date = ?
	`, key.Tenant, key.ScheduleType, generic.FormatDate(key.ScheduledDate))
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c conn) ListBatches(ctx context.Context, f payout.BatchFilter) ([]payout.PaymentBatch, error) {
	var (
		where []string
		args  []any
	)
	if f.Tenant != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.Tenant)
	}
	if f.ScheduleType != "" {
		where = append(where, "schedule_type = ?")
		args = append(args, f.ScheduleType)
	}
	if !f.From.IsZero() {
		where = append(where, "scheduled_date >= ?")
		args = append(args, generic.FormatDate(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "scheduled_date <= ?")
		args = append(args, generic.FormatDate(f.To))
	}
	if f.Completed != nil {
		where = append(where, "completed = ?")
		args = append(args, boolInt(*f.Completed))
	}

	query := `SELECT ` + batchColumns + ` FROM payment_batches`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_date, tenant_id, schedule_type`

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []payout.PaymentBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

const paymentColumns = `
	id, batch_id, wallet_id, writer_id, total_amount, status, reference_code, created_at, updated_at`

func (c conn) PaymentsForBatch(ctx context.Context, id payout.BatchID) ([]payout.ScheduledPayment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.q.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM scheduled_payments
		WHERE batch_id = ?
		ORDER BY writer_id, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	var payments []payout.ScheduledPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		payments = append(payments, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := c.lineItems(ctx, `
		SELECT li.id, li.payment_id, li.kind, li.source_id, li.amount, li.occurred_at
		FROM earning_line_items li
		JOIN scheduled_payments sp ON sp.id = li.payment_id
		WHERE sp.batch_id = ?
		ORDER BY li.rowid
	`, id)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		payments[i].LineItems = items[payments[i].ID]
	}
	return payments, nil
}

func (c conn) GetPayment(ctx context.Context, id payout.PaymentID) (*payout.ScheduledPayment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM scheduled_payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := c.lineItems(ctx, `
		SELECT id, payment_id, kind, source_id, amount, occurred_at
		FROM earning_line_items WHERE payment_id = ? ORDER BY rowid
	`, id)
	if err != nil {
		return nil, err
	}
	p.LineItems = items[p.ID]
	return &p, nil
}

// lineItems runs query and groups the rows by payment. Callers hold the lock.
func (c conn) lineItems(ctx context.Context, query string, args ...any) (map[payout.PaymentID][]payout.EarningLineItem, error) {
	list, err := c.lineItemList(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[payout.PaymentID][]payout.EarningLineItem)
	for _, li := range list {
		out[li.PaymentID] = append(out[li.PaymentID], li)
	}
	return out, nil
}

// lineItemList runs query and returns the rows in order. Callers hold the lock.
func (c conn) lineItemList(ctx context.Context, query string, args ...any) ([]payout.EarningLineItem, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var out []payout.EarningLineItem
	for rows.Next() {
		var (
			li                 payout.EarningLineItem
			amount, occurredAt string
		)
		if err := rows.Scan(&li.ID, &li.PaymentID, &li.Kind, &li.SourceID, &amount, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		if li.Amount, err = generic.ParseMoney(amount); err != nil {
			return nil, err
		}
		if li.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// SettledElsewhere finds the batch's line items whose (kind, source_id) is
// linked to a paid payment or a completed batch of the same tenant outside
// this batch. It is the settled-exclusion clause turned around: instead of
// hiding settled sources from selection, it reports the ones already
// selected.
func (c conn) SettledElsewhere(ctx context.Context, batch payout.BatchID, payment payout.PaymentID) ([]payout.EarningLineItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lineItemList(ctx, `
		SELECT li.id, li.payment_id, li.kind, li.source_id, li.amount, li.occurred_at
		FROM earning_line_items li
		JOIN scheduled_payments sp ON sp.id = li.payment_id
		JOIN payment_batches pb ON pb.id = sp.batch_id
		WHERE pb.id = ? AND (? = '' OR sp.id = ?)
		  AND EXISTS (
			SELECT 1 FROM earning_line_items other
			JOIN scheduled_payments osp ON osp.id = other.payment_id
			JOIN payment_batches opb ON opb.id = osp.batch_id
			WHERE other.kind = li.kind AND other.source_id = li.source_id
			  AND opb.tenant_id = pb.tenant_id
			  AND opb.id <> pb.id
			  AND (osp.status = 'paid' OR opb.completed = 1)
		  )
		ORDER BY sp.writer_id, li.rowid
	`, batch, payment, payment)
}

func (c conn) MarkBatchCompleted(ctx context.Context, id payout.BatchID, by string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.q.ExecContext(ctx, `
		UPDATE payment_batches SET completed = 1, completed_at = ?, completed_by = ?
		WHERE id = ? AND completed = 0
	`, formatTime(at), nullString(by), id)
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	return c.checkAffected(ctx, res, `SELECT 1 FROM payment_batches WHERE id = ?`, id)
}

func (c conn) UpdatePaymentStatus(ctx context.Context, id payout.PaymentID, from, to payout.PaymentStatus, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.q.ExecContext(ctx, `
		UPDATE scheduled_payments SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, formatTime(at), id, from)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return c.checkAffected(ctx, res, `SELECT 1 FROM scheduled_payments WHERE id = ?`, id)
}

// checkAffected turns a compare-and-set that touched no row into
// ErrNotFound or ErrConcurrentModification. Callers hold the lock.
func (c conn) checkAffected(ctx context.Context, res sql.Result, existsQuery string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = c.q.QueryRowContext(ctx, existsQuery, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%v: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%v: %w", id, generic.ErrConcurrentModification)
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (payout.PaymentBatch, error) {
	var (
		b                                  payout.PaymentBatch
		scheduled, periodStart, periodEnd  string
		createdAt                          string
		completedAt, completedBy, operator sql.NullString
	)
	err := row.Scan(&b.ID, &b.TenantID, &b.ScheduleType, &scheduled, &periodStart, &periodEnd,
		&b.Completed, &completedAt, &completedBy, &b.ReferenceCode, &operator, &createdAt)
	if err == sql.ErrNoRows {
		return b, err
	}
	if err != nil {
		return b, fmt.Errorf("failed to scan batch: %w", err)
	}

	if b.ScheduledDate, err = generic.ParseDate(scheduled); err != nil {
		return b, err
	}
	if b.PeriodStart, err = parseTime(periodStart); err != nil {
		return b, err
	}
	if b.PeriodEnd, err = parseTime(periodEnd); err != nil {
		return b, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return b, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return b, err
		}
		b.CompletedAt = &t
	}
	b.CompletedBy = completedBy.String
	b.Operator = operator.String
	return b, nil
}

func scanPayment(row scanner) (payout.ScheduledPayment, error) {
	var (
		p                           payout.ScheduledPayment
		total, createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.BatchID, &p.WalletID, &p.WriterID, &total, &p.Status,
		&p.ReferenceCode, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.TotalAmount, err = generic.ParseMoney(total); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullTime(*t)
}

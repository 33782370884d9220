package payout

import (
	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// BOUNDARY VALIDATION
// =============================================================================
// Sources are external collaborators. Every record is checked against the
// query that produced it before a single cent is attributed to a writer.

func fieldErr(record, id, field, reason string) *InvalidRecordError {
	return &InvalidRecordError{Field: &generic.FieldError{Record: record, ID: id, Field: field, Reason: reason}}
}

func (o Order) Validate(q EarningsQuery) error {
	switch {
	case o.ID == "":
		return fieldErr("order", o.ID, "id", "is empty")
	case o.AssignedWriterID == "":
		return fieldErr("order", o.ID, "assigned_writer_id", "is empty")
	case o.AssignedWriterID != q.Writer:
		return fieldErr("order", o.ID, "assigned_writer_id", "does not match "+string(q.Writer))
	case o.TenantID != q.Tenant:
		return fieldErr("order", o.ID, "tenant_id", "does not match "+string(q.Tenant))
	case o.Status != OrderCompleted:
		return fieldErr("order", o.ID, "status", "is "+o.Status)
	case o.CompletedAt.IsZero():
		return fieldErr("order", o.ID, "completed_at", "is missing")
	case !q.Window.Contains(o.CompletedAt):
		return fieldErr("order", o.ID, "completed_at", "is outside "+q.Window.String())
	case o.PayoutAmount.IsNegative():
		return fieldErr("order", o.ID, "payout_amount", "is negative")
	}
	return nil
}

func (t Tip) Validate(q EarningsQuery) error {
	switch {
	case t.ID == "":
		return fieldErr("tip", t.ID, "id", "is empty")
	case t.WriterID != q.Writer:
		return fieldErr("tip", t.ID, "writer_id", "does not match "+string(q.Writer))
	case t.TenantID != q.Tenant:
		return fieldErr("tip", t.ID, "tenant_id", "does not match "+string(q.Tenant))
	case t.SettlementStatus != TipCompleted:
		return fieldErr("tip", t.ID, "settlement_status", "is "+t.SettlementStatus)
	case t.SettledAt.IsZero():
		return fieldErr("tip", t.ID, "settled_at", "is missing")
	case !q.Window.Contains(t.SettledAt):
		return fieldErr("tip", t.ID, "settled_at", "is outside "+q.Window.String())
	case t.WriterShare.IsNegative():
		return fieldErr("tip", t.ID, "writer_share", "is negative")
	}
	return nil
}

func (e WalletEntry) Validate(q EarningsQuery) error {
	switch {
	case e.ID == "":
		return fieldErr("wallet_entry", e.ID, "id", "is empty")
	case e.WalletID != q.Wallet:
		return fieldErr("wallet_entry", e.ID, "wallet_id", "does not match "+string(q.Wallet))
	case e.TenantID != q.Tenant:
		return fieldErr("wallet_entry", e.ID, "tenant_id", "does not match "+string(q.Tenant))
	case e.Type != WalletEntryBonus:
		return fieldErr("wallet_entry", e.ID, "type", "is "+e.Type)
	case e.CreatedAt.IsZero():
		return fieldErr("wallet_entry", e.ID, "created_at", "is missing")
	case !q.Window.Contains(e.CreatedAt):
		return fieldErr("wallet_entry", e.ID, "created_at", "is outside "+q.Window.String())
	case e.Amount.IsNegative():
		return fieldErr("wallet_entry", e.ID, "amount", "is negative")
	}
	return nil
}

func (f Fine) Validate(q EarningsQuery) error {
	switch {
	case f.ID == "":
		return fieldErr("fine", f.ID, "id", "is empty")
	case f.WriterID != q.Writer:
		return fieldErr("fine", f.ID, "writer_id", "does not match "+string(q.Writer))
	case f.TenantID != q.Tenant:
		return fieldErr("fine", f.ID, "tenant_id", "does not match "+string(q.Tenant))
	case f.CreatedAt.IsZero():
		return fieldErr("fine", f.ID, "created_at", "is missing")
	case !q.Window.Contains(f.CreatedAt):
		return fieldErr("fine", f.ID, "created_at", "is outside "+q.Window.String())
	case f.Amount.IsNegative():
		return fieldErr("fine", f.ID, "amount", "is negative, fines are stored as magnitudes")
	}
	return nil
}

// Validate checks a writer profile returned by a WriterDirectory.
func (w WriterProfile) Validate(tenant TenantID, scheduleType ScheduleType) error {
	switch {
	case w.ID == "":
		return fieldErr("writer", "", "id", "is empty")
	case w.TenantID != tenant:
		return fieldErr("writer", string(w.ID), "tenant_id", "does not match "+string(tenant))
	case w.ScheduleType != scheduleType:
		return fieldErr("writer", string(w.ID), "schedule_type", "is "+string(w.ScheduleType))
	case !w.Active:
		return fieldErr("writer", string(w.ID), "active", "is false")
	}
	return nil
}

// Validate checks a wallet resolved for writer.
func (w Wallet) Validate(writer WriterProfile) error {
	switch {
	case w.ID == "":
		return fieldErr("wallet", "", "id", "is empty")
	case w.WriterID != writer.ID:
		return fieldErr("wallet", string(w.ID), "writer_id", "does not match "+string(writer.ID))
	case w.TenantID != writer.TenantID:
		return fieldErr("wallet", string(w.ID), "tenant_id", "does not match "+string(writer.TenantID))
	}
	return nil
}

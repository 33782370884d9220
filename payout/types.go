/*
Package payout computes what each writer is owed and assembles payment batches.

PURPOSE:
  A batch is one generation run for one tenant and one schedule type on one
  scheduled date. Generation aggregates a writer's completed orders, tips,
  wallet bonuses and fines over a settlement window, and materializes a
  ScheduledPayment with one EarningLineItem per unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - PaymentBatch: aggregate root, unique per (tenant, schedule type, date)
  - ScheduledPayment: one per writer per batch, total >= 0
  - EarningLineItem: one per included unit of work, signed amount
  - External records (Order, Tip, Fine, WalletEntry) read from sources

THE CENTRAL INVARIANT:
  A unit of work attached to a payment that is paid, or to a batch that is
  completed, is never selected again. Stores enforce this inside the source
  query, not as a post-filter.

SEE ALSO:
  - schedule.go: next payment date calculation
  - aggregator.go: per-writer earnings summary
  - generator.go: transactional batch generation
  - breakdown.go: read-only audit report
  - confirm.go: batch completion and payment status transitions
*/
package payout

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	TenantID  string
	WriterID  string
	WalletID  string
	BatchID   string
	PaymentID string
)

// =============================================================================
// ENUMS
// =============================================================================

// ScheduleType is a writer's payment cadence.
type ScheduleType string

const (
	ScheduleBiWeekly ScheduleType = "bi-weekly"
	ScheduleMonthly  ScheduleType = "monthly"
)

func (s ScheduleType) IsValid() bool {
	return s == ScheduleBiWeekly || s == ScheduleMonthly
}

// ParseScheduleType accepts "bi-weekly", "biweekly" and "monthly" in any case.
func ParseScheduleType(s string) (ScheduleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bi-weekly", "biweekly":
		return ScheduleBiWeekly, nil
	case "monthly":
		return ScheduleMonthly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheduleType, s)
}

// PaymentStatus is the lifecycle state of a ScheduledPayment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) IsValid() bool {
	return s == PaymentPending || s == PaymentPaid || s == PaymentFailed
}

// LineKind identifies the source of a line item.
type LineKind string

const (
	LineOrder LineKind = "order"
	LineTip   LineKind = "tip"
	LineBonus LineKind = "bonus"
	LineFine  LineKind = "fine"
)

// Status values of external records that denote completion.
const (
	OrderCompleted   = "completed"
	TipCompleted     = "completed"
	WalletEntryBonus = "bonus"
)

// =============================================================================
// PRODUCED RECORDS
// =============================================================================

// BatchKey is the uniqueness key of a batch.
type BatchKey struct {
	Tenant        TenantID
	ScheduleType  ScheduleType
	ScheduledDate time.Time
}

func (k BatchKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Tenant, k.ScheduleType, generic.FormatDate(k.ScheduledDate))
}

// PaymentBatch is one batch run. The settlement window is frozen at
// generation so the breakdown can re-derive over exactly the same interval.
type PaymentBatch struct {
	ID            BatchID
	TenantID      TenantID
	ScheduleType  ScheduleType
	ScheduledDate time.Time
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Completed     bool
	CompletedAt   *time.Time
	CompletedBy   string
	ReferenceCode string
	Operator      string
	CreatedAt     time.Time
}

func (b PaymentBatch) Key() BatchKey {
	return BatchKey{Tenant: b.TenantID, ScheduleType: b.ScheduleType, ScheduledDate: b.ScheduledDate}
}

// Window returns the settlement window used at generation.
func (b PaymentBatch) Window() generic.Period {
	if b.PeriodStart.IsZero() || b.PeriodEnd.IsZero() {
		return SettlementWindow(b.ScheduleType, b.ScheduledDate)
	}
	return generic.Period{Start: b.PeriodStart, End: b.PeriodEnd}
}

// ScheduledPayment is one writer's payment inside a batch.
type ScheduledPayment struct {
	ID            PaymentID
	BatchID       BatchID
	WalletID      WalletID
	WriterID      WriterID
	TotalAmount   generic.Money
	Status        PaymentStatus
	ReferenceCode string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LineItems     []EarningLineItem
}

// LineItemSum returns the exact sum of the signed line item amounts.
func (p ScheduledPayment) LineItemSum() generic.Money {
	total := generic.ZeroMoney()
	for _, li := range p.LineItems {
		total = total.Add(li.Amount)
	}
	return total
}

// EarningLineItem is one unit of work inside a payment. Fines are negative.
type EarningLineItem struct {
	ID         string
	PaymentID  PaymentID
	Kind       LineKind
	SourceID   string
	Amount     generic.Money
	OccurredAt time.Time
}

// =============================================================================
// CONSUMED RECORDS
// =============================================================================

type WriterProfile struct {
	ID             WriterID
	TenantID       TenantID
	ScheduleType   ScheduleType
	DatePreference string
	WalletID       WalletID // optional; resolved through the wallet's writer otherwise
	Active         bool
}

type Wallet struct {
	ID       WalletID
	WriterID WriterID
	TenantID TenantID
}

// WalletEntry is one row of the append-only wallet ledger.
type WalletEntry struct {
	ID        string
	WalletID  WalletID
	TenantID  TenantID
	Type      string
	Amount    generic.Money
	CreatedAt time.Time
}

type Order struct {
	ID               string
	AssignedWriterID WriterID
	TenantID         TenantID
	Status           string
	CompletedAt      time.Time
	PayoutAmount     generic.Money
}

type Tip struct {
	ID               string
	WriterID         WriterID
	TenantID         TenantID
	SettlementStatus string
	SettledAt        time.Time
	WriterShare      generic.Money
}

type Fine struct {
	ID        string
	WriterID  WriterID
	TenantID  TenantID
	Status    string
	CreatedAt time.Time
	Amount    generic.Money
}

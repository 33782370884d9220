package payout

import (
	"context"
	"time"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// CONSUMED INTERFACES
// =============================================================================

// WriterDirectory lists writers and resolves their wallets.
type WriterDirectory interface {
	// ActiveWriters returns active writers of tenant whose stored schedule
	// type is scheduleType, ordered by writer id.
	ActiveWriters(ctx context.Context, tenant TenantID, scheduleType ScheduleType) ([]WriterProfile, error)

	// WalletForWriter returns the writer's wallet, or nil when none exists.
	WalletForWriter(ctx context.Context, writer WriterProfile) (*Wallet, error)
}

// EarningsQuery selects one writer's records in a window.
type EarningsQuery struct {
	Tenant TenantID
	Writer WriterID
	Wallet WalletID
	Window generic.Period

	// ExcludeSettled drops records already linked to a line item whose
	// payment is paid or whose batch is completed.
	ExcludeSettled bool

	// IgnoreBatch makes links that belong to this batch not count as
	// settled. Used by the breakdown to recompute a batch's own records.
	IgnoreBatch BatchID
}

// EarningsSource loads payable records. Implementations must apply the
// window and ExcludeSettled as part of the query itself.
type EarningsSource interface {
	// Orders returns completed orders assigned to the writer.
	Orders(ctx context.Context, q EarningsQuery) ([]Order, error)
	// Tips returns completed tips settled in the window.
	Tips(ctx context.Context, q EarningsQuery) ([]Tip, error)
	// Bonuses returns bonus entries of the wallet ledger.
	Bonuses(ctx context.Context, q EarningsQuery) ([]WalletEntry, error)
	// Fines returns fines in the window regardless of status.
	Fines(ctx context.Context, q EarningsQuery) ([]Fine, error)
}

// =============================================================================
// PRODUCED RECORDS
// =============================================================================

// BatchFilter narrows ListBatches. Zero fields match everything.
type BatchFilter struct {
	Tenant       TenantID
	ScheduleType ScheduleType
	From         time.Time // inclusive scheduled date
	To           time.Time // inclusive scheduled date
	Completed    *bool
}

// BatchStore persists batches, payments and line items.
//
// Lookups return (nil, nil) when the row does not exist.
type BatchStore interface {
	// CreateBatch inserts a batch; a taken key returns generic.ErrDuplicateKey.
	CreateBatch(ctx context.Context, batch PaymentBatch) error
	// CreatePayment inserts a payment and its line items.
	CreatePayment(ctx context.Context, payment ScheduledPayment) error

	GetBatch(ctx context.Context, id BatchID) (*PaymentBatch, error)
	FindBatch(ctx context.Context, key BatchKey) (*PaymentBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]PaymentBatch, error)

	// PaymentsForBatch returns payments with line items, ordered by writer id.
	PaymentsForBatch(ctx context.Context, id BatchID) ([]ScheduledPayment, error)
	GetPayment(ctx context.Context, id PaymentID) (*ScheduledPayment, error)

	// MarkBatchCompleted returns generic.ErrConcurrentModification if the
	// batch is already completed.
	MarkBatchCompleted(ctx context.Context, id BatchID, by string, at time.Time) error

	// UpdatePaymentStatus is a compare-and-set on the previous status.
	UpdatePaymentStatus(ctx context.Context, id PaymentID, from, to PaymentStatus, at time.Time) error

	// SettledElsewhere returns the line items of the batch whose unit of
	// work is already linked, in the same tenant, to a paid payment or a
	// completed batch other than this one. A non-empty payment narrows the
	// check to that payment's line items.
	SettledElsewhere(ctx context.Context, batch BatchID, payment PaymentID) ([]EarningLineItem, error)
}

// Store is everything the engine reads and writes.
type Store interface {
	WriterDirectory
	EarningsSource
	BatchStore
}

// TxStore runs fn against a transactional view. If fn returns an error,
// nothing fn wrote is visible afterwards.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

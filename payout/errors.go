package payout

import (
	"errors"
	"fmt"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBatchExists is returned when a batch for the same key already exists.
	ErrBatchExists = errors.New("batch already exists")

	// ErrBatchNotFound is returned when a batch id is unknown.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrPaymentNotFound is returned when a payment id is unknown.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrBatchAlreadyCompleted is returned when completing a completed batch.
	ErrBatchAlreadyCompleted = errors.New("batch already completed")

	// ErrInvalidTransition is returned for a disallowed payment status change.
	ErrInvalidTransition = errors.New("invalid payment status transition")

	// ErrIntegrity is returned when stored line items disagree with their payment.
	ErrIntegrity = errors.New("line item sum does not match payment total")

	// ErrBreakdownMismatch is returned when recomputed tips or fines differ
	// from the recorded line items.
	ErrBreakdownMismatch = errors.New("breakdown differs from recorded line items")

	// ErrSourceUnavailable is returned when an earnings source fails to load.
	ErrSourceUnavailable = errors.New("earnings source unavailable")

	// ErrUnknownScheduleType is returned for schedule types other than
	// bi-weekly and monthly at API boundaries.
	ErrUnknownScheduleType = errors.New("unknown schedule type")

	// ErrMissingTenant is returned when a tenant id is empty.
	ErrMissingTenant = errors.New("tenant is required")

	// ErrAlreadySettled is returned when paying a payment or completing a
	// batch would settle a unit of work that another batch already settled.
	ErrAlreadySettled = errors.New("unit of work already settled")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BatchExistsError is returned by GenerateBatch when the key is taken.
type BatchExistsError struct {
	Key BatchKey
}

func (e *BatchExistsError) Error() string {
	return fmt.Sprintf("batch %s already exists", e.Key)
}

func (e *BatchExistsError) Unwrap() error { return ErrBatchExists }

// IntegrityError reports a payment whose line items do not sum to its total.
type IntegrityError struct {
	PaymentID PaymentID
	WriterID  WriterID
	Total     generic.Money
	LineSum   generic.Money
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("payment %s (writer %s): total %s but line items sum to %s",
		e.PaymentID, e.WriterID, e.Total, e.LineSum)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// SettlementConflictError lists the line items that block a payment from
// being paid, or a batch from being completed, because their unit of work
// is settled elsewhere.
type SettlementConflictError struct {
	BatchID   BatchID
	PaymentID PaymentID // empty when completing the whole batch
	Lines     []EarningLineItem
}

func (e *SettlementConflictError) Error() string {
	target := "batch " + string(e.BatchID)
	if e.PaymentID != "" {
		target = "payment " + string(e.PaymentID)
	}
	first := e.Lines[0]
	return fmt.Sprintf("%s: %d line items already settled elsewhere (first: %s %s)",
		target, len(e.Lines), first.Kind, first.SourceID)
}

func (e *SettlementConflictError) Unwrap() error { return ErrAlreadySettled }

// Discrepancy is one recorded/recomputed mismatch found by the breakdown.
type Discrepancy struct {
	WriterID   WriterID
	Kind       LineKind
	Recorded   generic.Money
	Recomputed generic.Money
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("writer %s %s: recorded %s, recomputed %s", d.WriterID, d.Kind, d.Recorded, d.Recomputed)
}

// DiscrepancyError accompanies a breakdown report that found mismatches.
type DiscrepancyError struct {
	BatchID       BatchID
	Discrepancies []Discrepancy
}

func (e *DiscrepancyError) Error() string {
	return fmt.Sprintf("batch %s: %d breakdown discrepancies (first: %s)",
		e.BatchID, len(e.Discrepancies), e.Discrepancies[0])
}

func (e *DiscrepancyError) Unwrap() error { return ErrBreakdownMismatch }

// Source names an earnings source.
type Source string

const (
	SourceOrders  Source = "orders"
	SourceTips    Source = "tips"
	SourceBonuses Source = "bonuses"
	SourceFines   Source = "fines"
	SourceWallets Source = "wallets"
	SourceWriters Source = "writers"
)

// SourceError is returned when a source fails to load for a writer.
type SourceError struct {
	Source Source
	Writer WriterID
	Err    error
}

func (e *SourceError) Error() string {
	if e.Writer == "" {
		return fmt.Sprintf("load %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("load %s for writer %s: %v", e.Source, e.Writer, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

// InvalidRecordError is returned when a source hands back a record that
// violates the consumed contract.
type InvalidRecordError struct {
	Writer WriterID
	Field  *generic.FieldError
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("writer %s: %v", e.Writer, e.Field)
}

func (e *InvalidRecordError) Unwrap() error { return e.Field }

// TransitionError reports a rejected payment status change.
type TransitionError struct {
	PaymentID PaymentID
	From      PaymentStatus
	To        PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("payment %s: cannot move from %s to %s", e.PaymentID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsIntegrity returns true for errors that signal stored data disagrees with
// itself, that a batch key is already taken, or that a unit of work would be
// settled twice.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity) || errors.Is(err, ErrBatchExists) || errors.Is(err, ErrAlreadySettled)
}

// IsNotFound returns true if the error indicates a missing batch or payment.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound) || errors.Is(err, ErrPaymentNotFound) || generic.IsNotFound(err)
}

// IsClientError returns true if the error was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrBatchExists) ||
		errors.Is(err, ErrBatchAlreadyCompleted) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnknownScheduleType) ||
		errors.Is(err, ErrMissingTenant) ||
		IsNotFound(err)
}

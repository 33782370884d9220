package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// PAYMENT STATUS TRANSITIONS
// =============================================================================
//
//	pending ──► paid
//	   │ ▲
//	   ▼ │
//	  failed ──► paid
//
// paid is terminal.

var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentFailed:  {PaymentPending, PaymentPaid},
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// CONFIRMER
// =============================================================================

// Confirmer performs the explicit operator steps that follow generation:
// completing a batch and moving payments through their statuses.
type Confirmer struct {
	store  TxStore
	logger *zap.Logger
	now    func() time.Time
}

func NewConfirmer(store TxStore, logger *zap.Logger) *Confirmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Confirmer{store: store, logger: logger, now: time.Now}
}

// CompleteBatch marks the batch completed. Once completed, every unit of work
// in it is excluded from later aggregation. A batch holding a unit of work
// that another batch already settled cannot be completed.
func (c *Confirmer) CompleteBatch(ctx context.Context, id BatchID, operator string) (*PaymentBatch, error) {
	var out *PaymentBatch
	err := c.store.WithTx(ctx, func(tx Store) error {
		batch, err := tx.GetBatch(ctx, id)
		if err != nil {
			return fmt.Errorf("load batch %s: %w", id, err)
		}
		if batch == nil {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
		}
		if batch.Completed {
			return fmt.Errorf("%w: %s", ErrBatchAlreadyCompleted, id)
		}
		conflicts, err := tx.SettledElsewhere(ctx, id, "")
		if err != nil {
			return fmt.Errorf("check settlement of batch %s: %w", id, err)
		}
		if len(conflicts) > 0 {
			return &SettlementConflictError{BatchID: id, Lines: conflicts}
		}

		at := c.now().UTC()
		if err := tx.MarkBatchCompleted(ctx, id, operator, at); err != nil {
			if errors.Is(err, generic.ErrConcurrentModification) {
				return fmt.Errorf("%w: %s", ErrBatchAlreadyCompleted, id)
			}
			return fmt.Errorf("complete batch %s: %w", id, err)
		}
		batch.Completed = true
		batch.CompletedAt = &at
		batch.CompletedBy = operator
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("batch completed",
		zap.String("batch_id", string(id)),
		zap.String("reference", out.ReferenceCode),
		zap.String("operator", operator))
	return out, nil
}

// SetPaymentStatus moves a payment to status to. The update is a
// compare-and-set on the status read, so a concurrent change surfaces as
// generic.ErrConcurrentModification instead of being overwritten. Moving to
// paid fails with *SettlementConflictError when any of the payment's units
// of work is already settled by another batch.
func (c *Confirmer) SetPaymentStatus(ctx context.Context, id PaymentID, to PaymentStatus) (*ScheduledPayment, error) {
	if !to.IsValid() {
		return nil, &TransitionError{PaymentID: id, To: to}
	}
	var out *ScheduledPayment
	err := c.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPayment(ctx, id)
		if err != nil {
			return fmt.Errorf("load payment %s: %w", id, err)
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
		}
		if !CanTransition(p.Status, to) {
			return &TransitionError{PaymentID: id, From: p.Status, To: to}
		}
		if to == PaymentPaid {
			conflicts, err := tx.SettledElsewhere(ctx, p.BatchID, id)
			if err != nil {
				return fmt.Errorf("check settlement of payment %s: %w", id, err)
			}
			if len(conflicts) > 0 {
				return &SettlementConflictError{BatchID: p.BatchID, PaymentID: id, Lines: conflicts}
			}
		}
		at := c.now().UTC()
		if err := tx.UpdatePaymentStatus(ctx, id, p.Status, to, at); err != nil {
			return fmt.Errorf("update payment %s: %w", id, err)
		}
		p.Status = to
		p.UpdatedAt = at
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("payment status changed",
		zap.String("payment_id", string(id)),
		zap.String("writer_id", string(out.WriterID)),
		zap.String("status", string(to)))
	return out, nil
}

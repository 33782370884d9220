package payout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// BREAKDOWN REPORT
// =============================================================================

// WriterBreakdown is one writer's share of a batch.
//
// TipsTotal and FinesTotal are recomputed from the sources over the batch's
// settlement window. RecordedTips and RecordedFines come from the frozen
// line items; any difference between the two is listed in Discrepancies.
type WriterBreakdown struct {
	WriterID      WriterID
	WalletID      WalletID
	PaymentID     PaymentID
	ReferenceCode string
	Status        PaymentStatus
	TotalAmount   generic.Money

	OrderLines   []EarningLineItem
	OrdersTotal  generic.Money
	BonusesTotal generic.Money

	TipsTotal     generic.Money
	FinesTotal    generic.Money
	RecordedTips  generic.Money
	RecordedFines generic.Money

	Discrepancies []Discrepancy
}

// BatchBreakdown is the read-only report of one batch.
type BatchBreakdown struct {
	BatchID       BatchID
	ReferenceCode string
	TenantID      TenantID
	ScheduleType  ScheduleType
	ScheduledDate time.Time
	Window        generic.Period
	Completed     bool
	TotalAmount   generic.Money
	WriterCount   int
	PerWriter     []WriterBreakdown
}

// Discrepancies flattens the per-writer discrepancies.
func (b *BatchBreakdown) Discrepancies() []Discrepancy {
	var out []Discrepancy
	for _, w := range b.PerWriter {
		out = append(out, w.Discrepancies...)
	}
	return out
}

// =============================================================================
// REPORTER
// =============================================================================

// BreakdownStore is what the reporter reads.
type BreakdownStore interface {
	BatchStore
	EarningsSource
}

// Reporter renders batches and cross-checks them against the sources. It
// never writes and may run concurrently with generation of other batches.
type Reporter struct {
	store  BreakdownStore
	logger *zap.Logger
}

func NewReporter(store BreakdownStore, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{store: store, logger: logger}
}

// BreakdownByID loads the batch and reports on it.
func (r *Reporter) BreakdownByID(ctx context.Context, id BatchID) (*BatchBreakdown, error) {
	batch, err := r.store.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", id, err)
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return r.Breakdown(ctx, *batch)
}

// Breakdown reports on batch.
//
// A payment whose line items do not sum to its total fails with an
// *IntegrityError and no report. Recomputed tips or fines that differ from
// the line items produce the full report together with a *DiscrepancyError.
func (r *Reporter) Breakdown(ctx context.Context, batch PaymentBatch) (*BatchBreakdown, error) {
	payments, err := r.store.PaymentsForBatch(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("load payments of batch %s: %w", batch.ID, err)
	}

	for _, p := range payments {
		if sum := p.LineItemSum(); !sum.Equal(p.TotalAmount) || p.TotalAmount.IsNegative() {
			return nil, &IntegrityError{PaymentID: p.ID, WriterID: p.WriterID, Total: p.TotalAmount, LineSum: sum}
		}
	}

	window := batch.Window()
	report := &BatchBreakdown{
		BatchID:       batch.ID,
		ReferenceCode: batch.ReferenceCode,
		TenantID:      batch.TenantID,
		ScheduleType:  batch.ScheduleType,
		ScheduledDate: batch.ScheduledDate,
		Window:        window,
		Completed:     batch.Completed,
		TotalAmount:   generic.ZeroMoney(),
		WriterCount:   len(payments),
	}

	var discrepancies []Discrepancy
	for _, p := range payments {
		wb, err := r.writerBreakdown(ctx, batch, window, p)
		if err != nil {
			return nil, err
		}
		report.PerWriter = append(report.PerWriter, wb)
		report.TotalAmount = report.TotalAmount.Add(p.TotalAmount)
		discrepancies = append(discrepancies, wb.Discrepancies...)
	}

	if len(discrepancies) > 0 {
		r.logger.Warn("batch breakdown differs from sources",
			zap.String("batch_id", string(batch.ID)),
			zap.Int("discrepancies", len(discrepancies)))
		return report, &DiscrepancyError{BatchID: batch.ID, Discrepancies: discrepancies}
	}
	return report, nil
}

func (r *Reporter) writerBreakdown(ctx context.Context, batch PaymentBatch, window generic.Period, p ScheduledPayment) (WriterBreakdown, error) {
	wb := WriterBreakdown{
		WriterID:      p.WriterID,
		WalletID:      p.WalletID,
		PaymentID:     p.ID,
		ReferenceCode: p.ReferenceCode,
		Status:        p.Status,
		TotalAmount:   p.TotalAmount,
		OrdersTotal:   generic.ZeroMoney(),
		BonusesTotal:  generic.ZeroMoney(),
		RecordedTips:  generic.ZeroMoney(),
		RecordedFines: generic.ZeroMoney(),
	}
	for _, li := range p.LineItems {
		switch li.Kind {
		case LineOrder:
			wb.OrderLines = append(wb.OrderLines, li)
			wb.OrdersTotal = wb.OrdersTotal.Add(li.Amount)
		case LineBonus:
			wb.BonusesTotal = wb.BonusesTotal.Add(li.Amount)
		case LineTip:
			wb.RecordedTips = wb.RecordedTips.Add(li.Amount)
		case LineFine:
			wb.RecordedFines = wb.RecordedFines.Sub(li.Amount)
		}
	}

	// Links of this batch must not hide its own records, links of other
	// settled batches must.
	q := EarningsQuery{
		Tenant:         batch.TenantID,
		Writer:         p.WriterID,
		Wallet:         p.WalletID,
		Window:         window,
		ExcludeSettled: true,
		IgnoreBatch:    batch.ID,
	}

	tips, err := r.store.Tips(ctx, q)
	if err != nil {
		return wb, &SourceError{Source: SourceTips, Writer: p.WriterID, Err: err}
	}
	wb.TipsTotal = generic.ZeroMoney()
	for _, t := range tips {
		if err := validated(t.Validate(q), p.WriterID); err != nil {
			return wb, err
		}
		wb.TipsTotal = wb.TipsTotal.Add(t.WriterShare.Quantize())
	}

	fines, err := r.store.Fines(ctx, q)
	if err != nil {
		return wb, &SourceError{Source: SourceFines, Writer: p.WriterID, Err: err}
	}
	wb.FinesTotal = generic.ZeroMoney()
	for _, f := range fines {
		if err := validated(f.Validate(q), p.WriterID); err != nil {
			return wb, err
		}
		wb.FinesTotal = wb.FinesTotal.Add(f.Amount.Quantize())
	}

	if !wb.TipsTotal.Equal(wb.RecordedTips) {
		wb.Discrepancies = append(wb.Discrepancies, Discrepancy{WriterID: p.WriterID, Kind: LineTip, Recorded: wb.RecordedTips, Recomputed: wb.TipsTotal})
	}
	if !wb.FinesTotal.Equal(wb.RecordedFines) {
		wb.Discrepancies = append(wb.Discrepancies, Discrepancy{WriterID: p.WriterID, Kind: LineFine, Recorded: wb.RecordedFines, Recomputed: wb.FinesTotal})
	}
	return wb, nil
}

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
// EARNINGS SUMMARY
// =============================================================================

// EarningLine is one quantized unit of work. Fine lines carry a negative amount.
type EarningLine struct {
	Kind       LineKind
	SourceID   string
	Amount     generic.Money
	OccurredAt time.Time
}

// EarningsSummary is everything one writer earned in one window.
type EarningsSummary struct {
	TenantID TenantID
	WriterID WriterID
	WalletID WalletID
	Window   generic.Period

	OrderLines []EarningLine
	TipLines   []EarningLine
	BonusLines []EarningLine
	FineLines  []EarningLine

	OrdersTotal  generic.Money
	TipsTotal    generic.Money
	BonusesTotal generic.Money
	FinesTotal   generic.Money // magnitude, >= 0

	// RawTotal = orders + tips + bonuses - fines, possibly negative.
	RawTotal generic.Money
	// GrandTotal is RawTotal floored at zero; it is what gets paid.
	GrandTotal generic.Money
	// Shortfall is -RawTotal when RawTotal is negative, otherwise zero.
	Shortfall generic.Money
}

// Lines returns all lines in order: orders, tips, bonuses, fines.
func (s *EarningsSummary) Lines() []EarningLine {
	lines := make([]EarningLine, 0, len(s.OrderLines)+len(s.TipLines)+len(s.BonusLines)+len(s.FineLines))
	lines = append(lines, s.OrderLines...)
	lines = append(lines, s.TipLines...)
	lines = append(lines, s.BonusLines...)
	return append(lines, s.FineLines...)
}

func sumLines(lines []EarningLine) generic.Money {
	amounts := make([]generic.Money, len(lines))
	for i, l := range lines {
		amounts[i] = l.Amount
	}
	return generic.SumMoney(amounts...)
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator builds EarningsSummary values from an EarningsSource.
type Aggregator struct {
	source EarningsSource
	logger *zap.Logger
}

func NewAggregator(source EarningsSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{source: source, logger: logger}
}

// Aggregate collects the wallet's writer's unsettled earnings in
// [periodStart, periodEnd]. A source that fails to load aborts with a
// *SourceError; a record that violates the contract aborts with an
// *InvalidRecordError. Neither is ever treated as zero.
func (a *Aggregator) Aggregate(ctx context.Context, wallet Wallet, periodStart, periodEnd time.Time, tenant TenantID) (*EarningsSummary, error) {
	if tenant == "" {
		return nil, ErrMissingTenant
	}
	window, err := generic.NewPeriod(periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("aggregate writer %s: %w", wallet.WriterID, err)
	}
	if wallet.TenantID != tenant {
		return nil, fieldErr("wallet", string(wallet.ID), "tenant_id", "does not match "+string(tenant))
	}

	q := EarningsQuery{
		Tenant:         tenant,
		Writer:         wallet.WriterID,
		Wallet:         wallet.ID,
		Window:         window,
		ExcludeSettled: true,
	}
	summary, err := a.collect(ctx, q)
	if err != nil {
		return nil, err
	}

	if summary.Shortfall.IsPositive() {
		a.logger.Warn("earnings below zero, clamping",
			zap.String("tenant_id", string(tenant)),
			zap.String("writer_id", string(wallet.WriterID)),
			zap.Stringer("raw_total", summary.RawTotal),
			zap.Stringer("shortfall", summary.Shortfall))
	}
	return summary, nil
}

func (a *Aggregator) collect(ctx context.Context, q EarningsQuery) (*EarningsSummary, error) {
	s := &EarningsSummary{TenantID: q.Tenant, WriterID: q.Writer, WalletID: q.Wallet, Window: q.Window}

	orders, err := a.source.Orders(ctx, q)
	if err != nil {
		return nil, &SourceError{Source: SourceOrders, Writer: q.Writer, Err: err}
	}
	for _, o := range orders {
		if err := validated(o.Validate(q), q.Writer); err != nil {
			return nil, err
		}
		s.OrderLines = append(s.OrderLines, EarningLine{Kind: LineOrder, SourceID: o.ID, Amount: o.PayoutAmount.Quantize(), OccurredAt: o.CompletedAt})
	}

	tips, err := a.source.Tips(ctx, q)
	if err != nil {
		return nil, &SourceError{Source: SourceTips, Writer: q.Writer, Err: err}
	}
	for _, t := range tips {
		if err := validated(t.Validate(q), q.Writer); err != nil {
			return nil, err
		}
		s.TipLines = append(s.TipLines, EarningLine{Kind: LineTip, SourceID: t.ID, Amount: t.WriterShare.Quantize(), OccurredAt: t.SettledAt})
	}

	bonuses, err := a.source.Bonuses(ctx, q)
	if err != nil {
		return nil, &SourceError{Source: SourceBonuses, Writer: q.Writer, Err: err}
	}
	for _, b := range bonuses {
		if err := validated(b.Validate(q), q.Writer); err != nil {
			return nil, err
		}
		s.BonusLines = append(s.BonusLines, EarningLine{Kind: LineBonus, SourceID: b.ID, Amount: b.Amount.Quantize(), OccurredAt: b.CreatedAt})
	}

	fines, err := a.source.Fines(ctx, q)
	if err != nil {
		return nil, &SourceError{Source: SourceFines, Writer: q.Writer, Err: err}
	}
	for _, f := range fines {
		if err := validated(f.Validate(q), q.Writer); err != nil {
			return nil, err
		}
		s.FineLines = append(s.FineLines, EarningLine{Kind: LineFine, SourceID: f.ID, Amount: f.Amount.Quantize().Neg(), OccurredAt: f.CreatedAt})
	}

	s.OrdersTotal = sumLines(s.OrderLines)
	s.TipsTotal = sumLines(s.TipLines)
	s.BonusesTotal = sumLines(s.BonusLines)
	s.FinesTotal = sumLines(s.FineLines).Abs()
	s.RawTotal = generic.SumMoney(s.OrdersTotal, s.TipsTotal, s.BonusesTotal, s.FinesTotal.Neg())
	s.GrandTotal = s.RawTotal.FloorZero()
	s.Shortfall = s.GrandTotal.Sub(s.RawTotal)
	return s, nil
}

func validated(err error, writer WriterID) error {
	var ie *InvalidRecordError
	if errors.As(err, &ie) {
		ie.Writer = writer
	}
	return err
}

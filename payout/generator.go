package payout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payout-engine/generic"
)

// DefaultConcurrency bounds parallel aggregation within one batch.
const DefaultConcurrency = 8

// Reference code prefixes.
const (
	batchRefPrefix   = "PB"
	paymentRefPrefix = "SP"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// GenerateRequest names one batch to generate.
type GenerateRequest struct {
	Tenant        TenantID
	ScheduleType  ScheduleType
	ScheduledDate time.Time
	Operator      string
}

func (r GenerateRequest) Key() BatchKey {
	return BatchKey{Tenant: r.Tenant, ScheduleType: r.ScheduleType, ScheduledDate: generic.DateOf(r.ScheduledDate)}
}

func (r GenerateRequest) Validate() error {
	if strings.TrimSpace(string(r.Tenant)) == "" {
		return ErrMissingTenant
	}
	if !r.ScheduleType.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownScheduleType, r.ScheduleType)
	}
	if r.ScheduledDate.IsZero() {
		return errors.New("scheduled date is required")
	}
	return nil
}

// Shortfall records a writer whose fines exceeded their earnings.
type Shortfall struct {
	WriterID WriterID
	RawTotal generic.Money
	Amount   generic.Money
}

// BatchResult is everything a generation run produced. Downstream consumers
// (notifications, exports) act on this value rather than on store hooks.
type BatchResult struct {
	Batch              PaymentBatch
	Window             generic.Period
	Payments           []ScheduledPayment
	SkippedWriters     []WriterID // active writers without a wallet
	ZeroEarningWriters []WriterID // GrandTotal == 0, no payment created
	Shortfalls         []Shortfall
	TotalAmount        generic.Money
}

func (r *BatchResult) SkippedCount() int { return len(r.SkippedWriters) }

// =============================================================================
// GENERATOR
// =============================================================================

// Generator creates payment batches. One call is one transaction: either
// the batch with every payment lands, or nothing does.
type Generator struct {
	store       TxStore
	ids         generic.IDGenerator
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
	metrics     generatorMetrics
}

type GeneratorOption func(*Generator)

func WithGeneratorLogger(l *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithConcurrency bounds parallel aggregation. Values < 1 mean sequential.
func WithConcurrency(n int) GeneratorOption {
	return func(g *Generator) {
		if n < 1 {
			n = 1
		}
		g.concurrency = n
	}
}

func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(store TxStore, ids generic.IDGenerator, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:       store,
		ids:         ids,
		logger:      zap.NewNop(),
		concurrency: DefaultConcurrency,
		now:         time.Now,
		metrics:     newGeneratorMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate is GenerateBatch for a request value.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*BatchResult, error) {
	return g.GenerateBatch(ctx, req.Tenant, req.ScheduleType, req.ScheduledDate, req.Operator)
}

// GenerateBatch generates the batch for (tenant, scheduleType, scheduledDate).
//
// The batch row is inserted first, so a key that already exists fails fast
// with *BatchExistsError before any earnings are read. The returned batch
// is not completed; see Confirmer.CompleteBatch.
func (g *Generator) GenerateBatch(ctx context.Context, tenant TenantID, scheduleType ScheduleType, scheduledDate time.Time, operator string) (*BatchResult, error) {
	req := GenerateRequest{Tenant: tenant, ScheduleType: scheduleType, ScheduledDate: scheduledDate, Operator: operator}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := req.Key()
	window := SettlementWindow(scheduleType, key.ScheduledDate)

	attrs := []attribute.KeyValue{
		attribute.String("tenant_id", string(tenant)),
		attribute.String("schedule_type", string(scheduleType)),
		attribute.String("scheduled_date", generic.FormatDate(key.ScheduledDate)),
	}
	ctx, span := tracer.Start(ctx, "payout.GenerateBatch", trace.WithAttributes(attrs...))
	defer span.End()

	log := g.logger.With(
		zap.String("tenant_id", string(tenant)),
		zap.String("schedule_type", string(scheduleType)),
		zap.String("scheduled_date", generic.FormatDate(key.ScheduledDate)))
	log.Info("generating batch", zap.Stringer("window", window), zap.Int("window_days", window.Days()), zap.String("operator", operator))

	var result *BatchResult
	err := g.store.WithTx(ctx, func(tx Store) error {
		var err error
		result, err = g.generate(ctx, tx, key, window, operator, log)
		if err != nil {
			return err
		}
		// A cancelled context must not commit.
		return ctx.Err()
	})
	if err != nil {
		g.metrics.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("batch generation rolled back", zap.Error(err))
		return nil, err
	}

	g.metrics.batches.Add(ctx, 1, metric.WithAttributes(attrs...))
	g.metrics.payments.Add(ctx, int64(len(result.Payments)), metric.WithAttributes(attrs...))
	g.metrics.skipped.Add(ctx, int64(result.SkippedCount()), metric.WithAttributes(attrs...))
	span.SetAttributes(
		attribute.String("batch_id", string(result.Batch.ID)),
		attribute.Int("payments", len(result.Payments)))

	log.Info("batch generated",
		zap.String("batch_id", string(result.Batch.ID)),
		zap.String("reference", result.Batch.ReferenceCode),
		zap.Int("payments", len(result.Payments)),
		zap.Int("skipped_writers", result.SkippedCount()),
		zap.Int("zero_earning_writers", len(result.ZeroEarningWriters)),
		zap.Stringer("total", result.TotalAmount))
	return result, nil
}

// writerPlan is the read-phase outcome for one writer.
type writerPlan struct {
	writer  WriterProfile
	wallet  *Wallet
	summary *EarningsSummary
}

func (g *Generator) generate(ctx context.Context, tx Store, key BatchKey, window generic.Period, operator string, log *zap.Logger) (*BatchResult, error) {
	now := g.now().UTC()
	batch := PaymentBatch{
		ID:            BatchID(g.ids.NewID()),
		TenantID:      key.Tenant,
		ScheduleType:  key.ScheduleType,
		ScheduledDate: key.ScheduledDate,
		PeriodStart:   window.Start,
		PeriodEnd:     window.End,
		ReferenceCode: g.ids.NewReference(batchRefPrefix),
		Operator:      operator,
		CreatedAt:     now,
	}
	if err := tx.CreateBatch(ctx, batch); err != nil {
		if errors.Is(err, generic.ErrDuplicateKey) {
			return nil, &BatchExistsError{Key: key}
		}
		return nil, fmt.Errorf("create batch: %w", err)
	}

	writers, err := tx.ActiveWriters(ctx, key.Tenant, key.ScheduleType)
	if err != nil {
		return nil, &SourceError{Source: SourceWriters, Err: err}
	}

	plans, err := g.readPhase(ctx, tx, key, window, writers)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Batch: batch, Window: window, TotalAmount: generic.ZeroMoney()}
	for _, p := range plans {
		switch {
		case p.wallet == nil:
			log.Warn("writer has no wallet, skipping", zap.String("writer_id", string(p.writer.ID)))
			result.SkippedWriters = append(result.SkippedWriters, p.writer.ID)
			continue
		case !p.summary.GrandTotal.IsPositive():
			result.ZeroEarningWriters = append(result.ZeroEarningWriters, p.writer.ID)
			if p.summary.Shortfall.IsPositive() {
				result.Shortfalls = append(result.Shortfalls, Shortfall{
					WriterID: p.writer.ID,
					RawTotal: p.summary.RawTotal,
					Amount:   p.summary.Shortfall,
				})
			}
			continue
		}

		payment := g.newPayment(batch, p, now)
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return nil, fmt.Errorf("create payment for writer %s: %w", p.writer.ID, err)
		}
		result.Payments = append(result.Payments, payment)
		result.TotalAmount = result.TotalAmount.Add(payment.TotalAmount)
	}
	return result, nil
}

// readPhase validates writers, resolves wallets and aggregates earnings in
// parallel. It only reads; results come back ordered by writer id.
func (g *Generator) readPhase(ctx context.Context, tx Store, key BatchKey, window generic.Period, writers []WriterProfile) ([]writerPlan, error) {
	for _, w := range writers {
		if err := w.Validate(key.Tenant, key.ScheduleType); err != nil {
			return nil, err
		}
	}

	plans := make([]writerPlan, len(writers))
	agg := NewAggregator(tx, g.logger)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, w := range writers {
		eg.Go(func() error {
			plans[i].writer = w
			wallet, err := tx.WalletForWriter(egCtx, w)
			if err != nil {
				return &SourceError{Source: SourceWallets, Writer: w.ID, Err: err}
			}
			if wallet == nil {
				return nil
			}
			if err := wallet.Validate(w); err != nil {
				return validated(err, w.ID)
			}
			summary, err := agg.Aggregate(egCtx, *wallet, window.Start, window.End, key.Tenant)
			if err != nil {
				return err
			}
			plans[i].wallet = wallet
			plans[i].summary = summary
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(plans, func(a, b writerPlan) int { return strings.Compare(string(a.writer.ID), string(b.writer.ID)) })
	return plans, nil
}

func (g *Generator) newPayment(batch PaymentBatch, p writerPlan, now time.Time) ScheduledPayment {
	payment := ScheduledPayment{
		ID:            PaymentID(g.ids.NewID()),
		BatchID:       batch.ID,
		WalletID:      p.wallet.ID,
		WriterID:      p.writer.ID,
		TotalAmount:   p.summary.GrandTotal,
		Status:        PaymentPending,
		ReferenceCode: g.ids.NewReference(paymentRefPrefix),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, line := range p.summary.Lines() {
		payment.LineItems = append(payment.LineItems, EarningLineItem{
			ID:         g.ids.NewID(),
			PaymentID:  payment.ID,
			Kind:       line.Kind,
			SourceID:   line.SourceID,
			Amount:     line.Amount,
			OccurredAt: line.OccurredAt,
		})
	}
	return payment
}

/*
Package scheduler triggers batch generation on payment dates.

PURPOSE:
  Wakes up on an RRULE recurrence, and for every configured (tenant,
  schedule type) for which today is a payment date, dispatches generation
  of that day's batch unless it already exists. Today is a payment date
  when the tenant's anchors say so, or when any active writer of that
  schedule type has their own date preference landing on it. Writers
  without a preference follow the tenant's anchors.

DESIGN:
  - Runs a background goroutine; the next wake-up is the rule's next occurrence
  - Runs once immediately on start so a restart on a payment date catches up
  - Skips keys that already have a batch (checked, then enforced by the
    store's unique index if two schedulers race)
  - Dispatch is pluggable: in-process generation or an asynq task

USAGE:
  s := scheduler.New(store, scheduler.InlineDispatcher{Generator: gen}, targets, rule, logger)
  s.Start(ctx)
  // ... later
  s.Stop()

SEE ALSO:
  - payout/schedule.go: IsPaymentDate and anchor defaults
  - jobs: asynq dispatcher and worker
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// Dispatcher hands a generation request to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req payout.GenerateRequest) error
}

// BatchGenerator is the part of payout.Generator the inline dispatcher uses.
type BatchGenerator interface {
	Generate(ctx context.Context, req payout.GenerateRequest) (*payout.BatchResult, error)
}

// InlineDispatcher generates the batch in the scheduler's goroutine.
type InlineDispatcher struct {
	Generator BatchGenerator
}

func (d InlineDispatcher) Dispatch(ctx context.Context, req payout.GenerateRequest) error {
	_, err := d.Generator.Generate(ctx, req)
	return err
}

// Directory is what the scheduler reads: existing batches and the active
// writers whose date preferences can make a day due.
type Directory interface {
	FindBatch(ctx context.Context, key payout.BatchKey) (*payout.PaymentBatch, error)
	ActiveWriters(ctx context.Context, tenant payout.TenantID, scheduleType payout.ScheduleType) ([]payout.WriterProfile, error)
}

// Target is one (tenant, schedule type) the scheduler watches. Preference
// is the tenant-level anchor list, parsed like a writer preference.
type Target struct {
	Tenant       payout.TenantID
	ScheduleType payout.ScheduleType
	Preference   string
}

// RunSummary is the outcome of one check.
type RunSummary struct {
	Date          time.Time
	Dispatched    int
	AlreadyExists int
	NotDue        int
	Failed        int
	Errors        []error
}

// BatchScheduler runs generation on payment dates.
type BatchScheduler struct {
	store      Directory
	dispatcher Dispatcher
	targets    []Target
	rule       *rrule.RRule
	logger     *zap.Logger

	// Operator is recorded on dispatched batches.
	Operator string
	// Now is the clock; tests replace it.
	Now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store Directory, dispatcher Dispatcher, targets []Target, rule *rrule.RRule, logger *zap.Logger) *BatchScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchScheduler{
		store:      store,
		dispatcher: dispatcher,
		targets:    targets,
		rule:       rule,
		logger:     logger.Named("scheduler"),
		Operator:   "scheduler",
		Now:        time.Now,
	}
}

// ParseRule parses an RRULE string anchored at dtstart.
func ParseRule(rule string, dtstart time.Time) (*rrule.RRule, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("parse rule %q: %w", rule, err)
	}
	r.DTStart(dtstart.UTC().Truncate(time.Second))
	return r, nil
}

// Start begins the scheduler. It is a no-op if already running.
func (s *BatchScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("started", zap.String("rule", s.rule.String()), zap.Int("targets", len(s.targets)))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *BatchScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.logger.Info("stopped")
}

// NextRun returns the first wake-up after t, or the zero time when the rule
// has no further occurrences.
func (s *BatchScheduler) NextRun(t time.Time) time.Time {
	return s.rule.After(t, false)
}

func (s *BatchScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		next := s.NextRun(s.Now())
		if next.IsZero() {
			s.logger.Warn("rule has no further occurrences, exiting")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			s.RunNow(ctx)
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// RunNow checks every target once for today's date.
func (s *BatchScheduler) RunNow(ctx context.Context) RunSummary {
	today := generic.DateOf(s.Now())
	summary := RunSummary{Date: today}

	for _, t := range s.targets {
		log := s.logger.With(
			zap.String("tenant_id", string(t.Tenant)),
			zap.String("schedule_type", string(t.ScheduleType)),
			zap.String("scheduled_date", generic.FormatDate(today)))

		due, err := s.due(ctx, t, today, log)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, err)
			log.Error("writer lookup failed", zap.Error(err))
			continue
		}
		if !due {
			summary.NotDue++
			continue
		}
		if anchors, defaulted := payout.ParseAnchors(t.Preference, t.ScheduleType); defaulted && t.Preference != "" {
			log.Warn("malformed anchor preference, using default", zap.String("preference", t.Preference), zap.Ints("anchors", anchors))
		}

		req := payout.GenerateRequest{Tenant: t.Tenant, ScheduleType: t.ScheduleType, ScheduledDate: today, Operator: s.Operator}
		existing, err := s.store.FindBatch(ctx, req.Key())
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, err)
			log.Error("batch lookup failed", zap.Error(err))
			continue
		}
		if existing != nil {
			summary.AlreadyExists++
			continue
		}

		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			if errors.Is(err, payout.ErrBatchExists) {
				summary.AlreadyExists++
				continue
			}
			summary.Failed++
			summary.Errors = append(summary.Errors, err)
			log.Error("dispatch failed", zap.Error(err))
			continue
		}
		summary.Dispatched++
		log.Info("batch dispatched")
	}

	if summary.Dispatched > 0 || summary.AlreadyExists > 0 || summary.Failed > 0 {
		s.logger.Info("run completed",
			zap.Time("date", today),
			zap.Int("dispatched", summary.Dispatched),
			zap.Int("already_exists", summary.AlreadyExists),
			zap.Int("failed", summary.Failed))
	}
	return summary
}

// due reports whether today is a payment date for t, either by the tenant's
// anchors or by the own preference of one of its active writers.
func (s *BatchScheduler) due(ctx context.Context, t Target, today time.Time, log *zap.Logger) (bool, error) {
	if payout.IsPaymentDate(t.Preference, t.ScheduleType, today) {
		return true, nil
	}
	writers, err := s.store.ActiveWriters(ctx, t.Tenant, t.ScheduleType)
	if err != nil {
		return false, fmt.Errorf("active writers of %s/%s: %w", t.Tenant, t.ScheduleType, err)
	}
	for _, w := range writers {
		if w.DatePreference != "" && payout.IsPaymentDate(w.DatePreference, t.ScheduleType, today) {
			log.Debug("due by writer preference", zap.String("writer_id", string(w.ID)), zap.String("preference", w.DatePreference))
			return true, nil
		}
	}
	return false, nil
}

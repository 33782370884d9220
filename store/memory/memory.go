// Package memory provides an in-memory payout.TxStore for tests and dry runs.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	ops
	mu sync.RWMutex
	st *state
}

type batchKey struct {
	tenant       payout.TenantID
	scheduleType payout.ScheduleType
	date         string
}

func keyOf(k payout.BatchKey) batchKey {
	return batchKey{tenant: k.Tenant, scheduleType: k.ScheduleType, date: generic.FormatDate(k.ScheduledDate)}
}

type lineKey struct {
	kind     payout.LineKind
	sourceID string
}

// state holds every table. Values are stored by value and replaced, never
// mutated in place, so a shallow clone is a consistent snapshot.
type state struct {
	writers  map[payout.WriterID]payout.WriterProfile
	wallets  map[payout.WalletID]payout.Wallet
	entries  []payout.WalletEntry
	orders   map[string]payout.Order
	tips     map[string]payout.Tip
	fines    map[string]payout.Fine
	batches  map[payout.BatchID]payout.PaymentBatch
	keys     map[batchKey]payout.BatchID
	payments map[payout.PaymentID]payout.ScheduledPayment
	links    map[lineKey][]payout.PaymentID
}

func newState() *state {
	return &state{
		writers:  make(map[payout.WriterID]payout.WriterProfile),
		wallets:  make(map[payout.WalletID]payout.Wallet),
		orders:   make(map[string]payout.Order),
		tips:     make(map[string]payout.Tip),
		fines:    make(map[string]payout.Fine),
		batches:  make(map[payout.BatchID]payout.PaymentBatch),
		keys:     make(map[batchKey]payout.BatchID),
		payments: make(map[payout.PaymentID]payout.ScheduledPayment),
		links:    make(map[lineKey][]payout.PaymentID),
	}
}

func (s *state) clone() *state {
	return &state{
		writers:  maps.Clone(s.writers),
		wallets:  maps.Clone(s.wallets),
		entries:  slices.Clone(s.entries),
		orders:   maps.Clone(s.orders),
		tips:     maps.Clone(s.tips),
		fines:    maps.Clone(s.fines),
		batches:  maps.Clone(s.batches),
		keys:     maps.Clone(s.keys),
		payments: maps.Clone(s.payments),
		links:    maps.Clone(s.links),
	}
}

func New() *Memory {
	m := &Memory{st: newState()}
	m.ops = ops{acc: m}
	return m
}

var _ payout.TxStore = (*Memory)(nil)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store is locked for the whole transaction; the view has its own lock
// so fn may read from several goroutines.
func (m *Memory) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	view := &txView{st: m.st}
	view.ops = ops{acc: view}
	if err := fn(view); err != nil {
		m.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

type txView struct {
	ops
	mu sync.RWMutex
	st *state
}

// read and write run f against the view's state under its lock.
func (v *txView) read(f func(*state)) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	f(v.st)
}

func (v *txView) write(f func(*state) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return f(v.st)
}

func (m *Memory) read(f func(*state)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f(m.st)
}

func (m *Memory) write(f func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(m.st)
}

// =============================================================================
// SEED WRITERS - external tables, never called by the engine itself
// =============================================================================

func (m *Memory) SaveWriter(_ context.Context, w payout.WriterProfile) error {
	return m.write(func(s *state) error { s.writers[w.ID] = w; return nil })
}

func (m *Memory) SaveWallet(_ context.Context, w payout.Wallet) error {
	return m.write(func(s *state) error { s.wallets[w.ID] = w; return nil })
}

func (m *Memory) AppendWalletEntry(_ context.Context, e payout.WalletEntry) error {
	return m.write(func(s *state) error {
		for _, existing := range s.entries {
			if existing.ID == e.ID {
				return fmt.Errorf("wallet entry %s: %w", e.ID, generic.ErrDuplicateKey)
			}
		}
		s.entries = append(s.entries, e)
		return nil
	})
}

func (m *Memory) SaveOrder(_ context.Context, o payout.Order) error {
	return m.write(func(s *state) error { s.orders[o.ID] = o; return nil })
}

func (m *Memory) SaveTip(_ context.Context, t payout.Tip) error {
	return m.write(func(s *state) error { s.tips[t.ID] = t; return nil })
}

func (m *Memory) SaveFine(_ context.Context, f payout.Fine) error {
	return m.write(func(s *state) error { s.fines[f.ID] = f; return nil })
}

// =============================================================================
// QUERIES (shared by the store and its transactional view)
// =============================================================================

func (s *state) activeWriters(tenant payout.TenantID, scheduleType payout.ScheduleType) []payout.WriterProfile {
	var out []payout.WriterProfile
	for _, w := range s.writers {
		if w.TenantID == tenant && w.ScheduleType == scheduleType && w.Active {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b payout.WriterProfile) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *state) walletForWriter(w payout.WriterProfile) *payout.Wallet {
	if w.WalletID != "" {
		if wallet, ok := s.wallets[w.WalletID]; ok {
			return &wallet
		}
		return nil
	}
	var found *payout.Wallet
	for _, wallet := range s.wallets {
		if wallet.WriterID == w.ID && wallet.TenantID == w.TenantID {
			if found == nil || wallet.ID < found.ID {
				found = &wallet
			}
		}
	}
	return found
}

// settled reports whether a unit of work is linked to a paid payment or a
// completed batch, ignoring links of q.IgnoreBatch.
func (s *state) settled(q payout.EarningsQuery, kind payout.LineKind, sourceID string) bool {
	if !q.ExcludeSettled {
		return false
	}
	for _, pid := range s.links[lineKey{kind: kind, sourceID: sourceID}] {
		p := s.payments[pid]
		b := s.batches[p.BatchID]
		if b.ID == q.IgnoreBatch || b.TenantID != q.Tenant {
			continue
		}
		if p.Status == payout.PaymentPaid || b.Completed {
			return true
		}
	}
	return false
}

func (s *state) ordersFor(q payout.EarningsQuery) []payout.Order {
	var out []payout.Order
	for _, o := range s.orders {
		if o.AssignedWriterID == q.Writer && o.TenantID == q.Tenant && o.Status == payout.OrderCompleted &&
			q.Window.Contains(o.CompletedAt) && !s.settled(q, payout.LineOrder, o.ID) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b payout.Order) int {
		return cmp.Or(a.CompletedAt.Compare(b.CompletedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *state) tipsFor(q payout.EarningsQuery) []payout.Tip {
	var out []payout.Tip
	for _, t := range s.tips {
		if t.WriterID == q.Writer && t.TenantID == q.Tenant && t.SettlementStatus == payout.TipCompleted &&
			q.Window.Contains(t.SettledAt) && !s.settled(q, payout.LineTip, t.ID) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b payout.Tip) int {
		return cmp.Or(a.SettledAt.Compare(b.SettledAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *state) bonusesFor(q payout.EarningsQuery) []payout.WalletEntry {
	var out []payout.WalletEntry
	for _, e := range s.entries {
		if e.WalletID == q.Wallet && e.TenantID == q.Tenant && e.Type == payout.WalletEntryBonus &&
			q.Window.Contains(e.CreatedAt) && !s.settled(q, payout.LineBonus, e.ID) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b payout.WalletEntry) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *state) finesFor(q payout.EarningsQuery) []payout.Fine {
	var out []payout.Fine
	for _, f := range s.fines {
		if f.WriterID == q.Writer && f.TenantID == q.Tenant &&
			q.Window.Contains(f.CreatedAt) && !s.settled(q, payout.LineFine, f.ID) {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b payout.Fine) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *state) createBatch(b payout.PaymentBatch) error {
	k := keyOf(b.Key())
	if _, taken := s.keys[k]; taken {
		return fmt.Errorf("batch %s: %w", b.Key(), generic.ErrDuplicateKey)
	}
	if _, taken := s.batches[b.ID]; taken {
		return fmt.Errorf("batch id %s: %w", b.ID, generic.ErrDuplicateKey)
	}
	s.batches[b.ID] = b
	s.keys[k] = b.ID
	return nil
}

func (s *state) createPayment(p payout.ScheduledPayment) error {
	if _, ok := s.batches[p.BatchID]; !ok {
		return fmt.Errorf("batch %s: %w", p.BatchID, generic.ErrNotFound)
	}
	if _, taken := s.payments[p.ID]; taken {
		return fmt.Errorf("payment id %s: %w", p.ID, generic.ErrDuplicateKey)
	}
	seen := make(map[lineKey]bool, len(p.LineItems))
	for _, li := range p.LineItems {
		lk := lineKey{kind: li.Kind, sourceID: li.SourceID}
		if seen[lk] {
			return fmt.Errorf("line item %s/%s in payment %s: %w", li.Kind, li.SourceID, p.ID, generic.ErrDuplicateKey)
		}
		seen[lk] = true
	}
	p.LineItems = slices.Clone(p.LineItems)
	s.payments[p.ID] = p
	for lk := range seen {
		s.links[lk] = append(slices.Clone(s.links[lk]), p.ID)
	}
	return nil
}

func (s *state) getBatch(id payout.BatchID) *payout.PaymentBatch {
	b, ok := s.batches[id]
	if !ok {
		return nil
	}
	return &b
}

func (s *state) findBatch(key payout.BatchKey) *payout.PaymentBatch {
	id, ok := s.keys[keyOf(key)]
	if !ok {
		return nil
	}
	return s.getBatch(id)
}

func (s *state) listBatches(f payout.BatchFilter) []payout.PaymentBatch {
	var out []payout.PaymentBatch
	for _, b := range s.batches {
		switch {
		case f.Tenant != "" && b.TenantID != f.Tenant:
		case f.ScheduleType != "" && b.ScheduleType != f.ScheduleType:
		case !f.From.IsZero() && b.ScheduledDate.Before(generic.DateOf(f.From)):
		case !f.To.IsZero() && b.ScheduledDate.After(generic.DateOf(f.To)):
		case f.Completed != nil && b.Completed != *f.Completed:
		default:
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b payout.PaymentBatch) int {
		return cmp.Or(a.ScheduledDate.Compare(b.ScheduledDate),
			cmp.Compare(a.TenantID, b.TenantID),
			cmp.Compare(a.ScheduleType, b.ScheduleType))
	})
	return out
}

func (s *state) paymentsForBatch(id payout.BatchID) []payout.ScheduledPayment {
	var out []payout.ScheduledPayment
	for _, p := range s.payments {
		if p.BatchID == id {
			p.LineItems = slices.Clone(p.LineItems)
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b payout.ScheduledPayment) int {
		return cmp.Or(cmp.Compare(a.WriterID, b.WriterID), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *state) getPayment(id payout.PaymentID) *payout.ScheduledPayment {
	p, ok := s.payments[id]
	if !ok {
		return nil
	}
	p.LineItems = slices.Clone(p.LineItems)
	return &p
}

func (s *state) markBatchCompleted(id payout.BatchID, by string, at time.Time) error {
	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, generic.ErrNotFound)
	}
	if b.Completed {
		return fmt.Errorf("batch %s: %w", id, generic.ErrConcurrentModification)
	}
	b.Completed = true
	b.CompletedAt = &at
	b.CompletedBy = by
	s.batches[id] = b
	return nil
}

// settledElsewhere returns the batch's line items that another batch of the
// same tenant has already settled.
func (s *state) settledElsewhere(batchID payout.BatchID, paymentID payout.PaymentID) []payout.EarningLineItem {
	b, ok := s.batches[batchID]
	if !ok {
		return nil
	}
	q := payout.EarningsQuery{Tenant: b.TenantID, ExcludeSettled: true, IgnoreBatch: batchID}
	var out []payout.EarningLineItem
	for _, p := range s.paymentsForBatch(batchID) {
		if paymentID != "" && p.ID != paymentID {
			continue
		}
		for _, li := range p.LineItems {
			if s.settled(q, li.Kind, li.SourceID) {
				out = append(out, li)
			}
		}
	}
	return out
}

func (s *state) updatePaymentStatus(id payout.PaymentID, from, to payout.PaymentStatus, at time.Time) error {
	p, ok := s.payments[id]
	if !ok {
		return fmt.Errorf("payment %s: %w", id, generic.ErrNotFound)
	}
	if p.Status != from {
		return fmt.Errorf("payment %s is %s, expected %s: %w", id, p.Status, from, generic.ErrConcurrentModification)
	}
	p.Status = to
	p.UpdatedAt = at
	s.payments[id] = p
	return nil
}

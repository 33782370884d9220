package payout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const tenant = payout.TenantID("acme")

var (
	// march15 is a bi-weekly scheduled date; its window is March 1-14.
	march15 = generic.Date(2025, time.March, 15)
	fixedAt = time.Date(2025, time.March, 15, 6, 0, 0, 0, time.UTC)
)

func at(month time.Month, day, hour int) time.Time {
	return time.Date(2025, month, day, hour, 0, 0, 0, time.UTC)
}

func money(s string) generic.Money { return generic.MustMoney(s) }

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Memory
	ids   *generic.SequentialIDs
	gen   *payout.Generator
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		ids:   &generic.SequentialIDs{Prefix: "id-"},
	}
	f.gen = f.generator(f.store)
	return f
}

func (f *fixture) generator(store payout.TxStore) *payout.Generator {
	return payout.NewGenerator(store, f.ids,
		payout.WithGeneratorLogger(zap.NewNop()),
		payout.WithConcurrency(4),
		payout.WithClock(func() time.Time { return fixedAt }))
}

// writer saves an active writer with wallet "wal-<id>".
func (f *fixture) writer(id string, st payout.ScheduleType) payout.WriterID {
	f.t.Helper()
	w := payout.WriterID(id)
	require.NoError(f.t, f.store.SaveWriter(f.ctx, payout.WriterProfile{ID: w, TenantID: tenant, ScheduleType: st, Active: true}))
	require.NoError(f.t, f.store.SaveWallet(f.ctx, payout.Wallet{ID: walletOf(w), WriterID: w, TenantID: tenant}))
	return w
}

func walletOf(w payout.WriterID) payout.WalletID { return payout.WalletID("wal-" + string(w)) }

func (f *fixture) order(id string, w payout.WriterID, amount string, completedAt time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveOrder(f.ctx, payout.Order{
		ID: id, AssignedWriterID: w, TenantID: tenant, Status: payout.OrderCompleted,
		CompletedAt: completedAt, PayoutAmount: money(amount),
	}))
}

func (f *fixture) tip(id string, w payout.WriterID, amount string, settledAt time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveTip(f.ctx, payout.Tip{
		ID: id, WriterID: w, TenantID: tenant, SettlementStatus: payout.TipCompleted,
		SettledAt: settledAt, WriterShare: money(amount),
	}))
}

func (f *fixture) bonus(id string, w payout.WriterID, amount string, createdAt time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.store.AppendWalletEntry(f.ctx, payout.WalletEntry{
		ID: id, WalletID: walletOf(w), TenantID: tenant, Type: payout.WalletEntryBonus,
		Amount: money(amount), CreatedAt: createdAt,
	}))
}

func (f *fixture) fine(id string, w payout.WriterID, amount string, createdAt time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveFine(f.ctx, payout.Fine{
		ID: id, WriterID: w, TenantID: tenant, Status: "open",
		CreatedAt: createdAt, Amount: money(amount),
	}))
}

func (f *fixture) generate(st payout.ScheduleType, date time.Time) *payout.BatchResult {
	f.t.Helper()
	result, err := f.gen.GenerateBatch(f.ctx, tenant, st, date, "ops@acme")
	require.NoError(f.t, err)
	return result
}

func (f *fixture) batchCount() int {
	f.t.Helper()
	batches, err := f.store.ListBatches(f.ctx, payout.BatchFilter{})
	require.NoError(f.t, err)
	return len(batches)
}

// =============================================================================
// FAULTY STORE - overrides single source reads inside transactions
// =============================================================================
// tipsFn receives the transactional view; calling the outer store from
// inside WithTx would block on the store lock.

type faultyStore struct {
	*memory.Memory
	tipsFn func(ctx context.Context, tx payout.Store, q payout.EarningsQuery) ([]payout.Tip, error)
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	return s.Memory.WithTx(ctx, func(tx payout.Store) error {
		return fn(&faultyView{Store: tx, tipsFn: s.tipsFn})
	})
}

type faultyView struct {
	payout.Store
	tipsFn func(ctx context.Context, tx payout.Store, q payout.EarningsQuery) ([]payout.Tip, error)
}

func (v *faultyView) Tips(ctx context.Context, q payout.EarningsQuery) ([]payout.Tip, error) {
	if v.tipsFn != nil {
		return v.tipsFn(ctx, v.Store, q)
	}
	return v.Store.Tips(ctx, q)
}

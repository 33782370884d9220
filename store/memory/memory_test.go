package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/store/memory"
)

const tenant = payout.TenantID("acme")

var scheduled = generic.Date(2025, time.March, 15)

func batch(id string, date time.Time) payout.PaymentBatch {
	w := payout.SettlementWindow(payout.ScheduleBiWeekly, date)
	return payout.PaymentBatch{
		ID: payout.BatchID(id), TenantID: tenant, ScheduleType: payout.ScheduleBiWeekly,
		ScheduledDate: date, PeriodStart: w.Start, PeriodEnd: w.End, ReferenceCode: "PB-" + id,
	}
}

func payment(id, batchID string, sources ...string) payout.ScheduledPayment {
	p := payout.ScheduledPayment{
		ID: payout.PaymentID(id), BatchID: payout.BatchID(batchID), WalletID: "wal-a", WriterID: "writer-a",
		Status: payout.PaymentPending, ReferenceCode: "SP-" + id, TotalAmount: generic.ZeroMoney(),
	}
	for _, src := range sources {
		p.LineItems = append(p.LineItems, payout.EarningLineItem{
			ID: id + "-" + src, PaymentID: p.ID, Kind: payout.LineOrder, SourceID: src, Amount: generic.NewMoney(1000),
		})
		p.TotalAmount = p.TotalAmount.Add(generic.NewMoney(1000))
	}
	return p
}

func seedOrder(t *testing.T, m *memory.Memory, id string, day int) {
	t.Helper()
	require.NoError(t, m.SaveOrder(context.Background(), payout.Order{
		ID: id, AssignedWriterID: "writer-a", TenantID: tenant, Status: payout.OrderCompleted,
		CompletedAt: time.Date(2025, time.March, day, 12, 0, 0, 0, time.UTC), PayoutAmount: generic.NewMoney(1000),
	}))
}

func query(settled bool, ignore payout.BatchID) payout.EarningsQuery {
	return payout.EarningsQuery{
		Tenant: tenant, Writer: "writer-a", Wallet: "wal-a",
		Window:         payout.SettlementWindow(payout.ScheduleBiWeekly, scheduled),
		ExcludeSettled: settled, IgnoreBatch: ignore,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that creates a batch and a payment, then fails
	// WHEN: WithTx returns
	// THEN: Neither the batch nor the payment is visible

	ctx := context.Background()
	m := memory.New()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx payout.Store) error {
		require.NoError(t, tx.CreateBatch(ctx, batch("b1", scheduled)))
		require.NoError(t, tx.CreatePayment(ctx, payment("p1", "b1", "ord-1")))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	got, err := m.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Nil(t, got)
	p, err := m.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestWithTx_Commits(t *testing.T) {
	ctx := context.Background()
	m := memory.New()

	err := m.WithTx(ctx, func(tx payout.Store) error {
		return tx.CreateBatch(ctx, batch("b1", scheduled))
	})

	require.NoError(t, err)
	got, err := m.FindBatch(ctx, payout.BatchKey{Tenant: tenant, ScheduleType: payout.ScheduleBiWeekly, ScheduledDate: scheduled})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, payout.BatchID("b1"), got.ID)
}

// =============================================================================
// UNIQUENESS
// =============================================================================

func TestCreateBatch_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.CreateBatch(ctx, batch("b1", scheduled)))

	err := m.CreateBatch(ctx, batch("b2", scheduled))

	assert.ErrorIs(t, err, generic.ErrDuplicateKey)
}

func TestCreatePayment_DuplicateLineInPayment(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.CreateBatch(ctx, batch("b1", scheduled)))

	err := m.CreatePayment(ctx, payment("p1", "b1", "ord-1", "ord-1"))

	assert.ErrorIs(t, err, generic.ErrDuplicateKey)
}

func TestCreatePayment_UnknownBatch(t *testing.T) {
	err := memory.New().CreatePayment(context.Background(), payment("p1", "nope"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestAppendWalletEntry_Duplicate(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	e := payout.WalletEntry{ID: "e1", WalletID: "wal-a", TenantID: tenant, Type: payout.WalletEntryBonus}
	require.NoError(t, m.AppendWalletEntry(ctx, e))

	assert.ErrorIs(t, m.AppendWalletEntry(ctx, e), generic.ErrDuplicateKey)
}

// =============================================================================
// SETTLED EXCLUSION
// =============================================================================

func TestOrders_SettledExclusion(t *testing.T) {
	// GIVEN: ord-1 in a pending payment of an open batch, ord-2 in a paid
	//        payment, ord-3 in a completed batch, ord-4 unlinked
	// WHEN: Querying with and without the exclusion
	// THEN: Only paid or completed links hide a record, except links of
	//       the ignored batch

	ctx := context.Background()
	m := memory.New()
	for i, id := range []string{"ord-1", "ord-2", "ord-3", "ord-4"} {
		seedOrder(t, m, id, 2+i)
	}
	require.NoError(t, m.CreateBatch(ctx, batch("open", scheduled)))
	require.NoError(t, m.CreateBatch(ctx, batch("paid", scheduled.AddDate(0, 0, 1))))
	require.NoError(t, m.CreateBatch(ctx, batch("done", scheduled.AddDate(0, 0, 2))))
	require.NoError(t, m.CreatePayment(ctx, payment("p-open", "open", "ord-1")))
	require.NoError(t, m.CreatePayment(ctx, payment("p-paid", "paid", "ord-2")))
	require.NoError(t, m.CreatePayment(ctx, payment("p-done", "done", "ord-3")))
	require.NoError(t, m.UpdatePaymentStatus(ctx, "p-paid", payout.PaymentPending, payout.PaymentPaid, time.Now()))
	require.NoError(t, m.MarkBatchCompleted(ctx, "done", "ops", time.Now()))

	ids := func(q payout.EarningsQuery) []string {
		orders, err := m.Orders(ctx, q)
		require.NoError(t, err)
		var out []string
		for _, o := range orders {
			out = append(out, o.ID)
		}
		return out
	}

	assert.Equal(t, []string{"ord-1", "ord-2", "ord-3", "ord-4"}, ids(query(false, "")))
	assert.Equal(t, []string{"ord-1", "ord-4"}, ids(query(true, "")))
	assert.Equal(t, []string{"ord-1", "ord-3", "ord-4"}, ids(query(true, "done")))
}

// =============================================================================
// COMPARE-AND-SET UPDATES
// =============================================================================

func TestUpdatePaymentStatus_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.CreateBatch(ctx, batch("b1", scheduled)))
	require.NoError(t, m.CreatePayment(ctx, payment("p1", "b1", "ord-1")))

	err := m.UpdatePaymentStatus(ctx, "p1", payout.PaymentFailed, payout.PaymentPaid, time.Now())
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	err = m.UpdatePaymentStatus(ctx, "nope", payout.PaymentPending, payout.PaymentPaid, time.Now())
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestMarkBatchCompleted_Twice(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.CreateBatch(ctx, batch("b1", scheduled)))

	require.NoError(t, m.MarkBatchCompleted(ctx, "b1", "ops", time.Now()))
	assert.ErrorIs(t, m.MarkBatchCompleted(ctx, "b1", "ops", time.Now()), generic.ErrConcurrentModification)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestWalletForWriter_Resolution(t *testing.T) {
	// GIVEN: A writer with two wallets and no profile reference
	// WHEN: Resolving the wallet, then with an explicit reference
	// THEN: The lowest wallet id wins, an explicit reference is honored,
	//       and a dangling reference resolves to no wallet

	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.SaveWallet(ctx, payout.Wallet{ID: "wal-b", WriterID: "writer-a", TenantID: tenant}))
	require.NoError(t, m.SaveWallet(ctx, payout.Wallet{ID: "wal-a", WriterID: "writer-a", TenantID: tenant}))
	require.NoError(t, m.SaveWallet(ctx, payout.Wallet{ID: "wal-0", WriterID: "writer-a", TenantID: "globex"}))

	w := payout.WriterProfile{ID: "writer-a", TenantID: tenant}
	got, err := m.WalletForWriter(ctx, w)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, payout.WalletID("wal-a"), got.ID)

	w.WalletID = "wal-b"
	got, err = m.WalletForWriter(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, payout.WalletID("wal-b"), got.ID)

	w.WalletID = "wal-gone"
	got, err = m.WalletForWriter(ctx, w)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListBatches_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.CreateBatch(ctx, batch("late", scheduled.AddDate(0, 1, 0))))
	require.NoError(t, m.CreateBatch(ctx, batch("early", scheduled)))

	all, err := m.ListBatches(ctx, payout.BatchFilter{Tenant: tenant})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, payout.BatchID("early"), all[0].ID)

	ranged, err := m.ListBatches(ctx, payout.BatchFilter{From: scheduled.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, payout.BatchID("late"), ranged[0].ID)

	none, err := m.ListBatches(ctx, payout.BatchFilter{Tenant: "globex"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSettledElsewhere(t *testing.T) {
	// GIVEN: ord-1 in a completed batch and again in an open one
	// WHEN: Asking the open batch which lines are settled elsewhere
	// THEN: Only its ord-1 line; the completed batch ignores its own links

	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.CreateBatch(ctx, batch("done", scheduled)))
	require.NoError(t, m.CreateBatch(ctx, batch("open", scheduled.AddDate(0, 0, 5))))
	require.NoError(t, m.CreatePayment(ctx, payment("p-done", "done", "ord-1")))
	require.NoError(t, m.CreatePayment(ctx, payment("p-open", "open", "ord-1", "ord-9")))
	require.NoError(t, m.MarkBatchCompleted(ctx, "done", "ops", time.Now()))

	lines, err := m.SettledElsewhere(ctx, "open", "")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "p-open-ord-1", lines[0].ID)

	lines, err = m.SettledElsewhere(ctx, "done", "")
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = m.SettledElsewhere(ctx, "missing", "")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

package memory

import (
	"context"
	"time"

	"github.com/warp/payout-engine/payout"
)

// accessor is implemented by Memory (store lock) and txView (view lock).
type accessor interface {
	read(func(*state))
	write(func(*state) error) error
}

// ops implements payout.Store on top of an accessor.
type ops struct {
	acc accessor
}

func (o ops) ActiveWriters(_ context.Context, tenant payout.TenantID, scheduleType payout.ScheduleType) (out []payout.WriterProfile, _ error) {
	o.acc.read(func(s *state) { out = s.activeWriters(tenant, scheduleType) })
	return out, nil
}

func (o ops) WalletForWriter(_ context.Context, w payout.WriterProfile) (out *payout.Wallet, _ error) {
	o.acc.read(func(s *state) { out = s.walletForWriter(w) })
	return out, nil
}

func (o ops) Orders(_ context.Context, q payout.EarningsQuery) (out []payout.Order, _ error) {
	o.acc.read(func(s *state) { out = s.ordersFor(q) })
	return out, nil
}

func (o ops) Tips(_ context.Context, q payout.EarningsQuery) (out []payout.Tip, _ error) {
	o.acc.read(func(s *state) { out = s.tipsFor(q) })
	return out, nil
}

func (o ops) Bonuses(_ context.Context, q payout.EarningsQuery) (out []payout.WalletEntry, _ error) {
	o.acc.read(func(s *state) { out = s.bonusesFor(q) })
	return out, nil
}

func (o ops) Fines(_ context.Context, q payout.EarningsQuery) (out []payout.Fine, _ error) {
	o.acc.read(func(s *state) { out = s.finesFor(q) })
	return out, nil
}

func (o ops) CreateBatch(_ context.Context, b payout.PaymentBatch) error {
	return o.acc.write(func(s *state) error { return s.createBatch(b) })
}

func (o ops) CreatePayment(_ context.Context, p payout.ScheduledPayment) error {
	return o.acc.write(func(s *state) error { return s.createPayment(p) })
}

func (o ops) GetBatch(_ context.Context, id payout.BatchID) (out *payout.PaymentBatch, _ error) {
	o.acc.read(func(s *state) { out = s.getBatch(id) })
	return out, nil
}

func (o ops) FindBatch(_ context.Context, key payout.BatchKey) (out *payout.PaymentBatch, _ error) {
	o.acc.read(func(s *state) { out = s.findBatch(key) })
	return out, nil
}

func (o ops) ListBatches(_ context.Context, f payout.BatchFilter) (out []payout.PaymentBatch, _ error) {
	o.acc.read(func(s *state) { out = s.listBatches(f) })
	return out, nil
}

func (o ops) PaymentsForBatch(_ context.Context, id payout.BatchID) (out []payout.ScheduledPayment, _ error) {
	o.acc.read(func(s *state) { out = s.paymentsForBatch(id) })
	return out, nil
}

func (o ops) GetPayment(_ context.Context, id payout.PaymentID) (out *payout.ScheduledPayment, _ error) {
	o.acc.read(func(s *state) { out = s.getPayment(id) })
	return out, nil
}

func (o ops) MarkBatchCompleted(_ context.Context, id payout.BatchID, by string, at time.Time) error {
	return o.acc.write(func(s *state) error { return s.markBatchCompleted(id, by, at) })
}

func (o ops) UpdatePaymentStatus(_ context.Context, id payout.PaymentID, from, to payout.PaymentStatus, at time.Time) error {
	return o.acc.write(func(s *state) error { return s.updatePaymentStatus(id, from, to, at) })
}

func (o ops) SettledElsewhere(_ context.Context, batch payout.BatchID, payment payout.PaymentID) (out []payout.EarningLineItem, _ error) {
	o.acc.read(func(s *state) { out = s.settledElsewhere(batch, payment) })
	return out, nil
}

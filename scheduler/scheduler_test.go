package scheduler_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/scheduler"
	"github.com/warp/payout-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req payout.GenerateRequest) error {
	return m.Called(ctx, req).Error(0)
}

func forKey(tenant payout.TenantID, st payout.ScheduleType) any {
	return mock.MatchedBy(func(req payout.GenerateRequest) bool {
		return req.Tenant == tenant && req.ScheduleType == st
	})
}

var march15 = time.Date(2025, time.March, 15, 2, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, store scheduler.Directory, d scheduler.Dispatcher, targets []scheduler.Target, now time.Time) *scheduler.BatchScheduler {
	t.Helper()
	rule, err := scheduler.ParseRule("FREQ=DAILY;BYHOUR=2;BYMINUTE=0;BYSECOND=0", generic.Date(2025, time.January, 1))
	require.NoError(t, err)
	s := scheduler.New(store, d, targets, rule, zap.NewNop())
	s.Now = func() time.Time { return now }
	return s
}

// =============================================================================
// RUN NOW
// =============================================================================

func TestRunNow_DispatchesDueTargetsOnly(t *testing.T) {
	// GIVEN: acme bi-weekly on the 1st and 15th, acme monthly on the 1st
	// WHEN: The scheduler runs on March 15
	// THEN: Only the bi-weekly batch is dispatched, stamped with the operator

	d := new(mockDispatcher)
	d.On("Dispatch", mock.Anything, forKey("acme", payout.ScheduleBiWeekly)).Return(nil).Once()

	s := newScheduler(t, memory.New(), d, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleBiWeekly, Preference: "1,15"},
		{Tenant: "acme", ScheduleType: payout.ScheduleMonthly, Preference: "1"},
	}, march15)
	s.Operator = "cron"

	summary := s.RunNow(context.Background())

	assert.Equal(t, generic.Date(2025, time.March, 15), summary.Date)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, 1, summary.NotDue)
	assert.Zero(t, summary.Failed)
	d.AssertExpectations(t)

	req := d.Calls[0].Arguments.Get(1).(payout.GenerateRequest)
	assert.Equal(t, "cron", req.Operator)
	assert.Equal(t, generic.Date(2025, time.March, 15), req.ScheduledDate)
}

func TestRunNow_SkipsExistingBatches(t *testing.T) {
	// GIVEN: The March 15 bi-weekly batch of acme already exists
	// WHEN: The scheduler runs again that day
	// THEN: Nothing is dispatched

	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateBatch(ctx, payout.PaymentBatch{
		ID: "b1", TenantID: "acme", ScheduleType: payout.ScheduleBiWeekly,
		ScheduledDate: generic.Date(2025, time.March, 15), ReferenceCode: "PB-1",
	}))
	d := new(mockDispatcher)

	s := newScheduler(t, store, d, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleBiWeekly, Preference: "1,15"},
	}, march15)

	summary := s.RunNow(ctx)

	assert.Equal(t, 1, summary.AlreadyExists)
	assert.Zero(t, summary.Dispatched)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestRunNow_CountsFailuresAndRaces(t *testing.T) {
	// GIVEN: Two due tenants; one dispatch loses a race, the other fails
	// WHEN: Running
	// THEN: The race counts as already existing, the failure is collected

	outage := errors.New("redis down")
	d := new(mockDispatcher)
	d.On("Dispatch", mock.Anything, forKey("acme", payout.ScheduleBiWeekly)).
		Return(&payout.BatchExistsError{}).Once()
	d.On("Dispatch", mock.Anything, forKey("globex", payout.ScheduleBiWeekly)).
		Return(outage).Once()

	s := newScheduler(t, memory.New(), d, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleBiWeekly, Preference: "15"},
		{Tenant: "globex", ScheduleType: payout.ScheduleBiWeekly, Preference: "15"},
	}, march15)

	summary := s.RunNow(context.Background())

	assert.Equal(t, 1, summary.AlreadyExists)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], outage)
	d.AssertExpectations(t)
}

func TestRunNow_MalformedPreferenceUsesDefaults(t *testing.T) {
	// GIVEN: A bi-weekly target with an unparseable preference
	// WHEN: Running on the 15th
	// THEN: The 1st/15th defaults apply and the batch is dispatched

	d := new(mockDispatcher)
	d.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()

	s := newScheduler(t, memory.New(), d, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleBiWeekly, Preference: "fifteenth"},
	}, march15)

	assert.Equal(t, 1, s.RunNow(context.Background()).Dispatched)
}

func TestRunNow_WriterPreferenceMakesDateDue(t *testing.T) {
	// GIVEN: acme bi-weekly on the 1st and 15th, one writer paid on the 5th
	//        and 20th, and globex whose only such writer is inactive
	// WHEN: The scheduler runs on March 20
	// THEN: acme is dispatched because of its writer; globex is not due

	ctx := context.Background()
	store := memory.New()
	for _, w := range []payout.WriterProfile{
		{ID: "writer-a", TenantID: "acme", ScheduleType: payout.ScheduleBiWeekly, Active: true},
		{ID: "writer-b", TenantID: "acme", ScheduleType: payout.ScheduleBiWeekly, DatePreference: "5,20", Active: true},
		{ID: "writer-c", TenantID: "acme", ScheduleType: payout.ScheduleMonthly, DatePreference: "20", Active: true},
		{ID: "writer-g", TenantID: "globex", ScheduleType: payout.ScheduleBiWeekly, DatePreference: "5,20", Active: false},
	} {
		require.NoError(t, store.SaveWriter(ctx, w))
	}
	d := new(mockDispatcher)
	d.On("Dispatch", mock.Anything, forKey("acme", payout.ScheduleBiWeekly)).Return(nil).Once()

	s := newScheduler(t, store, d, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleBiWeekly, Preference: "1,15"},
		{Tenant: "globex", ScheduleType: payout.ScheduleBiWeekly, Preference: "1,15"},
	}, time.Date(2025, time.March, 20, 2, 0, 0, 0, time.UTC))

	summary := s.RunNow(ctx)

	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, 1, summary.NotDue)
	d.AssertExpectations(t)
}

func TestRunNow_WriterWithoutPreferenceFollowsTenant(t *testing.T) {
	// GIVEN: A tenant paying bi-weekly on the 5th and 20th and a writer with
	//        no preference of their own
	// WHEN: Running on the 15th, the writer's would-be default
	// THEN: Not due

	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveWriter(ctx, payout.WriterProfile{ID: "writer-a", TenantID: "acme", ScheduleType: payout.ScheduleBiWeekly, Active: true}))
	d := new(mockDispatcher)

	s := newScheduler(t, store, d, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleBiWeekly, Preference: "5,20"},
	}, march15)

	assert.Equal(t, 1, s.RunNow(ctx).NotDue)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

// brokenDirectory fails writer lookups.
type brokenDirectory struct {
	*memory.Memory
}

func (brokenDirectory) ActiveWriters(context.Context, payout.TenantID, payout.ScheduleType) ([]payout.WriterProfile, error) {
	return nil, errors.New("connection reset")
}

func TestRunNow_WriterLookupFailure(t *testing.T) {
	d := new(mockDispatcher)
	s := newScheduler(t, brokenDirectory{memory.New()}, d, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleMonthly, Preference: "1"},
	}, march15)

	summary := s.RunNow(context.Background())

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.ErrorContains(t, summary.Errors[0], "connection reset")
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestRunNow_InlineDispatcherGeneratesBatch(t *testing.T) {
	// GIVEN: The inline dispatcher wired to a real generator
	// WHEN: Running twice on the same payment date
	// THEN: The first run generates the batch, the second finds it

	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveWriter(ctx, payout.WriterProfile{ID: "writer-a", TenantID: "acme", ScheduleType: payout.ScheduleMonthly, Active: true}))
	require.NoError(t, store.SaveWallet(ctx, payout.Wallet{ID: "wal-a", WriterID: "writer-a", TenantID: "acme"}))
	require.NoError(t, store.SaveOrder(ctx, payout.Order{
		ID: "ord-1", AssignedWriterID: "writer-a", TenantID: "acme", Status: payout.OrderCompleted,
		CompletedAt: time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC), PayoutAmount: generic.MustMoney("42"),
	}))
	gen := payout.NewGenerator(store, &generic.SequentialIDs{})

	s := newScheduler(t, store, scheduler.InlineDispatcher{Generator: gen}, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleMonthly, Preference: "15"},
	}, march15)

	first := s.RunNow(ctx)
	second := s.RunNow(ctx)

	assert.Equal(t, 1, first.Dispatched)
	assert.Equal(t, 1, second.AlreadyExists)
	b, err := store.FindBatch(ctx, payout.BatchKey{Tenant: "acme", ScheduleType: payout.ScheduleMonthly, ScheduledDate: generic.Date(2025, time.March, 15)})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "scheduler", b.Operator)
	payments, err := store.PaymentsForBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "42.00", payments[0].TotalAmount.String())
}

// =============================================================================
// RULE AND LIFECYCLE
// =============================================================================

func TestNextRun(t *testing.T) {
	s := newScheduler(t, memory.New(), new(mockDispatcher), nil, march15)

	next := s.NextRun(time.Date(2025, time.March, 15, 3, 0, 0, 0, time.UTC))

	assert.True(t, time.Date(2025, time.March, 16, 2, 0, 0, 0, time.UTC).Equal(next), "got %s", next)
}

func TestParseRule_Invalid(t *testing.T) {
	_, err := scheduler.ParseRule("FREQ=SOMETIMES", time.Now())
	assert.Error(t, err)
}

func TestStartStop_RunsImmediately(t *testing.T) {
	// GIVEN: A target due today
	// WHEN: Starting the scheduler
	// THEN: It dispatches right away, and Stop returns once the loop exits

	today := generic.Today()
	done := make(chan struct{})
	var once sync.Once
	d := new(mockDispatcher)
	d.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) { once.Do(func() { close(done) }) })

	s := newScheduler(t, memory.New(), d, []scheduler.Target{
		{Tenant: "acme", ScheduleType: payout.ScheduleMonthly, Preference: strconv.Itoa(today.Day())},
	}, time.Now())
	s.Now = time.Now

	s.Start(context.Background())
	s.Start(context.Background()) // no-op

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not dispatch on start")
	}
	s.Stop()
	s.Stop() // no-op
	d.AssertExpectations(t)
}

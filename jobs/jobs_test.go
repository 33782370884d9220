package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/jobs"
	"github.com/warp/payout-engine/payout"
)

// generatorFunc adapts a function to jobs.BatchGenerator.
type generatorFunc func(ctx context.Context, req payout.GenerateRequest) (*payout.BatchResult, error)

func (f generatorFunc) Generate(ctx context.Context, req payout.GenerateRequest) (*payout.BatchResult, error) {
	return f(ctx, req)
}

var request = payout.GenerateRequest{
	Tenant:        "acme",
	ScheduleType:  payout.ScheduleBiWeekly,
	ScheduledDate: generic.Date(2025, time.March, 15),
	Operator:      "scheduler",
}

func TestTaskID(t *testing.T) {
	assert.Equal(t, "batch:acme/bi-weekly/2025-03-15", jobs.TaskID(request))

	// Time of day does not change the key.
	req := request
	req.ScheduledDate = time.Date(2025, time.March, 15, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, jobs.TaskID(request), jobs.TaskID(req))
}

func TestNewGenerateTask_RoundTrip(t *testing.T) {
	// GIVEN: A generation request
	// WHEN: Building its task and decoding the payload on the worker side
	// THEN: The decoded request names the same batch

	task, err := jobs.NewGenerateTask(request, "")
	require.NoError(t, err)
	assert.Equal(t, jobs.TypeGenerateBatch, task.Type())

	var p jobs.GeneratePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, jobs.GeneratePayload{
		TenantID: "acme", ScheduleType: "bi-weekly", ScheduledDate: "2025-03-15", Operator: "scheduler",
	}, p)

	got, err := p.Request()
	require.NoError(t, err)
	assert.Equal(t, request.Key(), got.Key())
	assert.Equal(t, "scheduler", got.Operator)
}

func TestGeneratePayload_Request_Invalid(t *testing.T) {
	cases := map[string]jobs.GeneratePayload{
		"unknown schedule": {TenantID: "acme", ScheduleType: "weekly", ScheduledDate: "2025-03-15"},
		"bad date":         {TenantID: "acme", ScheduleType: "monthly", ScheduledDate: "15/03/2025"},
		"missing tenant":   {ScheduleType: "monthly", ScheduledDate: "2025-03-15"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Request()
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// ENQUEUER
// =============================================================================

// fakeClient records enqueued tasks and answers with err.
type fakeClient struct {
	tasks []*asynq.Task
	err   error
}

func (c *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	if c.err != nil {
		return nil, c.err
	}
	return &asynq.TaskInfo{ID: jobs.TaskID(request), Queue: "payouts", Type: task.Type()}, nil
}

func TestEnqueuer_Dispatch(t *testing.T) {
	client := &fakeClient{}

	err := jobs.NewEnqueuer(client, "payouts", nil).Dispatch(context.Background(), request)

	require.NoError(t, err)
	require.Len(t, client.tasks, 1)
	assert.Equal(t, jobs.TypeGenerateBatch, client.tasks[0].Type())
	assert.JSONEq(t, `{"tenant_id":"acme","schedule_type":"bi-weekly","scheduled_date":"2025-03-15","operator":"scheduler"}`,
		string(client.tasks[0].Payload()))
}

func TestEnqueuer_Dispatch_AlreadyQueued(t *testing.T) {
	// GIVEN: The queue already holds a task for the same batch key
	// WHEN: Dispatching again
	// THEN: No error; the earlier task will generate the batch

	for name, queueErr := range map[string]error{
		"task id conflict": asynq.ErrTaskIDConflict,
		"duplicate task":   fmt.Errorf("enqueue: %w", asynq.ErrDuplicateTask),
	} {
		t.Run(name, func(t *testing.T) {
			client := &fakeClient{err: queueErr}
			assert.NoError(t, jobs.NewEnqueuer(client, "", nil).Dispatch(context.Background(), request))
			assert.Len(t, client.tasks, 1)
		})
	}
}

func TestEnqueuer_Dispatch_QueueDown(t *testing.T) {
	outage := errors.New("dial tcp: connection refused")

	err := jobs.NewEnqueuer(&fakeClient{err: outage}, "", nil).Dispatch(context.Background(), request)

	assert.ErrorIs(t, err, outage)
	assert.ErrorContains(t, err, jobs.TaskID(request))
}

// =============================================================================
// HANDLER
// =============================================================================

func task(t *testing.T, body string) *asynq.Task {
	t.Helper()
	return asynq.NewTask(jobs.TypeGenerateBatch, []byte(body))
}

func TestProcessTask_Success(t *testing.T) {
	var got payout.GenerateRequest
	h := jobs.NewHandler(generatorFunc(func(_ context.Context, req payout.GenerateRequest) (*payout.BatchResult, error) {
		got = req
		return &payout.BatchResult{Batch: payout.PaymentBatch{ID: "b1"}, TotalAmount: generic.MustMoney("10")}, nil
	}), nil)
	tk, err := jobs.NewGenerateTask(request, "payouts")
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(context.Background(), tk))
	assert.Equal(t, request.Key(), got.Key())
}

func TestProcessTask_SkipsRetryForBadInput(t *testing.T) {
	// GIVEN: Tasks that can never succeed
	// WHEN: The worker processes them
	// THEN: The error wraps asynq.SkipRetry so the queue archives them

	calls := 0
	gen := generatorFunc(func(context.Context, payout.GenerateRequest) (*payout.BatchResult, error) {
		calls++
		return nil, &payout.BatchExistsError{Key: request.Key()}
	})
	h := jobs.NewHandler(gen, nil)

	cases := map[string]string{
		"malformed json":  `{"tenant_id":`,
		"invalid payload": `{"tenant_id":"acme","schedule_type":"weekly","scheduled_date":"2025-03-15"}`,
		"batch exists":    `{"tenant_id":"acme","schedule_type":"bi-weekly","scheduled_date":"2025-03-15"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			err := h.ProcessTask(context.Background(), task(t, body))
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}
	assert.Equal(t, 1, calls)
}

func TestProcessTask_RetriesServerErrors(t *testing.T) {
	outage := &payout.SourceError{Source: payout.SourceTips, Err: errors.New("connection reset")}
	h := jobs.NewHandler(generatorFunc(func(context.Context, payout.GenerateRequest) (*payout.BatchResult, error) {
		return nil, outage
	}), nil)
	tk, err := jobs.NewGenerateTask(request, "")
	require.NoError(t, err)

	err = h.ProcessTask(context.Background(), tk)

	assert.ErrorIs(t, err, payout.ErrSourceUnavailable)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

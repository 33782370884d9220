// Package jobs carries batch generation over an asynq queue.
//
// The scheduler enqueues one task per batch key; the task id is the key,
// so a second enqueue while the first task is pending or running is
// rejected by the queue before it ever reaches the store's unique index.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// TypeGenerateBatch is the asynq task type for batch generation.
const TypeGenerateBatch = "payout:batch:generate"

// DefaultQueue is used when no queue is configured.
const DefaultQueue = "payouts"

// GeneratePayload is the JSON body of a TypeGenerateBatch task.
type GeneratePayload struct {
	TenantID      string `json:"tenant_id"`
	ScheduleType  string `json:"schedule_type"`
	ScheduledDate string `json:"scheduled_date"` // YYYY-MM-DD
	Operator      string `json:"operator,omitempty"`
}

func payloadOf(req payout.GenerateRequest) GeneratePayload {
	return GeneratePayload{
		TenantID:      string(req.Tenant),
		ScheduleType:  string(req.ScheduleType),
		ScheduledDate: generic.FormatDate(req.ScheduledDate),
		Operator:      req.Operator,
	}
}

// Request converts the payload back into a validated request.
func (p GeneratePayload) Request() (payout.GenerateRequest, error) {
	st, err := payout.ParseScheduleType(p.ScheduleType)
	if err != nil {
		return payout.GenerateRequest{}, err
	}
	date, err := generic.ParseDate(p.ScheduledDate)
	if err != nil {
		return payout.GenerateRequest{}, fmt.Errorf("scheduled_date: %w", err)
	}
	req := payout.GenerateRequest{
		Tenant:        payout.TenantID(p.TenantID),
		ScheduleType:  st,
		ScheduledDate: date,
		Operator:      p.Operator,
	}
	return req, req.Validate()
}

// TaskID is the de-duplication id of a request's task.
func TaskID(req payout.GenerateRequest) string {
	return "batch:" + req.Key().String()
}

// NewGenerateTask builds the task for req.
func NewGenerateTask(req payout.GenerateRequest, queue string) (*asynq.Task, error) {
	body, err := json.Marshal(payloadOf(req))
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return asynq.NewTask(TypeGenerateBatch, body,
		asynq.TaskID(TaskID(req)),
		asynq.Queue(queue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(7*24*time.Hour),
	), nil
}

// =============================================================================
// ENQUEUER - scheduler.Dispatcher backed by asynq
// =============================================================================

// TaskClient is the part of *asynq.Client the enqueuer uses.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Enqueuer struct {
	client TaskClient
	queue  string
	logger *zap.Logger
}

func NewEnqueuer(client TaskClient, queue string, logger *zap.Logger) *Enqueuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enqueuer{client: client, queue: queue, logger: logger}
}

// Dispatch enqueues req. A task already queued for the same key is not an
// error: the earlier task will generate the batch.
func (e *Enqueuer) Dispatch(ctx context.Context, req payout.GenerateRequest) error {
	task, err := NewGenerateTask(req, e.queue)
	if err != nil {
		return fmt.Errorf("build task: %w", err)
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		e.logger.Info("generation already queued", zap.String("task_id", TaskID(req)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskID(req), err)
	}
	e.logger.Info("generation enqueued", zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return nil
}

// =============================================================================
// HANDLER - worker side
// =============================================================================

// BatchGenerator is the part of payout.Generator the handler uses.
type BatchGenerator interface {
	Generate(ctx context.Context, req payout.GenerateRequest) (*payout.BatchResult, error)
}

type Handler struct {
	generator BatchGenerator
	logger    *zap.Logger
}

func NewHandler(generator BatchGenerator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{generator: generator, logger: logger}
}

// ProcessTask implements asynq.Handler. Malformed payloads and keys that
// already have a batch are not retried; everything else is.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p GeneratePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	req, err := p.Request()
	if err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := h.generator.Generate(ctx, req)
	if err != nil {
		if payout.IsClientError(err) {
			h.logger.Warn("generation rejected", zap.String("key", req.Key().String()), zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	h.logger.Info("generation task done",
		zap.String("batch_id", string(result.Batch.ID)),
		zap.Int("payments", len(result.Payments)),
		zap.Stringer("total", result.TotalAmount))
	return nil
}

// NewMux routes task types to handlers.
func NewMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeGenerateBatch, h)
	return mux
}

// =============================================================================
// REDIS WIRING
// =============================================================================

// RedisOptions is the subset of redis settings the queue needs.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient opens the go-redis client shared by the asynq client.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// NewClient builds an asynq client on an existing go-redis client.
func NewClient(rdb redis.UniversalClient) *asynq.Client {
	return asynq.NewClientFromRedisClient(rdb)
}

// NewServer builds the worker server for queue.
func NewServer(opts RedisOptions, queue string, concurrency int, logger *zap.Logger) *asynq.Server {
	if queue == "" {
		queue = DefaultQueue
	}
	return asynq.NewServer(
		asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
			}),
			Logger: zapAdapter{logger.Sugar()},
		},
	)
}

// zapAdapter satisfies asynq.Logger.
type zapAdapter struct{ s *zap.SugaredLogger }

func (a zapAdapter) Debug(args ...interface{}) { a.s.Debug(args...) }
func (a zapAdapter) Info(args ...interface{})  { a.s.Info(args...) }
func (a zapAdapter) Warn(args ...interface{})  { a.s.Warn(args...) }
func (a zapAdapter) Error(args ...interface{}) { a.s.Error(args...) }
func (a zapAdapter) Fatal(args ...interface{}) { a.s.Fatal(args...) }

package main

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/jobs"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/scheduler"
	"github.com/warp/payout-engine/store/sqlite"
)

// =============================================================================
// LONG-RUNNING SERVICES (fx)
// =============================================================================

func scheduleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the batch scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runApp(cfg,
				fx.Provide(newDispatcher, newBatchScheduler),
				fx.Invoke(func(*scheduler.BatchScheduler) {}),
			)
		},
	}
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the asynq worker that generates queued batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runApp(cfg,
				fx.Provide(newWorkerServer),
				fx.Invoke(func(*asynq.Server) {}),
			)
		},
	}
}

// runApp runs an fx application with the shared providers until SIGINT/SIGTERM.
func runApp(cfg *config.Config, opts ...fx.Option) error {
	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			logging.New,
			newStore,
			newIDs,
			newGenerator,
		),
		fx.Options(opts...),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	<-app.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return app.Stop(stopCtx)
}

func newStore(lc fx.Lifecycle, cfg *config.Config) (*sqlite.Store, error) {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store, nil
}

func newIDs(cfg *config.Config) (generic.IDGenerator, error) {
	return generic.NewSnowflakeIDs(cfg.Snowflake.Node)
}

func newGenerator(cfg *config.Config, store *sqlite.Store, ids generic.IDGenerator, logger *zap.Logger) *payout.Generator {
	return payout.NewGenerator(store, ids,
		payout.WithGeneratorLogger(logger),
		payout.WithConcurrency(cfg.Generator.Concurrency))
}

func redisOptions(cfg *config.Config) jobs.RedisOptions {
	return jobs.RedisOptions{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
}

// newDispatcher generates in-process, or enqueues on asynq when
// scheduler.dispatch is "queue".
func newDispatcher(lc fx.Lifecycle, cfg *config.Config, gen *payout.Generator, logger *zap.Logger) scheduler.Dispatcher {
	if cfg.Scheduler.Dispatch != config.DispatchQueue {
		return scheduler.InlineDispatcher{Generator: gen}
	}

	rdb := jobs.NewRedisClient(redisOptions(cfg))
	client := jobs.NewClient(rdb)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		// The asynq client shares rdb and is released with it.
		OnStop: func(context.Context) error { return rdb.Close() },
	})
	return jobs.NewEnqueuer(client, cfg.Worker.Queue, logger)
}

func newBatchScheduler(lc fx.Lifecycle, cfg *config.Config, store *sqlite.Store, dispatcher scheduler.Dispatcher, logger *zap.Logger) (*scheduler.BatchScheduler, error) {
	rule, err := scheduler.ParseRule(cfg.Scheduler.Rule, time.Now())
	if err != nil {
		return nil, err
	}
	types, err := cfg.Scheduler.ParsedScheduleTypes()
	if err != nil {
		return nil, err
	}

	var targets []scheduler.Target
	for _, tenant := range cfg.Scheduler.Tenants {
		for _, st := range types {
			targets = append(targets, scheduler.Target{
				Tenant:       payout.TenantID(tenant),
				ScheduleType: st,
				Preference:   cfg.Scheduler.AnchorsFor(st),
			})
		}
	}
	if len(targets) == 0 {
		logger.Warn("no scheduler.tenants configured, scheduler will idle")
	}

	s := scheduler.New(store, dispatcher, targets, rule, logger)
	s.Operator = cfg.Scheduler.Operator

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// The start context expires after startup; the scheduler outlives it.
			s.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
	return s, nil
}

func newWorkerServer(lc fx.Lifecycle, cfg *config.Config, gen *payout.Generator, logger *zap.Logger) *asynq.Server {
	srv := jobs.NewServer(redisOptions(cfg), cfg.Worker.Queue, cfg.Worker.Concurrency, logger.Named("worker"))
	handler := jobs.NewHandler(gen, logger)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return srv.Start(jobs.NewMux(handler)) },
		OnStop: func(context.Context) error {
			srv.Shutdown()
			return nil
		},
	})
	return srv
}

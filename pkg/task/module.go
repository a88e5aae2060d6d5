package task

import (
	"context"
	"os"
	"time"

	"farmops/pkg/config"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("asynq:client",
	fx.Provide(registerClient, NewEnqueuer),
)

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func registerClient(lc fx.Lifecycle, cfg *config.Config) *asynq.Client {
	client := asynq.NewClient(redisOpt(cfg))

	if err := client.Ping(); err != nil {
		zap.L().Error("[Asynq] Failed to connect to Asynq", zap.Error(err))
		os.Exit(1)
	}

	zap.L().Info("[Asynq] Connected to Asynq")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}

var Server = fx.Module("asynq:server",
	fx.Provide(registerServerMux),
	fx.Invoke(registerAsynqServer),
)

func registerServerMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

func registerAsynqServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency:    cfg.Worker.Concurrency,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues: map[string]int{
				"critical": 10,
				"default":  5,
				"low":      3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				zap.L().Error("asynq task permanently failed", zap.String("task_type", task.Type()), zap.Error(err))
			}),
		},
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Start(mux); err != nil {
					zap.L().Error("[Asynq] Failed to start Asynq server", zap.Error(err))
					os.Exit(1)
				}
			}()
			zap.L().Info("[Asynq] Asynq server started", zap.String("addr", cfg.Redis.Addr), zap.Int("concurrency", cfg.Worker.Concurrency))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Stop()
			return nil
		},
	})
}

// CronEntry binds a cron spec to a recurring task. Missed runs are not
// backfilled; each run carries the task's own retry budget.
type CronEntry struct {
	Spec string
	Task *asynq.Task
	Opts []asynq.Option
}

var Scheduler = fx.Module("asynq:scheduler",
	fx.Invoke(registerScheduler),
)

type schedulerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Entries   []CronEntry `group:"cron"`
}

func registerScheduler(p schedulerParams) {
	scheduler := asynq.NewScheduler(redisOpt(p.Config), &asynq.SchedulerOpts{
		Location: time.UTC,
	})

	for _, entry := range p.Entries {
		if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Opts...); err != nil {
			zap.L().Error("[Asynq] Failed to register cron entry",
				zap.String("spec", entry.Spec),
				zap.String("task_type", entry.Task.Type()),
				zap.Error(err),
			)
			os.Exit(1)
		}
		zap.L().Info("[Asynq] Registered cron entry",
			zap.String("spec", entry.Spec),
			zap.String("task_type", entry.Task.Type()),
		)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := scheduler.Run(); err != nil {
					zap.L().Error("[Asynq] Scheduler stopped", zap.Error(err))
					os.Exit(1)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Shutdown()
			return nil
		},
	})
}

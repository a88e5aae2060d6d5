package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"farmops/pkg/config"
	"farmops/pkg/db"
	"farmops/pkg/logger"
	"farmops/pkg/task"
	"farmops/services/event"
	"farmops/services/scoring"
	"farmops/services/shop"
	"farmops/services/tracker"
	"farmops/services/wallet"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(
			provideSnowflakeNode,
			provideSyncReposEntry,
			provideRecomputeWalletsEntry,
		),
		scoring.Module,
		tracker.Module,
		wallet.Module,
		shop.Module,
		task.Server,
		task.Scheduler,
		fx.Invoke(registerHandlers),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}

var provideSyncReposEntry = fx.Annotate(
	func() task.CronEntry {
		return task.CronEntry{
			Spec: "0 */6 * * *",
			Task: tracker.NewSyncReposTask(),
			Opts: []asynq.Option{asynq.MaxRetry(3), asynq.Queue("low")},
		}
	},
	fx.ResultTags(`group:"cron"`),
)

var provideRecomputeWalletsEntry = fx.Annotate(
	func() task.CronEntry {
		return task.CronEntry{
			Spec: "0 2 * * *",
			Task: wallet.NewRecomputeWalletsTask(),
			Opts: []asynq.Option{asynq.MaxRetry(3), asynq.Queue("low")},
		}
	},
	fx.ResultTags(`group:"cron"`),
)

func registerHandlers(mux *asynq.ServeMux, trackerSvc *tracker.Service, walletSvc *wallet.Service) {
	mux.HandleFunc(event.TypeProcessEvent, trackerSvc.HandleProcessEventTask)
	mux.HandleFunc(tracker.TypeSyncRepos, trackerSvc.HandleSyncReposTask)
	mux.HandleFunc(wallet.TypeRecomputeWallets, walletSvc.HandleRecomputeWalletsTask)
}

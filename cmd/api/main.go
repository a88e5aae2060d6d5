package main

import (
	"log"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmops/pkg/config"
	"farmops/pkg/db"
	"farmops/pkg/health"
	"farmops/pkg/logger"
	"farmops/pkg/middleware"
	"farmops/pkg/redis"
	"farmops/pkg/server"
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
		redis.Module,
		task.Client,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
			provideRouter,
		),
		scoring.Module,
		event.Module,
		tracker.Module,
		wallet.Module,
		shop.Module,
		fx.Provide(
			event.NewHandler,
			tracker.NewHandler,
			wallet.NewHandler,
			shop.NewHandler,
		),
		fx.Invoke(
			autoMigrate,
			registerRoutes,
		),
		server.Module,
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
	return snowflake.NewNode(1)
}

func provideRouter(cfg *config.Config) (*gin.Engine, http.Handler) {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.Error())
	return engine, engine
}

type routeParams struct {
	fx.In
	Engine  *gin.Engine
	Health  health.HealthService
	Event   *event.Handler
	Tracker *tracker.Handler
	Wallet  *wallet.Handler
	Shop    *shop.Handler
}

func registerRoutes(p routeParams) {
	p.Engine.GET("/healthz", p.Health.Liveness)
	p.Engine.GET("/readyz", p.Health.Readiness)

	p.Event.Register(p.Engine)
	p.Tracker.Register(p.Engine)
	p.Wallet.Register(p.Engine)
	p.Shop.Register(p.Engine)
}

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&event.Event{},
		&tracker.Organization{},
		&tracker.User{},
		&tracker.OrgMember{},
		&tracker.Repository{},
		&tracker.Task{},
		&scoring.ConfigEntry{},
		&wallet.Wallet{},
		&wallet.Reward{},
		&wallet.Purchase{},
		&shop.ShopItem{},
		&shop.Farm{},
		&shop.FarmUpgrade{},
	)
}

package main

import (
	"errors"
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmops/pkg/config"
	"farmops/pkg/db"
	"farmops/pkg/logger"
	"farmops/services/scoring"
	"farmops/services/shop"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(seed),
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
	return snowflake.NewNode(3)
}

func taskType(t scoring.TaskType) *scoring.TaskType {
	return &t
}

var catalog = []shop.ShopItem{
	{Slug: "auto-patch-shed", Name: "Auto-Patch Shed", Description: "Boosts rewards for maintenance tasks.", Icon: "🛖", BaseCost: 100, MaxLevel: 3, Multiplier: 1.15, TaskType: taskType(scoring.TaskMaintenance)},
	{Slug: "runbook-barn", Name: "Runbook Barn", Description: "Boosts rewards for documentation and toil tasks.", Icon: "🏚️", BaseCost: 120, MaxLevel: 3, Multiplier: 1.15, TaskType: taskType(scoring.TaskToil)},
	{Slug: "alert-scarecrow", Name: "Alert Scarecrow", Description: "Boosts rewards for toil and alert cleanup tasks.", Icon: "🧹", BaseCost: 150, MaxLevel: 3, Multiplier: 1.2, TaskType: taskType(scoring.TaskToil)},
	{Slug: "backup-well", Name: "Backup Well", Description: "Boosts rewards for reliability tasks.", Icon: "🪣", BaseCost: 200, MaxLevel: 3, Multiplier: 1.2, TaskType: taskType(scoring.TaskReliability)},
	{Slug: "ci-windmill", Name: "CI Windmill", Description: "Boosts rewards when CI checks pass.", Icon: "🌀", BaseCost: 180, MaxLevel: 3, Multiplier: 1.25, TaskType: nil},
	{Slug: "security-fence", Name: "Security Fence", Description: "Boosts rewards for security tasks.", Icon: "🔒", BaseCost: 250, MaxLevel: 3, Multiplier: 1.25, TaskType: taskType(scoring.TaskSecurity)},
}

var configDefaults = map[string]string{
	"base_coins_maintenance":             "10",
	"base_coins_toil":                    "15",
	"base_coins_reliability":             "20",
	"base_coins_security":                "25",
	"verification_multiplier_checks":     "1.25",
	"verification_multiplier_merge_only": "1.0",
	"size_multiplier_small":              "1.0",
	"size_multiplier_medium":             "1.1",
	"size_multiplier_large":              "1.2",
	"size_threshold_medium":              "100",
	"size_threshold_large":               "500",
}

func seed(gdb *gorm.DB, node *snowflake.Node, shutdowner fx.Shutdowner) error {
	if err := gdb.AutoMigrate(&shop.ShopItem{}, &scoring.ConfigEntry{}); err != nil {
		return err
	}

	for _, item := range catalog {
		var existing shop.ShopItem
		err := gdb.Where("slug = ?", item.Slug).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			item.ID = node.Generate().String()
			if err := gdb.Create(&item).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			item.ID = existing.ID
			if err := gdb.Model(&shop.ShopItem{}).Where("id = ?", existing.ID).Updates(&item).Error; err != nil {
				return err
			}
		}
	}

	for key, value := range configDefaults {
		var existing scoring.ConfigEntry
		err := gdb.Where("key = ?", key).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry := scoring.ConfigEntry{ID: node.Generate().String(), Key: key, Value: value}
			if err := gdb.Create(&entry).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := gdb.Model(&scoring.ConfigEntry{}).Where("id = ?", existing.ID).Update("value", value).Error; err != nil {
				return err
			}
		}
	}

	zap.L().Info("seed complete",
		zap.Int("shop_items", len(catalog)),
		zap.Int("config_keys", len(configDefaults)),
	)
	return shutdowner.Shutdown()
}

package scoring

import (
	"context"
	"strconv"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("scoring.service",
	fx.Provide(NewService),
)

// Service loads scoring constants from the config key-value table, falling
// back to Defaults for any absent key.
type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

func (s *Service) Load(ctx context.Context) (Config, error) {
	var rows []ConfigEntry
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return Config{}, err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}

	n := func(key string, fallback float64) float64 {
		raw, ok := values[key]
		if !ok {
			return fallback
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			zap.L().Warn("invalid scoring config value, using default",
				zap.String("key", key),
				zap.String("value", raw),
			)
			return fallback
		}
		return parsed
	}

	d := Defaults()
	return Config{
		BaseCoins: map[TaskType]float64{
			TaskMaintenance: n("base_coins_maintenance", d.BaseCoins[TaskMaintenance]),
			TaskToil:        n("base_coins_toil", d.BaseCoins[TaskToil]),
			TaskReliability: n("base_coins_reliability", d.BaseCoins[TaskReliability]),
			TaskSecurity:    n("base_coins_security", d.BaseCoins[TaskSecurity]),
		},
		VerificationMultiplierChecks:    n("verification_multiplier_checks", d.VerificationMultiplierChecks),
		VerificationMultiplierMergeOnly: n("verification_multiplier_merge_only", d.VerificationMultiplierMergeOnly),
		SizeMultiplierSmall:             n("size_multiplier_small", d.SizeMultiplierSmall),
		SizeMultiplierMedium:            n("size_multiplier_medium", d.SizeMultiplierMedium),
		SizeMultiplierLarge:             n("size_multiplier_large", d.SizeMultiplierLarge),
		SizeThresholdMedium:             n("size_threshold_medium", d.SizeThresholdMedium),
		SizeThresholdLarge:              n("size_threshold_large", d.SizeThresholdLarge),
	}, nil
}

package scoring

import (
	"math"

	"farmops/pkg/config"
)

// TaskType mirrors the tracked label taxonomy. Declared here so the scoring
// engine stays free of storage imports.
type TaskType string

const (
	TaskMaintenance TaskType = "MAINTENANCE"
	TaskToil        TaskType = "TOIL"
	TaskReliability TaskType = "RELIABILITY"
	TaskSecurity    TaskType = "SECURITY"
)

// Config carries every scoring constant. All values are configuration-driven;
// the zero value is never used directly, use Defaults or Service.Load.
type Config struct {
	BaseCoins                       map[TaskType]float64
	VerificationMultiplierChecks    float64
	VerificationMultiplierMergeOnly float64
	SizeMultiplierSmall             float64
	SizeMultiplierMedium            float64
	SizeMultiplierLarge             float64
	SizeThresholdMedium             float64
	SizeThresholdLarge              float64
}

// Defaults returns the built-in scoring constants, applied for any key the
// config source does not override.
func Defaults() Config {
	return Config{
		BaseCoins: map[TaskType]float64{
			TaskMaintenance: 10,
			TaskToil:        15,
			TaskReliability: 20,
			TaskSecurity:    25,
		},
		VerificationMultiplierChecks:    1.25,
		VerificationMultiplierMergeOnly: 1.0,
		SizeMultiplierSmall:             1.0,
		SizeMultiplierMedium:            1.1,
		SizeMultiplierLarge:             1.2,
		SizeThresholdMedium:             100,
		SizeThresholdLarge:              500,
	}
}

type ComputeParams struct {
	TaskType          TaskType
	CIPassed          bool
	LOCChanged        *int
	UpgradeMultiplier float64
	Config            Config
	VerificationMode  config.VerificationMode
}

// Breakdown is the full reward decomposition persisted alongside the total.
type Breakdown struct {
	BaseCoins              float64
	VerificationMultiplier float64
	SizeMultiplier         float64
	UpgradeMultiplier      float64
	TotalCoins             int64
}

// SizeMultiplier selects the size factor from the changed-lines count.
// A nil or below-medium count yields the small multiplier.
func SizeMultiplier(locChanged *int, cfg Config) float64 {
	if locChanged == nil || *locChanged <= 0 {
		return cfg.SizeMultiplierSmall
	}
	loc := float64(*locChanged)
	if loc >= cfg.SizeThresholdLarge {
		return cfg.SizeMultiplierLarge
	}
	if loc >= cfg.SizeThresholdMedium {
		return cfg.SizeMultiplierMedium
	}
	return cfg.SizeMultiplierSmall
}

// ComputeCoins is pure and deterministic: no storage, no clock. The total is
// rounded to the nearest integer, halves away from zero.
func ComputeCoins(p ComputeParams) Breakdown {
	baseCoins := p.Config.BaseCoins[p.TaskType]

	verificationMultiplier := p.Config.VerificationMultiplierMergeOnly
	if p.VerificationMode == config.VerificationChecks && p.CIPassed {
		verificationMultiplier = p.Config.VerificationMultiplierChecks
	}

	sizeMultiplier := SizeMultiplier(p.LOCChanged, p.Config)

	total := math.Round(baseCoins * verificationMultiplier * sizeMultiplier * p.UpgradeMultiplier)

	return Breakdown{
		BaseCoins:              baseCoins,
		VerificationMultiplier: verificationMultiplier,
		SizeMultiplier:         sizeMultiplier,
		UpgradeMultiplier:      p.UpgradeMultiplier,
		TotalCoins:             int64(total),
	}
}

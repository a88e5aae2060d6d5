package wallet

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeRecomputeWallets = "wallet:recompute"

func NewRecomputeWalletsTask() *asynq.Task {
	return asynq.NewTask(TypeRecomputeWallets, nil)
}

// HandleRecomputeWalletsTask is the asynq entry point for the nightly
// wallet:recompute job.
func (s *Service) HandleRecomputeWalletsTask(ctx context.Context, t *asynq.Task) error {
	zap.L().Info("start wallet reconciliation", zap.String("task_type", t.Type()))
	return s.RecomputeAll(ctx)
}

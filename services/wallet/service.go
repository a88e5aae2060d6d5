package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"farmops/pkg/config"
	"farmops/services/scoring"
	"farmops/services/tracker"
)

var Module = fx.Module("wallet.service",
	fx.Provide(
		NewService,
		func(s *Service) tracker.Settler { return s },
	),
)

// UpgradeResolver computes an organization's compounded upgrade multiplier
// for a task type. Implemented by the shop service; absent resolver means 1.0.
type UpgradeResolver interface {
	UpgradeMultiplier(ctx context.Context, orgID string, taskType scoring.TaskType) (float64, error)
}

var errAlreadySettled = errors.New("task already settled")

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	mode     config.VerificationMode
	scoring  *scoring.Service
	upgrades UpgradeResolver
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Scoring  *scoring.Service
	Upgrades UpgradeResolver `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		mode:     p.Config.Mode(),
		scoring:  p.Scoring,
		upgrades: p.Upgrades,
	}
}

// Settle marks a task DONE, records exactly one reward and credits the user
// and org wallets, all in one transaction. Unsatisfied preconditions and
// races lost on the reward uniqueness constraint are silent no-ops: they are
// expected outcomes of duplicate triggers, not defects.
func (s *Service) Settle(ctx context.Context, taskID string) error {
	var tsk tracker.Task
	err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&tsk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if tsk.Status == tracker.StatusDone || !tsk.PRMerged {
		return nil
	}
	if s.mode == config.VerificationChecks && !tsk.CIPassed {
		return nil
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Reward{}).Where("task_id = ?", taskID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	member, err := s.firstMember(ctx, tsk.OrgID)
	if err != nil {
		return err
	}
	if member == nil {
		zap.L().Warn("no org member to credit, skipping settlement",
			zap.String("task_id", taskID),
			zap.String("org_id", tsk.OrgID),
		)
		return nil
	}

	cfg, err := s.scoring.Load(ctx)
	if err != nil {
		return err
	}

	multiplier := 1.0
	if s.upgrades != nil {
		multiplier, err = s.upgrades.UpgradeMultiplier(ctx, tsk.OrgID, tsk.TaskType)
		if err != nil {
			return err
		}
	}

	breakdown := scoring.ComputeCoins(scoring.ComputeParams{
		TaskType:          tsk.TaskType,
		CIPassed:          tsk.CIPassed,
		LOCChanged:        tsk.LOCChanged,
		UpgradeMultiplier: multiplier,
		Config:            cfg,
		VerificationMode:  s.mode,
	})

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Revalidate under the transaction: a concurrent settlement may have
		// finished between the pre-checks and here.
		var count int64
		if err := tx.Model(&Reward{}).Where("task_id = ?", taskID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errAlreadySettled
		}

		now := time.Now()
		if err := tx.Model(&tracker.Task{}).
			Where("id = ? AND status <> ?", taskID, tracker.StatusDone).
			Updates(map[string]any{"status": tracker.StatusDone, "closed_at": now}).Error; err != nil {
			return err
		}

		if err := tx.Create(&Reward{
			ID:                     s.node.Generate().String(),
			TaskID:                 taskID,
			UserID:                 member.UserID,
			BaseCoins:              breakdown.BaseCoins,
			VerificationMultiplier: breakdown.VerificationMultiplier,
			SizeMultiplier:         breakdown.SizeMultiplier,
			UpgradeMultiplier:      breakdown.UpgradeMultiplier,
			TotalCoins:             breakdown.TotalCoins,
		}).Error; err != nil {
			return err
		}

		if err := s.credit(tx, &member.UserID, nil, breakdown.TotalCoins); err != nil {
			return err
		}
		return s.credit(tx, nil, &tsk.OrgID, breakdown.TotalCoins)
	})
	if errors.Is(err, errAlreadySettled) {
		return nil
	}
	if err != nil {
		// The reward unique index makes the loser of a settlement race fail
		// fast; a reward row existing now means the winner already credited.
		var count int64
		if checkErr := s.db.WithContext(ctx).Model(&Reward{}).Where("task_id = ?", taskID).Count(&count).Error; checkErr == nil && count > 0 {
			return nil
		}
		return err
	}

	zap.L().Info("task settled",
		zap.String("task_id", taskID),
		zap.String("user_id", member.UserID),
		zap.String("org_id", tsk.OrgID),
		zap.Int64("total_coins", breakdown.TotalCoins),
	)
	return nil
}

// credit adds coins to the owner's wallet, creating it at zero first when
// absent. Exactly one of userID/orgID is set.
func (s *Service) credit(tx *gorm.DB, userID, orgID *string, coins int64) error {
	query := tx.Model(&Wallet{})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	} else {
		query = query.Where("org_id = ?", *orgID)
	}

	var w Wallet
	err := query.First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&Wallet{
			ID:      s.node.Generate().String(),
			UserID:  userID,
			OrgID:   orgID,
			Balance: coins,
		}).Error
	}
	if err != nil {
		return err
	}

	return tx.Model(&Wallet{}).
		Where("id = ?", w.ID).
		Update("balance", gorm.Expr("balance + ?", coins)).Error
}

// firstMember returns the organization's first member by a stable order, or
// nil when the org has none.
func (s *Service) firstMember(ctx context.Context, orgID string) (*tracker.OrgMember, error) {
	var member tracker.OrgMember
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at ASC, id ASC").
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// RecomputeAll resynchronises every wallet balance from the immutable
// reward and purchase history. Full overwrite, restartable, and one wallet's
// failure never aborts the rest.
func (s *Service) RecomputeAll(ctx context.Context) error {
	var wallets []Wallet
	if err := s.db.WithContext(ctx).Find(&wallets).Error; err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, w := range wallets {
		w := w
		g.Go(func() error {
			if err := s.recomputeWallet(gctx, &w); err != nil {
				zap.L().Error("failed to recompute wallet",
					zap.String("wallet_id", w.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("wallet reconciliation finished", zap.Int("wallets", len(wallets)))
	return nil
}

func (s *Service) recomputeWallet(ctx context.Context, w *Wallet) error {
	var earned int64

	switch {
	case w.UserID != nil:
		if err := s.db.WithContext(ctx).Model(&Reward{}).
			Where("user_id = ?", *w.UserID).
			Select("COALESCE(SUM(total_coins), 0)").
			Scan(&earned).Error; err != nil {
			return err
		}
	case w.OrgID != nil:
		if err := s.db.WithContext(ctx).Model(&Reward{}).
			Joins("JOIN tasks ON tasks.id = rewards.task_id").
			Where("tasks.org_id = ?", *w.OrgID).
			Select("COALESCE(SUM(rewards.total_coins), 0)").
			Scan(&earned).Error; err != nil {
			return err
		}
	default:
		return nil
	}

	var spent int64
	if err := s.db.WithContext(ctx).Model(&Purchase{}).
		Where("wallet_id = ?", w.ID).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&spent).Error; err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&Wallet{}).
		Where("id = ?", w.ID).
		Update("balance", earned-spent).Error
}

// Balance returns the current wallet balance for a user or org owner;
// absent wallets read as zero.
func (s *Service) Balance(ctx context.Context, userID, orgID *string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&Wallet{})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	} else if orgID != nil {
		query = query.Where("org_id = ?", *orgID)
	} else {
		return 0, errors.New("owner required")
	}

	var w Wallet
	err := query.First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

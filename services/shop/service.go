package shop

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmops/pkg/errutil"
	"farmops/services/scoring"
	"farmops/services/wallet"
)

var Module = fx.Module("shop.service",
	fx.Provide(
		NewService,
		func(s *Service) wallet.UpgradeResolver { return s },
	),
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewService(db *gorm.DB, node *snowflake.Node) *Service {
	return &Service{db: db, node: node}
}

// ItemView is a shop item together with the org's owned level.
type ItemView struct {
	Item  ShopItem `json:"item"`
	Level int      `json:"level"`
}

// Receipt summarises one completed purchase.
type Receipt struct {
	ItemID string `json:"item_id"`
	Slug   string `json:"slug"`
	Level  int    `json:"level"`
	Cost   int64  `json:"cost"`
}

// UpgradeMultiplier compounds every owned upgrade that applies to the task
// type: the product of multiplier^level over matching items. Orgs without a
// farm score at 1.0.
func (s *Service) UpgradeMultiplier(ctx context.Context, orgID string, taskType scoring.TaskType) (float64, error) {
	farm, err := s.farmByOrg(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if farm == nil {
		return 1.0, nil
	}

	var upgrades []FarmUpgrade
	if err := s.db.WithContext(ctx).Where("farm_id = ?", farm.ID).Find(&upgrades).Error; err != nil {
		return 0, err
	}
	if len(upgrades) == 0 {
		return 1.0, nil
	}

	itemIDs := make([]string, 0, len(upgrades))
	for _, u := range upgrades {
		itemIDs = append(itemIDs, u.ShopItemID)
	}

	var items []ShopItem
	if err := s.db.WithContext(ctx).Where("id IN ?", itemIDs).Find(&items).Error; err != nil {
		return 0, err
	}
	byID := make(map[string]ShopItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	multiplier := 1.0
	for _, u := range upgrades {
		item, ok := byID[u.ShopItemID]
		if !ok {
			continue
		}
		if item.TaskType != nil && *item.TaskType != taskType {
			continue
		}
		for i := 0; i < u.Level; i++ {
			multiplier *= item.Multiplier
		}
	}
	return multiplier, nil
}

// BuyUpgrade purchases the next level of an item for an org. Debit, purchase
// record and level bump commit together or not at all.
func (s *Service) BuyUpgrade(ctx context.Context, orgID, slug string) (*Receipt, error) {
	var item ShopItem
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("shop item not found")
	}
	if err != nil {
		return nil, err
	}

	var receipt *Receipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		farm, err := s.ensureFarm(tx, orgID)
		if err != nil {
			return err
		}

		var upgrade FarmUpgrade
		currentLevel := 0
		err = tx.Where("farm_id = ? AND shop_item_id = ?", farm.ID, item.ID).First(&upgrade).Error
		switch {
		case err == nil:
			currentLevel = upgrade.Level
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if currentLevel >= item.MaxLevel {
			return errutil.BadRequest("max level reached")
		}

		nextLevel := currentLevel + 1
		cost := item.BaseCost * int64(nextLevel)

		var w wallet.Wallet
		err = tx.Where("org_id = ?", orgID).First(&w).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.BadRequest("insufficient balance")
		}
		if err != nil {
			return err
		}

		// Conditional debit keeps the balance non-negative under concurrency.
		res := tx.Model(&wallet.Wallet{}).
			Where("id = ? AND balance >= ?", w.ID, cost).
			Update("balance", gorm.Expr("balance - ?", cost))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.BadRequest("insufficient balance")
		}

		if err := tx.Create(&wallet.Purchase{
			ID:         s.node.Generate().String(),
			WalletID:   w.ID,
			OrgID:      orgID,
			ShopItemID: item.ID,
			Level:      nextLevel,
			Cost:       cost,
		}).Error; err != nil {
			return err
		}

		if currentLevel == 0 {
			if err := tx.Create(&FarmUpgrade{
				ID:         s.node.Generate().String(),
				FarmID:     farm.ID,
				ShopItemID: item.ID,
				Level:      nextLevel,
			}).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Model(&FarmUpgrade{}).
				Where("id = ?", upgrade.ID).
				Update("level", nextLevel).Error; err != nil {
				return err
			}
		}

		receipt = &Receipt{ItemID: item.ID, Slug: item.Slug, Level: nextLevel, Cost: cost}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("upgrade purchased",
		zap.String("org_id", orgID),
		zap.String("item", item.Slug),
		zap.Int("level", receipt.Level),
		zap.Int64("cost", receipt.Cost),
	)
	return receipt, nil
}

// ListItems returns the catalog with the org's owned level per item.
func (s *Service) ListItems(ctx context.Context, orgID string) ([]ItemView, error) {
	var items []ShopItem
	if err := s.db.WithContext(ctx).Order("base_cost ASC").Find(&items).Error; err != nil {
		return nil, err
	}

	levels := map[string]int{}
	farm, err := s.farmByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if farm != nil {
		var upgrades []FarmUpgrade
		if err := s.db.WithContext(ctx).Where("farm_id = ?", farm.ID).Find(&upgrades).Error; err != nil {
			return nil, err
		}
		for _, u := range upgrades {
			levels[u.ShopItemID] = u.Level
		}
	}

	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, ItemView{Item: it, Level: levels[it.ID]})
	}
	return views, nil
}

func (s *Service) farmByOrg(ctx context.Context, orgID string) (*Farm, error) {
	var farm Farm
	err := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&farm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &farm, nil
}

func (s *Service) ensureFarm(tx *gorm.DB, orgID string) (*Farm, error) {
	var farm Farm
	err := tx.Where("org_id = ?", orgID).First(&farm).Error
	if err == nil {
		return &farm, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	farm = Farm{ID: s.node.Generate().String(), OrgID: orgID}
	if err := tx.Create(&farm).Error; err != nil {
		return nil, err
	}
	return &farm, nil
}

package shop

import (
	"time"

	"farmops/services/scoring"
)

// ShopItem is a purchasable upgrade definition. A nil TaskType applies the
// multiplier to every task type.
type ShopItem struct {
	ID          string            `gorm:"column:id;primaryKey"`
	Slug        string            `gorm:"column:slug;uniqueIndex;not null"`
	Name        string            `gorm:"column:name;not null"`
	Description string            `gorm:"column:description"`
	Icon        string            `gorm:"column:icon"`
	BaseCost    int64             `gorm:"column:base_cost;not null"`
	MaxLevel    int               `gorm:"column:max_level;not null"`
	Multiplier  float64           `gorm:"column:multiplier;not null"`
	TaskType    *scoring.TaskType `gorm:"column:task_type"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// Farm is the per-org upgrade container, created lazily on first purchase.
type Farm struct {
	ID        string    `gorm:"column:id;primaryKey"`
	OrgID     string    `gorm:"column:org_id;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// FarmUpgrade records the owned level of one item on one farm.
type FarmUpgrade struct {
	ID         string    `gorm:"column:id;primaryKey"`
	FarmID     string    `gorm:"column:farm_id;uniqueIndex:idx_farm_item;not null"`
	ShopItemID string    `gorm:"column:shop_item_id;uniqueIndex:idx_farm_item;not null"`
	Level      int       `gorm:"column:level;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

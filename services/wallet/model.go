package wallet

import "time"

// Wallet is one ledger balance. Exactly one of UserID/OrgID is set: a user
// wallet is credited by rewards, an org wallet is credited by rewards and
// debited by purchases.
type Wallet struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    *string   `gorm:"column:user_id;uniqueIndex"`
	OrgID     *string   `gorm:"column:org_id;uniqueIndex"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Reward is the immutable record of one settled task. The unique TaskID
// index is the primary double-award guard.
type Reward struct {
	ID                     string    `gorm:"column:id;primaryKey"`
	TaskID                 string    `gorm:"column:task_id;uniqueIndex;not null"`
	UserID                 string    `gorm:"column:user_id;index;not null"`
	BaseCoins              float64   `gorm:"column:base_coins;not null"`
	VerificationMultiplier float64   `gorm:"column:verification_multiplier;not null"`
	SizeMultiplier         float64   `gorm:"column:size_multiplier;not null"`
	UpgradeMultiplier      float64   `gorm:"column:upgrade_multiplier;not null"`
	TotalCoins             int64     `gorm:"column:total_coins;not null"`
	CreatedAt              time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Purchase is an immutable debit ledger entry against an org wallet.
type Purchase struct {
	ID         string    `gorm:"column:id;primaryKey"`
	WalletID   string    `gorm:"column:wallet_id;index;not null"`
	OrgID      string    `gorm:"column:org_id;index;not null"`
	ShopItemID string    `gorm:"column:shop_item_id;not null"`
	Level      int       `gorm:"column:level;not null"`
	Cost       int64     `gorm:"column:cost;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

package scoring

import "time"

// ConfigEntry is one row of the scoring key-value source. Values are stored
// as strings and parsed with typed defaults on load.
type ConfigEntry struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex;not null"`
	Value     string    `gorm:"column:value;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ConfigEntry) TableName() string { return "configs" }

package event

import (
	"time"

	"gorm.io/datatypes"
)

// Event is the durable, append-only record of one inbound webhook delivery.
// Immutable once created except the processed flag.
type Event struct {
	ID         string         `gorm:"column:id;primaryKey"`
	DeliveryID string         `gorm:"column:delivery_id;uniqueIndex;not null"`
	EventType  string         `gorm:"column:event_type;not null"`
	Payload    datatypes.JSON `gorm:"column:payload;not null"`
	Processed  bool           `gorm:"column:processed;default:false"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
}

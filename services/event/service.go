package event

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"farmops/pkg/task"
)

var Module = fx.Module("event.service",
	fx.Provide(NewService),
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
	}
}

// VerifySignature checks the sha256 HMAC of the raw body against the
// "sha256=<hex>" signature header, in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// Ingest persists a verified webhook delivery and enqueues a processing job
// carrying only the event id. A delivery id seen before is a no-op success
// so GitHub re-deliveries never double-process.
func (s *Service) Ingest(ctx context.Context, deliveryID, eventType string, body []byte) (*Event, bool, error) {
	var existing Event
	err := s.db.WithContext(ctx).Where("delivery_id = ?", deliveryID).First(&existing).Error
	if err == nil {
		// A stored but unprocessed duplicate means an earlier enqueue failed
		// after the insert; the redelivery is the recovery path, so requeue
		// instead of stranding the event.
		if !existing.Processed {
			t, err := NewProcessEventTask(existing.ID)
			if err != nil {
				return nil, false, err
			}
			if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
				return nil, false, err
			}
			zap.L().Info("duplicate webhook delivery, requeued unprocessed event",
				zap.String("delivery_id", deliveryID),
				zap.String("event_id", existing.ID),
			)
			return &existing, true, nil
		}

		zap.L().Info("duplicate webhook delivery", zap.String("delivery_id", deliveryID))
		return &existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	record := &Event{
		ID:         s.node.Generate().String(),
		DeliveryID: deliveryID,
		EventType:  eventType,
		Payload:    datatypes.JSON(body),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		// A concurrent re-delivery may win the insert race on delivery_id;
		// re-read and treat as duplicate.
		var raced Event
		if findErr := s.db.WithContext(ctx).Where("delivery_id = ?", deliveryID).First(&raced).Error; findErr == nil {
			return &raced, true, nil
		}
		return nil, false, err
	}

	t, err := NewProcessEventTask(record.ID)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		return nil, false, err
	}

	zap.L().Info("webhook event stored",
		zap.String("event_id", record.ID),
		zap.String("delivery_id", deliveryID),
		zap.String("event_type", eventType),
	)

	return record, false, nil
}

// Package messaging 把库存事件发往 Kafka。
package messaging

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"quickstock/internal/pkg/mq"
	"quickstock/internal/service/inventory/application"
	"quickstock/internal/service/inventory/domain"
)

// KafkaAlertSink 把低库存通知写入告警 topic，消息键为 "storeId/sku"。
type KafkaAlertSink struct {
	producer mq.Producer
}

func NewKafkaAlertSink(producer mq.Producer) *KafkaAlertSink {
	return &KafkaAlertSink{producer: producer}
}

func (s *KafkaAlertSink) PublishLowStock(ctx context.Context, alert application.LowStockAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "marshal low stock alert")
	}
	key := domain.ItemKey{SKU: alert.SKU, StoreID: alert.StoreID}.String()
	return mq.ProduceMessage(ctx, s.producer, []byte(key), body)
}

// MovementEvent 是流水在消息总线上的表示。
type MovementEvent struct {
	ID              string    `json:"id"`
	InventoryItemID int64     `json:"inventoryItemId"`
	MovementType    string    `json:"movementType"`
	Quantity        int       `json:"quantity"`
	ReferenceType   string    `json:"referenceType,omitempty"`
	ReferenceID     string    `json:"referenceId,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	CreatedBy       string    `json:"createdBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// KafkaMovementPublisher 以库存项 ID 为键发布流水，保证同一库存项的流水有序。
type KafkaMovementPublisher struct {
	producer mq.Producer
}

func NewKafkaMovementPublisher(producer mq.Producer) *KafkaMovementPublisher {
	return &KafkaMovementPublisher{producer: producer}
}

func (p *KafkaMovementPublisher) PublishMovements(ctx context.Context, movements []domain.StockMovement) error {
	records := make([]mq.Record, 0, len(movements))
	for _, m := range movements {
		body, err := json.Marshal(MovementEvent{
			ID:              m.ID,
			InventoryItemID: m.InventoryItemID,
			MovementType:    string(m.MovementType),
			Quantity:        m.Quantity,
			ReferenceType:   string(m.ReferenceType),
			ReferenceID:     m.ReferenceID,
			Reason:          m.Reason,
			CreatedBy:       m.CreatedBy,
			CreatedAt:       m.CreatedAt,
		})
		if err != nil {
			return errors.Wrapf(err, "marshal movement %s", m.ID)
		}
		records = append(records, mq.Record{Key: []byte(strconv.FormatInt(m.InventoryItemID, 10)), Value: body})
	}
	return mq.ProduceBatch(ctx, p.producer, records...)
}

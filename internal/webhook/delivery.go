package webhook

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Delivery is the audit row written for every webhook POST.
type Delivery struct {
	ID           string         `gorm:"primaryKey;size:26" json:"id"` // ULID
	Object       string         `gorm:"type:varchar(32);index;not null" json:"object"`
	MessageCount int            `gorm:"not null" json:"message_count"`
	Payload      datatypes.JSON `json:"payload"`
	ReceivedAt   time.Time      `gorm:"index" json:"received_at"`
}

func (Delivery) TableName() string { return "webhook_deliveries" }

func Models() []any {
	return []any{&Delivery{}}
}

type DeliveryRepo struct {
	db *gorm.DB
}

func NewDeliveryRepo(db *gorm.DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

func (r *DeliveryRepo) Record(ctx context.Context, id, object string, messageCount int, payload []byte, at time.Time) error {
	d := &Delivery{
		ID:           id,
		Object:       object,
		MessageCount: messageCount,
		ReceivedAt:   at,
	}
	if json.Valid(payload) {
		d.Payload = datatypes.JSON(payload)
	}
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *DeliveryRepo) Get(ctx context.Context, id string) (*Delivery, error) {
	var d Delivery
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// Recent returns the newest deliveries first.
func (r *DeliveryRepo) Recent(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Delivery
	if err := r.db.WithContext(ctx).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

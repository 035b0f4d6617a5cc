package webhook

import (
	"encoding/json"
	"time"
)

// Queue statuses. Status is monotonic: new -> success or new -> error.
const (
	StatusNew     = "new"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Event is a queued webhook notification awaiting (or past) background
// processing. The ingestion path creates rows with status "new"; the
// dispatcher moves each row to a terminal status exactly once. Rows are
// never deleted here.
type Event struct {
	ID                 int64           `gorm:"primaryKey"`
	EventID            string          `gorm:"column:event_id;not null"`
	Trigger            string          `gorm:"column:trigger;not null;index"`
	Identifier         string          `gorm:"column:identifier"`
	Data               json.RawMessage `gorm:"column:data;type:jsonb"`
	Status             string          `gorm:"column:status;default:new;index"`
	Message            string          `gorm:"column:message"`
	PaymentProcessorID int64           `gorm:"column:payment_processor_id;not null;index"`
	CreatedAt          time.Time       `gorm:"column:created_at;default:now()"`
	ProcessedAt        *time.Time      `gorm:"column:processed_at"`
}

func (Event) TableName() string {
	return "webhook_events"
}

package postgres

import (
	"time"

	"gorm.io/gorm"

	webhookmodel "github.com/civiops/adyen-connect/internal/core/datamodel/webhook"
	webhookpkg "github.com/civiops/adyen-connect/internal/webhook"
)

type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) webhookpkg.EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(records []*webhookmodel.Event, processorID int64) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		r.Status = webhookmodel.StatusNew
		r.PaymentProcessorID = processorID
	}
	return s.db.Create(&records).Error
}

func (s *EventStore) UpdateOutcome(id int64, status string, message string, processedAt time.Time) error {
	return s.db.Model(&webhookmodel.Event{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       status,
		"message":      message,
		"processed_at": processedAt,
	}).Error
}

func (s *EventStore) ListPending(limit int) ([]*webhookmodel.Event, error) {
	var events []*webhookmodel.Event
	err := s.db.Where("status = ?", webhookmodel.StatusNew).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

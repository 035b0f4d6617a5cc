package webhook

import (
	"time"

	webhookmodel "github.com/civiops/adyen-connect/internal/core/datamodel/webhook"
)

// EventStore is the durable queue of received webhook events. Durability
// and single-claim semantics (no two workers handed the same pending row)
// are the storage layer's responsibility, not this package's.
type EventStore interface {
	// Append bulk-inserts records with status "new" for the given processor.
	Append(records []*webhookmodel.Event, processorID int64) error
	// UpdateOutcome records the terminal status of one processed event.
	UpdateOutcome(id int64, status string, message string, processedAt time.Time) error
	// ListPending returns up to limit events still awaiting processing,
	// oldest first.
	ListPending(limit int) ([]*webhookmodel.Event, error)
}

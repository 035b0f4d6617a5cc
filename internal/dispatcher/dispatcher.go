package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/civiops/adyen-connect/internal"
	webhookmodel "github.com/civiops/adyen-connect/internal/core/datamodel/webhook"
	"github.com/civiops/adyen-connect/internal/webhook"
)

// maxMessageLen bounds the diagnostic stored on a processed queue row.
const maxMessageLen = 250

// Handler processes one parsed notification and reports how it went.
type Handler func(ctx context.Context, n *webhook.Notification) Outcome

// Dispatcher routes queued webhook events to their handlers by event code.
// Unknown event codes are a no-op success so that new gateway event types
// never poison the queue.
type Dispatcher struct {
	handlers map[string]Handler
	store    webhook.EventStore
	logger   *slog.Logger
}

// New builds a dispatcher and verifies at startup that every event code in
// the default enabled set has a registered handler. A gap here is a wiring
// bug, not a runtime condition.
func New(handlers map[string]Handler, store webhook.EventStore, logger *slog.Logger) (*Dispatcher, error) {
	for _, eventCode := range webhook.DefaultEnabledEvents() {
		if _, ok := handlers[eventCode]; !ok {
			return nil, fmt.Errorf("no handler registered for enabled event type %q", eventCode)
		}
	}
	return &Dispatcher{
		handlers: handlers,
		store:    store,
		logger:   logger,
	}, nil
}

// ProcessQueuedEvent handles a single queued record and writes the outcome
// back to the store. It is safe to re-run on the same still-new row:
// handlers look up before creating. Concurrent processing of the same row
// is the queue layer's job to prevent.
func (d *Dispatcher) ProcessQueuedEvent(ctx context.Context, record *webhookmodel.Event) (bool, string) {
	outcome := d.process(ctx, record)

	status := webhookmodel.StatusSuccess
	if !outcome.OK() {
		status = webhookmodel.StatusError
	}

	message := truncate(outcome.Message, maxMessageLen)
	if err := d.store.UpdateOutcome(record.ID, status, message, time.Now().UTC()); err != nil {
		d.logger.Error("failed to record webhook event outcome",
			"event_id", record.EventID,
			"error", err)
		return false, message
	}

	return outcome.OK(), message
}

func (d *Dispatcher) process(ctx context.Context, record *webhookmodel.Event) Outcome {
	handler, ok := d.handlers[record.Trigger]
	if !ok {
		// Forward compatibility: never fail the queue over an event type
		// we do not handle.
		d.logger.Debug("skipping unsupported event type",
			"trigger", record.Trigger,
			"event_id", record.EventID)
		return Succeed("OK. Unsupported event type %q skipped", record.Trigger)
	}

	var item webhook.Notification
	if err := json.Unmarshal(record.Data, &item); err != nil {
		return Fail(fmt.Errorf("FAILED: could not decode stored event data: %w", err))
	}

	// Handlers resolve their gateway client from the context, so the
	// record's processor must ride along.
	ctx = internal.ContextWithProcessorID(ctx, record.PaymentProcessorID)

	outcome := handler(ctx, &item)
	switch outcome.Kind {
	case KindSucceeded:
		d.logger.Info(outcome.Message, "trigger", record.Trigger, "event_id", record.EventID)
	case KindIgnored:
		d.logger.Debug(outcome.Message, "trigger", record.Trigger, "event_id", record.EventID)
	case KindFailed:
		outcome.Message = "FAILED: Had to skip webhook event. Reason: " + outcome.Message
		d.logger.Error(outcome.Message, "trigger", record.Trigger, "event_id", record.EventID)
	}
	return outcome
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + " ..."
}

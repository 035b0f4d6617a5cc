package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/civiops/adyen-connect/internal/webhook"
)

// Worker polls the queue store for pending events and runs them through
// the dispatcher. The store hands each pending row to at most one worker;
// within one worker, records are processed sequentially in arrival order.
type Worker struct {
	dispatcher   *Dispatcher
	store        webhook.EventStore
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger
}

func NewWorker(dispatcher *Dispatcher, store webhook.EventStore, pollInterval time.Duration, batchSize int, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		dispatcher:   dispatcher,
		store:        store,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("webhook queue worker started",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize)

	for {
		w.drain(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			w.logger.Info("webhook queue worker shutting down")
			return
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		records, err := w.store.ListPending(w.batchSize)
		if err != nil {
			w.logger.Error("failed to list pending webhook events", "error", err)
			return
		}
		if len(records) == 0 {
			return
		}

		for _, record := range records {
			select {
			case <-ctx.Done():
				return
			default:
			}

			ok, message := w.dispatcher.ProcessQueuedEvent(ctx, record)
			if !ok {
				w.logger.Warn("webhook event processing failed",
					"event_id", record.EventID,
					"trigger", record.Trigger,
					"message", message)
			}
		}

		if len(records) < w.batchSize {
			return
		}
	}
}

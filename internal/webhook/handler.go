package webhook

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/civiops/adyen-connect/internal"
	"github.com/civiops/adyen-connect/internal/transport"
)

// acceptedBody is the exact response body the gateway expects. 200 means
// "received and durably queued", never "processed".
const acceptedBody = "[accepted]"

type processorIngest struct {
	parser      *Parser
	processorID int64
}

// Handler is the inbound webhook HTTP endpoint. It must stay fast: verify,
// queue, return. All reconciliation work happens asynchronously so the
// gateway's delivery never times out.
type Handler struct {
	*transport.BaseHandler
	processors map[int64]*processorIngest
	store      EventStore
	logger     *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, store EventStore, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		processors:  make(map[int64]*processorIngest),
		store:       store,
		logger:      logger,
	}
}

// RegisterProcessor adds an ingestion pipeline for one configured merchant
// account.
func (h *Handler) RegisterProcessor(processorID int64, parser *Parser) {
	h.processors[processorID] = &processorIngest{parser: parser, processorID: processorID}
}

// HandleNotification handles POST /api/v1/webhook/adyen/{processorID}.
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	processorID, err := strconv.ParseInt(chi.URLParam(r, "processorID"), 10, 64)
	if err != nil {
		h.WriteError(w, http.StatusNotFound, "unknown payment processor")
		return
	}

	ingest, ok := h.processors[processorID]
	if !ok {
		h.logger.Error("webhook received for unconfigured processor", "processor_id", processorID)
		h.WriteError(w, http.StatusNotFound, "unknown payment processor")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	items, err := ingest.parser.Parse(body)
	if err != nil {
		h.logger.Error("webhook request rejected",
			"error", err,
			"processor_id", processorID)
		if appErr, ok := errors.IsAppError(err); ok {
			h.WriteError(w, appErr.StatusCode, appErr.Message)
		} else {
			h.WriteError(w, http.StatusInternalServerError, "failed to parse webhook request")
		}
		return
	}

	records, err := ToRecords(items)
	if err != nil {
		h.logger.Error("failed to build webhook records", "error", err, "processor_id", processorID)
		h.WriteError(w, http.StatusInternalServerError, "failed to queue webhook events")
		return
	}

	// All items may have been filtered out for another merchant account.
	// That is still an accepted delivery.
	if len(records) > 0 {
		if err := h.store.Append(records, processorID); err != nil {
			h.logger.Error("failed to queue webhook events", "error", err, "processor_id", processorID)
			h.WriteError(w, http.StatusInternalServerError, "failed to queue webhook events")
			return
		}
	}

	h.logger.Info("webhook events queued for background processing",
		"processor_id", processorID,
		"queued", len(records))

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(acceptedBody)); err != nil {
		h.logger.Error("failed to write webhook response", "error", err)
	}
}

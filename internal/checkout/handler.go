package checkout

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	errors "github.com/civiops/adyen-connect/internal"
	"github.com/civiops/adyen-connect/internal/gateway"
	"github.com/civiops/adyen-connect/internal/transport"
)

// SessionRequestDTO is the inbound payload for creating a hosted checkout
// session. Amount is in minor units.
type SessionRequestDTO struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CountryCode string `json:"country_code"`
	ReturnURL   string `json:"return_url"`
	// Reference is optional; a fresh one is generated when absent so
	// retried requests never collide at the gateway.
	Reference string `json:"reference,omitempty"`
}

func (dto *SessionRequestDTO) Validate() error {
	if dto.Amount <= 0 {
		return errors.NewValidationError("amount must be positive", errors.ErrCodeInvalidAmount)
	}
	if len(dto.Currency) != 3 {
		return errors.NewValidationError("currency must be a 3-letter code", errors.ErrCodeInvalidCurrency)
	}
	if dto.ReturnURL == "" {
		return errors.NewValidationError("return_url is required", errors.ErrCodeValidationFailed)
	}
	return nil
}

// Handler exposes checkout session creation for the host CRM's payment
// pages.
type Handler struct {
	*transport.BaseHandler
	gateways map[int64]gateway.API
	logger   *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, gateways map[int64]gateway.API, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		gateways:    gateways,
		logger:      logger,
	}
}

// HandleCreateSession handles POST /api/v1/checkout/adyen/{processorID}/session.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	processorID, err := strconv.ParseInt(chi.URLParam(r, "processorID"), 10, 64)
	if err != nil {
		h.WriteError(w, http.StatusNotFound, "unknown payment processor")
		return
	}
	gw, ok := h.gateways[processorID]
	if !ok {
		h.WriteError(w, http.StatusNotFound, "unknown payment processor")
		return
	}

	var dto SessionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := dto.Validate(); err != nil {
		if appErr, ok := errors.IsAppError(err); ok {
			h.WriteError(w, appErr.StatusCode, appErr.Message)
		} else {
			h.WriteError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	reference := dto.Reference
	if reference == "" {
		reference = uuid.New().String()
	}

	req := &gateway.SessionRequest{
		CountryCode: dto.CountryCode,
		Reference:   reference,
		ReturnURL:   dto.ReturnURL,
	}
	req.Amount.Value = dto.Amount
	req.Amount.Currency = dto.Currency

	session, err := gw.CreateCheckoutSession(r.Context(), req)
	if err != nil {
		h.logger.Error("checkout session creation failed",
			"processor_id", processorID,
			"reference", reference,
			"error", err)
		if appErr, ok := errors.IsAppError(err); ok {
			h.WriteError(w, appErr.StatusCode, appErr.Message)
		} else {
			h.WriteError(w, http.StatusBadGateway, "payment gateway unavailable")
		}
		return
	}

	h.logger.Info("checkout session created",
		"processor_id", processorID,
		"reference", reference,
		"session_id", session.ID)
	h.WriteJSON(w, http.StatusCreated, session)
}

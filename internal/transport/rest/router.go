package rest

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/civiops/adyen-connect/internal/checkout"
	"github.com/civiops/adyen-connect/internal/lifecycle"
	"github.com/civiops/adyen-connect/internal/transport/middleware"
	"github.com/civiops/adyen-connect/internal/transport/swagger"
	"github.com/civiops/adyen-connect/internal/webhook"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, webhookHandler *webhook.Handler, checkoutHandler *checkout.Handler, diagnosticsHandler *DiagnosticsHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// The webhook endpoint deliberately skips the request-logging
		// middleware: payloads carry shopper data and signatures, and
		// the parser does its own structured logging.
		if webhookHandler != nil {
			r.Post("/webhook/adyen/{processorID}", webhookHandler.HandleNotification)
		}

		if checkoutHandler != nil {
			r.Group(func(cr chi.Router) {
				cr.Use(middleware.LoggingMiddleware(logger))
				cr.Post("/checkout/adyen/{processorID}/session", checkoutHandler.HandleCreateSession)
			})
		}

		if diagnosticsHandler != nil {
			r.Get("/diagnostics", diagnosticsHandler.HandleDiagnostics)
		}
	})
}

// DiagnosticsHandler exposes the lifecycle checks read-only over HTTP.
// Fix mode is only reachable through the CLI.
type DiagnosticsHandler struct {
	checker *lifecycle.Checker
	logger  *slog.Logger
}

func NewDiagnosticsHandler(checker *lifecycle.Checker, logger *slog.Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{checker: checker, logger: logger}
}

func (h *DiagnosticsHandler) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	messages := h.checker.Run(r.Context(), false)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"checked": len(messages),
		"results": messages,
	}); err != nil {
		h.logger.Error("failed to encode diagnostics response", "error", err)
	}
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	errors "github.com/civiops/adyen-connect/internal"
)

// API is the outbound gateway capability. Everything that talks to Adyen
// goes through this interface so tests can substitute a fake via
// constructor injection.
type API interface {
	CreateCheckoutSession(ctx context.Context, req *SessionRequest) (*SessionResponse, error)
	ListWebhooks(ctx context.Context) ([]WebhookEndpoint, error)
	CreateWebhook(ctx context.Context, params *WebhookParams) (*WebhookEndpoint, error)
	UpdateWebhook(ctx context.Context, id string, params *WebhookParams) error
	GetPaymentDetails(ctx context.Context, pspReference string) (*PaymentDetails, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// SessionRequest creates a hosted-checkout session. Value is in minor
// units.
type SessionRequest struct {
	Amount struct {
		Value    int64  `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	CountryCode     string `json:"countryCode"`
	MerchantAccount string `json:"merchantAccount"`
	Reference       string `json:"reference"`
	ReturnURL       string `json:"returnUrl"`
}

type SessionResponse struct {
	ID          string `json:"id"`
	SessionData string `json:"sessionData"`
	Reference   string `json:"reference"`
}

// WebhookEndpoint is one notification configuration at the gateway.
type WebhookEndpoint struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Active        bool     `json:"active"`
	EnabledEvents []string `json:"enabledEvents"`
}

type WebhookParams struct {
	EnabledEvents []string `json:"enabledEvents"`
	URL           string   `json:"url"`
	Connect       bool     `json:"connect"`
}

// PaymentDetails is the charge state looked up for refund and failure
// handling.
type PaymentDetails struct {
	PspReference  string `json:"pspReference"`
	Captured      bool   `json:"captured"`
	RefusalReason string `json:"refusalReason"`
	Amount        struct {
		Value    int64  `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// Config for one gateway client. BaseURL normally derives from the
// test/live environment; tests point it at an httptest server.
type Config struct {
	APIKey          string
	MerchantAccount string
	URLPrefix       string
	IsTest          bool
	BaseURL         string
	Timeout         time.Duration
}

type Client struct {
	client          *http.Client
	baseURL         string
	apiKey          string
	merchantAccount string
	logger          *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.IsTest {
			baseURL = "https://checkout-test.adyen.com/v70"
		} else {
			baseURL = fmt.Sprintf("https://%s-checkout-live.adyenpayments.com/checkout/v70", cfg.URLPrefix)
		}
	}

	return &Client{
		client:          &http.Client{Timeout: timeout},
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		merchantAccount: cfg.MerchantAccount,
		logger:          logger,
	}
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	if req.MerchantAccount == "" {
		req.MerchantAccount = c.merchantAccount
	}

	c.logger.Info("creating checkout session",
		"reference", req.Reference,
		"amount", req.Amount.Value,
		"currency", req.Amount.Currency)

	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListWebhooks(ctx context.Context) ([]WebhookEndpoint, error) {
	var resp struct {
		Data []WebhookEndpoint `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/webhooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) CreateWebhook(ctx context.Context, params *WebhookParams) (*WebhookEndpoint, error) {
	c.logger.Info("creating webhook endpoint", "url", params.URL, "events", len(params.EnabledEvents))

	var resp WebhookEndpoint
	if err := c.do(ctx, http.MethodPost, "/webhooks", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateWebhook(ctx context.Context, id string, params *WebhookParams) error {
	c.logger.Info("updating webhook endpoint", "webhook_id", id)
	return c.do(ctx, http.MethodPatch, "/webhooks/"+id, params, nil)
}

func (c *Client) GetPaymentDetails(ctx context.Context, pspReference string) (*PaymentDetails, error) {
	var resp PaymentDetails
	if err := c.do(ctx, http.MethodGet, "/payments/"+pspReference, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	c.logger.Info("cancelling subscription at gateway", "subscription_id", subscriptionID)

	body := map[string]string{"merchantAccount": c.merchantAccount}
	return c.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/cancel", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return errors.NewInternalError("failed to marshal gateway request", err)
		}
		reader = bytes.NewBuffer(data)
	}

	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.NewInternalError("failed to create gateway request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway request failed", "method", method, "path", path, "error", err)
		return errors.NewExternalError(fmt.Sprintf("gateway request %s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewExternalError("failed to read gateway response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("gateway returned error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"response", string(data))
		return &errors.AppError{
			Type:       errors.ErrorTypeExternal,
			Code:       errors.ErrCodeGatewayRejected,
			Message:    fmt.Sprintf("gateway error: status %d for %s %s", resp.StatusCode, method, path),
			StatusCode: http.StatusBadGateway,
		}
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return errors.NewExternalError("failed to decode gateway response", err)
		}
	}
	return nil
}

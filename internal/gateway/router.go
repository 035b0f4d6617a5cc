package gateway

import (
	"context"

	"github.com/civiops/adyen-connect/internal"
)

// Router is an API that fans out to the client for the processor carried
// in the request context. Installations with a single merchant account
// simply always hit the same client.
type Router struct {
	clients  map[int64]API
	fallback API
}

// NewRouter builds a routing API. The client registered under defaultID
// serves calls whose context carries no processor id.
func NewRouter(clients map[int64]API, defaultID int64) *Router {
	return &Router{
		clients:  clients,
		fallback: clients[defaultID],
	}
}

func (r *Router) pick(ctx context.Context) API {
	if client, ok := r.clients[internal.ProcessorIDFromContext(ctx)]; ok {
		return client
	}
	return r.fallback
}

func (r *Router) CreateCheckoutSession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return r.pick(ctx).CreateCheckoutSession(ctx, req)
}

func (r *Router) ListWebhooks(ctx context.Context) ([]WebhookEndpoint, error) {
	return r.pick(ctx).ListWebhooks(ctx)
}

func (r *Router) CreateWebhook(ctx context.Context, params *WebhookParams) (*WebhookEndpoint, error) {
	return r.pick(ctx).CreateWebhook(ctx, params)
}

func (r *Router) UpdateWebhook(ctx context.Context, id string, params *WebhookParams) error {
	return r.pick(ctx).UpdateWebhook(ctx, id, params)
}

func (r *Router) GetPaymentDetails(ctx context.Context, pspReference string) (*PaymentDetails, error) {
	return r.pick(ctx).GetPaymentDetails(ctx, pspReference)
}

func (r *Router) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return r.pick(ctx).CancelSubscription(ctx, subscriptionID)
}

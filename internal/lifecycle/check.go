package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	"github.com/civiops/adyen-connect/internal"
	"github.com/civiops/adyen-connect/internal/gateway"
	"github.com/civiops/adyen-connect/internal/webhook"
)

// Severity mirrors the host platform's check levels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// CheckMessage is one diagnostic surfaced to an operator.
type CheckMessage struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Actions  []Action `json:"actions,omitempty"`
}

// Action is a remediation the operator can take, usually a link or a
// command rerun with --fix.
type Action struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// ExtensionRegistry reports which host-platform extensions are installed.
// Version returns ok=false when the extension is absent.
type ExtensionRegistry interface {
	Version(name string) (string, bool)
}

// StaticRegistry is an ExtensionRegistry backed by configuration.
type StaticRegistry map[string]string

func (r StaticRegistry) Version(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}

// Host-platform extensions this integration leans on. The payments
// wrapper is a hard dependency; the firewall is recommended because the
// webhook endpoint is internet-facing.
const (
	ExtensionPayments = "mjwshared"
	ExtensionFirewall = "firewall"

	minPaymentsVersion = "1.2.4"
	minFirewallVersion = "1.5.1"
)

// Checker evaluates the health of every configured processor's webhook
// setup plus the extension prerequisites. One processor failing its
// gateway calls never stops the others from being checked.
type Checker struct {
	processors []internal.ProcessorConfig
	gateways   map[int64]gateway.API
	registry   ExtensionRegistry
	baseURL    string
	production bool
	logger     *slog.Logger
}

func NewChecker(
	processors []internal.ProcessorConfig,
	gateways map[int64]gateway.API,
	registry ExtensionRegistry,
	baseURL string,
	production bool,
	logger *slog.Logger,
) *Checker {
	return &Checker{
		processors: processors,
		gateways:   gateways,
		registry:   registry,
		baseURL:    baseURL,
		production: production,
		logger:     logger,
	}
}

// Run executes every check. With fix set, missing webhooks are created
// and drifted ones updated instead of only being reported.
func (c *Checker) Run(ctx context.Context, fix bool) []CheckMessage {
	messages := c.CheckExtensions()
	messages = append(messages, c.CheckWebhooks(ctx, fix)...)
	return messages
}

// CheckExtensions verifies the host-platform extension prerequisites.
func (c *Checker) CheckExtensions() []CheckMessage {
	var messages []CheckMessage

	if msg := c.checkExtension(ExtensionPayments, minPaymentsVersion, SeverityCritical,
		"The payments wrapper extension is required for webhook and contribution handling."); msg != nil {
		messages = append(messages, *msg)
	}
	if msg := c.checkExtension(ExtensionFirewall, minFirewallVersion, SeverityWarning,
		"The firewall extension is recommended to protect the internet-facing webhook endpoint."); msg != nil {
		messages = append(messages, *msg)
	}
	return messages
}

func (c *Checker) checkExtension(name, minVersion string, severity Severity, why string) *CheckMessage {
	installed, ok := c.registry.Version(name)
	if !ok {
		return &CheckMessage{
			Name:     "adyen_extension_" + name,
			Title:    fmt.Sprintf("Extension %s not installed", name),
			Message:  fmt.Sprintf("%s Install version %s or later.", why, minVersion),
			Severity: severity,
		}
	}

	current, err := semver.NewVersion(installed)
	if err != nil {
		c.logger.Warn("unparseable extension version",
			"extension", name, "version", installed, "error", err)
		return &CheckMessage{
			Name:     "adyen_extension_" + name,
			Title:    fmt.Sprintf("Extension %s version unreadable", name),
			Message:  fmt.Sprintf("Installed version %q could not be parsed. Version %s or later is needed.", installed, minVersion),
			Severity: severity,
		}
	}
	if current.LessThan(semver.MustParse(minVersion)) {
		return &CheckMessage{
			Name:     "adyen_extension_" + name,
			Title:    fmt.Sprintf("Extension %s too old", name),
			Message:  fmt.Sprintf("%s Installed version is %s, upgrade to %s or later.", why, installed, minVersion),
			Severity: severity,
		}
	}
	return nil
}

// CheckWebhooks verifies each processor has a webhook registered at the
// gateway for this installation's callback URL. It only runs against
// production: test environments routinely point at shared gateway
// accounts whose webhook configuration they must not touch.
func (c *Checker) CheckWebhooks(ctx context.Context, fix bool) []CheckMessage {
	if !c.production {
		return []CheckMessage{{
			Name:     "adyen_webhook",
			Title:    "Webhook check skipped",
			Message:  "Webhook configuration is only checked in production environments.",
			Severity: SeverityInfo,
		}}
	}

	var messages []CheckMessage
	for i := range c.processors {
		p := &c.processors[i]
		messages = append(messages, c.checkProcessorWebhook(ctx, p, fix)...)
	}
	return messages
}

func (c *Checker) checkProcessorWebhook(ctx context.Context, p *internal.ProcessorConfig, fix bool) []CheckMessage {
	name := fmt.Sprintf("adyen_webhook_%d", p.ID)
	gw, ok := c.gateways[p.ID]
	if !ok {
		return []CheckMessage{{
			Name:     name,
			Title:    fmt.Sprintf("Processor %s has no gateway client", p.Name),
			Message:  "The processor is configured but no API client was wired for it. Check the API key configuration.",
			Severity: SeverityError,
		}}
	}

	callbackURL := p.WebhookPath(c.baseURL)
	endpoints, err := gw.ListWebhooks(ctx)
	if err != nil {
		c.logger.Error("webhook listing failed",
			"processor_id", p.ID, "error", err)
		return []CheckMessage{{
			Name:     name,
			Title:    fmt.Sprintf("Could not list webhooks for processor %s", p.Name),
			Message:  fmt.Sprintf("The gateway API call failed: %v. Verify the API key and network access, then re-run the check.", err),
			Severity: SeverityWarning,
		}}
	}

	var existing *gateway.WebhookEndpoint
	for i := range endpoints {
		if endpoints[i].URL == callbackURL {
			existing = &endpoints[i]
			break
		}
	}

	if existing == nil {
		if !fix {
			return []CheckMessage{{
				Name:     name,
				Title:    fmt.Sprintf("Webhook missing for processor %s", p.Name),
				Message:  fmt.Sprintf("No webhook is registered at the gateway for %s. Notifications will not be delivered.", callbackURL),
				Severity: SeverityWarning,
				Actions:  []Action{{Title: "Create it by re-running the check with --fix"}},
			}}
		}
		created, err := gw.CreateWebhook(ctx, &gateway.WebhookParams{
			EnabledEvents: webhook.DefaultEnabledEvents(),
			URL:           callbackURL,
		})
		if err != nil {
			return []CheckMessage{{
				Name:     name,
				Title:    fmt.Sprintf("Webhook creation failed for processor %s", p.Name),
				Message:  fmt.Sprintf("Creating the webhook at %s failed: %v.", callbackURL, err),
				Severity: SeverityWarning,
			}}
		}
		c.logger.Info("created webhook at gateway",
			"processor_id", p.ID, "webhook_id", created.ID, "url", callbackURL)
		return []CheckMessage{{
			Name:     name,
			Title:    fmt.Sprintf("Webhook created for processor %s", p.Name),
			Message:  fmt.Sprintf("Registered webhook %s for %s.", created.ID, callbackURL),
			Severity: SeverityInfo,
		}}
	}

	// Drift detection between the configured events and the desired set
	// is not implemented yet, so the diff is always empty and the update
	// branch only runs once it produces one.
	drifted := c.diffEnabledEvents(existing)
	if len(drifted) == 0 {
		return nil
	}
	if !fix {
		return []CheckMessage{{
			Name:     name,
			Title:    fmt.Sprintf("Webhook misconfigured for processor %s", p.Name),
			Message:  fmt.Sprintf("Webhook %s is missing events: %v.", existing.ID, drifted),
			Severity: SeverityWarning,
			Actions:  []Action{{Title: "Repair it by re-running the check with --fix"}},
		}}
	}
	if err := gw.UpdateWebhook(ctx, existing.ID, &gateway.WebhookParams{
		EnabledEvents: webhook.DefaultEnabledEvents(),
		URL:           callbackURL,
	}); err != nil {
		return []CheckMessage{{
			Name:     name,
			Title:    fmt.Sprintf("Webhook update failed for processor %s", p.Name),
			Message:  fmt.Sprintf("Updating webhook %s failed: %v.", existing.ID, err),
			Severity: SeverityWarning,
		}}
	}
	return []CheckMessage{{
		Name:     name,
		Title:    fmt.Sprintf("Webhook updated for processor %s", p.Name),
		Message:  fmt.Sprintf("Webhook %s now carries the default event set.", existing.ID),
		Severity: SeverityInfo,
	}}
}

// diffEnabledEvents returns the desired events missing from the endpoint.
// TODO: compare against existing.EnabledEvents once the gateway response
// reliably includes them; today it returns an empty diff.
func (c *Checker) diffEnabledEvents(_ *gateway.WebhookEndpoint) []string {
	return nil
}

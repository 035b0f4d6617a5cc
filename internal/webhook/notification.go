package webhook

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Event codes delivered by the gateway that this integration understands.
const (
	EventAuthorisation         = "AUTHORISATION"
	EventInvoiceFinalized      = "invoice.finalized"
	EventInvoicePaymentSuccess = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	EventChargeFailed          = "charge.failed"
	EventChargeRefunded        = "charge.refunded"
	EventChargeSucceeded       = "charge.succeeded"
	EventChargeCaptured        = "charge.captured"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
)

// Keys read out of a notification's additionalData map.
const (
	AdditionalDataHMACSignature  = "hmacSignature"
	AdditionalDataShopperEmail   = "shopperEmail"
	AdditionalDataShopperName    = "shopperName"
	AdditionalDataInvoiceID      = "invoiceId"
	AdditionalDataSubscriptionID = "subscriptionId"
	AdditionalDataFeeAmount      = "feeAmount"
	AdditionalDataPeriodEnd      = "periodEnd"
	AdditionalDataCustomerID     = "customerId"
)

// DefaultEnabledEvents is the authoritative list of event codes the webhook
// should be configured with at the gateway and that the dispatcher must
// recognize. invoice.paid is deliberately absent: it arrives almost
// simultaneously with invoice.payment_succeeded and processing both races
// the duplicate-payment check.
func DefaultEnabledEvents() []string {
	return []string{
		EventAuthorisation,
		EventInvoiceFinalized,
		EventInvoicePaymentSuccess,
		EventInvoicePaymentFailed,
		EventChargeFailed,
		EventChargeRefunded,
		EventChargeSucceeded,
		EventChargeCaptured,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
	}
}

// DelayProcessingEvents lists event codes that do not need real-time
// handling. invoice.finalized arrives together with
// invoice.payment_succeeded when a subscription starts immediately, so
// nothing is lost by letting the background job pick it up. It is still
// handled synchronously if it gets there first.
func DelayProcessingEvents() []string {
	return []string{EventInvoiceFinalized}
}

// Amount is a monetary value in minor units (cents).
type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// boolString accepts the gateway's string-typed booleans ("true"/"false")
// as well as plain JSON booleans.
type boolString bool

func (b *boolString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = boolString(strings.EqualFold(s, "true"))
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = boolString(v)
	return nil
}

func (b boolString) MarshalJSON() ([]byte, error) {
	if b {
		return []byte(`"true"`), nil
	}
	return []byte(`"false"`), nil
}

// Notification is one parsed NotificationRequestItem. It is transient:
// constructed during parsing and discarded once persisted as a queued
// event (or rejected).
type Notification struct {
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	PspReference        string            `json:"pspReference"`
	OriginalReference   string            `json:"originalReference,omitempty"`
	MerchantReference   string            `json:"merchantReference,omitempty"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	Amount              Amount            `json:"amount"`
	Success             boolString        `json:"success"`
	Reason              string            `json:"reason,omitempty"`
	AdditionalData      map[string]string `json:"additionalData,omitempty"`
}

func (n *Notification) InvoiceID() string {
	return n.AdditionalData[AdditionalDataInvoiceID]
}

func (n *Notification) SubscriptionID() string {
	return n.AdditionalData[AdditionalDataSubscriptionID]
}

func (n *Notification) ShopperEmail() string {
	return n.AdditionalData[AdditionalDataShopperEmail]
}

var (
	firstNameRe = regexp.MustCompile(`first name=([^,\]]*)`)
	lastNameRe  = regexp.MustCompile(`last name=([^,\]]*)`)
)

// ShopperName extracts the first and last name from the gateway's
// bracketed format: [first name=X, infix=Y, last name=Z, gender=W].
func (n *Notification) ShopperName() (first, last string) {
	raw := n.AdditionalData[AdditionalDataShopperName]
	if m := firstNameRe.FindStringSubmatch(raw); m != nil && m[1] != "null" {
		first = strings.TrimSpace(m[1])
	}
	if m := lastNameRe.FindStringSubmatch(raw); m != nil && m[1] != "null" {
		last = strings.TrimSpace(m[1])
	}
	return first, last
}

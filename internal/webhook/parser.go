package webhook

import (
	"encoding/json"
	"log/slog"

	errors "github.com/civiops/adyen-connect/internal"
	webhookmodel "github.com/civiops/adyen-connect/internal/core/datamodel/webhook"
)

// Parser turns a raw webhook request body into queueable event records.
// It is fail-closed: a single missing or invalid signature rejects the
// entire request before anything is persisted.
type Parser struct {
	verifier        *SignatureVerifier
	merchantAccount string
	logger          *slog.Logger
}

func NewParser(verifier *SignatureVerifier, merchantAccount string, logger *slog.Logger) *Parser {
	return &Parser{
		verifier:        verifier,
		merchantAccount: merchantAccount,
		logger:          logger,
	}
}

type notificationPayload struct {
	NotificationItems []struct {
		NotificationRequestItem json.RawMessage `json:"NotificationRequestItem"`
	} `json:"notificationItems"`
}

// Parse validates and filters the request body. Items belonging to a
// different merchant account are dropped silently: a multi-tenant gateway
// account shares one notification stream. Output order follows input
// order. An empty input is an error; an empty output after filtering is
// not.
func (p *Parser) Parse(body []byte) ([]*Notification, error) {
	var payload notificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.NewMalformedPayloadError("invalid notification payload").WithCause(err)
	}

	if len(payload.NotificationItems) == 0 {
		return nil, errors.NewMalformedPayloadError("invalid notification payload: notificationItems is empty")
	}

	items := make([]*Notification, 0, len(payload.NotificationItems))
	for _, wrapped := range payload.NotificationItems {
		if len(wrapped.NotificationRequestItem) == 0 {
			return nil, errors.NewMalformedPayloadError("invalid notification payload: item is empty")
		}

		var item Notification
		if err := json.Unmarshal(wrapped.NotificationRequestItem, &item); err != nil {
			return nil, errors.NewMalformedPayloadError("invalid notification item").WithCause(err)
		}

		if item.AdditionalData[AdditionalDataHMACSignature] == "" {
			return nil, errors.NewMalformedPayloadError("invalid notification: no HMAC signature provided")
		}

		if !p.verifier.Verify(&item) {
			return nil, errors.NewAuthenticationError("invalid notification: HMAC verification failed")
		}

		if item.MerchantAccountCode != p.merchantAccount {
			p.logger.Debug("merchant account does not match configured account, ignoring item",
				"merchant_account", item.MerchantAccountCode,
				"event_code", item.EventCode)
			continue
		}

		items = append(items, &item)
	}

	return items, nil
}

// ToRecords converts parsed notifications into queue records. Trigger and
// identifier are redundant with the serialized data but make
// troubleshooting queued rows much easier.
func ToRecords(items []*Notification) ([]*webhookmodel.Event, error) {
	records := make([]*webhookmodel.Event, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, errors.NewInternalError("failed to serialize notification item", err)
		}
		records = append(records, &webhookmodel.Event{
			EventID:    item.EventDate,
			Trigger:    item.EventCode,
			Identifier: item.PspReference,
			Data:       data,
		})
	}
	return records, nil
}

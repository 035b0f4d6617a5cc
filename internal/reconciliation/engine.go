package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	apperrors "github.com/civiops/adyen-connect/internal"
	"github.com/civiops/adyen-connect/internal/contact"
	"github.com/civiops/adyen-connect/internal/contribution"
	contributionmodel "github.com/civiops/adyen-connect/internal/core/datamodel/contribution"
	"github.com/civiops/adyen-connect/internal/core/events"
	"github.com/civiops/adyen-connect/internal/dispatcher"
	"github.com/civiops/adyen-connect/internal/gateway"
	"github.com/civiops/adyen-connect/internal/webhook"
)

// Engine holds the event-type handlers that reconcile gateway
// notifications against contributions and recurring schedules. Every
// handler looks up before creating, so re-running one on the same queued
// event converges instead of duplicating state.
type Engine struct {
	contributions contribution.RepositoryAPI
	payments      contribution.PaymentRepositoryAPI
	recurring     contribution.RecurringRepositoryAPI
	contacts      contact.RepositoryAPI
	gateway       gateway.API
	eventBus      *events.EventBus
	logger        *slog.Logger
}

func NewEngine(
	contributions contribution.RepositoryAPI,
	payments contribution.PaymentRepositoryAPI,
	recurring contribution.RecurringRepositoryAPI,
	contacts contact.RepositoryAPI,
	gw gateway.API,
	eventBus *events.EventBus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		contributions: contributions,
		payments:      payments,
		recurring:     recurring,
		contacts:      contacts,
		gateway:       gw,
		eventBus:      eventBus,
		logger:        logger,
	}
}

// Handlers maps every enabled event code to its handler. charge.succeeded
// and charge.captured intentionally share one handler: the gateway emits
// whichever fits the capture mode, and the reconciliation is identical.
func (e *Engine) Handlers() map[string]dispatcher.Handler {
	settled := e.ChargeSettled
	return map[string]dispatcher.Handler{
		webhook.EventAuthorisation:         e.Authorisation,
		webhook.EventInvoiceFinalized:      e.InvoiceFinalized,
		webhook.EventInvoicePaymentSuccess: e.InvoicePaymentSucceeded,
		webhook.EventInvoicePaymentFailed:  e.InvoicePaymentFailed,
		webhook.EventChargeFailed:          e.ChargeFailed,
		webhook.EventChargeRefunded:        e.ChargeRefunded,
		webhook.EventChargeSucceeded:       settled,
		webhook.EventChargeCaptured:        settled,
		webhook.EventSubscriptionUpdated:   e.SubscriptionUpdated,
		webhook.EventSubscriptionDeleted:   e.SubscriptionDeleted,
	}
}

// Authorisation creates a Pending contribution for a successful one-off
// authorization. Failed attempts are ignorable: the gateway reports every
// declined card, and none of them is our state to track.
func (e *Engine) Authorisation(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	if !bool(n.Success) {
		return dispatcher.Ignore(dispatcher.IgnoreInfo,
			"ignoring failed authorization attempt %s", n.PspReference)
	}
	if n.MerchantReference == "" {
		return dispatcher.Fail(apperrors.NewMalformedPayloadError(
			"authorization notification without merchant reference"))
	}

	existing, err := e.contributions.GetByTrxnID(n.MerchantReference)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if existing != nil {
		return dispatcher.Succeed("contribution %d already exists for transaction %s",
			existing.ID, n.MerchantReference)
	}

	contactID, err := e.resolveContact(n)
	if err != nil {
		return dispatcher.Fail(err)
	}

	receiveDate := e.eventTime(n)
	record := &contributionmodel.Contribution{
		ContactID:      contactID,
		TotalAmount:    n.Amount.Value,
		Currency:       n.Amount.Currency,
		Status:         contributionmodel.StatusPending,
		TrxnID:         n.MerchantReference,
		OrderReference: n.MerchantReference,
		Source:         "Adyen",
		ReceiveDate:    &receiveDate,
	}
	if err := e.contributions.Create(record); err != nil {
		return dispatcher.Fail(err)
	}

	e.logger.Info("created pending contribution from authorization",
		"contribution_id", record.ID,
		"trxn_id", n.MerchantReference,
		"contact_id", contactID)
	return dispatcher.Succeed("created pending contribution %d for transaction %s",
		record.ID, n.MerchantReference)
}

// InvoiceFinalized correlates an invoice with its recurring schedule. An
// invoice for a subscription this system never created is a no-op: the
// gateway account may serve other systems too.
func (e *Engine) InvoiceFinalized(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	invoiceID := n.InvoiceID()
	subscriptionID := n.SubscriptionID()
	if invoiceID == "" {
		return dispatcher.Fail(apperrors.NewMalformedPayloadError(
			"invoice.finalized notification without invoice id"))
	}

	existing, err := e.contributions.GetByOrderReference(invoiceID)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if existing != nil {
		return dispatcher.Succeed("contribution %d already correlated with invoice %s",
			existing.ID, invoiceID)
	}

	if subscriptionID != "" {
		// Future-dated first payment: the contribution was created keyed
		// by the subscription id before any invoice existed. Rewrite its
		// correlation key now that the invoice id is known.
		bySubscription, err := e.contributions.GetByOrderReference(subscriptionID)
		if err != nil {
			return dispatcher.Fail(err)
		}
		if bySubscription != nil {
			if err := e.contributions.UpdateOrderReference(bySubscription.ID, invoiceID); err != nil {
				return dispatcher.Fail(err)
			}
			return dispatcher.Succeed("re-keyed contribution %d from subscription %s to invoice %s",
				bySubscription.ID, subscriptionID, invoiceID)
		}
	}

	schedule, err := e.lookupSchedule(subscriptionID)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if schedule == nil {
		return dispatcher.Ignore(dispatcher.IgnoreInfo,
			"invoice %s does not belong to a known schedule, nothing to reconcile", invoiceID)
	}

	next, err := e.createNextForSchedule(schedule, invoiceID, n)
	if err != nil {
		return dispatcher.Fail(err)
	}
	return dispatcher.Succeed("created pending contribution %d for schedule %d invoice %s",
		next.ID, schedule.ID, invoiceID)
}

// InvoicePaymentSucceeded completes the contribution for a recurring
// payment. It tolerates out-of-order delivery: if the payment event beats
// invoice.finalized, the next contribution is created here instead.
func (e *Engine) InvoicePaymentSucceeded(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	recorded, err := e.payments.GetCompletedByTrxnID(n.PspReference)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if recorded != nil {
		return dispatcher.Succeed("payment %s already recorded against contribution %d",
			n.PspReference, recorded.ContributionID)
	}

	record, err := e.locateContribution(n)
	if err != nil {
		return dispatcher.Fail(err)
	}

	subscriptionID := n.SubscriptionID()
	var schedule *contributionmodel.Recurring
	if subscriptionID != "" {
		schedule, err = e.recurring.GetBySubscriptionID(subscriptionID)
		if err != nil {
			return dispatcher.Fail(err)
		}
	}

	if record == nil {
		if schedule == nil {
			return dispatcher.Fail(apperrors.NewNotFoundError(
				fmt.Sprintf("no contribution or schedule matches payment %s", n.PspReference),
				apperrors.ErrCodeContributionNotFound))
		}
		record, err = e.createNextForSchedule(schedule, n.InvoiceID(), n)
		if err != nil {
			return dispatcher.Fail(err)
		}
	}

	switch record.Status {
	case contributionmodel.StatusPending, contributionmodel.StatusFailed:
		if outcome := e.complete(ctx, record, n); !outcome.OK() {
			return outcome
		}
	default:
		return dispatcher.Succeed("contribution %d already %s, payment %s not re-applied",
			record.ID, record.Status, n.PspReference)
	}

	if schedule == nil && record.RecurringID != nil {
		schedule, err = e.scheduleByID(*record.RecurringID)
		if err != nil {
			return dispatcher.Fail(err)
		}
	}
	note := e.settleSchedule(ctx, schedule, n)

	return dispatcher.Succeed("completed contribution %d with payment %s%s",
		record.ID, n.PspReference, note)
}

// InvoicePaymentFailed marks a pending contribution Failed, resolving the
// failure reason from the charge detail when the notification omits it.
func (e *Engine) InvoicePaymentFailed(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	record, err := e.locateContribution(n)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if record == nil {
		return dispatcher.Fail(apperrors.NewNotFoundError(
			fmt.Sprintf("no contribution matches failed payment %s", n.PspReference),
			apperrors.ErrCodeContributionNotFound))
	}
	if record.Status != contributionmodel.StatusPending {
		return dispatcher.Succeed("contribution %d is %s, failure for %s not applied",
			record.ID, record.Status, n.PspReference)
	}

	reason := n.Reason
	if reason == "" {
		details, derr := e.gateway.GetPaymentDetails(ctx, n.PspReference)
		switch {
		case derr != nil:
			e.logger.Warn("could not resolve failure reason from gateway",
				"psp_reference", n.PspReference, "error", derr)
			reason = "unknown"
		case details.RefusalReason != "":
			reason = details.RefusalReason
		default:
			reason = "unknown"
		}
	}

	if err := e.contributions.MarkFailed(record.ID, reason); err != nil {
		return dispatcher.Fail(err)
	}
	e.eventBus.Publish(ctx, events.NewContributionFailedEvent(record.ID, n.PspReference, reason))

	return dispatcher.Succeed("marked contribution %d failed: %s", record.ID, reason)
}

// ChargeFailed handles one-off charge failures. Failures without a
// customer correlation are card-testing noise and are dropped without
// comment.
func (e *Engine) ChargeFailed(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	if n.AdditionalData[webhook.AdditionalDataCustomerID] == "" {
		return dispatcher.Ignore(dispatcher.IgnoreInfo,
			"charge failure %s has no customer correlation, dropping", n.PspReference)
	}

	record, err := e.locateContribution(n)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if record == nil {
		return dispatcher.Ignore(dispatcher.IgnoreWarning,
			"no contribution matches failed charge %s", n.PspReference)
	}
	if record.Status != contributionmodel.StatusPending {
		return dispatcher.Succeed("contribution %d is %s, charge failure not applied",
			record.ID, record.Status)
	}

	reason := n.Reason
	if reason == "" {
		reason = "charge failed"
	}
	if err := e.contributions.MarkFailed(record.ID, reason); err != nil {
		return dispatcher.Fail(err)
	}
	e.eventBus.Publish(ctx, events.NewContributionFailedEvent(record.ID, n.PspReference, reason))

	return dispatcher.Succeed("marked contribution %d failed after charge failure", record.ID)
}

// ChargeRefunded applies a refund as a negative payment row. The original
// charge must have been captured, and the same refund amount is never
// applied twice.
func (e *Engine) ChargeRefunded(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	chargeRef := n.OriginalReference
	if chargeRef == "" {
		chargeRef = n.PspReference
	}

	details, err := e.gateway.GetPaymentDetails(ctx, chargeRef)
	if err != nil {
		return dispatcher.Fail(apperrors.NewExternalError(
			fmt.Sprintf("could not verify charge %s before refund", chargeRef), err))
	}
	if !details.Captured {
		return dispatcher.Ignore(dispatcher.IgnoreInfo,
			"charge %s was never captured, refund %s ignored", chargeRef, n.PspReference)
	}

	record, err := e.locateContributionByReference(chargeRef, n)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if record == nil {
		return dispatcher.Fail(apperrors.NewNotFoundError(
			fmt.Sprintf("no contribution matches refunded charge %s", chargeRef),
			apperrors.ErrCodeContributionNotFound))
	}

	refundAmount := -n.Amount.Value
	existing, err := e.payments.ListForContribution(record.ID)
	if err != nil {
		return dispatcher.Fail(err)
	}
	for _, p := range existing {
		if p.Amount == refundAmount {
			return dispatcher.Succeed("refund of %d already recorded against contribution %d",
				n.Amount.Value, record.ID)
		}
	}

	payment := &contributionmodel.Payment{
		ContributionID: record.ID,
		TrxnID:         n.PspReference,
		Amount:         refundAmount,
		FeeAmount:      e.feeAmount(n),
		Currency:       n.Amount.Currency,
		TrxnDate:       e.eventTime(n),
	}
	if err := e.payments.Record(payment); err != nil {
		return dispatcher.Fail(err)
	}
	if err := e.contributions.MarkRefunded(record.ID); err != nil {
		return dispatcher.Fail(err)
	}

	return dispatcher.Succeed("refunded %d on contribution %d", n.Amount.Value, record.ID)
}

// ChargeSettled serves charge.succeeded and charge.captured. It only acts
// on one-off contributions: recurring ones settle through the invoice
// events, and reacting here too would double-complete them.
func (e *Engine) ChargeSettled(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	record, err := e.locateContribution(n)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if record == nil {
		return dispatcher.Ignore(dispatcher.IgnoreWarning,
			"no contribution matches settled charge %s", n.PspReference)
	}
	if record.RecurringID != nil {
		return dispatcher.Ignore(dispatcher.IgnoreInfo,
			"contribution %d is recurring, settled via invoice events", record.ID)
	}

	switch record.Status {
	case contributionmodel.StatusPending, contributionmodel.StatusFailed:
		if outcome := e.complete(ctx, record, n); !outcome.OK() {
			return outcome
		}
		return dispatcher.Succeed("completed contribution %d from settled charge %s",
			record.ID, n.PspReference)
	default:
		return dispatcher.Succeed("contribution %d already %s", record.ID, record.Status)
	}
}

// SubscriptionUpdated is deliberately a no-op: schedule details are
// authoritative at the gateway, and nothing local depends on them until a
// payment or deletion event arrives.
func (e *Engine) SubscriptionUpdated(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	return dispatcher.Succeed("subscription update for %s acknowledged", n.SubscriptionID())
}

// SubscriptionDeleted cancels the matching schedule. A subscription this
// system does not know is handed to the extensibility hook and otherwise
// left alone.
func (e *Engine) SubscriptionDeleted(ctx context.Context, n *webhook.Notification) dispatcher.Outcome {
	subscriptionID := n.SubscriptionID()
	if subscriptionID == "" {
		subscriptionID = n.MerchantReference
	}
	if subscriptionID == "" {
		return dispatcher.Fail(apperrors.NewMalformedPayloadError(
			"subscription deletion without subscription id"))
	}

	schedule, err := e.recurring.GetBySubscriptionID(subscriptionID)
	if err != nil {
		return dispatcher.Fail(err)
	}
	if schedule == nil {
		e.eventBus.Publish(ctx, events.NewSubscriptionNotMatchedEvent(
			subscriptionID, events.ReasonSubscriptionNotFound))
		return dispatcher.Succeed("no schedule matches subscription %s, hook notified", subscriptionID)
	}

	if err := e.recurring.UpdateStatus(schedule.ID, contributionmodel.RecurStatusCancelled); err != nil {
		return dispatcher.Fail(err)
	}
	return dispatcher.Succeed("cancelled schedule %d for subscription %s",
		schedule.ID, subscriptionID)
}

// locateContribution resolves the contribution a notification refers to.
// Precedence: one-off transaction id, then the invoice id, then the
// subscription id as the correlation key.
func (e *Engine) locateContribution(n *webhook.Notification) (*contributionmodel.Contribution, error) {
	return e.locateContributionByReference(n.MerchantReference, n)
}

func (e *Engine) locateContributionByReference(trxnID string, n *webhook.Notification) (*contributionmodel.Contribution, error) {
	var record *contributionmodel.Contribution

	if trxnID != "" {
		found, err := e.contributions.GetByTrxnID(trxnID)
		if err != nil {
			return nil, err
		}
		record = found
	}
	if record == nil {
		if invoiceID := n.InvoiceID(); invoiceID != "" {
			found, err := e.contributions.GetByOrderReference(invoiceID)
			if err != nil {
				return nil, err
			}
			record = found
		}
	}
	if record == nil {
		if subscriptionID := n.SubscriptionID(); subscriptionID != "" {
			found, err := e.contributions.GetByOrderReference(subscriptionID)
			if err != nil {
				return nil, err
			}
			record = found
		}
	}
	return record, nil
}

func (e *Engine) lookupSchedule(subscriptionID string) (*contributionmodel.Recurring, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return e.recurring.GetBySubscriptionID(subscriptionID)
}

func (e *Engine) scheduleByID(recurringID int64) (*contributionmodel.Recurring, error) {
	return e.recurring.GetByID(recurringID)
}

// createNextForSchedule creates the next Pending contribution for a
// schedule. The invoice id doubles as the provisional transaction id so
// the unique key holds until the real payment reference arrives.
func (e *Engine) createNextForSchedule(schedule *contributionmodel.Recurring, invoiceID string, n *webhook.Notification) (*contributionmodel.Contribution, error) {
	amount := n.Amount.Value
	if amount == 0 {
		amount = schedule.Amount
	}
	currency := n.Amount.Currency
	if currency == "" {
		currency = schedule.Currency
	}
	orderReference := invoiceID
	if orderReference == "" {
		orderReference = schedule.SubscriptionID
	}

	receiveDate := e.eventTime(n)
	record := &contributionmodel.Contribution{
		ContactID:      schedule.ContactID,
		RecurringID:    &schedule.ID,
		TotalAmount:    amount,
		Currency:       currency,
		Status:         contributionmodel.StatusPending,
		TrxnID:         orderReference,
		OrderReference: orderReference,
		Source:         "Adyen recurring",
		ReceiveDate:    &receiveDate,
	}
	if err := e.contributions.Create(record); err != nil {
		return nil, err
	}

	if err := e.recurring.UpdateStatus(schedule.ID, contributionmodel.RecurStatusInProgress); err != nil {
		return nil, err
	}
	return record, nil
}

// complete transitions a contribution to Completed and records the
// positive payment row.
func (e *Engine) complete(ctx context.Context, record *contributionmodel.Contribution, n *webhook.Notification) dispatcher.Outcome {
	receiveDate := e.eventTime(n)
	params := contribution.CompletionParams{
		TrxnID:      n.PspReference,
		Amount:      n.Amount.Value,
		FeeAmount:   e.feeAmount(n),
		Currency:    n.Amount.Currency,
		ReceiveDate: receiveDate,
	}
	if err := e.contributions.Complete(record.ID, params); err != nil {
		return dispatcher.Fail(err)
	}

	payment := &contributionmodel.Payment{
		ContributionID: record.ID,
		TrxnID:         n.PspReference,
		Amount:         n.Amount.Value,
		FeeAmount:      params.FeeAmount,
		Currency:       n.Amount.Currency,
		Status:         contributionmodel.StatusCompleted,
		TrxnDate:       receiveDate,
	}
	if err := e.payments.Record(payment); err != nil {
		return dispatcher.Fail(err)
	}

	e.eventBus.Publish(ctx, events.NewContributionCompletedEvent(
		record.ID, n.PspReference, n.Amount.Value, n.Amount.Currency))
	return dispatcher.Succeed("completed contribution %d", record.ID)
}

// settleSchedule checks installment and end-date exhaustion after a
// successful recurring payment. Gateway cancellation failures are surfaced
// in the outcome message but never fail the event: the payment itself did
// reconcile.
func (e *Engine) settleSchedule(ctx context.Context, schedule *contributionmodel.Recurring, n *webhook.Notification) string {
	if schedule == nil {
		return ""
	}

	exhausted := false
	if schedule.Installments != nil {
		count, err := e.contributions.CountCompletedForRecurring(schedule.ID)
		if err != nil {
			e.logger.Error("could not count completed installments",
				"recurring_id", schedule.ID, "error", err)
			return "; installment check skipped"
		}
		if count >= int64(*schedule.Installments) {
			exhausted = true
		}
	}
	if !exhausted && schedule.EndDate != nil {
		if periodEnd := e.periodEnd(n); periodEnd != nil && periodEnd.After(*schedule.EndDate) {
			exhausted = true
		}
	}
	if !exhausted {
		return ""
	}

	note := "; schedule completed"
	if err := e.gateway.CancelSubscription(ctx, schedule.SubscriptionID); err != nil {
		e.logger.Error("could not cancel upstream subscription",
			"subscription_id", schedule.SubscriptionID, "error", err)
		note = "; schedule completed but upstream cancellation failed, cancel subscription " +
			schedule.SubscriptionID + " manually"
	}
	if err := e.recurring.UpdateStatus(schedule.ID, contributionmodel.RecurStatusCompleted); err != nil {
		e.logger.Error("could not mark schedule completed",
			"recurring_id", schedule.ID, "error", err)
		return "; schedule exhaustion detected but status update failed"
	}
	e.eventBus.Publish(ctx, events.NewScheduleCompletedEvent(schedule.ID, schedule.SubscriptionID))
	return note
}

// eventTime parses the notification's event date, falling back to now so
// a malformed date never blocks reconciliation.
func (e *Engine) eventTime(n *webhook.Notification) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, n.EventDate); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func (e *Engine) feeAmount(n *webhook.Notification) int64 {
	raw := n.AdditionalData[webhook.AdditionalDataFeeAmount]
	if raw == "" {
		return 0
	}
	fee, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.logger.Warn("unparseable fee amount in notification",
			"psp_reference", n.PspReference, "fee_amount", raw)
		return 0
	}
	return fee
}

// periodEnd reads the billing period end from additional data, accepting
// both unix seconds and RFC 3339.
func (e *Engine) periodEnd(n *webhook.Notification) *time.Time {
	raw := n.AdditionalData[webhook.AdditionalDataPeriodEnd]
	if raw == "" {
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t
	}
	e.logger.Warn("unparseable period end in notification",
		"psp_reference", n.PspReference, "period_end", raw)
	return nil
}

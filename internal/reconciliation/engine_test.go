package reconciliation_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/civiops/adyen-connect/internal/contribution"
	contactmodel "github.com/civiops/adyen-connect/internal/core/datamodel/contact"
	contributionmodel "github.com/civiops/adyen-connect/internal/core/datamodel/contribution"
	"github.com/civiops/adyen-connect/internal/core/events"
	"github.com/civiops/adyen-connect/internal/dispatcher"
	"github.com/civiops/adyen-connect/internal/gateway"
	"github.com/civiops/adyen-connect/internal/reconciliation"
	"github.com/civiops/adyen-connect/internal/webhook"
)

func TestReconciliation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Reconciliation Suite")
}

type mockContributionRepo struct {
	records     map[int64]*contributionmodel.Contribution
	nextID      int64
	recurCounts map[int64]int64
	lookupError error
}

func newMockContributionRepo() *mockContributionRepo {
	return &mockContributionRepo{
		records:     make(map[int64]*contributionmodel.Contribution),
		recurCounts: make(map[int64]int64),
		nextID:      1,
	}
}

func (m *mockContributionRepo) Create(c *contributionmodel.Contribution) error {
	c.ID = m.nextID
	m.nextID++
	m.records[c.ID] = c
	return nil
}

func (m *mockContributionRepo) GetByTrxnID(trxnID string) (*contributionmodel.Contribution, error) {
	if m.lookupError != nil {
		return nil, m.lookupError
	}
	for _, c := range m.records {
		if c.TrxnID == trxnID {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockContributionRepo) GetByOrderReference(ref string) (*contributionmodel.Contribution, error) {
	if m.lookupError != nil {
		return nil, m.lookupError
	}
	for _, c := range m.records {
		if c.OrderReference == ref {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockContributionRepo) UpdateOrderReference(id int64, orderReference string) error {
	c, ok := m.records[id]
	if !ok {
		return errors.New("no such contribution")
	}
	c.OrderReference = orderReference
	return nil
}

func (m *mockContributionRepo) Complete(id int64, p contribution.CompletionParams) error {
	c, ok := m.records[id]
	if !ok {
		return errors.New("no such contribution")
	}
	c.Status = contributionmodel.StatusCompleted
	c.TrxnID = p.TrxnID
	c.TotalAmount = p.Amount
	c.FeeAmount = p.FeeAmount
	c.ReceiveDate = &p.ReceiveDate
	return nil
}

func (m *mockContributionRepo) MarkFailed(id int64, reason string) error {
	c, ok := m.records[id]
	if !ok {
		return errors.New("no such contribution")
	}
	c.Status = contributionmodel.StatusFailed
	c.Source = reason
	return nil
}

func (m *mockContributionRepo) MarkRefunded(id int64) error {
	c, ok := m.records[id]
	if !ok {
		return errors.New("no such contribution")
	}
	c.Status = contributionmodel.StatusRefunded
	return nil
}

func (m *mockContributionRepo) CountCompletedForRecurring(recurringID int64) (int64, error) {
	return m.recurCounts[recurringID], nil
}

func (m *mockContributionRepo) all() []*contributionmodel.Contribution {
	out := make([]*contributionmodel.Contribution, 0, len(m.records))
	for _, c := range m.records {
		out = append(out, c)
	}
	return out
}

type mockPaymentRepo struct {
	payments []*contributionmodel.Payment
}

func (m *mockPaymentRepo) Record(p *contributionmodel.Payment) error {
	m.payments = append(m.payments, p)
	return nil
}

func (m *mockPaymentRepo) GetCompletedByTrxnID(trxnID string) (*contributionmodel.Payment, error) {
	for _, p := range m.payments {
		if p.TrxnID == trxnID && p.Amount > 0 {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockPaymentRepo) ListForContribution(contributionID int64) ([]*contributionmodel.Payment, error) {
	var out []*contributionmodel.Payment
	for _, p := range m.payments {
		if p.ContributionID == contributionID {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockRecurringRepo struct {
	schedules map[int64]*contributionmodel.Recurring
}

func newMockRecurringRepo() *mockRecurringRepo {
	return &mockRecurringRepo{schedules: make(map[int64]*contributionmodel.Recurring)}
}

func (m *mockRecurringRepo) GetByID(id int64) (*contributionmodel.Recurring, error) {
	return m.schedules[id], nil
}

func (m *mockRecurringRepo) GetBySubscriptionID(subscriptionID string) (*contributionmodel.Recurring, error) {
	for _, s := range m.schedules {
		if s.SubscriptionID == subscriptionID {
			return s, nil
		}
	}
	return nil, nil
}

func (m *mockRecurringRepo) UpdateStatus(id int64, status string) error {
	s, ok := m.schedules[id]
	if !ok {
		return errors.New("no such schedule")
	}
	s.Status = status
	return nil
}

type mockContactRepo struct {
	contacts []*contactmodel.Contact
	emails   []*contactmodel.Email
	nextID   int64
}

func (m *mockContactRepo) FindIndividual(firstName, lastName, email string) (*contactmodel.Contact, error) {
	for _, c := range m.contacts {
		if (firstName == "" || c.FirstName == firstName) &&
			(lastName == "" || c.LastName == lastName) {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockContactRepo) Create(c *contactmodel.Contact) error {
	m.nextID++
	c.ID = m.nextID
	m.contacts = append(m.contacts, c)
	return nil
}

func (m *mockContactRepo) AddEmail(e *contactmodel.Email) error {
	m.emails = append(m.emails, e)
	return nil
}

type mockGateway struct {
	details    map[string]*gateway.PaymentDetails
	detailsErr error
	cancelled  []string
	cancelErr  error
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req *gateway.SessionRequest) (*gateway.SessionResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockGateway) ListWebhooks(ctx context.Context) ([]gateway.WebhookEndpoint, error) {
	return nil, nil
}

func (m *mockGateway) CreateWebhook(ctx context.Context, params *gateway.WebhookParams) (*gateway.WebhookEndpoint, error) {
	return nil, errors.New("not implemented")
}

func (m *mockGateway) UpdateWebhook(ctx context.Context, id string, params *gateway.WebhookParams) error {
	return errors.New("not implemented")
}

func (m *mockGateway) GetPaymentDetails(ctx context.Context, pspReference string) (*gateway.PaymentDetails, error) {
	if m.detailsErr != nil {
		return nil, m.detailsErr
	}
	if d, ok := m.details[pspReference]; ok {
		return d, nil
	}
	return &gateway.PaymentDetails{PspReference: pspReference}, nil
}

func (m *mockGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, subscriptionID)
	return nil
}

var _ = Describe("Engine", func() {
	var (
		contribs  *mockContributionRepo
		payments  *mockPaymentRepo
		recurring *mockRecurringRepo
		contacts  *mockContactRepo
		gw        *mockGateway
		bus       *events.EventBus
		engine    *reconciliation.Engine
		ctx       context.Context
	)

	BeforeEach(func() {
		contribs = newMockContributionRepo()
		payments = &mockPaymentRepo{}
		recurring = newMockRecurringRepo()
		contacts = &mockContactRepo{}
		gw = &mockGateway{details: make(map[string]*gateway.PaymentDetails)}
		bus = events.NewEventBus(slog.Default())
		engine = reconciliation.NewEngine(contribs, payments, recurring, contacts, gw, bus, slog.Default())
		ctx = context.Background()
	})

	notification := func(eventCode string, mutate func(*webhook.Notification)) *webhook.Notification {
		n := &webhook.Notification{
			EventCode:           eventCode,
			EventDate:           "2026-01-15T10:30:00+01:00",
			PspReference:        "7914073381342284",
			MerchantReference:   "abc123",
			MerchantAccountCode: "TestMerchant",
			Amount:              webhook.Amount{Value: 1000, Currency: "EUR"},
			Success:             true,
			AdditionalData:      map[string]string{},
		}
		if mutate != nil {
			mutate(n)
		}
		return n
	}

	Describe("Handlers", func() {
		It("covers every default enabled event type", func() {
			handlers := engine.Handlers()
			for _, code := range webhook.DefaultEnabledEvents() {
				Expect(handlers).To(HaveKey(code), code)
			}
		})
	})

	Describe("Authorisation", func() {
		It("creates a pending contribution keyed by the merchant reference", func() {
			n := notification(webhook.EventAuthorisation, func(n *webhook.Notification) {
				n.AdditionalData["shopperEmail"] = "ada@example.org"
				n.AdditionalData["shopperName"] = "[first name=Ada, infix=null, last name=Lovelace, gender=UNKNOWN]"
			})

			outcome := engine.Authorisation(ctx, n)
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))

			records := contribs.all()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(contributionmodel.StatusPending))
			Expect(records[0].TrxnID).To(Equal("abc123"))
			Expect(records[0].TotalAmount).To(Equal(int64(1000)))

			Expect(contacts.contacts).To(HaveLen(1))
			Expect(contacts.contacts[0].FirstName).To(Equal("Ada"))
			Expect(contacts.emails).To(HaveLen(1))
			Expect(contacts.emails[0].Email).To(Equal("ada@example.org"))
		})

		It("reuses an existing contact matching shopper details", func() {
			contacts.contacts = []*contactmodel.Contact{{ID: 55, FirstName: "Ada", LastName: "Lovelace"}}
			contacts.nextID = 55

			n := notification(webhook.EventAuthorisation, func(n *webhook.Notification) {
				n.AdditionalData["shopperName"] = "[first name=Ada, infix=null, last name=Lovelace, gender=UNKNOWN]"
			})
			outcome := engine.Authorisation(ctx, n)
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(contribs.all()[0].ContactID).To(Equal(int64(55)))
			Expect(contacts.contacts).To(HaveLen(1))
		})

		It("is idempotent for an already known transaction", func() {
			Expect(contribs.Create(&contributionmodel.Contribution{
				TrxnID: "abc123", Status: contributionmodel.StatusPending, ContactID: 1,
			})).To(Succeed())

			outcome := engine.Authorisation(ctx, notification(webhook.EventAuthorisation, nil))
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(contribs.all()).To(HaveLen(1))
		})

		It("ignores a failed authorization attempt", func() {
			n := notification(webhook.EventAuthorisation, func(n *webhook.Notification) {
				n.Success = false
			})
			outcome := engine.Authorisation(ctx, n)
			Expect(outcome.Kind).To(Equal(dispatcher.KindIgnored))
			Expect(contribs.all()).To(BeEmpty())
		})
	})

	Describe("recurring invoice lifecycle", func() {
		var schedule *contributionmodel.Recurring

		BeforeEach(func() {
			schedule = &contributionmodel.Recurring{
				ID:             3,
				ContactID:      9,
				SubscriptionID: "sub_1",
				Amount:         2500,
				Currency:       "EUR",
				Status:         contributionmodel.RecurStatusPending,
			}
			recurring.schedules[3] = schedule
		})

		invoiceFinalized := func() *webhook.Notification {
			return notification(webhook.EventInvoiceFinalized, func(n *webhook.Notification) {
				n.MerchantReference = ""
				n.AdditionalData["invoiceId"] = "in_9"
				n.AdditionalData["subscriptionId"] = "sub_1"
			})
		}

		paymentSucceeded := func() *webhook.Notification {
			return notification(webhook.EventInvoicePaymentSuccess, func(n *webhook.Notification) {
				n.PspReference = "9915555555554444"
				n.MerchantReference = ""
				n.Amount = webhook.Amount{Value: 2500, Currency: "EUR"}
				n.AdditionalData["invoiceId"] = "in_9"
				n.AdditionalData["subscriptionId"] = "sub_1"
			})
		}

		It("creates the next pending contribution when the invoice arrives first", func() {
			outcome := engine.InvoiceFinalized(ctx, invoiceFinalized())
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))

			records := contribs.all()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(contributionmodel.StatusPending))
			Expect(records[0].OrderReference).To(Equal("in_9"))
			Expect(*records[0].RecurringID).To(Equal(int64(3)))
			Expect(schedule.Status).To(Equal(contributionmodel.RecurStatusInProgress))
		})

		It("ends with exactly one contribution regardless of event order", func() {
			By("invoice first, then payment")
			Expect(engine.InvoiceFinalized(ctx, invoiceFinalized()).OK()).To(BeTrue())
			Expect(engine.InvoicePaymentSucceeded(ctx, paymentSucceeded()).OK()).To(BeTrue())

			records := contribs.all()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(contributionmodel.StatusCompleted))
			Expect(records[0].TrxnID).To(Equal("9915555555554444"))
		})

		It("ends with exactly one contribution when the payment arrives first", func() {
			Expect(engine.InvoicePaymentSucceeded(ctx, paymentSucceeded()).OK()).To(BeTrue())
			Expect(engine.InvoiceFinalized(ctx, invoiceFinalized()).OK()).To(BeTrue())

			Expect(contribs.all()).To(HaveLen(1))
			Expect(contribs.all()[0].Status).To(Equal(contributionmodel.StatusCompleted))
		})

		It("does not apply the same payment twice", func() {
			Expect(engine.InvoicePaymentSucceeded(ctx, paymentSucceeded()).OK()).To(BeTrue())
			Expect(payments.payments).To(HaveLen(1))

			outcome := engine.InvoicePaymentSucceeded(ctx, paymentSucceeded())
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(outcome.Message).To(ContainSubstring("already recorded"))
			Expect(payments.payments).To(HaveLen(1))
		})

		It("ignores an invoice that belongs to nobody", func() {
			n := notification(webhook.EventInvoiceFinalized, func(n *webhook.Notification) {
				n.AdditionalData["invoiceId"] = "in_foreign"
				n.AdditionalData["subscriptionId"] = "sub_unknown"
			})
			outcome := engine.InvoiceFinalized(ctx, n)
			Expect(outcome.Kind).To(Equal(dispatcher.KindIgnored))
			Expect(contribs.all()).To(BeEmpty())
		})

		It("re-keys a future-dated first contribution from subscription to invoice id", func() {
			Expect(contribs.Create(&contributionmodel.Contribution{
				ContactID:      9,
				RecurringID:    &schedule.ID,
				OrderReference: "sub_1",
				TrxnID:         "sub_1",
				Status:         contributionmodel.StatusPending,
			})).To(Succeed())

			outcome := engine.InvoiceFinalized(ctx, invoiceFinalized())
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(outcome.Message).To(ContainSubstring("re-keyed"))
			Expect(contribs.all()).To(HaveLen(1))
			Expect(contribs.all()[0].OrderReference).To(Equal("in_9"))
		})

		It("cancels the upstream subscription once installments are exhausted", func() {
			installments := 3
			schedule.Installments = &installments
			contribs.recurCounts[3] = 3

			outcome := engine.InvoicePaymentSucceeded(ctx, paymentSucceeded())
			Expect(outcome.OK()).To(BeTrue())
			Expect(gw.cancelled).To(ContainElement("sub_1"))
			Expect(schedule.Status).To(Equal(contributionmodel.RecurStatusCompleted))
		})

		It("marks a pending contribution failed with the gateway's refusal reason", func() {
			Expect(engine.InvoiceFinalized(ctx, invoiceFinalized()).OK()).To(BeTrue())
			gw.details["9915555555554444"] = &gateway.PaymentDetails{
				PspReference:  "9915555555554444",
				RefusalReason: "Insufficient funds",
			}

			n := notification(webhook.EventInvoicePaymentFailed, func(n *webhook.Notification) {
				n.PspReference = "9915555555554444"
				n.MerchantReference = ""
				n.AdditionalData["invoiceId"] = "in_9"
			})
			outcome := engine.InvoicePaymentFailed(ctx, n)
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(contribs.all()[0].Status).To(Equal(contributionmodel.StatusFailed))
			Expect(contribs.all()[0].Source).To(Equal("Insufficient funds"))
		})
	})

	Describe("ChargeFailed", func() {
		It("drops failures with no customer correlation", func() {
			outcome := engine.ChargeFailed(ctx, notification(webhook.EventChargeFailed, nil))
			Expect(outcome.Kind).To(Equal(dispatcher.KindIgnored))
		})

		It("fails the matching pending contribution when a customer is known", func() {
			Expect(contribs.Create(&contributionmodel.Contribution{
				TrxnID: "abc123", Status: contributionmodel.StatusPending, ContactID: 1,
			})).To(Succeed())

			n := notification(webhook.EventChargeFailed, func(n *webhook.Notification) {
				n.AdditionalData["customerId"] = "cus_7"
				n.Reason = "card declined"
			})
			outcome := engine.ChargeFailed(ctx, n)
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(contribs.all()[0].Status).To(Equal(contributionmodel.StatusFailed))
		})
	})

	Describe("ChargeRefunded", func() {
		var recordID int64

		BeforeEach(func() {
			c := &contributionmodel.Contribution{
				TrxnID:    "7914073381342284",
				Status:    contributionmodel.StatusCompleted,
				ContactID: 1,
			}
			Expect(contribs.Create(c)).To(Succeed())
			recordID = c.ID
			gw.details["7914073381342284"] = &gateway.PaymentDetails{
				PspReference: "7914073381342284",
				Captured:     true,
			}
		})

		refund := func() *webhook.Notification {
			return notification(webhook.EventChargeRefunded, func(n *webhook.Notification) {
				n.PspReference = "8825555555554444"
				n.OriginalReference = "7914073381342284"
				n.MerchantReference = ""
			})
		}

		It("records a negative payment and marks the contribution refunded", func() {
			outcome := engine.ChargeRefunded(ctx, refund())
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))

			Expect(payments.payments).To(HaveLen(1))
			Expect(payments.payments[0].Amount).To(Equal(int64(-1000)))
			Expect(payments.payments[0].ContributionID).To(Equal(recordID))
			Expect(contribs.all()[0].Status).To(Equal(contributionmodel.StatusRefunded))
		})

		It("applies two identical refund events exactly once", func() {
			Expect(engine.ChargeRefunded(ctx, refund()).OK()).To(BeTrue())
			outcome := engine.ChargeRefunded(ctx, refund())
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(outcome.Message).To(ContainSubstring("already recorded"))
			Expect(payments.payments).To(HaveLen(1))
		})

		It("ignores refunds for charges that were never captured", func() {
			gw.details["7914073381342284"].Captured = false
			outcome := engine.ChargeRefunded(ctx, refund())
			Expect(outcome.Kind).To(Equal(dispatcher.KindIgnored))
			Expect(payments.payments).To(BeEmpty())
		})
	})

	Describe("ChargeSettled", func() {
		It("completes a pending one-off contribution", func() {
			Expect(contribs.Create(&contributionmodel.Contribution{
				TrxnID: "abc123", Status: contributionmodel.StatusPending, ContactID: 1,
			})).To(Succeed())

			outcome := engine.ChargeSettled(ctx, notification(webhook.EventChargeSucceeded, nil))
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(contribs.all()[0].Status).To(Equal(contributionmodel.StatusCompleted))
			Expect(payments.payments).To(HaveLen(1))
		})

		It("leaves recurring contributions to the invoice events", func() {
			recurringID := int64(3)
			Expect(contribs.Create(&contributionmodel.Contribution{
				TrxnID: "abc123", Status: contributionmodel.StatusPending,
				ContactID: 1, RecurringID: &recurringID,
			})).To(Succeed())

			outcome := engine.ChargeSettled(ctx, notification(webhook.EventChargeCaptured, nil))
			Expect(outcome.Kind).To(Equal(dispatcher.KindIgnored))
			Expect(contribs.all()[0].Status).To(Equal(contributionmodel.StatusPending))
		})
	})

	Describe("SubscriptionDeleted", func() {
		It("cancels the matching schedule", func() {
			recurring.schedules[3] = &contributionmodel.Recurring{
				ID: 3, SubscriptionID: "sub_1", Status: contributionmodel.RecurStatusInProgress,
			}
			n := notification(webhook.EventSubscriptionDeleted, func(n *webhook.Notification) {
				n.AdditionalData["subscriptionId"] = "sub_1"
			})

			outcome := engine.SubscriptionDeleted(ctx, n)
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
			Expect(recurring.schedules[3].Status).To(Equal(contributionmodel.RecurStatusCancelled))
		})

		It("notifies the extensibility hook for an unknown subscription and succeeds", func() {
			hooked := make(chan events.Event, 1)
			bus.Subscribe(events.EventTypeSubscriptionNotMatched, func(ctx context.Context, event events.Event) error {
				hooked <- event
				return nil
			})

			n := notification(webhook.EventSubscriptionDeleted, func(n *webhook.Notification) {
				n.AdditionalData["subscriptionId"] = "sub_unknown"
			})
			outcome := engine.SubscriptionDeleted(ctx, n)
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))

			var event events.Event
			Eventually(hooked, time.Second).Should(Receive(&event))
			payload, ok := event.Payload().(map[string]interface{})
			Expect(ok).To(BeTrue())
			Expect(payload["reason"]).To(Equal(events.ReasonSubscriptionNotFound))
			Expect(payload["subscription_id"]).To(Equal("sub_unknown"))
		})
	})

	Describe("SubscriptionUpdated", func() {
		It("is a no-op success", func() {
			outcome := engine.SubscriptionUpdated(ctx, notification(webhook.EventSubscriptionUpdated, nil))
			Expect(outcome.Kind).To(Equal(dispatcher.KindSucceeded))
		})
	})
})

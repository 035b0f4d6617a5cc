package webhook_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	webhookmodel "github.com/civiops/adyen-connect/internal/core/datamodel/webhook"
	"github.com/civiops/adyen-connect/internal/transport"
	"github.com/civiops/adyen-connect/internal/webhook"
)

type mockEventStore struct {
	appended    []*webhookmodel.Event
	processorID int64
	appendError error
}

func (m *mockEventStore) Append(records []*webhookmodel.Event, processorID int64) error {
	if m.appendError != nil {
		return m.appendError
	}
	m.appended = append(m.appended, records...)
	m.processorID = processorID
	return nil
}

func (m *mockEventStore) UpdateOutcome(id int64, status, message string, processedAt time.Time) error {
	return nil
}

func (m *mockEventStore) ListPending(limit int) ([]*webhookmodel.Event, error) {
	return nil, nil
}

var _ = Describe("Handler", func() {
	var (
		store  *mockEventStore
		router *chi.Mux
	)

	postWebhook := func(processorID string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/adyen/"+processorID, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		store = &mockEventStore{}
		handler := webhook.NewHandler(transport.NewBaseHandler(slog.Default()), store, slog.Default())

		verifier := webhook.NewSignatureVerifier([]string{liveHMACKey})
		handler.RegisterProcessor(1, webhook.NewParser(verifier, testMerchant, slog.Default()))

		router = chi.NewRouter()
		router.Post("/api/v1/webhook/adyen/{processorID}", handler.HandleNotification)
	})

	It("queues valid notifications and responds with the accepted body", func() {
		rec := postWebhook("1", envelope(notificationItem(
			"AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, authSigLiveKey, nil)))

		Expect(rec.Code).To(Equal(http.StatusOK))
		respBody, err := io.ReadAll(rec.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(respBody)).To(Equal("[accepted]"))

		Expect(store.appended).To(HaveLen(1))
		Expect(store.processorID).To(Equal(int64(1)))
		Expect(store.appended[0].Trigger).To(Equal(webhook.EventAuthorisation))
	})

	It("responds 401 when signature verification fails", func() {
		rec := postWebhook("1", envelope(notificationItem(
			"AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, "bm90LWEtcmVhbC1zaWc=", nil)))

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(store.appended).To(BeEmpty())
	})

	It("responds 400 on an empty notification list", func() {
		rec := postWebhook("1", []byte(`{"notificationItems": []}`))
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("responds 404 for an unconfigured processor", func() {
		rec := postWebhook("99", envelope(notificationItem(
			"AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, authSigLiveKey, nil)))
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("still accepts a delivery where every item was filtered out", func() {
		rec := postWebhook("1", envelope(notificationItem(
			"AUTHORISATION", "7914073381342286", "xyz789", "OtherMerchant", 2000, otherMerchantSig, nil)))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(store.appended).To(BeEmpty())
	})

	It("responds 500 when the queue append fails", func() {
		store.appendError = errors.New("insert failed")
		rec := postWebhook("1", envelope(notificationItem(
			"AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, authSigLiveKey, nil)))
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	})
})

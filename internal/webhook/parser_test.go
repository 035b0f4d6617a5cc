package webhook_test

import (
	"fmt"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/civiops/adyen-connect/internal"
	"github.com/civiops/adyen-connect/internal/webhook"
)

const (
	otherMerchantSig = "zooOJUTSr36oFQDpW+Dduf5G5/gz/OB0NoCBJcLKIUo="
	invoicePaySig    = "Y7v1JSobinGskzjupWb+QOwVjoWIpX6o2cGBlM4yIVI="
)

func notificationItem(eventCode, psp, merchantRef, merchantAccount string, amount int64, signature string, extra map[string]string) string {
	additional := fmt.Sprintf("%q: %q", "hmacSignature", signature)
	for k, v := range extra {
		additional += fmt.Sprintf(", %q: %q", k, v)
	}
	return fmt.Sprintf(`{
		"NotificationRequestItem": {
			"eventCode": %q,
			"eventDate": "2026-01-15T10:30:00+01:00",
			"pspReference": %q,
			"merchantReference": %q,
			"merchantAccountCode": %q,
			"amount": {"value": %d, "currency": "EUR"},
			"success": "true",
			"additionalData": {%s}
		}
	}`, eventCode, psp, merchantRef, merchantAccount, amount, additional)
}

func envelope(items ...string) []byte {
	body := `{"live": "false", "notificationItems": [`
	for i, item := range items {
		if i > 0 {
			body += ","
		}
		body += item
	}
	return []byte(body + `]}`)
}

var _ = Describe("Parser", func() {
	var parser *webhook.Parser

	BeforeEach(func() {
		verifier := webhook.NewSignatureVerifier([]string{liveHMACKey})
		parser = webhook.NewParser(verifier, testMerchant, slog.Default())
	})

	It("accepts a correctly signed notification", func() {
		body := envelope(notificationItem(
			"AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, authSigLiveKey, nil))

		items, err := parser.Parse(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
		Expect(items[0].EventCode).To(Equal(webhook.EventAuthorisation))
		Expect(items[0].MerchantReference).To(Equal("abc123"))
		Expect(items[0].Amount.Value).To(Equal(int64(1000)))
	})

	It("rejects the whole request when any item has an invalid signature", func() {
		body := envelope(
			notificationItem("AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, authSigLiveKey, nil),
			notificationItem("AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, "bm90LWEtcmVhbC1zaWc=", nil))

		items, err := parser.Parse(body)
		Expect(items).To(BeNil())
		appErr, ok := apperrors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(apperrors.ErrCodeSignatureInvalid))
	})

	It("rejects the whole request when any item is missing its signature", func() {
		body := envelope(notificationItem(
			"AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, "", nil))

		_, err := parser.Parse(body)
		appErr, ok := apperrors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(apperrors.ErrCodeMalformedPayload))
	})

	It("silently drops items for another merchant account", func() {
		body := envelope(notificationItem(
			"AUTHORISATION", "7914073381342286", "xyz789", "OtherMerchant", 2000, otherMerchantSig, nil))

		items, err := parser.Parse(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(BeEmpty())
	})

	It("preserves input order in the output", func() {
		body := envelope(
			notificationItem("AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, authSigLiveKey, nil),
			notificationItem("invoice.payment_succeeded", "9915555555554444", "sub_1", testMerchant, 2500, invoicePaySig, nil))

		items, err := parser.Parse(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(2))
		Expect(items[0].PspReference).To(Equal("7914073381342284"))
		Expect(items[1].PspReference).To(Equal("9915555555554444"))
	})

	It("errors on an empty notification list", func() {
		_, err := parser.Parse([]byte(`{"live": "false", "notificationItems": []}`))
		appErr, ok := apperrors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(apperrors.ErrCodeMalformedPayload))
	})

	It("errors on a body that is not JSON", func() {
		_, err := parser.Parse([]byte(`not json at all`))
		Expect(err).To(HaveOccurred())
	})

	Describe("ToRecords", func() {
		It("maps notifications onto queue records", func() {
			body := envelope(notificationItem(
				"AUTHORISATION", "7914073381342284", "abc123", testMerchant, 1000, authSigLiveKey, nil))

			items, err := parser.Parse(body)
			Expect(err).NotTo(HaveOccurred())

			records, err := webhook.ToRecords(items)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].EventID).To(Equal("2026-01-15T10:30:00+01:00"))
			Expect(records[0].Trigger).To(Equal(webhook.EventAuthorisation))
			Expect(records[0].Identifier).To(Equal("7914073381342284"))
			Expect(records[0].Data).NotTo(BeEmpty())
		})
	})
})

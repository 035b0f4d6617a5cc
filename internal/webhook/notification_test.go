package webhook_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/civiops/adyen-connect/internal/webhook"
)

var _ = Describe("Notification", func() {
	Describe("success flag decoding", func() {
		It("accepts the gateway's string booleans", func() {
			var n webhook.Notification
			Expect(json.Unmarshal([]byte(`{"success": "true"}`), &n)).To(Succeed())
			Expect(bool(n.Success)).To(BeTrue())

			Expect(json.Unmarshal([]byte(`{"success": "false"}`), &n)).To(Succeed())
			Expect(bool(n.Success)).To(BeFalse())
		})

		It("accepts plain JSON booleans", func() {
			var n webhook.Notification
			Expect(json.Unmarshal([]byte(`{"success": true}`), &n)).To(Succeed())
			Expect(bool(n.Success)).To(BeTrue())
		})
	})

	Describe("ShopperName", func() {
		It("parses the bracketed name format", func() {
			n := webhook.Notification{AdditionalData: map[string]string{
				"shopperName": "[first name=Ada, infix=null, last name=Lovelace, gender=UNKNOWN]",
			}}
			first, last := n.ShopperName()
			Expect(first).To(Equal("Ada"))
			Expect(last).To(Equal("Lovelace"))
		})

		It("treats null name parts as absent", func() {
			n := webhook.Notification{AdditionalData: map[string]string{
				"shopperName": "[first name=null, infix=null, last name=null, gender=UNKNOWN]",
			}}
			first, last := n.ShopperName()
			Expect(first).To(BeEmpty())
			Expect(last).To(BeEmpty())
		})

		It("handles a missing shopperName entry", func() {
			n := webhook.Notification{AdditionalData: map[string]string{}}
			first, last := n.ShopperName()
			Expect(first).To(BeEmpty())
			Expect(last).To(BeEmpty())
		})
	})

	Describe("DefaultEnabledEvents", func() {
		It("excludes invoice.paid", func() {
			Expect(webhook.DefaultEnabledEvents()).NotTo(ContainElement("invoice.paid"))
		})
	})
})

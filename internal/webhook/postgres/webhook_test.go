package postgres

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	webhookmodel "github.com/civiops/adyen-connect/internal/core/datamodel/webhook"
	webhookpkg "github.com/civiops/adyen-connect/internal/webhook"
)

func TestEventStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "EventStore Suite")
}

type SQLiteWebhookEvent struct {
	ID                 int64      `gorm:"primaryKey"`
	EventID            string     `gorm:"column:event_id;not null"`
	Trigger            string     `gorm:"column:trigger;not null"`
	Identifier         string     `gorm:"column:identifier"`
	Data               []byte     `gorm:"column:data"`
	Status             string     `gorm:"column:status;default:'new'"`
	Message            string     `gorm:"column:message"`
	PaymentProcessorID int64      `gorm:"column:payment_processor_id;not null"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	ProcessedAt        *time.Time `gorm:"column:processed_at"`
}

func (SQLiteWebhookEvent) TableName() string {
	return "webhook_events"
}

var _ = Describe("EventStore", func() {
	var (
		db    *gorm.DB
		store webhookpkg.EventStore
	)

	newEvent := func(eventID, trigger string) *webhookmodel.Event {
		return &webhookmodel.Event{
			EventID:    eventID,
			Trigger:    trigger,
			Identifier: "7914073381342284",
			Data:       json.RawMessage(`{"pspReference":"7914073381342284"}`),
		}
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&SQLiteWebhookEvent{})).To(Succeed())
		store = NewEventStore(db)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	Describe("Append", func() {
		It("stores records as new and stamps the processor id", func() {
			records := []*webhookmodel.Event{
				newEvent("2026-01-15T10:30:00+01:00", "AUTHORISATION"),
				newEvent("2026-01-15T10:31:00+01:00", "CAPTURE"),
			}
			Expect(store.Append(records, 1)).To(Succeed())

			pending, err := store.ListPending(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(2))
			for _, e := range pending {
				Expect(e.Status).To(Equal(webhookmodel.StatusNew))
				Expect(e.PaymentProcessorID).To(Equal(int64(1)))
			}
		})

		It("accepts an empty batch", func() {
			Expect(store.Append(nil, 1)).To(Succeed())
		})
	})

	Describe("UpdateOutcome", func() {
		It("moves an event to a terminal status", func() {
			records := []*webhookmodel.Event{newEvent("evt-1", "AUTHORISATION")}
			Expect(store.Append(records, 1)).To(Succeed())

			processedAt := time.Now().UTC()
			Expect(store.UpdateOutcome(records[0].ID, webhookmodel.StatusError,
				"FAILED: Had to skip webhook event.", processedAt)).To(Succeed())

			pending, err := store.ListPending(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())

			var stored SQLiteWebhookEvent
			Expect(db.First(&stored, records[0].ID).Error).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(webhookmodel.StatusError))
			Expect(stored.Message).To(Equal("FAILED: Had to skip webhook event."))
			Expect(stored.ProcessedAt).NotTo(BeNil())
		})
	})

	Describe("ListPending", func() {
		It("returns events oldest first and honors the limit", func() {
			base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
			for i, id := range []string{"evt-1", "evt-2", "evt-3"} {
				e := newEvent(id, "AUTHORISATION")
				Expect(store.Append([]*webhookmodel.Event{e}, 1)).To(Succeed())
				Expect(db.Model(&SQLiteWebhookEvent{}).Where("id = ?", e.ID).
					Update("created_at", base.Add(time.Duration(2-i)*time.Minute)).Error).NotTo(HaveOccurred())
			}

			pending, err := store.ListPending(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(2))
			Expect(pending[0].EventID).To(Equal("evt-3"))
			Expect(pending[1].EventID).To(Equal("evt-2"))
		})

		It("skips events already processed", func() {
			records := []*webhookmodel.Event{
				newEvent("evt-1", "AUTHORISATION"),
				newEvent("evt-2", "CAPTURE"),
			}
			Expect(store.Append(records, 1)).To(Succeed())
			Expect(store.UpdateOutcome(records[0].ID, webhookmodel.StatusSuccess, "", time.Now().UTC())).To(Succeed())

			pending, err := store.ListPending(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].EventID).To(Equal("evt-2"))
		})
	})
})

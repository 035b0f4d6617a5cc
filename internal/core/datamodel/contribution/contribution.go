package contribution

import (
	"time"
)

// Contribution statuses.
const (
	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
	StatusRefunded  = "Refunded"
	StatusCancelled = "Cancelled"
)

// Recurring schedule statuses.
const (
	RecurStatusPending    = "Pending"
	RecurStatusInProgress = "InProgress"
	RecurStatusCompleted  = "Completed"
	RecurStatusCancelled  = "Cancelled"
	RecurStatusFailed     = "Failed"
)

// Contribution is a financial record owned by the host CRM. Amounts are in
// minor currency units. TrxnID carries the merchant reference for one-off
// payments; OrderReference ties the row to an invoice id or, before the
// first invoice is known, to the gateway subscription id.
type Contribution struct {
	ID             int64      `gorm:"primaryKey"`
	ContactID      int64      `gorm:"column:contact_id;not null;index"`
	RecurringID    *int64     `gorm:"column:recurring_id;index"`
	TotalAmount    int64      `gorm:"column:total_amount;not null"`
	FeeAmount      int64      `gorm:"column:fee_amount;default:0"`
	Currency       string     `gorm:"column:currency;size:3;not null"`
	Status         string     `gorm:"column:status;default:Pending;index"`
	TrxnID         string     `gorm:"column:trxn_id;uniqueIndex"`
	OrderReference string     `gorm:"column:order_reference;index"`
	Source         string     `gorm:"column:source"`
	ReceiveDate    *time.Time `gorm:"column:receive_date"`
	CreatedAt      time.Time  `gorm:"column:created_at;default:now()"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;default:now()"`
}

func (Contribution) TableName() string {
	return "contributions"
}

// Payment records a single money movement against a contribution. Refunds
// are stored as a second row with a negative amount.
type Payment struct {
	ID             int64     `gorm:"primaryKey"`
	ContributionID int64     `gorm:"column:contribution_id;not null;index"`
	TrxnID         string    `gorm:"column:trxn_id;index"`
	Amount         int64     `gorm:"column:amount;not null"`
	FeeAmount      int64     `gorm:"column:fee_amount;default:0"`
	Currency       string    `gorm:"column:currency;size:3;not null"`
	Status         string    `gorm:"column:status;default:Completed"`
	TrxnDate       time.Time `gorm:"column:trxn_date"`
	CreatedAt      time.Time `gorm:"column:created_at;default:now()"`
}

func (Payment) TableName() string {
	return "contribution_payments"
}

// Recurring is the local record of an ongoing subscription-like payment
// arrangement. SubscriptionID holds the gateway's subscription identifier.
type Recurring struct {
	ID                int64      `gorm:"primaryKey"`
	ContactID         int64      `gorm:"column:contact_id;not null;index"`
	SubscriptionID    string     `gorm:"column:subscription_id;uniqueIndex"`
	Amount            int64      `gorm:"column:amount;not null"`
	Currency          string     `gorm:"column:currency;size:3;not null"`
	FrequencyUnit     string     `gorm:"column:frequency_unit;default:month"`
	FrequencyInterval int        `gorm:"column:frequency_interval;default:1"`
	Installments      *int       `gorm:"column:installments"`
	EndDate           *time.Time `gorm:"column:end_date"`
	Status            string     `gorm:"column:status;default:Pending;index"`
	CreatedAt         time.Time  `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;default:now()"`
}

func (Recurring) TableName() string {
	return "contribution_recur"
}

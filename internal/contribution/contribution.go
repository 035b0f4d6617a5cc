package contribution

import (
	"time"

	contributionmodel "github.com/civiops/adyen-connect/internal/core/datamodel/contribution"
)

// CompletionParams carries everything needed to transition a contribution
// to Completed and record the matching payment row.
type CompletionParams struct {
	TrxnID      string
	Amount      int64
	FeeAmount   int64
	Currency    string
	ReceiveDate time.Time
}

// RepositoryAPI is the contribution data boundary. Lookup methods return
// (nil, nil) when no row matches: absence of a record is an expected state
// for webhook reconciliation, not an error.
type RepositoryAPI interface {
	Create(c *contributionmodel.Contribution) error
	GetByTrxnID(trxnID string) (*contributionmodel.Contribution, error)
	GetByOrderReference(ref string) (*contributionmodel.Contribution, error)
	// UpdateOrderReference rewrites the correlation key, e.g. from a
	// subscription id to the invoice id once the first invoice is known.
	UpdateOrderReference(id int64, orderReference string) error
	Complete(id int64, p CompletionParams) error
	MarkFailed(id int64, reason string) error
	MarkRefunded(id int64) error
	CountCompletedForRecurring(recurringID int64) (int64, error)
}

// PaymentRepositoryAPI tracks individual money movements; refunds are
// negative-amount rows.
type PaymentRepositoryAPI interface {
	Record(p *contributionmodel.Payment) error
	GetCompletedByTrxnID(trxnID string) (*contributionmodel.Payment, error)
	ListForContribution(contributionID int64) ([]*contributionmodel.Payment, error)
}

// RecurringRepositoryAPI is the recurring-schedule data boundary.
type RecurringRepositoryAPI interface {
	GetByID(id int64) (*contributionmodel.Recurring, error)
	GetBySubscriptionID(subscriptionID string) (*contributionmodel.Recurring, error)
	UpdateStatus(id int64, status string) error
}

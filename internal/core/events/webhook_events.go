package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeContributionCompleted  = "contribution.completed"
	EventTypeContributionFailed     = "contribution.failed"
	EventTypeSubscriptionNotMatched = "webhook.subscription_not_matched"
	EventTypeScheduleCompleted      = "recurring.schedule_completed"
)

// Reasons carried by SubscriptionNotMatchedEvent.
const (
	ReasonSubscriptionNotFound = "subscription_not_found"
)

type ContributionCompletedEvent struct {
	BaseEvent
	ContributionID int64  `json:"contribution_id"`
	TrxnID         string `json:"trxn_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

func NewContributionCompletedEvent(contributionID int64, trxnID string, amount int64, currency string) *ContributionCompletedEvent {
	return &ContributionCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeContributionCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"contribution_id": contributionID,
				"trxn_id":         trxnID,
				"amount":          amount,
				"currency":        currency,
			},
		},
		ContributionID: contributionID,
		TrxnID:         trxnID,
		Amount:         amount,
		Currency:       currency,
	}
}

type ContributionFailedEvent struct {
	BaseEvent
	ContributionID int64  `json:"contribution_id"`
	TrxnID         string `json:"trxn_id"`
	FailureReason  string `json:"failure_reason"`
}

func NewContributionFailedEvent(contributionID int64, trxnID, failureReason string) *ContributionFailedEvent {
	return &ContributionFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeContributionFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"contribution_id": contributionID,
				"trxn_id":         trxnID,
				"failure_reason":  failureReason,
			},
		},
		ContributionID: contributionID,
		TrxnID:         trxnID,
		FailureReason:  failureReason,
	}
}

// SubscriptionNotMatchedEvent is the extensibility hook fired when a
// subscription lifecycle webhook references a subscription this system
// has no schedule for. Site-specific integrations subscribe to it.
type SubscriptionNotMatchedEvent struct {
	BaseEvent
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason"`
}

func NewSubscriptionNotMatchedEvent(subscriptionID, reason string) *SubscriptionNotMatchedEvent {
	return &SubscriptionNotMatchedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSubscriptionNotMatched,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"subscription_id": subscriptionID,
				"reason":          reason,
			},
		},
		SubscriptionID: subscriptionID,
		Reason:         reason,
	}
}

type ScheduleCompletedEvent struct {
	BaseEvent
	RecurringID    int64  `json:"recurring_id"`
	SubscriptionID string `json:"subscription_id"`
}

func NewScheduleCompletedEvent(recurringID int64, subscriptionID string) *ScheduleCompletedEvent {
	return &ScheduleCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeScheduleCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"recurring_id":    recurringID,
				"subscription_id": subscriptionID,
			},
		},
		RecurringID:    recurringID,
		SubscriptionID: subscriptionID,
	}
}

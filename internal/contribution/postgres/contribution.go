package postgres

import (
	"errors"
	"time"

	"gorm.io/gorm"

	contributionpkg "github.com/civiops/adyen-connect/internal/contribution"
	contributionmodel "github.com/civiops/adyen-connect/internal/core/datamodel/contribution"
)

type ContributionRepository struct {
	db *gorm.DB
}

func NewContributionRepository(db *gorm.DB) contributionpkg.RepositoryAPI {
	return &ContributionRepository{db: db}
}

func (r *ContributionRepository) Create(c *contributionmodel.Contribution) error {
	return r.db.Create(c).Error
}

func (r *ContributionRepository) GetByTrxnID(trxnID string) (*contributionmodel.Contribution, error) {
	return r.getOne("trxn_id = ?", trxnID)
}

func (r *ContributionRepository) GetByOrderReference(ref string) (*contributionmodel.Contribution, error) {
	return r.getOne("order_reference = ?", ref)
}

func (r *ContributionRepository) getOne(query string, args ...interface{}) (*contributionmodel.Contribution, error) {
	var c contributionmodel.Contribution
	err := r.db.Where(query, args...).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContributionRepository) UpdateOrderReference(id int64, orderReference string) error {
	return r.db.Model(&contributionmodel.Contribution{}).Where("id = ?", id).Updates(map[string]interface{}{
		"order_reference": orderReference,
		"updated_at":      time.Now().UTC(),
	}).Error
}

func (r *ContributionRepository) Complete(id int64, p contributionpkg.CompletionParams) error {
	return r.db.Model(&contributionmodel.Contribution{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       contributionmodel.StatusCompleted,
		"trxn_id":      p.TrxnID,
		"total_amount": p.Amount,
		"fee_amount":   p.FeeAmount,
		"receive_date": p.ReceiveDate,
		"updated_at":   time.Now().UTC(),
	}).Error
}

func (r *ContributionRepository) MarkFailed(id int64, reason string) error {
	return r.db.Model(&contributionmodel.Contribution{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     contributionmodel.StatusFailed,
		"source":     reason,
		"updated_at": time.Now().UTC(),
	}).Error
}

func (r *ContributionRepository) MarkRefunded(id int64) error {
	return r.db.Model(&contributionmodel.Contribution{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     contributionmodel.StatusRefunded,
		"updated_at": time.Now().UTC(),
	}).Error
}

func (r *ContributionRepository) CountCompletedForRecurring(recurringID int64) (int64, error) {
	var count int64
	err := r.db.Model(&contributionmodel.Contribution{}).
		Where("recurring_id = ? AND status = ?", recurringID, contributionmodel.StatusCompleted).
		Count(&count).Error
	return count, err
}

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) contributionpkg.PaymentRepositoryAPI {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Record(p *contributionmodel.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetCompletedByTrxnID(trxnID string) (*contributionmodel.Payment, error) {
	var p contributionmodel.Payment
	err := r.db.Where("trxn_id = ? AND status = ? AND amount > 0", trxnID, "Completed").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ListForContribution(contributionID int64) ([]*contributionmodel.Payment, error) {
	var payments []*contributionmodel.Payment
	err := r.db.Where("contribution_id = ?", contributionID).Order("created_at ASC").Find(&payments).Error
	return payments, err
}

type RecurringRepository struct {
	db *gorm.DB
}

func NewRecurringRepository(db *gorm.DB) contributionpkg.RecurringRepositoryAPI {
	return &RecurringRepository{db: db}
}

func (r *RecurringRepository) GetByID(id int64) (*contributionmodel.Recurring, error) {
	return r.getOne("id = ?", id)
}

func (r *RecurringRepository) GetBySubscriptionID(subscriptionID string) (*contributionmodel.Recurring, error) {
	return r.getOne("subscription_id = ?", subscriptionID)
}

func (r *RecurringRepository) getOne(query string, args ...interface{}) (*contributionmodel.Recurring, error) {
	var rec contributionmodel.Recurring
	err := r.db.Where(query, args...).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecurringRepository) UpdateStatus(id int64, status string) error {
	return r.db.Model(&contributionmodel.Recurring{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}).Error
}

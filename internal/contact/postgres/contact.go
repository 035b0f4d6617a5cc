package postgres

import (
	"errors"

	"gorm.io/gorm"

	contactpkg "github.com/civiops/adyen-connect/internal/contact"
	contactmodel "github.com/civiops/adyen-connect/internal/core/datamodel/contact"
)

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) contactpkg.RepositoryAPI {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) FindIndividual(firstName, lastName, email string) (*contactmodel.Contact, error) {
	q := r.db.Model(&contactmodel.Contact{}).Where("contact_type = ?", contactmodel.TypeIndividual)
	if firstName != "" {
		q = q.Where("first_name = ?", firstName)
	}
	if lastName != "" {
		q = q.Where("last_name = ?", lastName)
	}
	if email != "" {
		q = q.Joins("LEFT JOIN emails ON emails.contact_id = contacts.id").
			Where("emails.email = ?", email)
	}

	var c contactmodel.Contact
	err := q.First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) Create(c *contactmodel.Contact) error {
	if c.ContactType == "" {
		c.ContactType = contactmodel.TypeIndividual
	}
	return r.db.Create(c).Error
}

func (r *ContactRepository) AddEmail(e *contactmodel.Email) error {
	if e.LocationType == "" {
		e.LocationType = contactmodel.LocationBilling
	}
	return r.db.Create(e).Error
}

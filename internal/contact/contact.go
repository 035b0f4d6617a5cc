package contact

import (
	contactmodel "github.com/civiops/adyen-connect/internal/core/datamodel/contact"
)

// RepositoryAPI is the contact data boundary. FindIndividual returns
// (nil, nil) when no contact matches.
type RepositoryAPI interface {
	// FindIndividual matches on exact first name, last name and email.
	// Empty criteria are skipped.
	FindIndividual(firstName, lastName, email string) (*contactmodel.Contact, error)
	Create(c *contactmodel.Contact) error
	AddEmail(e *contactmodel.Email) error
}

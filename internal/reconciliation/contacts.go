package reconciliation

import (
	contactmodel "github.com/civiops/adyen-connect/internal/core/datamodel/contact"
	"github.com/civiops/adyen-connect/internal/webhook"
)

// resolveContact finds the paying party for a notification by exact match
// on shopper name and email, creating a new individual when nothing
// matches. A notification with no shopper details at all still gets a
// contact: an anonymous record is better than a contribution that points
// nowhere.
func (e *Engine) resolveContact(n *webhook.Notification) (int64, error) {
	first, last := n.ShopperName()
	email := n.ShopperEmail()

	if first != "" || last != "" || email != "" {
		found, err := e.contacts.FindIndividual(first, last, email)
		if err != nil {
			return 0, err
		}
		if found != nil {
			return found.ID, nil
		}
	}

	c := &contactmodel.Contact{
		ContactType: contactmodel.TypeIndividual,
		FirstName:   first,
		LastName:    last,
	}
	if err := e.contacts.Create(c); err != nil {
		return 0, err
	}
	e.logger.Info("created contact for shopper",
		"contact_id", c.ID,
		"has_email", email != "")

	if email != "" {
		addr := &contactmodel.Email{
			ContactID:    c.ID,
			Email:        email,
			LocationType: contactmodel.LocationBilling,
		}
		if err := e.contacts.AddEmail(addr); err != nil {
			return 0, err
		}
	}
	return c.ID, nil
}

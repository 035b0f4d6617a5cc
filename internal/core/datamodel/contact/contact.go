package contact

import "time"

const (
	TypeIndividual = "Individual"

	LocationBilling = "Billing"
)

// Contact is the paying party, owned by the host CRM.
type Contact struct {
	ID          int64     `gorm:"primaryKey"`
	ContactType string    `gorm:"column:contact_type;default:Individual"`
	FirstName   string    `gorm:"column:first_name;index"`
	LastName    string    `gorm:"column:last_name;index"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt   time.Time `gorm:"column:updated_at;default:now()"`
}

func (Contact) TableName() string {
	return "contacts"
}

type Email struct {
	ID           int64     `gorm:"primaryKey"`
	ContactID    int64     `gorm:"column:contact_id;not null;index"`
	Email        string    `gorm:"column:email;not null;index"`
	LocationType string    `gorm:"column:location_type;default:Billing"`
	CreatedAt    time.Time `gorm:"column:created_at;default:now()"`
}

func (Email) TableName() string {
	return "emails"
}

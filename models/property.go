package models

import "time"

const (
	PropertyStatusOwned = "owned"
	PropertySource      = "transactions"
)

// Property is the current state of one (building, unit).
type Property struct {
	ID                  int64        `json:"id,omitempty"`
	Community           string       `json:"community"`
	Building            string       `json:"building"`
	Unit                string       `json:"unit"`
	PropertyType        string       `json:"property_type"`
	Bedrooms            *int         `json:"bedrooms,omitempty"`
	SizeSqft            float64      `json:"size_sqft"`
	Status              string       `json:"status"`
	LastPrice           float64      `json:"last_price"`
	LastTransactionDate *time.Time   `json:"last_transaction_date,omitempty"`
	OwnerID             string       `json:"owner_id,omitempty"`
	Meta                PropertyMeta `json:"meta"`
}

// PropertyMeta is the denormalized payload stored alongside a property.
type PropertyMeta struct {
	Source             string              `json:"source"`
	LastTransactionID  int64               `json:"last_transaction_id,omitempty"`
	BuyerName          string              `json:"buyer_name,omitempty"`
	BuyerPhone         string              `json:"buyer_phone,omitempty"`
	TransactionCount   int                 `json:"transaction_count"`
	NeedsOwnerReview   bool                `json:"needs_owner_review"`
	InstitutionalOwner *InstitutionalOwner `json:"institutional_owner,omitempty"`
}

// InstitutionalOwner keeps the raw buyer of a unit bought by a developer,
// bank, lender or government body.
type InstitutionalOwner struct {
	OwnerID   string    `json:"owner_id,omitempty"`
	OwnerType OwnerType `json:"owner_type"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
}

// PropertyKey returns the identity of a property within the dataset.
func PropertyKey(building, unit string) string {
	return building + "\x1f" + unit
}

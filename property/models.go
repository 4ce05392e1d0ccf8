package property

import (
	"time"

	"offerflow/pricing"
)

type ListingType string

const (
	ListingForSale ListingType = "FOR_SALE"
	ListingForRent ListingType = "FOR_RENT"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPending  Status = "PENDING"
	StatusSold     Status = "SOLD"
	StatusRented   Status = "RENTED"
	StatusInactive Status = "INACTIVE"
)

type Category string

const (
	CategoryLuxuryVilla     Category = "LUXURY_VILLA"
	CategoryApartment       Category = "APARTMENT"
	CategoryResidentialHome Category = "RESIDENTIAL_HOME"
	CategoryOfficeSpaces    Category = "OFFICE_SPACES"
)

// Contact is where notifications about a listing are sent.
type Contact struct {
	UserID         string
	Name           string
	Email          string
	Phone          string
	TelegramChatID int64
}

// Property is the read-only view of a listing used by the offer workflow.
// LowestRejectedOffer is the only field the workflow itself writes: the amount at
// or below which new offers are refused, which only ever rises.
type Property struct {
	ID                  string
	Title               string
	Location            string
	Category            Category
	DisplayPrice        string
	ListingType         ListingType
	Status              Status
	AllowOffers         bool
	LowestRejectedOffer *float64
	Owner               *Contact
	UpdatedAt           time.Time
}

// Listing projects the property onto the fields the pricing rules read.
func (p Property) Listing() pricing.Listing {
	return pricing.Listing{
		AllowOffers:         p.AllowOffers,
		Active:              p.Status == StatusActive,
		ForSale:             p.ListingType == ListingForSale,
		DisplayPrice:        p.DisplayPrice,
		LowestRejectedOffer: p.LowestRejectedOffer,
	}
}

// OwnedBy reports whether userID is the listing's individual owner.
func (p Property) OwnedBy(userID string) bool {
	return p.Owner != nil && p.Owner.UserID != "" && p.Owner.UserID == userID
}

package offer

import (
	"time"

	"offerflow/auth"
	"offerflow/verification"
)

// OfferLifetime is how long an offer stays open before it expires.
const OfferLifetime = 20 * 24 * time.Hour

// BuyerContact is the contact snapshot taken when the offer is made.
type BuyerContact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message,omitempty"`
}

// Identity holds the uploaded document and what was read from it. Verified is
// only ever set by an explicit owner confirmation.
type Identity struct {
	DocumentURL    string              `json:"documentUrl"`
	DocumentPath   string              `json:"-"`
	Fields         verification.Fields `json:"fields"`
	OCRConfidence  *float64            `json:"ocrConfidence,omitempty"`
	OCRProcessedAt *time.Time          `json:"ocrProcessedAt,omitempty"`
	UploadedAt     time.Time           `json:"uploadedAt"`
	Verified       bool                `json:"verified"`
	VerifiedAt     *time.Time          `json:"verifiedAt,omitempty"`
	VerifiedBy     string              `json:"verifiedBy,omitempty"`
}

// Offer is a buyer's bid on a property listing.
type Offer struct {
	ID                 string       `json:"id"`
	PropertyID         string       `json:"propertyId"`
	BuyerID            string       `json:"buyerId"`
	OfferAmount        float64      `json:"offerAmount"`
	AskingPriceAtOffer float64      `json:"askingPriceAtOffer"`
	PercentageOfAsking float64      `json:"percentageOfAsking"`
	Buyer              BuyerContact `json:"buyer"`
	Status             Status       `json:"status"`
	Identity           *Identity    `json:"identity,omitempty"`
	DecidedBy          string       `json:"decidedBy,omitempty"`
	DecisionNote       string       `json:"decisionNote,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	ExpiresAt          time.Time    `json:"expiresAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// IsDue reports whether an open offer has passed its expiry at now.
func (o Offer) IsDue(now time.Time) bool {
	return o.Status.IsOpen() && !now.Before(o.ExpiresAt)
}

// Verification marks the identity as confirmed by a person.
type Verification struct {
	By string
	At time.Time
}

// Patch is the change applied by a compare-and-set update. Zero fields are left alone.
type Patch struct {
	Status              Status
	Identity            *Identity
	Verify              *Verification
	RaiseRejectionFloor bool
	ActorID             string
	Note                string
	At                  time.Time
}

// Filter narrows ListOffers. Empty fields match everything.
type Filter struct {
	PropertyID    string
	BuyerID       string
	Statuses      []Status
	ExpiresBefore *time.Time
	Limit         int
}

// DocumentAccess is one audited read of an identity document.
type DocumentAccess struct {
	OfferID    string
	ViewerID   string
	ViewerRole auth.Role
	ViewedAt   time.Time
}

// SubmitParams carries a new offer from a buyer.
type SubmitParams struct {
	PropertyID string
	Buyer      auth.Principal
	Amount     float64
	Name       string
	Email      string
	Phone      string
	Message    string
}

// UploadParams carries an identity document image.
type UploadParams struct {
	OfferID string
	Actor   auth.Principal
	Data    []byte
}

// UploadResult tells the buyer what happened to their document.
type UploadResult struct {
	Offer       Offer               `json:"offer"`
	Report      verification.Report `json:"report"`
	NeedsReview bool                `json:"needsReview"`
	Message     string              `json:"message"`
}

// DecisionParams carries an owner decision or a buyer withdrawal.
type DecisionParams struct {
	OfferID string
	Actor   auth.Principal
	Note    string
}

// ListParams selects offers visible to the caller.
type ListParams struct {
	Actor      auth.Principal
	PropertyID string
	Status     Status
	Limit      int
}

// DocumentLink is a time-boxed link to an identity document together with
// what was read from it.
type DocumentLink struct {
	URL           string              `json:"url"`
	ExpiresAt     time.Time           `json:"expiresAt"`
	Fields        verification.Fields `json:"fields"`
	OCRConfidence *float64            `json:"ocrConfidence,omitempty"`
	Verified      bool                `json:"verified"`
}

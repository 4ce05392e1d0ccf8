package offer

import (
	"context"

	"offerflow/notify"
)

// Store persists offers. Every status change goes through UpdateOffer, which
// applies patch only if the offer is still in expected and writes msgs to the
// outbox in the same transaction. CreateOffer refuses with a *pricing.BidError
// when a rejection committed since the caller checked left the amount at or
// below the listing's rejection floor.
type Store interface {
	CreateOffer(ctx context.Context, o Offer, msgs ...notify.Message) (Offer, error)
	GetOffer(ctx context.Context, id string) (Offer, error)
	FindOpenOffer(ctx context.Context, buyerID, propertyID string) (Offer, error)
	UpdateOffer(ctx context.Context, id string, expected Status, patch Patch, msgs ...notify.Message) (Offer, error)
	ListOffers(ctx context.Context, f Filter) ([]Offer, error)
	RecordDocumentAccess(ctx context.Context, a DocumentAccess) error
}

package offer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"offerflow/auth"
)

// Get returns an offer to its buyer, the listing owner or an operator.
func (s *Service) Get(ctx context.Context, id string, actor auth.Principal) (Offer, error) {
	o, err := s.store.GetOffer(ctx, id)
	if err != nil {
		return Offer{}, err
	}
	if actor.UserID == "" {
		return Offer{}, ErrForbidden
	}
	if actor.UserID != o.BuyerID {
		p, err := s.loadProperty(ctx, o.PropertyID)
		if err != nil {
			return Offer{}, err
		}
		if !canDecide(actor, p) {
			return Offer{}, ErrForbidden
		}
	}
	return s.expireIfDue(ctx, o)
}

// List returns offers on a property for its owner, all offers for an operator,
// or the caller's own offers otherwise.
func (s *Service) List(ctx context.Context, params ListParams) ([]Offer, error) {
	if params.Actor.UserID == "" {
		return nil, ErrForbidden
	}

	f := Filter{PropertyID: params.PropertyID, Limit: params.Limit}
	if params.Status != "" {
		f.Statuses = []Status{params.Status}
	}

	switch {
	case params.PropertyID != "":
		p, err := s.loadProperty(ctx, params.PropertyID)
		if err != nil {
			return nil, err
		}
		if !canDecide(params.Actor, p) {
			f.BuyerID = params.Actor.UserID
		}
	case !params.Actor.IsOperator():
		f.BuyerID = params.Actor.UserID
	}

	offers, err := s.store.ListOffers(ctx, f)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i, o := range offers {
		if o.IsDue(now) {
			if offers[i], err = s.expireIfDue(ctx, o); err != nil {
				return nil, err
			}
		}
	}
	return offers, nil
}

// ReadDocument returns a short-lived link to the buyer's identity document.
// Only the listing owner and operators may read it, and every read is audited.
func (s *Service) ReadDocument(ctx context.Context, offerID string, actor auth.Principal) (DocumentLink, error) {
	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return DocumentLink{}, err
	}
	p, err := s.loadProperty(ctx, o.PropertyID)
	if err != nil {
		return DocumentLink{}, err
	}
	if !canDecide(actor, p) {
		return DocumentLink{}, fmt.Errorf("%w: only the property owner can view identity documents", ErrForbidden)
	}
	if o.Identity == nil || o.Identity.DocumentPath == "" {
		return DocumentLink{}, ErrNoDocument
	}

	url, expires, err := s.signer.SignedURL(o.Identity.DocumentPath, s.cfg.DocumentLinkTTL)
	if err != nil {
		return DocumentLink{}, fmt.Errorf("offer: sign document link: %w", err)
	}

	if err := s.store.RecordDocumentAccess(ctx, DocumentAccess{
		OfferID:    o.ID,
		ViewerID:   actor.UserID,
		ViewerRole: actor.Role,
		ViewedAt:   s.now(),
	}); err != nil {
		return DocumentLink{}, err
	}

	s.logger.Info("identity document read",
		zap.String("offer_id", o.ID),
		zap.String("viewer_id", actor.UserID),
		zap.String("viewer_role", string(actor.Role)))

	return DocumentLink{
		URL:           url,
		ExpiresAt:     expires,
		Fields:        o.Identity.Fields,
		OCRConfidence: o.Identity.OCRConfidence,
		Verified:      o.Identity.Verified,
	}, nil
}

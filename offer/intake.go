package offer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"offerflow/notify"
	"offerflow/pricing"
)

const maxBuyerMessage = 2000

func (p SubmitParams) validate() error {
	var problems []string
	if p.Buyer.UserID == "" {
		problems = append(problems, "buyer identity is required")
	}
	if strings.TrimSpace(p.PropertyID) == "" {
		problems = append(problems, "property id is required")
	}
	if err := pricing.ValidateAmount(p.Amount); err != nil {
		problems = append(problems, "amount "+strings.TrimPrefix(err.Error(), pricing.ErrInvalidAmount.Error()+": "))
	}
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(p.Email)); err != nil {
		problems = append(problems, "a valid email is required")
	}
	if len(p.Message) > maxBuyerMessage {
		problems = append(problems, "message is too long")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Submit validates a new offer against the listing and records it as
// PENDING_DOCUMENT. The owner and the operator are notified once it commits.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Offer, error) {
	if err := params.validate(); err != nil {
		return Offer{}, err
	}

	p, err := s.loadProperty(ctx, params.PropertyID)
	if err != nil {
		if errors.Is(err, ErrPropertyNotFound) {
			return Offer{}, s.rejected(rejection(ReasonNotFound, err, "This property does not exist."))
		}
		return Offer{}, err
	}
	if p.OwnedBy(params.Buyer.UserID) {
		return Offer{}, fmt.Errorf("%w: owners cannot bid on their own listing", ErrForbidden)
	}

	quote, err := pricing.Evaluate(p.Listing(), params.Amount)
	if errors.Is(err, pricing.ErrInvalidAmount) {
		return Offer{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err != nil {
		return Offer{}, s.rejected(rejectionFromPricing(err, p.DisplayPrice))
	}

	existing, err := s.store.FindOpenOffer(ctx, params.Buyer.UserID, p.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return Offer{}, fmt.Errorf("offer: find open offer: %w", err)
	default:
		existing, err = s.expireIfDue(ctx, existing)
		if err != nil {
			return Offer{}, err
		}
		if existing.Status.IsOpen() {
			return Offer{}, s.rejected(duplicateRejection())
		}
	}

	now := s.now()
	o := Offer{
		ID:                 s.idGenerator(),
		PropertyID:         p.ID,
		BuyerID:            params.Buyer.UserID,
		OfferAmount:        params.Amount,
		AskingPriceAtOffer: quote.AskingPrice,
		PercentageOfAsking: quote.PercentageOfAsking,
		Buyer: BuyerContact{
			Name:    strings.TrimSpace(params.Name),
			Email:   strings.TrimSpace(params.Email),
			Phone:   strings.TrimSpace(params.Phone),
			Message: strings.TrimSpace(params.Message),
		},
		Status:    StatusPendingDocument,
		CreatedAt: now,
		ExpiresAt: now.Add(OfferLifetime),
		UpdatedAt: now,
	}

	created, err := s.store.CreateOffer(ctx, o,
		s.ownerMessage(notify.TemplateOfferReceived, o, p, nil),
		s.operatorMessage(notify.TemplateOfferSubmitted, o, p),
	)
	if err != nil {
		var bid *pricing.BidError
		switch {
		case errors.Is(err, ErrDuplicateOpenOffer):
			return Offer{}, s.rejected(duplicateRejection())
		case errors.As(err, &bid):
			return Offer{}, s.rejected(rejectionFromPricing(err, p.DisplayPrice))
		}
		return Offer{}, err
	}

	s.metrics.IncrementCounter("offers_submitted", nil)
	s.logger.Info("offer submitted",
		zap.String("offer_id", created.ID),
		zap.String("property_id", created.PropertyID),
		zap.String("buyer_id", created.BuyerID),
		zap.Float64("percentage_of_asking", created.PercentageOfAsking))

	return created, nil
}

func duplicateRejection() *Rejection {
	return rejection(ReasonDuplicateOpenOffer, ErrDuplicateOpenOffer,
		"You already have an open offer on this property. Withdraw it before making a new one.")
}

func (s *Service) rejected(err error) error {
	var r *Rejection
	if errors.As(err, &r) {
		s.metrics.IncrementCounter("offers_refused", map[string]string{"reason": string(r.Reason)})
	}
	return err
}

package offer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"offerflow/notify"
	"offerflow/property"
)

// Reject declines an open offer and raises the listing's rejection floor to the
// offer amount when it is the highest declined so far.
func (s *Service) Reject(ctx context.Context, params DecisionParams) (Offer, error) {
	o, p, err := s.loadForDecision(ctx, params)
	if err != nil {
		return Offer{}, err
	}
	if !o.Status.CanTransitionTo(StatusRejected) {
		return Offer{}, invalidState("reject", o.Status)
	}

	var extra map[string]string
	if params.Note != "" {
		extra = map[string]string{"reason": params.Note}
	}
	updated, err := s.store.UpdateOffer(ctx, o.ID, o.Status, Patch{
		Status:              StatusRejected,
		RaiseRejectionFloor: true,
		ActorID:             params.Actor.UserID,
		Note:                params.Note,
		At:                  s.now(),
	}, s.buyerMessage(notify.TemplateOfferRejected, o, p, extra))
	if err != nil {
		return Offer{}, err
	}

	s.metrics.IncrementCounter("offers_decided", map[string]string{"decision": "rejected"})
	s.logger.Info("offer rejected", zap.String("offer_id", o.ID), zap.String("actor_id", params.Actor.UserID))
	return updated, nil
}

// Accept accepts an ACTIVE offer. Offers still waiting for a document cannot be accepted.
func (s *Service) Accept(ctx context.Context, params DecisionParams) (Offer, error) {
	o, p, err := s.loadForDecision(ctx, params)
	if err != nil {
		return Offer{}, err
	}
	if o.Status != StatusActive {
		return Offer{}, invalidState("accept", o.Status)
	}

	updated, err := s.store.UpdateOffer(ctx, o.ID, StatusActive, Patch{
		Status:  StatusAccepted,
		ActorID: params.Actor.UserID,
		Note:    params.Note,
		At:      s.now(),
	}, s.buyerMessage(notify.TemplateOfferAccepted, o, p, nil))
	if err != nil {
		return Offer{}, err
	}

	s.metrics.IncrementCounter("offers_decided", map[string]string{"decision": "accepted"})
	s.logger.Info("offer accepted", zap.String("offer_id", o.ID), zap.String("actor_id", params.Actor.UserID))
	return updated, nil
}

// ConfirmIdentity records that the owner checked the buyer's document in person
// or against the original. It is the only way an identity becomes verified.
func (s *Service) ConfirmIdentity(ctx context.Context, params DecisionParams) (Offer, error) {
	o, _, err := s.loadForDecision(ctx, params)
	if err != nil {
		return Offer{}, err
	}
	if o.Status != StatusActive {
		return Offer{}, invalidState("confirm the identity on", o.Status)
	}
	if o.Identity == nil {
		return Offer{}, ErrNoDocument
	}
	if o.Identity.Verified {
		return o, nil
	}

	now := s.now()
	updated, err := s.store.UpdateOffer(ctx, o.ID, StatusActive, Patch{
		Verify:  &Verification{By: params.Actor.UserID, At: now},
		ActorID: params.Actor.UserID,
		At:      now,
	})
	if err != nil {
		return Offer{}, err
	}

	s.logger.Info("identity confirmed", zap.String("offer_id", o.ID), zap.String("actor_id", params.Actor.UserID))
	return updated, nil
}

// Withdraw lets the buyer pull an open offer.
func (s *Service) Withdraw(ctx context.Context, params DecisionParams) (Offer, error) {
	o, err := s.store.GetOffer(ctx, params.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if params.Actor.UserID == "" || params.Actor.UserID != o.BuyerID {
		return Offer{}, fmt.Errorf("%w: only the buyer can withdraw an offer", ErrForbidden)
	}
	o, err = s.expireIfDue(ctx, o)
	if err != nil {
		return Offer{}, err
	}
	if !o.Status.CanTransitionTo(StatusWithdrawn) {
		return Offer{}, invalidState("withdraw", o.Status)
	}

	updated, err := s.store.UpdateOffer(ctx, o.ID, o.Status, Patch{
		Status:  StatusWithdrawn,
		ActorID: params.Actor.UserID,
		Note:    params.Note,
		At:      s.now(),
	})
	if err != nil {
		return Offer{}, err
	}

	s.metrics.IncrementCounter("offers_decided", map[string]string{"decision": "withdrawn"})
	s.logger.Info("offer withdrawn", zap.String("offer_id", o.ID))
	return updated, nil
}

func (s *Service) loadForDecision(ctx context.Context, params DecisionParams) (Offer, property.Property, error) {
	o, err := s.store.GetOffer(ctx, params.OfferID)
	if err != nil {
		return Offer{}, property.Property{}, err
	}
	p, err := s.loadProperty(ctx, o.PropertyID)
	if err != nil {
		return Offer{}, property.Property{}, err
	}
	if !canDecide(params.Actor, p) {
		return Offer{}, property.Property{}, fmt.Errorf("%w: only the property owner can decide on this offer", ErrForbidden)
	}
	o, err = s.expireIfDue(ctx, o)
	if err != nil {
		return Offer{}, property.Property{}, err
	}
	return o, p, nil
}

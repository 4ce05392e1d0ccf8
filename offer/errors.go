package offer

import (
	"errors"
	"fmt"

	"offerflow/pricing"
)

var (
	// ErrNotFound is returned when no offer row exists for the identifier.
	ErrNotFound = errors.New("offer: not found")
	// ErrPropertyNotFound is returned when the offer targets an unknown listing.
	ErrPropertyNotFound = errors.New("offer: property not found")
	// ErrDuplicateOpenOffer signals the buyer already has an open offer on the property.
	ErrDuplicateOpenOffer = errors.New("offer: duplicate open offer")
	// ErrForbidden signals the caller may not perform the operation on this offer.
	ErrForbidden = errors.New("offer: forbidden")
	// ErrInvalidState signals the offer's current status does not allow the operation.
	ErrInvalidState = errors.New("offer: invalid state")
	// ErrValidation signals malformed input.
	ErrValidation = errors.New("offer: validation failed")
	// ErrUploadFailed signals the document could not be stored.
	ErrUploadFailed = errors.New("offer: document upload failed")
	// ErrNoDocument signals the offer has no identity document yet.
	ErrNoDocument = errors.New("offer: no identity document")
)

type Reason string

const (
	ReasonNotFound                Reason = "NotFound"
	ReasonBiddingDisabled         Reason = "BiddingDisabled"
	ReasonNotAvailable            Reason = "NotAvailable"
	ReasonWrongListingType        Reason = "WrongListingType"
	ReasonInvalidAskingPrice      Reason = "InvalidAskingPrice"
	ReasonBelowMinimumBid         Reason = "BelowMinimumBid"
	ReasonOfferPreviouslyRejected Reason = "OfferPreviouslyRejected"
	ReasonDuplicateOpenOffer      Reason = "DuplicateOpenOffer"
)

// Rejection is a business-rule refusal of a new offer. It carries a reason code
// and, for pricing refusals, the figures the buyer needs to try again.
type Rejection struct {
	Reason        Reason
	Message       string
	MinAmount     float64
	AskingPrice   float64
	RejectedFloor *float64
	Err           error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("offer: rejected (%s): %s", r.Reason, r.Message)
}

func (r *Rejection) Unwrap() error { return r.Err }

// ConflictError is returned when a compare-and-set lost to a concurrent change.
// It matches ErrInvalidState and is safe to retry after re-reading the offer.
type ConflictError struct {
	OfferID  string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("offer: %s changed concurrently: expected %s, found %s", e.OfferID, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrInvalidState }

// Retryable is always true; the caller should reload and decide again.
func (e *ConflictError) Retryable() bool { return true }

func invalidState(op string, s Status) error {
	return fmt.Errorf("%w: cannot %s an offer in %s", ErrInvalidState, op, s)
}

func rejection(reason Reason, err error, msg string) *Rejection {
	return &Rejection{Reason: reason, Message: msg, Err: err}
}

// rejectionFromPricing converts pricing rule failures into reason-coded rejections.
func rejectionFromPricing(err error, displayPrice string) error {
	var bid *pricing.BidError
	switch {
	case errors.Is(err, pricing.ErrBiddingDisabled):
		return rejection(ReasonBiddingDisabled, err, "The owner is not accepting offers on this property.")
	case errors.Is(err, pricing.ErrNotAvailable):
		return rejection(ReasonNotAvailable, err, "This property is no longer available.")
	case errors.Is(err, pricing.ErrWrongListingType):
		return rejection(ReasonWrongListingType, err, "Offers can only be made on properties listed for sale.")
	case errors.Is(err, pricing.ErrInvalidAskingPrice):
		return rejection(ReasonInvalidAskingPrice, err, "This listing has no valid asking price; please contact the agent.")
	case errors.As(err, &bid) && errors.Is(err, pricing.ErrBelowMinimumBid):
		r := rejection(ReasonBelowMinimumBid, err, fmt.Sprintf(
			"Offers must be at least %s (80%% of the asking price %s).",
			pricing.FormatLike(displayPrice, bid.MinimumBid), pricing.FormatLike(displayPrice, bid.AskingPrice)))
		r.MinAmount, r.AskingPrice = bid.MinimumBid, bid.AskingPrice
		return r
	case errors.As(err, &bid) && errors.Is(err, pricing.ErrPreviouslyRejected):
		r := rejection(ReasonOfferPreviouslyRejected, err, fmt.Sprintf(
			"An offer of %s was already declined; offers must be higher than that.",
			pricing.FormatLike(displayPrice, *bid.RejectedFloor)))
		r.MinAmount, r.AskingPrice, r.RejectedFloor = bid.MinimumBid, bid.AskingPrice, bid.RejectedFloor
		return r
	default:
		return err
	}
}

package pricing

import (
	"fmt"
)

// Listing is the slice of a property the validator needs.
type Listing struct {
	AllowOffers         bool
	Active              bool
	ForSale             bool
	DisplayPrice        string
	LowestRejectedOffer *float64
}

// Quote is the accepted pricing outcome for an offer amount.
type Quote struct {
	AskingPrice        float64
	MinimumBid         float64
	PercentageOfAsking float64
}

// BidError carries the figures a buyer needs to correct a rejected amount.
type BidError struct {
	Err           error
	AskingPrice   float64
	MinimumBid    float64
	RejectedFloor *float64
}

func (e *BidError) Error() string {
	if e.RejectedFloor != nil {
		return fmt.Sprintf("%v: amount must exceed %.2f", e.Err, *e.RejectedFloor)
	}
	return fmt.Sprintf("%v: minimum bid is %.2f of asking %.2f", e.Err, e.MinimumBid, e.AskingPrice)
}

func (e *BidError) Unwrap() error { return e.Err }

// Evaluate checks eligibility, the minimum bid and the rejection floor in that order.
// The amount itself is checked first, so no figure outside ValidateAmount reaches
// the cent arithmetic.
func Evaluate(listing Listing, amount float64) (Quote, error) {
	if err := ValidateAmount(amount); err != nil {
		return Quote{}, err
	}

	switch {
	case !listing.AllowOffers:
		return Quote{}, ErrBiddingDisabled
	case !listing.Active:
		return Quote{}, ErrNotAvailable
	case !listing.ForSale:
		return Quote{}, ErrWrongListingType
	}

	asking, err := ParseAskingPrice(listing.DisplayPrice)
	if err != nil {
		return Quote{}, err
	}

	askingMinor := toMinor(asking)
	minMinor := minimumBidMinor(askingMinor)
	amountMinor := toMinor(amount)

	if amountMinor < minMinor {
		return Quote{}, &BidError{
			Err:         ErrBelowMinimumBid,
			AskingPrice: asking,
			MinimumBid:  fromMinor(minMinor),
		}
	}

	if floor := listing.LowestRejectedOffer; floor != nil && AtOrBelow(amount, *floor) {
		f := *floor
		return Quote{}, &BidError{
			Err:           ErrPreviouslyRejected,
			AskingPrice:   asking,
			MinimumBid:    fromMinor(minMinor),
			RejectedFloor: &f,
		}
	}

	pct := PercentageOfAsking(amount, asking)
	if pct > MaxPercentageOfAsking {
		return Quote{}, fmt.Errorf("%w: %.2f%% of the asking price", ErrInvalidAmount, pct)
	}

	return Quote{
		AskingPrice:        asking,
		MinimumBid:         fromMinor(minMinor),
		PercentageOfAsking: pct,
	}, nil
}

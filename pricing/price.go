package pricing

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MinimumBidRatio is the fraction of the asking price an offer must reach.
const MinimumBidRatio = 0.80

const (
	// MaxAmount is the largest offer or asking price accepted. Every amount up
	// to it keeps exact cents in a float64.
	MaxAmount = 999_999_999_999.99
	// MaxPercentageOfAsking is the largest ratio the offers table can record.
	MaxPercentageOfAsking = 99_999.99
)

var (
	// ErrInvalidAskingPrice signals the listing's display price could not be read as a positive number.
	ErrInvalidAskingPrice = errors.New("pricing: invalid asking price")
	// ErrBiddingDisabled signals the owner has switched offers off for the listing.
	ErrBiddingDisabled = errors.New("pricing: bidding disabled")
	// ErrNotAvailable signals the listing is not in the ACTIVE status.
	ErrNotAvailable = errors.New("pricing: listing not available")
	// ErrWrongListingType signals the listing is not for sale.
	ErrWrongListingType = errors.New("pricing: wrong listing type")
	// ErrBelowMinimumBid signals the amount is under 80% of the asking price.
	ErrBelowMinimumBid = errors.New("pricing: below minimum bid")
	// ErrPreviouslyRejected signals the amount does not beat the rejection floor.
	ErrPreviouslyRejected = errors.New("pricing: offer previously rejected")
	// ErrInvalidAmount signals an amount that is not a positive figure in whole cents within range.
	ErrInvalidAmount = errors.New("pricing: invalid amount")
)

var priceToken = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParseAskingPrice reads a display price such as "฿34,800,000" or "$500,000.00".
// Currency symbols, codes and whitespace are ignored; the first numeric token wins.
func ParseAskingPrice(display string) (float64, error) {
	token := priceToken.FindString(display)
	if token == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAskingPrice, display)
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", ""), 64)
	if err != nil || value <= 0 || value > MaxAmount {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAskingPrice, display)
	}

	return value, nil
}

// ValidateAmount checks that amount is positive, no larger than MaxAmount and
// carries at most two decimals. 3999999.996 is refused rather than rounded.
func ValidateAmount(amount float64) error {
	switch {
	case math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0:
		return fmt.Errorf("%w: must be a positive number", ErrInvalidAmount)
	case amount > MaxAmount:
		return fmt.Errorf("%w: must not exceed %s", ErrInvalidAmount, FormatLike("", MaxAmount))
	}
	text := strconv.FormatFloat(amount, 'f', -1, 64)
	if dot := strings.IndexByte(text, '.'); dot >= 0 && len(text)-dot-1 > 2 {
		return fmt.Errorf("%w: must have at most two decimal places", ErrInvalidAmount)
	}
	return nil
}

// MinimumBid returns the smallest acceptable offer for an asking price,
// rounded up to the next minor unit.
func MinimumBid(askingPrice float64) float64 {
	return fromMinor(minimumBidMinor(toMinor(askingPrice)))
}

// PercentageOfAsking returns amount as a percentage of askingPrice rounded to two decimals.
func PercentageOfAsking(amount, askingPrice float64) float64 {
	if askingPrice <= 0 {
		return 0
	}
	return math.Round(amount/askingPrice*100*100) / 100
}

// AtOrBelow reports whether amount does not exceed floor, compared in cents.
func AtOrBelow(amount, floor float64) bool {
	return toMinor(amount) <= toMinor(floor)
}

// toMinor converts to cents, saturating instead of wrapping outside the int64 range.
func toMinor(v float64) int64 {
	c := math.Round(v * 100)
	switch {
	case math.IsNaN(c):
		return 0
	case c >= math.MaxInt64:
		return math.MaxInt64
	case c <= math.MinInt64:
		return math.MinInt64
	}
	return int64(c)
}

func fromMinor(v int64) float64 {
	return float64(v) / 100
}

// minimumBidMinor computes ceil(asking * 0.80) in minor units without float drift.
func minimumBidMinor(askingMinor int64) int64 {
	return (askingMinor*80 + 99) / 100
}

// FormatLike renders amount with the currency prefix used by a display price,
// for example FormatLike("฿34,800,000", 4000000) == "฿4,000,000".
func FormatLike(display string, amount float64) string {
	prefix := ""
	if loc := priceToken.FindStringIndex(display); loc != nil {
		prefix = display[:loc[0]]
	}
	prefix = strings.TrimLeft(prefix, " ")

	minor := toMinor(amount)
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	whole, frac := minor/100, minor%100

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != 0 {
		fmt.Fprintf(&b, ".%02d", frac)
	}
	return sign + prefix + b.String()
}

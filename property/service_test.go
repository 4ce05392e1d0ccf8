package property

import (
	"context"
	"errors"
	"testing"
)

type fakeReader map[string]Property

func (f fakeReader) GetByID(_ context.Context, id string) (Property, error) {
	p, ok := f[id]
	if !ok {
		return Property{}, ErrNotFound
	}
	return p, nil
}

func TestService_OwnerContactFallsBackToDefault(t *testing.T) {
	def := Contact{Name: "Sales desk", Email: "sales@example.com"}
	svc := NewService(fakeReader{}, def)

	if got := svc.OwnerContact(Property{}); got != def {
		t.Fatalf("expected default contact, got %+v", got)
	}

	unreachable := Property{Owner: &Contact{UserID: "o1", Name: "No Email"}}
	if got := svc.OwnerContact(unreachable); got != def {
		t.Fatalf("expected default contact for unreachable owner, got %+v", got)
	}

	owner := Contact{UserID: "o1", Email: "owner@example.com"}
	if got := svc.OwnerContact(Property{Owner: &owner}); got != owner {
		t.Fatalf("expected owner contact, got %+v", got)
	}
}

func TestService_GetByIDNotFound(t *testing.T) {
	svc := NewService(fakeReader{}, Contact{})
	if _, err := svc.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProperty_Listing(t *testing.T) {
	floor := 10.0
	p := Property{
		DisplayPrice:        "฿1,000",
		ListingType:         ListingForSale,
		Status:              StatusActive,
		AllowOffers:         true,
		LowestRejectedOffer: &floor,
	}
	l := p.Listing()
	if !l.Active || !l.ForSale || !l.AllowOffers || l.DisplayPrice != "฿1,000" || l.LowestRejectedOffer != &floor {
		t.Fatalf("unexpected listing projection %+v", l)
	}

	p.ListingType = ListingForRent
	p.Status = StatusSold
	l = p.Listing()
	if l.Active || l.ForSale {
		t.Fatalf("expected inactive rental listing, got %+v", l)
	}
}

func TestProperty_OwnedBy(t *testing.T) {
	p := Property{Owner: &Contact{UserID: "o1"}}
	if !p.OwnedBy("o1") || p.OwnedBy("o2") || p.OwnedBy("") {
		t.Fatal("unexpected ownership result")
	}
	if (Property{}).OwnedBy("o1") {
		t.Fatal("property without owner must not be owned")
	}
}

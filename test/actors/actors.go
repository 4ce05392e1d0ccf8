package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"offerflow/auth"
	"offerflow/notify"
	"offerflow/offer"
)

// Clock is a wall clock that can be pushed forward so offers expire during a run.
type Clock struct {
	offset atomic.Int64
}

func (c *Clock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *Clock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

// Stats counts outcomes across all actors.
type Stats struct {
	Submitted atomic.Int64
	Refused   atomic.Int64
	Uploaded  atomic.Int64
	Decided   atomic.Int64
	Withdrawn atomic.Int64
	Conflicts atomic.Int64
	Reads     atomic.Int64
	Expired   atomic.Int64
	Delivered atomic.Int64
	Transient atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("submitted=%d refused=%d uploaded=%d decided=%d withdrawn=%d conflicts=%d reads=%d expired=%d delivered=%d transient=%d",
		s.Submitted.Load(), s.Refused.Load(), s.Uploaded.Load(), s.Decided.Load(), s.Withdrawn.Load(),
		s.Conflicts.Load(), s.Reads.Load(), s.Expired.Load(), s.Delivered.Load(), s.Transient.Load())
}

// World is what the actors share.
type World struct {
	Offers      *offer.Service
	PropertyIDs []string
	Owner       auth.Principal
	Operator    auth.Principal
	Document    []byte
	AskingPrice float64
	Stats       *Stats
	// TolerateTransient accepts infrastructure errors, for runs that kill backends.
	TolerateTransient bool
}

func (w *World) property() string {
	return w.PropertyIDs[rand.Intn(len(w.PropertyIDs))]
}

// settle classifies err. Business refusals and lost races are expected under
// contention; anything else fails the run unless transient errors are tolerated.
func (w *World) settle(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		rejection *offer.Rejection
		conflict  *offer.ConflictError
	)
	switch {
	case errors.As(err, &rejection):
		w.Stats.Refused.Add(1)
		return nil
	case errors.As(err, &conflict):
		w.Stats.Conflicts.Add(1)
		return nil
	case errors.Is(err, offer.ErrInvalidState), errors.Is(err, offer.ErrNoDocument):
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, offer.ErrValidation), errors.Is(err, offer.ErrForbidden):
		return fmt.Errorf("%s: %w", op, err)
	}
	if w.TolerateTransient {
		w.Stats.Transient.Add(1)
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func loop(ctx context.Context, stop <-chan struct{}, minPause, jitter int, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := step(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		time.Sleep(time.Duration(minPause+rand.Intn(jitter)) * time.Millisecond)
	}
}

// Buyer places offers between 85% and 125% of the asking price, so some fall
// under the minimum bid or the rejection floor, and now and then withdraws one.
func Buyer(ctx context.Context, w *World, buyer auth.Principal, stop <-chan struct{}) error {
	return loop(ctx, stop, 10, 30, func() error {
		if rand.Intn(6) == 0 {
			return withdrawOne(ctx, w, buyer)
		}
		amount := w.AskingPrice * (0.85 + 0.4*rand.Float64())
		_, err := w.Offers.Submit(ctx, offer.SubmitParams{
			PropertyID: w.property(),
			Buyer:      buyer,
			Amount:     float64(int64(amount)),
			Name:       "Buyer " + buyer.UserID,
			Email:      buyer.UserID + "@example.com",
		})
		if err == nil {
			w.Stats.Submitted.Add(1)
		}
		return w.settle("submit", err)
	})
}

func withdrawOne(ctx context.Context, w *World, buyer auth.Principal) error {
	open, err := w.Offers.List(ctx, offer.ListParams{Actor: buyer, Limit: 10})
	if err != nil {
		return w.settle("list own", err)
	}
	for _, o := range open {
		if !o.Status.IsOpen() {
			continue
		}
		_, err := w.Offers.Withdraw(ctx, offer.DecisionParams{OfferID: o.ID, Actor: buyer})
		if err == nil {
			w.Stats.Withdrawn.Add(1)
		}
		return w.settle("withdraw", err)
	}
	return nil
}

// Uploader sends the identity document for the buyer's offers that wait for one.
func Uploader(ctx context.Context, w *World, buyer auth.Principal, stop <-chan struct{}) error {
	return loop(ctx, stop, 15, 30, func() error {
		pending, err := w.Offers.List(ctx, offer.ListParams{Actor: buyer, Status: offer.StatusPendingDocument, Limit: 5})
		if err != nil {
			return w.settle("list pending", err)
		}
		for _, o := range pending {
			_, err := w.Offers.UploadDocument(ctx, offer.UploadParams{OfferID: o.ID, Actor: buyer, Data: w.Document})
			if err == nil {
				w.Stats.Uploaded.Add(1)
			}
			if err := w.settle("upload", err); err != nil {
				return err
			}
		}
		return nil
	})
}

// Owner walks the open offers on a listing and accepts or rejects them. Only
// offers under the asking price are rejected, which keeps the floor below it.
func Owner(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, 20, 40, func() error {
		offers, err := w.Offers.List(ctx, offer.ListParams{Actor: w.Owner, PropertyID: w.property(), Limit: 20})
		if err != nil {
			return w.settle("list property", err)
		}
		for _, o := range offers {
			if !o.Status.IsOpen() || rand.Intn(3) != 0 {
				continue
			}
			if o.OfferAmount >= w.AskingPrice && o.Status != offer.StatusActive {
				continue
			}
			params := offer.DecisionParams{OfferID: o.ID, Actor: w.Owner, Note: "stress"}
			var decideErr error
			switch {
			case o.Status == offer.StatusActive && (o.OfferAmount >= w.AskingPrice || rand.Intn(4) == 0):
				_, decideErr = w.Offers.Accept(ctx, params)
			default:
				_, decideErr = w.Offers.Reject(ctx, params)
			}
			if decideErr == nil {
				w.Stats.Decided.Add(1)
			}
			if err := w.settle("decide", decideErr); err != nil {
				return err
			}
		}
		return nil
	})
}

// DocumentReader opens identity documents as the operator, leaving audit rows.
func DocumentReader(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, 30, 50, func() error {
		offers, err := w.Offers.List(ctx, offer.ListParams{Actor: w.Operator, Status: offer.StatusActive, Limit: 10})
		if err != nil {
			return w.settle("list active", err)
		}
		if len(offers) == 0 {
			return nil
		}
		o := offers[rand.Intn(len(offers))]
		_, err = w.Offers.ReadDocument(ctx, o.ID, w.Operator)
		if err == nil {
			w.Stats.Reads.Add(1)
		}
		return w.settle("read document", err)
	})
}

// Sweeper pushes the clock forward and expires what became due.
func Sweeper(ctx context.Context, w *World, clock *Clock, step time.Duration, stop <-chan struct{}) error {
	return loop(ctx, stop, 200, 100, func() error {
		clock.Advance(step)
		n, err := w.Offers.ExpireDue(ctx)
		w.Stats.Expired.Add(int64(n))
		return w.settle("expire", err)
	})
}

// RelayWorker drains the outbox. Several run at once to exercise row claiming.
func RelayWorker(ctx context.Context, w *World, relay *notify.Relay, stop <-chan struct{}) error {
	return loop(ctx, stop, 20, 30, func() error {
		n, err := relay.RunOnce(ctx)
		w.Stats.Delivered.Add(int64(n))
		return w.settle("relay", err)
	})
}

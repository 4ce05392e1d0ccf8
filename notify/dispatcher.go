package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"offerflow/metrics"
)

// ErrNoChannel signals no sender could take the recipient and no fallback was configured.
var ErrNoChannel = errors.New("notify: no channel for recipient")

// Dispatcher renders a message and hands it to every sender that can reach the recipient.
type Dispatcher struct {
	senders  []Sender
	fallback Sender
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func NewDispatcher(logger *zap.Logger, collector *metrics.Collector, senders ...Sender) *Dispatcher {
	return &Dispatcher{
		senders: senders,
		logger:  logger.With(zap.String("service", "notify_dispatcher")),
		metrics: collector,
	}
}

// WithFallback sets the sender used when no other sender accepts a recipient.
func (d *Dispatcher) WithFallback(s Sender) *Dispatcher {
	d.fallback = s
	return d
}

// Send delivers m. It succeeds when at least one channel delivered it.
func (d *Dispatcher) Send(ctx context.Context, m Message) error {
	rendered, err := Render(m)
	if err != nil {
		return err
	}

	var (
		attempted int
		delivered int
		errs      []error
	)
	for _, s := range d.senders {
		if !s.Accepts(m.Recipient) {
			continue
		}
		attempted++
		if err := s.Send(ctx, m.Recipient, rendered); err != nil {
			d.metrics.IncrementCounter("notifications_failed", map[string]string{"channel": s.Name()})
			d.logger.Warn("notification channel failed",
				zap.String("channel", s.Name()),
				zap.String("template", string(m.Template)),
				zap.String("offer_id", m.OfferID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		delivered++
		d.metrics.IncrementCounter("notifications_sent", map[string]string{"channel": s.Name()})
	}

	if attempted == 0 {
		if d.fallback == nil {
			return fmt.Errorf("%w: %s", ErrNoChannel, m.Recipient.Audience)
		}
		if err := d.fallback.Send(ctx, m.Recipient, rendered); err != nil {
			return fmt.Errorf("notify: fallback %s: %w", d.fallback.Name(), err)
		}
		d.metrics.IncrementCounter("notifications_sent", map[string]string{"channel": d.fallback.Name()})
		return nil
	}

	if delivered == 0 {
		return errors.Join(errs...)
	}
	return nil
}

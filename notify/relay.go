package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outbox is the queue the relay drains.
type Outbox interface {
	Claim(ctx context.Context, limit int) ([]Envelope, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, e Envelope, cause error) error
}

// Deliverer sends one decoded message.
type Deliverer interface {
	Send(ctx context.Context, m Message) error
}

// RelayConfig tunes polling.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

// Relay moves committed outbox rows to the dispatcher.
type Relay struct {
	outbox    Outbox
	deliverer Deliverer
	logger    *zap.Logger
	cfg       RelayConfig
}

func NewRelay(outbox Outbox, deliverer Deliverer, logger *zap.Logger, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Relay{
		outbox:    outbox,
		deliverer: deliverer,
		logger:    logger.With(zap.String("service", "notify_relay")),
		cfg:       cfg,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and delivers it. Individual delivery failures are
// logged and rescheduled; only claim errors are returned.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.Claim(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, e := range batch {
		e := e
		g.Go(func() error {
			r.deliver(gctx, e)
			return nil
		})
	}
	_ = g.Wait()

	return len(batch), nil
}

func (r *Relay) deliver(ctx context.Context, e Envelope) {
	log := r.logger.With(zap.Int64("outbox_id", e.ID), zap.String("topic", e.Topic), zap.Int("attempt", e.Attempts))

	msg, err := Decode(e.Payload)
	if err == nil {
		err = r.deliverer.Send(ctx, msg)
	}
	if err != nil {
		log.Warn("notification delivery failed", zap.Error(err))
		if markErr := r.outbox.MarkFailed(ctx, e, err); markErr != nil {
			log.Error("outbox mark failed", zap.Error(markErr))
		}
		return
	}

	if err := r.outbox.MarkDelivered(ctx, e.ID); err != nil {
		log.Error("outbox mark delivered", zap.Error(err))
	}
}

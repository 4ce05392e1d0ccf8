package offer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const expiryBatch = 200

// ExpireDue moves every open offer past its expiry to EXPIRED and returns how
// many it moved. Offers that changed concurrently are skipped.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListOffers(ctx, Filter{
		Statuses:      OpenStatuses,
		ExpiresBefore: &now,
		Limit:         expiryBatch,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range due {
		updated, err := s.expireIfDue(ctx, o)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return expired, err
			}
			s.logger.Warn("expire offer", zap.String("offer_id", o.ID), zap.Error(err))
			continue
		}
		if updated.Status == StatusExpired && o.Status != StatusExpired {
			expired++
		}
	}
	return expired, nil
}

// RunExpirySweeper calls ExpireDue every interval until ctx is cancelled.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.ExpireDue(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("expiry sweep failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("expiry sweep", zap.Int("expired", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

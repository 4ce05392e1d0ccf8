package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offerflow/auth"
	"offerflow/document"
	"offerflow/metrics"
	"offerflow/notify"
	"offerflow/property"
	"offerflow/verification"
)

// PropertyReader resolves listings and who to notify about them.
type PropertyReader interface {
	GetByID(ctx context.Context, id string) (property.Property, error)
	OwnerContact(p property.Property) property.Contact
}

// DocumentStore keeps identity document images private.
type DocumentStore interface {
	Put(ctx context.Context, scope string, data []byte) (document.Stored, error)
}

// URLSigner issues short-lived read links for stored documents.
type URLSigner interface {
	SignedURL(privatePath string, ttl time.Duration) (string, time.Time, error)
}

// Scanner extracts identity fields from a document image.
type Scanner interface {
	Scan(ctx context.Context, imageURL string) (verification.ScanResult, error)
}

// Config tunes the workflow.
type Config struct {
	// OCRTimeout bounds a single scan; a timeout counts as a failed scan.
	OCRTimeout time.Duration
	// MinConfidence below which an active offer is flagged for review.
	MinConfidence float64
	// DocumentLinkTTL is how long owner read links stay valid.
	DocumentLinkTTL time.Duration
	// Operator receives a copy of every new offer.
	Operator notify.Recipient
}

// Service orchestrates the offer lifecycle. It holds no offer state; every
// decision is made against a fresh read and committed with compare-and-set.
type Service struct {
	store       Store
	properties  PropertyReader
	documents   DocumentStore
	signer      URLSigner
	scanner     Scanner
	cfg         Config
	logger      *zap.Logger
	metrics     *metrics.Collector
	idGenerator func() string
	now         func() time.Time
}

func NewService(store Store, properties PropertyReader, documents DocumentStore, signer URLSigner, scanner Scanner, cfg Config, logger *zap.Logger) *Service {
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = 2 * time.Minute
	}
	if cfg.DocumentLinkTTL <= 0 || cfg.DocumentLinkTTL > document.MaxSignedURLTTL {
		cfg.DocumentLinkTTL = document.MaxSignedURLTTL
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.6
	}
	if cfg.Operator.Audience == "" {
		cfg.Operator.Audience = notify.AudienceOperator
	}
	return &Service{
		store:       store,
		properties:  properties,
		documents:   documents,
		signer:      signer,
		scanner:     scanner,
		cfg:         cfg,
		logger:      logger.With(zap.String("service", "offer")),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithMetrics(c *metrics.Collector) *Service {
	s.metrics = c
	return s
}

func (s *Service) loadProperty(ctx context.Context, id string) (property.Property, error) {
	p, err := s.properties.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, property.ErrNotFound) {
			return property.Property{}, ErrPropertyNotFound
		}
		return property.Property{}, fmt.Errorf("offer: load property: %w", err)
	}
	return p, nil
}

// canDecide reports whether actor may act as the listing owner.
func canDecide(actor auth.Principal, p property.Property) bool {
	return actor.IsOperator() || (actor.Role == auth.RoleOwner && p.OwnedBy(actor.UserID))
}

// expireIfDue moves an open offer past its expiry to EXPIRED and returns the
// offer as it now stands.
func (s *Service) expireIfDue(ctx context.Context, o Offer) (Offer, error) {
	now := s.now()
	if !o.IsDue(now) {
		return o, nil
	}

	// Expiry is silent: nobody is notified.
	expired, err := s.store.UpdateOffer(ctx, o.ID, o.Status, Patch{Status: StatusExpired, At: now})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return s.store.GetOffer(ctx, o.ID)
		}
		return Offer{}, err
	}

	s.metrics.IncrementCounter("offers_expired", nil)
	s.logger.Info("offer expired", zap.String("offer_id", o.ID))
	return expired, nil
}

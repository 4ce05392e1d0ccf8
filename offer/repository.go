package offer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"offerflow/notify"
	"offerflow/pricing"
)

const openOfferIndex = "offers_one_open_per_buyer"

const offerColumns = `
	id::text, property_id::text, buyer_id,
	offer_amount::float8, asking_price_at_offer::float8, percentage_of_asking::float8,
	buyer_name, buyer_email, buyer_phone, buyer_message,
	status, created_at, expires_at, updated_at,
	document_url, document_path, id_fields, ocr_confidence::float8, ocr_processed_at,
	identity_uploaded_at, verified, verified_at, verified_by,
	decided_by, decision_note`

// PGStore is the PostgreSQL-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func scanOffer(row pgx.Row) (Offer, error) {
	var (
		o            Offer
		docURL       *string
		docPath      *string
		fieldsJSON   []byte
		confidence   *float64
		processedAt  *time.Time
		uploadedAt   *time.Time
		verified     bool
		verifiedAt   *time.Time
		verifiedBy   *string
		decidedBy    *string
		decisionNote *string
	)
	err := row.Scan(
		&o.ID, &o.PropertyID, &o.BuyerID,
		&o.OfferAmount, &o.AskingPriceAtOffer, &o.PercentageOfAsking,
		&o.Buyer.Name, &o.Buyer.Email, &o.Buyer.Phone, &o.Buyer.Message,
		&o.Status, &o.CreatedAt, &o.ExpiresAt, &o.UpdatedAt,
		&docURL, &docPath, &fieldsJSON, &confidence, &processedAt,
		&uploadedAt, &verified, &verifiedAt, &verifiedBy,
		&decidedBy, &decisionNote,
	)
	if err != nil {
		return Offer{}, err
	}

	if decidedBy != nil {
		o.DecidedBy = *decidedBy
	}
	if decisionNote != nil {
		o.DecisionNote = *decisionNote
	}

	if docPath != nil {
		id := &Identity{
			DocumentPath:   *docPath,
			OCRConfidence:  confidence,
			OCRProcessedAt: processedAt,
			Verified:       verified,
			VerifiedAt:     verifiedAt,
		}
		if docURL != nil {
			id.DocumentURL = *docURL
		}
		if uploadedAt != nil {
			id.UploadedAt = *uploadedAt
		}
		if verifiedBy != nil {
			id.VerifiedBy = *verifiedBy
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &id.Fields); err != nil {
				return Offer{}, fmt.Errorf("offer: decode identity fields: %w", err)
			}
		}
		o.Identity = id
	}

	return o, nil
}

// CreateOffer inserts a new offer, its creation event and its notifications.
func (r *PGStore) CreateOffer(ctx context.Context, o Offer, msgs ...notify.Message) (Offer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// A concurrent rejection may have raised the bar since the caller checked it.
	var floor *float64
	err = tx.QueryRow(ctx, `SELECT lowest_rejected_offer::float8 FROM properties WHERE id = $1 FOR SHARE`, o.PropertyID).Scan(&floor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrPropertyNotFound
		}
		return Offer{}, fmt.Errorf("offer: lock property: %w", err)
	}
	if floor != nil && pricing.AtOrBelow(o.OfferAmount, *floor) {
		f := *floor
		return Offer{}, &pricing.BidError{
			Err:           pricing.ErrPreviouslyRejected,
			AskingPrice:   o.AskingPriceAtOffer,
			MinimumBid:    pricing.MinimumBid(o.AskingPriceAtOffer),
			RejectedFloor: &f,
		}
	}

	query := `
INSERT INTO offers (
	id, property_id, buyer_id, offer_amount, asking_price_at_offer, percentage_of_asking,
	buyer_name, buyer_email, buyer_phone, buyer_message,
	status, created_at, expires_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $12)
RETURNING ` + offerColumns

	created, err := scanOffer(tx.QueryRow(ctx, query,
		o.ID, o.PropertyID, o.BuyerID, o.OfferAmount, o.AskingPriceAtOffer, o.PercentageOfAsking,
		o.Buyer.Name, o.Buyer.Email, o.Buyer.Phone, o.Buyer.Message,
		string(o.Status), o.CreatedAt, o.ExpiresAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openOfferIndex {
			return Offer{}, ErrDuplicateOpenOffer
		}
		return Offer{}, fmt.Errorf("offer: insert: %w", err)
	}

	payload := map[string]any{
		"offer_amount":         created.OfferAmount,
		"percentage_of_asking": created.PercentageOfAsking,
		"expires_at":           created.ExpiresAt.UTC(),
	}
	if err := appendEvent(ctx, tx, created.ID, "OFFER_CREATED", "", created.Status, created.BuyerID, payload); err != nil {
		return Offer{}, err
	}

	if err := notify.Enqueue(ctx, tx, msgs...); err != nil {
		return Offer{}, fmt.Errorf("offer: enqueue notifications: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit create: %w", err)
	}
	return created, nil
}

// GetOffer reads the current state of an offer.
func (r *PGStore) GetOffer(ctx context.Context, id string) (Offer, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Offer{}, ErrNotFound
	}
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	o, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: query by id: %w", err)
	}
	return o, nil
}

// FindOpenOffer returns the buyer's open offer on the property, or ErrNotFound.
func (r *PGStore) FindOpenOffer(ctx context.Context, buyerID, propertyID string) (Offer, error) {
	query := `SELECT ` + offerColumns + `
FROM offers
WHERE buyer_id = $1 AND property_id = $2 AND status IN ('PENDING_DOCUMENT', 'ACTIVE')
ORDER BY created_at DESC
LIMIT 1`

	o, err := scanOffer(r.pool.QueryRow(ctx, query, buyerID, propertyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: find open: %w", err)
	}
	return o, nil
}

// UpdateOffer locks the row, checks it is still in expected and applies patch.
func (r *PGStore) UpdateOffer(ctx context.Context, id string, expected Status, patch Patch, msgs ...notify.Message) (Offer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		current    Status
		propertyID string
		amount     float64
	)
	err = tx.QueryRow(ctx, `SELECT status, property_id::text, offer_amount::float8 FROM offers WHERE id = $1 FOR UPDATE`, id).
		Scan(&current, &propertyID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: fetch current status: %w", err)
	}
	if current != expected {
		return Offer{}, &ConflictError{OfferID: id, Expected: expected, Actual: current}
	}

	next := current
	if patch.Status != "" {
		if !current.CanTransitionTo(patch.Status) {
			return Offer{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, current, patch.Status)
		}
		next = patch.Status
	}

	args, err := updateArgs(id, next, patch)
	if err != nil {
		return Offer{}, err
	}

	query := `
UPDATE offers
SET status = $2,
    updated_at = $3,
    document_url = CASE WHEN $4 THEN $5 ELSE document_url END,
    document_path = CASE WHEN $4 THEN $6 ELSE document_path END,
    id_fields = CASE WHEN $4 THEN $7::jsonb ELSE id_fields END,
    ocr_confidence = CASE WHEN $4 THEN $8::numeric ELSE ocr_confidence END,
    ocr_processed_at = CASE WHEN $4 THEN $9::timestamptz ELSE ocr_processed_at END,
    identity_uploaded_at = CASE WHEN $4 THEN $10::timestamptz ELSE identity_uploaded_at END,
    verified = CASE WHEN $11 THEN TRUE ELSE verified END,
    verified_at = CASE WHEN $11 THEN $12::timestamptz ELSE verified_at END,
    verified_by = CASE WHEN $11 THEN $13 ELSE verified_by END,
    decided_by = COALESCE($14, decided_by),
    decision_note = COALESCE($15, decision_note)
WHERE id = $1
RETURNING ` + offerColumns

	updated, err := scanOffer(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return Offer{}, fmt.Errorf("offer: update: %w", err)
	}

	if patch.RaiseRejectionFloor && next == StatusRejected {
		const floorSQL = `
UPDATE properties
SET lowest_rejected_offer = GREATEST(COALESCE(lowest_rejected_offer, $2::numeric), $2::numeric),
    updated_at = now()
WHERE id = $1;
`
		if _, err := tx.Exec(ctx, floorSQL, propertyID, amount); err != nil {
			return Offer{}, fmt.Errorf("offer: raise rejection floor: %w", err)
		}
	}

	eventType := "OFFER_STATUS_CHANGED"
	switch {
	case patch.Identity != nil:
		eventType = "IDENTITY_DOCUMENT_RECORDED"
	case patch.Verify != nil:
		eventType = "IDENTITY_CONFIRMED"
	}
	payload := map[string]any{}
	if patch.Note != "" {
		payload["note"] = patch.Note
	}
	if patch.Identity != nil && patch.Identity.OCRConfidence != nil {
		payload["ocr_confidence"] = *patch.Identity.OCRConfidence
	}
	if err := appendEvent(ctx, tx, id, eventType, current, next, patch.ActorID, payload); err != nil {
		return Offer{}, err
	}

	if err := notify.Enqueue(ctx, tx, msgs...); err != nil {
		return Offer{}, fmt.Errorf("offer: enqueue notifications: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit update: %w", err)
	}
	return updated, nil
}

func updateArgs(id string, next Status, patch Patch) ([]any, error) {
	var (
		hasIdentity                       = patch.Identity != nil
		docURL, docPath, fields           *string
		confidence                        *float64
		processedAt, uploadedAt, verifyAt any
		verifyBy, decidedBy, note         *string
	)

	if hasIdentity {
		id := patch.Identity
		docURL, docPath = &id.DocumentURL, &id.DocumentPath
		if !id.Fields.IsEmpty() {
			raw, err := json.Marshal(id.Fields)
			if err != nil {
				return nil, fmt.Errorf("offer: encode identity fields: %w", err)
			}
			s := string(raw)
			fields = &s
		}
		confidence = id.OCRConfidence
		if id.OCRProcessedAt != nil {
			processedAt = *id.OCRProcessedAt
		}
		uploadedAt = id.UploadedAt
	}

	if patch.Verify != nil {
		verifyAt = patch.Verify.At
		verifyBy = &patch.Verify.By
	}

	if patch.Status == StatusAccepted || patch.Status == StatusRejected {
		if patch.ActorID != "" {
			decidedBy = &patch.ActorID
		}
		if patch.Note != "" {
			note = &patch.Note
		}
	}

	return []any{
		id, string(next), patch.At,
		hasIdentity, docURL, docPath, fields, confidence, processedAt, uploadedAt,
		patch.Verify != nil, verifyAt, verifyBy,
		decidedBy, note,
	}, nil
}

// ListOffers returns offers matching f, newest first.
func (r *PGStore) ListOffers(ctx context.Context, f Filter) ([]Offer, error) {
	where := []string{"1=1"}
	args := []any{}

	if f.PropertyID != "" {
		args = append(args, f.PropertyID)
		where = append(where, fmt.Sprintf("property_id = $%d", len(args)))
	}
	if f.BuyerID != "" {
		args = append(args, f.BuyerID)
		where = append(where, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.ExpiresBefore != nil {
		args = append(args, *f.ExpiresBefore)
		where = append(where, fmt.Sprintf("expires_at <= $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM offers WHERE %s ORDER BY created_at DESC LIMIT %d`,
		offerColumns, strings.Join(where, " AND "), limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("offer: list: %w", err)
	}
	defer rows.Close()

	offers := make([]Offer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate: %w", err)
	}
	return offers, nil
}

// RecordDocumentAccess appends to the document read audit log.
func (r *PGStore) RecordDocumentAccess(ctx context.Context, a DocumentAccess) error {
	const insertSQL = `
INSERT INTO document_access_log (offer_id, viewer_id, viewer_role, viewed_at)
VALUES ($1, $2, $3, $4);
`
	if _, err := r.pool.Exec(ctx, insertSQL, a.OfferID, a.ViewerID, string(a.ViewerRole), a.ViewedAt); err != nil {
		return fmt.Errorf("offer: record document access: %w", err)
	}
	return nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, offerID, eventType string, previous, next Status, actorID string, payload map[string]any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("offer: marshal event payload: %w", err)
	}

	var prev, actor *string
	if previous != "" {
		p := string(previous)
		prev = &p
	}
	if actorID != "" {
		actor = &actorID
	}

	const insertSQL = `
INSERT INTO offer_events (offer_id, type, previous_status, next_status, actor_id, payload)
VALUES ($1, $2, $3, $4, $5, $6::jsonb);
`
	if _, err := tx.Exec(ctx, insertSQL, offerID, eventType, prev, string(next), actor, string(payloadBytes)); err != nil {
		return fmt.Errorf("offer: insert event: %w", err)
	}
	return nil
}

var _ Store = (*PGStore)(nil)

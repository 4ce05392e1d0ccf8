package property

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested property does not exist.
var ErrNotFound = errors.New("property: not found")

// Repository provides read access to listings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a property by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Property, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Property{}, ErrNotFound
	}
	const query = `
		SELECT id::text, title, location, category, price, listing_type, status,
		       allow_offers, lowest_rejected_offer::float8,
		       owner_user_id, owner_name, owner_email, owner_phone, owner_telegram_chat_id,
		       updated_at
		FROM properties
		WHERE id = $1
	`

	var (
		p          Property
		lowest     *float64
		ownerID    sql.NullString
		ownerName  sql.NullString
		ownerEmail sql.NullString
		ownerPhone sql.NullString
		ownerChat  sql.NullInt64
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Title,
		&p.Location,
		&p.Category,
		&p.DisplayPrice,
		&p.ListingType,
		&p.Status,
		&p.AllowOffers,
		&lowest,
		&ownerID,
		&ownerName,
		&ownerEmail,
		&ownerPhone,
		&ownerChat,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrNotFound
		}
		return Property{}, fmt.Errorf("property: query by id: %w", err)
	}

	p.LowestRejectedOffer = lowest
	if ownerID.Valid || ownerEmail.Valid || ownerChat.Valid {
		p.Owner = &Contact{
			UserID:         ownerID.String,
			Name:           ownerName.String,
			Email:          ownerEmail.String,
			Phone:          ownerPhone.String,
			TelegramChatID: ownerChat.Int64,
		}
	}

	return p, nil
}

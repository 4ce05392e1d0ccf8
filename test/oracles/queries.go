package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariants that must hold at any committed point. Each query
// returns the offending rows.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_open_offer_per_buyer",
			SQL: `SELECT buyer_id, property_id, COUNT(*) FROM offers
                  WHERE status IN ('PENDING_DOCUMENT','ACTIVE')
                  GROUP BY buyer_id, property_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_rejection_floor_is_highest_rejected",
			SQL: `SELECT p.id, p.lowest_rejected_offer, r.highest FROM properties p
                  JOIN (SELECT property_id, MAX(offer_amount) AS highest FROM offers
                        WHERE status = 'REJECTED' GROUP BY property_id) r ON r.property_id = p.id
                  WHERE p.lowest_rejected_offer IS DISTINCT FROM r.highest`,
		},
		{
			Name: "O3_no_offer_at_or_below_floor_when_created",
			SQL: `SELECT o.id, o.offer_amount, MAX(r.offer_amount) FROM offer_events c
                  JOIN offers o ON o.id = c.offer_id
                  JOIN offer_events re ON re.next_status = 'REJECTED' AND re.id < c.id
                  JOIN offers r ON r.id = re.offer_id AND r.property_id = o.property_id
                  WHERE c.type = 'OFFER_CREATED'
                  GROUP BY o.id, o.offer_amount
                  HAVING o.offer_amount <= MAX(r.offer_amount)`,
		},
		{
			Name: "O4_last_event_matches_status",
			SQL: `SELECT o.id, o.status, e.next_status FROM offers o
                  JOIN LATERAL (SELECT next_status FROM offer_events
                                WHERE offer_id = o.id ORDER BY id DESC LIMIT 1) e ON true
                  WHERE e.next_status <> o.status`,
		},
		{
			Name: "O5_every_offer_has_creation_event",
			SQL: `SELECT o.id FROM offers o
                  WHERE NOT EXISTS (SELECT 1 FROM offer_events e
                                    WHERE e.offer_id = o.id AND e.type = 'OFFER_CREATED')`,
		},
		{
			Name: "O6_terminal_states_are_final",
			SQL: `SELECT e.offer_id, e.previous_status, e.next_status FROM offer_events e
                  WHERE e.previous_status IN ('ACCEPTED','REJECTED','EXPIRED','WITHDRAWN')`,
		},
		{
			Name: "O7_document_reads_need_document",
			SQL: `SELECT a.id, a.offer_id FROM document_access_log a
                  JOIN offers o ON o.id = a.offer_id
                  WHERE o.document_path IS NULL`,
		},
		{
			Name: "O8_ocr_stamp_only_with_result",
			SQL: `SELECT id, ocr_confidence, ocr_processed_at FROM offers
                  WHERE (ocr_confidence IS NULL) <> (ocr_processed_at IS NULL)`,
		},
		{
			Name: "O9_outbox_drained",
			SQL: `SELECT id, topic, status, attempts FROM outbox
                  WHERE status NOT IN ('delivered','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

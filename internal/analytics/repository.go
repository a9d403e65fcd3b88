package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Engagement is what viewers did during one broadcast.
type Engagement struct {
	ChatMessages   int              `json:"chat_messages"`
	DeletedChats   int              `json:"deleted_chats"`
	Likes          int              `json:"likes"`
	Dislikes       int              `json:"dislikes"`
	Donations      int              `json:"donations"`
	DonationsCents map[string]int64 `json:"donations_cents"` // by currency
	UniqueViewers  int              `json:"unique_viewers"`
}

// Repository aggregates per-session engagement.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an analytics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Engagement counts chat, reactions, donations and unique viewers for a session.
func (r *Repository) Engagement(ctx context.Context, sessionID uuid.UUID) (*Engagement, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM live_chat_entries WHERE session_id = $1 AND kind = 'message' AND NOT deleted),
		(SELECT COUNT(*) FROM live_chat_entries WHERE session_id = $1 AND deleted),
		(SELECT COUNT(*) FROM live_reactions WHERE session_id = $1 AND reaction = 'like'),
		(SELECT COUNT(*) FROM live_reactions WHERE session_id = $1 AND reaction = 'dislike'),
		(SELECT COUNT(*) FROM live_donations WHERE session_id = $1),
		(SELECT COUNT(*) FROM live_session_viewers WHERE session_id = $1)`
	e := Engagement{DonationsCents: map[string]int64{}}
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(
		&e.ChatMessages, &e.DeletedChats, &e.Likes, &e.Dislikes, &e.Donations, &e.UniqueViewers)
	if err != nil {
		return nil, fmt.Errorf("engagement counts: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT currency, SUM(amount_cents) FROM live_donations WHERE session_id = $1 GROUP BY currency`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("donation totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var currency string
		var cents int64
		if err := rows.Scan(&currency, &cents); err != nil {
			return nil, err
		}
		e.DonationsCents[currency] = cents
	}
	return &e, rows.Err()
}

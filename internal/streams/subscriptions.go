package streams

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Subscriptions stores channel subscriptions and implements
// livestream.SubscriptionChecker.
type Subscriptions struct {
	pool *pgxpool.Pool
}

func NewSubscriptions(pool *pgxpool.Pool) *Subscriptions {
	return &Subscriptions{pool: pool}
}

func (s *Subscriptions) IsSubscribed(ctx context.Context, channelOwnerID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE channel_id = $1 AND subscriber_id = $2)`
	var ok bool
	if err := s.pool.QueryRow(ctx, q, channelOwnerID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return ok, nil
}

// Subscribe is idempotent.
func (s *Subscriptions) Subscribe(ctx context.Context, channelOwnerID, userID uuid.UUID) error {
	const q = `INSERT INTO subscriptions (channel_id, subscriber_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, channelOwnerID, userID); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (s *Subscriptions) Unsubscribe(ctx context.Context, channelOwnerID, userID uuid.UUID) error {
	const q = `DELETE FROM subscriptions WHERE channel_id = $1 AND subscriber_id = $2`
	if _, err := s.pool.Exec(ctx, q, channelOwnerID, userID); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// SubscriberCount returns how many users follow a channel.
func (s *Subscriptions) SubscriberCount(ctx context.Context, channelOwnerID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM subscriptions WHERE channel_id = $1`, channelOwnerID).Scan(&n)
	return n, err
}

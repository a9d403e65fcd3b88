package sessionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttendeeRow is one row for GET /live/:id/attendees.
type AttendeeRow struct {
	UserID       uuid.UUID  `json:"user_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}

// WatchTimeAggregates holds total watch time and distinct viewers for a session.
type WatchTimeAggregates struct {
	TotalWatchSeconds int64 `json:"total_watch_seconds"`
	DistinctUsers     int   `json:"distinct_users"`
}

// Repository handles viewer_session_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a viewer log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin opens a row when an authenticated viewer joins a live session.
func (r *Repository) LogJoin(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO viewer_session_logs (live_session_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		sessionID, userID, at)
	if err != nil {
		return fmt.Errorf("log join: %w", err)
	}
	return nil
}

// LogLeave closes the most recent open row for this viewer in this session.
func (r *Repository) LogLeave(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE viewer_session_logs l SET left_at = $3,
		        watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - l.joined_at))::BIGINT)
		 FROM (SELECT id FROM viewer_session_logs
		       WHERE live_session_id = $1 AND user_id = $2 AND left_at IS NULL
		       ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE l.id = sub.id`,
		sessionID, userID, at)
	if err != nil {
		return fmt.Errorf("log leave: %w", err)
	}
	return nil
}

// CloseSession closes every row still open when the broadcast ends.
func (r *Repository) CloseSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE viewer_session_logs SET left_at = $2,
		        watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - joined_at))::BIGINT)
		 WHERE live_session_id = $1 AND left_at IS NULL`,
		sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("close session logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetWatchTimeAggregates sums closed rows for a session.
func (r *Repository) GetWatchTimeAggregates(ctx context.Context, sessionID uuid.UUID) (*WatchTimeAggregates, error) {
	const q = `SELECT COALESCE(SUM(watch_seconds), 0), COUNT(DISTINCT user_id)
	           FROM viewer_session_logs WHERE live_session_id = $1 AND left_at IS NOT NULL`
	var agg WatchTimeAggregates
	if err := r.pool.QueryRow(ctx, q, sessionID).Scan(&agg.TotalWatchSeconds, &agg.DistinctUsers); err != nil {
		return nil, fmt.Errorf("watch time aggregates: %w", err)
	}
	return &agg, nil
}

// ListBySession returns attendees newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]AttendeeRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, joined_at, left_at, watch_seconds
		 FROM viewer_session_logs WHERE live_session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()
	list := []AttendeeRow{}
	for rows.Next() {
		var row AttendeeRow
		if err := rows.Scan(&row.UserID, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

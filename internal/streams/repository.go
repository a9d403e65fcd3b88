package streams

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/models"
)

const (
	uniqueViolation      = "23505"
	ownerActiveIndexName = "uq_live_sessions_owner_active"
)

const sessionColumns = `id, owner_id, ingest_key_hash, title, description, category, visibility, status,
	scheduled_start, actual_start, ended_at, duration_seconds, current_viewers, peak_viewers, total_viewers,
	chat_enabled, subscriber_only_chat, archive_on_end, recording_source_url, recording_id, created_at, updated_at`

// Repository handles live_sessions persistence and implements
// livestream.SessionStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.LiveSession, error) {
	var s models.LiveSession
	var visibility, status string
	err := row.Scan(&s.ID, &s.OwnerID, &s.IngestKeyHash, &s.Title, &s.Description, &s.Category, &visibility, &status,
		&s.ScheduledStart, &s.ActualStart, &s.EndedAt, &s.DurationSeconds, &s.CurrentViewers, &s.PeakViewers, &s.TotalViewers,
		&s.ChatEnabled, &s.SubscriberOnlyChat, &s.ArchiveOnEnd, &s.RecordingSourceURL, &s.RecordingID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Visibility = models.Visibility(visibility)
	s.Status = models.SessionStatus(status)
	return &s, nil
}

// Create inserts a scheduled session. The partial unique index on owner_id
// rejects a second scheduled or live session for the same owner.
func (r *Repository) Create(ctx context.Context, s *models.LiveSession) error {
	const q = `INSERT INTO live_sessions (id, owner_id, ingest_key_hash, title, description, category, visibility, status,
		scheduled_start, chat_enabled, subscriber_only_chat, archive_on_end)
		VALUES (COALESCE($1, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`
	var id *uuid.UUID
	if s.ID != uuid.Nil {
		id = &s.ID
	}
	err := r.pool.QueryRow(ctx, q, id, s.OwnerID, s.IngestKeyHash, s.Title, s.Description, s.Category,
		string(s.Visibility), string(s.Status), s.ScheduledStart, s.ChatEnabled, s.SubscriberOnlyChat, s.ArchiveOnEnd,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == ownerActiveIndexName {
			return livestream.ErrAlreadyStreaming
		}
		return fmt.Errorf("insert live session: %w", err)
	}
	return nil
}

// GetByID returns a session with its moderators.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, livestream.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get live session: %w", err)
	}
	if s.Moderators, err = r.moderators(ctx, id); err != nil {
		return nil, err
	}
	return s, nil
}

// FindActiveByOwner returns the owner's scheduled or live session, or nil.
func (r *Repository) FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) (*models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions
		WHERE owner_id = $1 AND status IN ('scheduled', 'live') LIMIT 1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return s, nil
}

// Save writes the mutable lifecycle fields.
func (r *Repository) Save(ctx context.Context, s *models.LiveSession) error {
	const q = `UPDATE live_sessions SET status = $2, actual_start = $3, ended_at = $4, duration_seconds = $5,
		current_viewers = $6, peak_viewers = $7, total_viewers = $8, chat_enabled = $9, subscriber_only_chat = $10,
		updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q, s.ID, string(s.Status), s.ActualStart, s.EndedAt, s.DurationSeconds,
		s.CurrentViewers, s.PeakViewers, s.TotalViewers, s.ChatEnabled, s.SubscriberOnlyChat,
	).Scan(&s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return livestream.ErrSessionNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == ownerActiveIndexName {
			return livestream.ErrAlreadyStreaming
		}
		return fmt.Errorf("save live session: %w", err)
	}
	return nil
}

// UpdateViewerCounts sets current viewers. Peak and total never decrease.
func (r *Repository) UpdateViewerCounts(ctx context.Context, id uuid.UUID, current, peak, total int) error {
	const q = `UPDATE live_sessions SET current_viewers = $2,
		peak_viewers = GREATEST(peak_viewers, $3, $2), total_viewers = GREATEST(total_viewers, $4), updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, current, peak, total)
	if err != nil {
		return fmt.Errorf("update viewer counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return livestream.ErrSessionNotFound
	}
	return nil
}

// AddUniqueViewer records that userID watched the session at least once.
func (r *Repository) AddUniqueViewer(ctx context.Context, id, userID uuid.UUID) error {
	const q = `INSERT INTO live_session_viewers (session_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, id, userID); err != nil {
		return fmt.Errorf("add unique viewer: %w", err)
	}
	return nil
}

// CountUniqueViewers returns the number of distinct signed-in viewers.
func (r *Repository) CountUniqueViewers(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM live_session_viewers WHERE session_id = $1`, id).Scan(&n)
	return n, err
}

func (r *Repository) AddModerator(ctx context.Context, id, userID uuid.UUID) error {
	const q = `INSERT INTO live_session_moderators (session_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, id, userID); err != nil {
		return fmt.Errorf("add moderator: %w", err)
	}
	return nil
}

func (r *Repository) RemoveModerator(ctx context.Context, id, userID uuid.UUID) error {
	const q = `DELETE FROM live_session_moderators WHERE session_id = $1 AND user_id = $2`
	if _, err := r.pool.Exec(ctx, q, id, userID); err != nil {
		return fmt.Errorf("remove moderator: %w", err)
	}
	return nil
}

func (r *Repository) moderators(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM live_session_moderators WHERE session_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("list moderators: %w", err)
	}
	defer rows.Close()
	out := []uuid.UUID{}
	for rows.Next() {
		var m uuid.UUID
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetReaction replaces the user's reaction and returns the new tally in the
// same transaction.
func (r *Repository) SetReaction(ctx context.Context, id, userID uuid.UUID, reaction models.Reaction) (models.ReactionCounts, error) {
	var counts models.ReactionCounts
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return counts, fmt.Errorf("begin reaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if reaction == models.ReactionNone {
		_, err = tx.Exec(ctx, `DELETE FROM live_reactions WHERE session_id = $1 AND user_id = $2`, id, userID)
	} else {
		_, err = tx.Exec(ctx, `INSERT INTO live_reactions (session_id, user_id, reaction) VALUES ($1, $2, $3)
			ON CONFLICT (session_id, user_id) DO UPDATE SET reaction = EXCLUDED.reaction, updated_at = NOW()`,
			id, userID, string(reaction))
	}
	if err != nil {
		return counts, fmt.Errorf("set reaction: %w", err)
	}
	const q = `SELECT COUNT(*) FILTER (WHERE reaction = 'like'), COUNT(*) FILTER (WHERE reaction = 'dislike')
		FROM live_reactions WHERE session_id = $1`
	if err = tx.QueryRow(ctx, q, id).Scan(&counts.Likes, &counts.Dislikes); err != nil {
		return counts, fmt.Errorf("count reactions: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return counts, fmt.Errorf("commit reaction: %w", err)
	}
	return counts, nil
}

// AddDonation appends to the ledger and returns the session total in cents
// for d.Currency. Amounts in different currencies are never added together.
func (r *Repository) AddDonation(ctx context.Context, d *models.Donation) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin donation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const ins = `INSERT INTO live_donations (session_id, user_id, amount_cents, currency, message)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	if err = tx.QueryRow(ctx, ins, d.SessionID, d.UserID, d.AmountCents, d.Currency, d.Message).Scan(&d.ID, &d.CreatedAt); err != nil {
		return 0, fmt.Errorf("insert donation: %w", err)
	}
	var total int64
	if err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount_cents), 0) FROM live_donations WHERE session_id = $1 AND currency = $2`, d.SessionID, d.Currency).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum donations: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit donation: %w", err)
	}
	return total, nil
}

func (r *Repository) SetRecordingSource(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE live_sessions SET recording_source_url = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, url)
	if err != nil {
		return fmt.Errorf("set recording source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return livestream.ErrSessionNotFound
	}
	return nil
}

func (r *Repository) LinkRecording(ctx context.Context, id, videoID uuid.UUID) error {
	const q = `UPDATE live_sessions SET recording_id = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, videoID); err != nil {
		return fmt.Errorf("link recording: %w", err)
	}
	return nil
}

// ListLive returns live sessions, most watched first.
func (r *Repository) ListLive(ctx context.Context, limit int, publicOnly bool) ([]models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE status = 'live'`
	if publicOnly {
		q += ` AND visibility = 'public'`
	}
	q += ` ORDER BY current_viewers DESC, actual_start DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	defer rows.Close()
	list := []models.LiveSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ListByOwner returns the owner's sessions, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list owner sessions: %w", err)
	}
	defer rows.Close()
	list := []models.LiveSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

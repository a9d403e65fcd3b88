package streamchat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/models"
)

const entryColumns = `id, seq, session_id, author_id, body, kind, reply_to_id, pinned, highlighted,
	deleted, deleted_by, deleted_at, created_at`

// Repository persists the live chat/event log and implements
// livestream.ChatStore. seq comes from a BIGSERIAL and orders the log.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanEntry(row pgx.Row) (*models.ChatEntry, error) {
	var e models.ChatEntry
	var kind string
	err := row.Scan(&e.ID, &e.Seq, &e.SessionID, &e.AuthorID, &e.Body, &kind, &e.ReplyToID, &e.Pinned, &e.Highlighted,
		&e.Deleted, &e.DeletedBy, &e.DeletedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = models.ChatKind(kind)
	return &e, nil
}

func (r *Repository) Insert(ctx context.Context, e *models.ChatEntry) error {
	const q = `INSERT INTO live_chat_entries (session_id, author_id, body, kind, reply_to_id, highlighted)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, seq, created_at`
	err := r.pool.QueryRow(ctx, q, e.SessionID, e.AuthorID, e.Body, string(e.Kind), e.ReplyToID, e.Highlighted).
		Scan(&e.ID, &e.Seq, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat entry: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM live_chat_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, livestream.ErrEntryNotFound
		}
		return nil, fmt.Errorf("get chat entry: %w", err)
	}
	return e, nil
}

// Recent returns up to limit non-deleted entries, newest first.
func (r *Repository) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEntry, error) {
	const q = `SELECT ` + entryColumns + ` FROM live_chat_entries
		WHERE session_id = $1 AND NOT deleted
		ORDER BY seq DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chat entries: %w", err)
	}
	defer rows.Close()
	list := make([]models.ChatEntry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// SoftDelete blanks the body and unpins the entry. Returns false when it was
// already deleted.
func (r *Repository) SoftDelete(ctx context.Context, id, deleterID uuid.UUID, at time.Time) (bool, error) {
	const q = `UPDATE live_chat_entries
		SET deleted = TRUE, pinned = FALSE, body = $2, deleted_by = $3, deleted_at = $4
		WHERE id = $1 AND NOT deleted`
	tag, err := r.pool.Exec(ctx, q, id, models.DeletedPlaceholder, deleterID, at)
	if err != nil {
		return false, fmt.Errorf("soft delete chat entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM live_chat_entries WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check chat entry: %w", err)
	}
	if !exists {
		return false, livestream.ErrEntryNotFound
	}
	return false, nil
}

// Pin moves the session's single pin to entryID in one transaction.
func (r *Repository) Pin(ctx context.Context, sessionID, entryID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin pin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `UPDATE live_chat_entries SET pinned = FALSE WHERE session_id = $1 AND pinned`, sessionID); err != nil {
		return fmt.Errorf("clear pin: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE live_chat_entries SET pinned = TRUE WHERE id = $1 AND session_id = $2 AND NOT deleted`, entryID, sessionID)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return livestream.ErrEntryNotFound
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit pin: %w", err)
	}
	return nil
}

// Pinned returns the session's pinned entry, or nil.
func (r *Repository) Pinned(ctx context.Context, sessionID uuid.UUID) (*models.ChatEntry, error) {
	const q = `SELECT ` + entryColumns + ` FROM live_chat_entries WHERE session_id = $1 AND pinned`
	e, err := scanEntry(r.pool.QueryRow(ctx, q, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pinned entry: %w", err)
	}
	return e, nil
}

package recordings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tubecast/backend/internal/models"
)

// ErrVideoNotFound is returned when no video row matches.
var ErrVideoNotFound = errors.New("video not found")

const videoColumns = `id, owner_id, live_session_id, title, source_url, s3_url, s3_key, duration_seconds, file_size,
	status, created_at, updated_at`

// Repository handles videos persistence and implements livestream.VideoStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a videos repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.OwnerID, &v.LiveSessionID, &v.Title, &v.SourceURL, &v.S3URL, &v.S3Key,
		&v.DurationSeconds, &v.FileSize, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Create inserts a video row for an ended live session.
func (r *Repository) Create(ctx context.Context, v *models.Video) error {
	const q = `INSERT INTO videos (owner_id, live_session_id, title, source_url, duration_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, v.OwnerID, v.LiveSessionID, v.Title, v.SourceURL, v.DurationSeconds, v.Status).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// GetByID returns ErrVideoNotFound when no row exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	v, err := scanVideo(r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

// ListByOwner returns the owner's archived broadcasts, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Video, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+videoColumns+` FROM videos WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()
	list := []models.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

// MarkCompleted records the uploaded object.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64) error {
	const q = `UPDATE videos SET s3_url = $2, s3_key = $3, file_size = $4, status = $5, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, s3URL, s3Key, fileSize, models.VideoStatusCompleted)
	if err != nil {
		return fmt.Errorf("complete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// MarkFailed flags an archive that ran out of retries.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE videos SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, models.VideoStatusFailed); err != nil {
		return fmt.Errorf("fail video: %w", err)
	}
	return nil
}

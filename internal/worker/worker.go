package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/pkg/queue"
	"github.com/tubecast/backend/pkg/storage"
)

// Videos is the part of the videos repository the worker updates.
type Videos interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// ObjectStore reads ingest artifacts kept in S3 and writes archived videos.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, string, int64, error)
	VideosBucket() string
}

// JobQueue is the Redis queue as seen by the worker loop.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveProcessor copies a finished broadcast's recording into the videos
// bucket and marks the video row completed.
type ArchiveProcessor struct {
	videos Videos
	store  ObjectStore
	queue  JobQueue
	http   *http.Client
	logger *zap.Logger
}

// NewArchiveProcessor creates a video archive processor.
func NewArchiveProcessor(videos Videos, store ObjectStore, q JobQueue, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{
		videos: videos,
		store:  store,
		queue:  q,
		http:   &http.Client{Timeout: 30 * time.Minute},
		logger: logger,
	}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeVideoArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.VideoArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	video, err := p.videos.GetByID(ctx, payload.VideoID)
	if err != nil {
		return fmt.Errorf("load video %s: %w", payload.VideoID, err)
	}
	if video.Status == models.VideoStatusCompleted {
		p.logger.Info("video already archived", zap.String("video_id", video.ID.String()))
		return nil
	}

	body, contentType, size, err := p.open(ctx, payload.SourceURL)
	if err != nil {
		return err
	}
	defer body.Close()
	if contentType == "" {
		contentType = "video/mp4"
	}

	key := storage.VideoKey(video.OwnerID.String(), video.ID.String())
	s3URL, err := p.store.Upload(ctx, p.store.VideosBucket(), key, contentType, body, size)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.videos.MarkCompleted(ctx, video.ID, s3URL, key, size); err != nil {
		return fmt.Errorf("update video: %w", err)
	}

	p.logger.Info("video archived",
		zap.String("video_id", video.ID.String()),
		zap.String("session_id", payload.SessionID.String()),
		zap.String("s3_key", key),
	)
	return nil
}

// open streams the source artifact from S3 or over HTTP.
func (p *ArchiveProcessor) open(ctx context.Context, source string) (io.ReadCloser, string, int64, error) {
	if bucket, key, ok := storage.ParseS3URL(source); ok {
		body, ct, size, err := p.store.GetObjectStream(ctx, bucket, key)
		if err != nil {
			return nil, "", 0, fmt.Errorf("open source: %w", err)
		}
		return body, ct, size, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", 0, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

// Run starts the worker loop: dequeue, process, retry on error. A job that
// exhausts its retries marks the video failed.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.fail(ctx, job, err)
			sleep(ctx, queue.RetryBackoff)
		}
	}
}

func (p *ArchiveProcessor) fail(ctx context.Context, job *queue.Job, err error) {
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	if reErr := p.queue.Retry(ctx, job); reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
	}
	if job.Attempt < queue.MaxRetries {
		return
	}
	var payload queue.VideoArchivePayload
	if json.Unmarshal(job.Payload, &payload) != nil || payload.VideoID == uuid.Nil {
		return
	}
	if mErr := p.videos.MarkFailed(ctx, payload.VideoID); mErr != nil {
		p.logger.Error("mark video failed", zap.Error(mErr), zap.String("video_id", payload.VideoID.String()))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

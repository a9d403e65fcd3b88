package livestream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/models"
)

// VideoStore creates durable video records.
type VideoStore interface {
	Create(ctx context.Context, v *models.Video) error
}

// ArchiveQueue hands a video off to the upload worker.
type ArchiveQueue interface {
	EnqueueVideoArchive(ctx context.Context, videoID, sessionID uuid.UUID, sourceURL string) error
}

// Archiver turns an ended session with a recording artifact into a video
// record. It runs as a hook listener, so its failures never touch the end
// transition.
type Archiver struct {
	sessions SessionStore
	videos   VideoStore
	queue    ArchiveQueue
	logger   *zap.Logger
	mu       sync.Mutex
}

func NewArchiver(sessions SessionStore, videos VideoStore, queue ArchiveQueue, logger *zap.Logger) *Archiver {
	return &Archiver{sessions: sessions, videos: videos, queue: queue, logger: logger}
}

func (a *Archiver) Name() string { return "archiver" }

func (a *Archiver) Handle(ctx context.Context, ev Event) error {
	if ev.Type != EventSessionEnded && ev.Type != EventRecordingAttached {
		return nil
	}
	if ev.Session == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-read: the end and the webhook can both fire for one session.
	s, err := a.sessions.GetByID(ctx, ev.Session.ID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !archivable(s) {
		return nil
	}

	v := &models.Video{
		OwnerID:         s.OwnerID,
		LiveSessionID:   s.ID,
		Title:           s.Title,
		SourceURL:       s.RecordingSourceURL,
		DurationSeconds: s.DurationSeconds,
		Status:          models.VideoStatusProcessing,
	}
	if err := a.videos.Create(ctx, v); err != nil {
		return fmt.Errorf("create video: %w", err)
	}
	if err := a.sessions.LinkRecording(ctx, s.ID, v.ID); err != nil {
		return fmt.Errorf("link recording: %w", err)
	}
	if a.queue != nil {
		if err := a.queue.EnqueueVideoArchive(ctx, v.ID, s.ID, v.SourceURL); err != nil {
			return fmt.Errorf("enqueue archive: %w", err)
		}
	}
	a.logger.Info("live session archived",
		zap.String("session_id", s.ID.String()),
		zap.String("video_id", v.ID.String()))
	return nil
}

func archivable(s *models.LiveSession) bool {
	return s.Status == models.SessionEnded &&
		s.ArchiveOnEnd &&
		s.RecordingSourceURL != "" &&
		s.RecordingID == nil
}

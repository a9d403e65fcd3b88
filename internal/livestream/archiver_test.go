package livestream

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/models"
)

type memVideos struct {
	mu     sync.Mutex
	videos []models.Video
	err    error
}

func (m *memVideos) Create(_ context.Context, v *models.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	v.ID = uuid.New()
	m.videos = append(m.videos, *v)
	return nil
}

type memArchiveQueue struct {
	mu   sync.Mutex
	jobs []uuid.UUID
}

func (m *memArchiveQueue) EnqueueVideoArchive(_ context.Context, videoID, _ uuid.UUID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, videoID)
	return nil
}

func archiveHarness(t *testing.T) (*harness, *memVideos, *memArchiveQueue) {
	t.Helper()
	h := newHarness(t)
	videos := &memVideos{}
	q := &memArchiveQueue{}
	hooks := NewHooks(zap.NewNop(), false)
	hooks.Subscribe(NewArchiver(h.store, videos, q, zap.NewNop()))
	h.ctrl.hooks = hooks
	return h, videos, q
}

func TestArchiveOnEndWithRecording(t *testing.T) {
	h, videos, q := archiveHarness(t)
	ctx := context.Background()
	archive := true
	s, _, err := h.ctrl.Create(ctx, h.owner, CreateInput{Title: "archived", ArchiveOnEnd: &archive})
	require.NoError(t, err)
	_, err = h.ctrl.Start(ctx, s.ID, Actor{UserID: h.owner, Conn: ownerConn})
	require.NoError(t, err)
	_, err = h.ctrl.AttachRecording(ctx, s.ID, "https://ingest.example/rec/1.mp4")
	require.NoError(t, err)
	assert.Empty(t, videos.videos, "still live, nothing to archive yet")

	_, err = h.ctrl.End(ctx, s.ID, Actor{UserID: h.owner})
	require.NoError(t, err)

	require.Len(t, videos.videos, 1)
	v := videos.videos[0]
	assert.Equal(t, s.ID, v.LiveSessionID)
	assert.Equal(t, "https://ingest.example/rec/1.mp4", v.SourceURL)
	assert.Equal(t, models.VideoStatusProcessing, v.Status)
	require.NotNil(t, h.store.row(s.ID).RecordingID)
	assert.Equal(t, v.ID, *h.store.row(s.ID).RecordingID)
	assert.Equal(t, []uuid.UUID{v.ID}, q.jobs)

	// A late duplicate webhook must not archive twice.
	_, err = h.ctrl.AttachRecording(ctx, s.ID, "https://ingest.example/rec/1.mp4")
	require.NoError(t, err)
	assert.Len(t, videos.videos, 1)
}

func TestArchiveWhenRecordingArrivesAfterEnd(t *testing.T) {
	h, videos, _ := archiveHarness(t)
	ctx := context.Background()
	archive := true
	s, _, err := h.ctrl.Create(ctx, h.owner, CreateInput{Title: "late", ArchiveOnEnd: &archive})
	require.NoError(t, err)
	_, err = h.ctrl.Start(ctx, s.ID, Actor{UserID: h.owner, Conn: ownerConn})
	require.NoError(t, err)
	_, err = h.ctrl.End(ctx, s.ID, Actor{UserID: h.owner})
	require.NoError(t, err)
	assert.Empty(t, videos.videos)

	_, err = h.ctrl.AttachRecording(ctx, s.ID, "https://ingest.example/rec/2.mp4")
	require.NoError(t, err)
	assert.Len(t, videos.videos, 1)
}

func TestNoArchiveWhenDisabled(t *testing.T) {
	h, videos, _ := archiveHarness(t)
	ctx := context.Background()
	archive := false
	s, _, err := h.ctrl.Create(ctx, h.owner, CreateInput{Title: "ephemeral", ArchiveOnEnd: &archive})
	require.NoError(t, err)
	_, err = h.ctrl.Start(ctx, s.ID, Actor{UserID: h.owner, Conn: ownerConn})
	require.NoError(t, err)
	_, err = h.ctrl.AttachRecording(ctx, s.ID, "https://ingest.example/rec/3.mp4")
	require.NoError(t, err)
	_, err = h.ctrl.End(ctx, s.ID, Actor{UserID: h.owner})
	require.NoError(t, err)

	assert.Empty(t, videos.videos)
	assert.Nil(t, h.store.row(s.ID).RecordingID)
}

func TestArchiveFailureDoesNotUndoEnd(t *testing.T) {
	h, videos, _ := archiveHarness(t)
	videos.err = errors.New("insert failed")
	ctx := context.Background()
	archive := true
	s, _, err := h.ctrl.Create(ctx, h.owner, CreateInput{Title: "fragile", ArchiveOnEnd: &archive})
	require.NoError(t, err)
	_, err = h.ctrl.Start(ctx, s.ID, Actor{UserID: h.owner, Conn: ownerConn})
	require.NoError(t, err)
	_, err = h.ctrl.AttachRecording(ctx, s.ID, "https://ingest.example/rec/4.mp4")
	require.NoError(t, err)

	ended, err := h.ctrl.End(ctx, s.ID, Actor{UserID: h.owner})
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, ended.Status)
	assert.Equal(t, models.SessionEnded, h.store.row(s.ID).Status)
	assert.Nil(t, h.store.row(s.ID).RecordingID)
}

package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/pkg/queue"
)

type memVideos struct {
	rows   map[uuid.UUID]*models.Video
	failed []uuid.UUID
}

func (m *memVideos) GetByID(_ context.Context, id uuid.UUID) (*models.Video, error) {
	v, ok := m.rows[id]
	if !ok {
		return nil, errors.New("video not found")
	}
	cp := *v
	return &cp, nil
}

func (m *memVideos) MarkCompleted(_ context.Context, id uuid.UUID, s3URL, s3Key string, size int64) error {
	v := m.rows[id]
	v.Status = models.VideoStatusCompleted
	v.S3URL, v.S3Key, v.FileSize = s3URL, s3Key, size
	return nil
}

func (m *memVideos) MarkFailed(_ context.Context, id uuid.UUID) error {
	m.failed = append(m.failed, id)
	m.rows[id].Status = models.VideoStatusFailed
	return nil
}

type memObjects struct {
	uploads map[string][]byte
	sources map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{uploads: map[string][]byte{}, sources: map[string][]byte{}}
}

func (m *memObjects) Upload(_ context.Context, bucket, key, _ string, body io.Reader, _ int64) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.uploads[bucket+"/"+key] = b
	return "https://" + bucket + ".example/" + key, nil
}

func (m *memObjects) GetObjectStream(_ context.Context, bucket, key string) (io.ReadCloser, string, int64, error) {
	b, ok := m.sources[bucket+"/"+key]
	if !ok {
		return nil, "", 0, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), "video/mp4", int64(len(b)), nil
}

func (m *memObjects) VideosBucket() string { return "videos" }

type memQueue struct {
	retried []*queue.Job
}

func (q *memQueue) Dequeue(context.Context) (*queue.Job, string, error) { return nil, "", nil }

func (q *memQueue) Retry(_ context.Context, job *queue.Job) error {
	job.Attempt++
	q.retried = append(q.retried, job)
	return nil
}

func archiveJob(t *testing.T, v *models.Video, source string) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobTypeVideoArchive, queue.VideoArchivePayload{VideoID: v.ID, SessionID: v.LiveSessionID, SourceURL: source})
	require.NoError(t, err)
	return job
}

func newVideo() *models.Video {
	return &models.Video{ID: uuid.New(), OwnerID: uuid.New(), LiveSessionID: uuid.New(), Status: models.VideoStatusProcessing}
}

func TestProcessDownloadsOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	v := newVideo()
	videos := &memVideos{rows: map[uuid.UUID]*models.Video{v.ID: v}}
	objects := newMemObjects()
	p := NewArchiveProcessor(videos, objects, &memQueue{}, zap.NewNop())

	require.NoError(t, p.Process(context.Background(), archiveJob(t, v, srv.URL+"/rec.mp4")))

	key := "videos/" + v.OwnerID.String() + "/" + v.ID.String() + ".mp4"
	assert.Equal(t, []byte("mp4-bytes"), objects.uploads["videos/"+key])
	assert.Equal(t, models.VideoStatusCompleted, videos.rows[v.ID].Status)
	assert.Equal(t, key, videos.rows[v.ID].S3Key)
	assert.Equal(t, int64(len("mp4-bytes")), videos.rows[v.ID].FileSize)
}

func TestProcessCopiesFromS3Source(t *testing.T) {
	v := newVideo()
	videos := &memVideos{rows: map[uuid.UUID]*models.Video{v.ID: v}}
	objects := newMemObjects()
	objects.sources["ingest/raw/1.mp4"] = []byte("raw")
	p := NewArchiveProcessor(videos, objects, &memQueue{}, zap.NewNop())

	require.NoError(t, p.Process(context.Background(), archiveJob(t, v, "s3://ingest/raw/1.mp4")))
	assert.Equal(t, models.VideoStatusCompleted, videos.rows[v.ID].Status)
}

func TestProcessSkipsCompletedVideo(t *testing.T) {
	v := newVideo()
	v.Status = models.VideoStatusCompleted
	objects := newMemObjects()
	p := NewArchiveProcessor(&memVideos{rows: map[uuid.UUID]*models.Video{v.ID: v}}, objects, &memQueue{}, zap.NewNop())

	require.NoError(t, p.Process(context.Background(), archiveJob(t, v, "http://unreachable.invalid/x.mp4")))
	assert.Empty(t, objects.uploads)
}

func TestProcessErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	v := newVideo()
	p := NewArchiveProcessor(&memVideos{rows: map[uuid.UUID]*models.Video{v.ID: v}}, newMemObjects(), &memQueue{}, zap.NewNop())
	ctx := context.Background()

	assert.ErrorContains(t, p.Process(ctx, archiveJob(t, v, srv.URL)), "download status: 404")
	assert.Error(t, p.Process(ctx, archiveJob(t, v, "s3://ingest/missing.mp4")))
	assert.Error(t, p.Process(ctx, archiveJob(t, newVideo(), srv.URL)))
	assert.ErrorContains(t, p.Process(ctx, &queue.Job{Type: "other"}), "unknown job type")
}

func TestFailMarksVideoAfterLastRetry(t *testing.T) {
	v := newVideo()
	videos := &memVideos{rows: map[uuid.UUID]*models.Video{v.ID: v}}
	q := &memQueue{}
	p := NewArchiveProcessor(videos, newMemObjects(), q, zap.NewNop())
	job := archiveJob(t, v, "http://example.invalid")

	for i := 0; i < queue.MaxRetries-1; i++ {
		p.fail(context.Background(), job, errors.New("boom"))
	}
	assert.Empty(t, videos.failed)

	p.fail(context.Background(), job, errors.New("boom"))
	assert.Equal(t, []uuid.UUID{v.ID}, videos.failed)
	assert.Len(t, q.retried, queue.MaxRetries)
}

package sessionlog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/internal/models"
)

func init() { gin.SetMode(gin.TestMode) }

type memLog struct {
	rows   []AttendeeRow
	closed []uuid.UUID
}

func (m *memLog) LogJoin(_ context.Context, _, userID uuid.UUID, at time.Time) error {
	m.rows = append(m.rows, AttendeeRow{UserID: userID, JoinedAt: at})
	return nil
}

func (m *memLog) LogLeave(_ context.Context, _, userID uuid.UUID, at time.Time) error {
	for i := len(m.rows) - 1; i >= 0; i-- {
		r := &m.rows[i]
		if r.UserID == userID && r.LeftAt == nil {
			left := at
			r.LeftAt = &left
			r.WatchSeconds = int64(at.Sub(r.JoinedAt).Seconds())
			return nil
		}
	}
	return nil
}

func (m *memLog) CloseSession(_ context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	m.closed = append(m.closed, sessionID)
	var n int64
	for i := range m.rows {
		if m.rows[i].LeftAt == nil {
			left := at
			m.rows[i].LeftAt = &left
			n++
		}
	}
	return n, nil
}

func (m *memLog) ListBySession(context.Context, uuid.UUID) ([]AttendeeRow, error) {
	return m.rows, nil
}

func (m *memLog) GetWatchTimeAggregates(context.Context, uuid.UUID) (*WatchTimeAggregates, error) {
	agg := &WatchTimeAggregates{}
	seen := map[uuid.UUID]bool{}
	for _, r := range m.rows {
		if r.LeftAt == nil {
			continue
		}
		agg.TotalWatchSeconds += r.WatchSeconds
		if !seen[r.UserID] {
			seen[r.UserID] = true
			agg.DistinctUsers++
		}
	}
	return agg, nil
}

func TestListenerRecordsSignedInViewers(t *testing.T) {
	store := &memLog{}
	l := NewListener(store, zap.NewNop())
	s := &models.LiveSession{ID: uuid.New(), Status: models.SessionLive}
	user := uuid.New()
	t0 := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, l.Handle(ctx, livestream.Event{Type: livestream.EventViewerJoined, Session: s, UserID: user, At: t0}))
	require.NoError(t, l.Handle(ctx, livestream.Event{Type: livestream.EventViewerJoined, Session: s, At: t0}))
	require.NoError(t, l.Handle(ctx, livestream.Event{Type: livestream.EventViewerLeft, Session: s, UserID: user, At: t0.Add(90 * time.Second)}))

	require.Len(t, store.rows, 1)
	assert.Equal(t, user, store.rows[0].UserID)
	assert.Equal(t, int64(90), store.rows[0].WatchSeconds)
}

func TestListenerClosesRowsOnEnd(t *testing.T) {
	store := &memLog{}
	l := NewListener(store, nil)
	s := &models.LiveSession{ID: uuid.New()}
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, l.Handle(ctx, livestream.Event{Type: livestream.EventViewerJoined, Session: s, UserID: uuid.New(), At: now}))
	require.NoError(t, l.Handle(ctx, livestream.Event{Type: livestream.EventSessionEnded, Session: s, Reason: "owner", At: now.Add(time.Minute)}))

	assert.Equal(t, []uuid.UUID{s.ID}, store.closed)
	require.NotNil(t, store.rows[0].LeftAt)
	assert.NoError(t, l.Handle(ctx, livestream.Event{Type: livestream.EventChatPosted, Session: s}))
	assert.NoError(t, l.Handle(ctx, livestream.Event{Type: livestream.EventViewerJoined}))
}

type memSessions map[uuid.UUID]*models.LiveSession

func (m memSessions) GetByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s, ok := m[id]
	if !ok {
		return nil, livestream.ErrSessionNotFound
	}
	return s, nil
}

type brokenSessions struct{}

func (brokenSessions) GetByID(context.Context, uuid.UUID) (*models.LiveSession, error) {
	return nil, errors.New("db down")
}

func TestGetAttendees(t *testing.T) {
	owner := uuid.New()
	s := &models.LiveSession{ID: uuid.New(), OwnerID: owner}
	viewer := uuid.New()
	joined := time.Now().UTC().Add(-time.Hour)
	left := joined.Add(30 * time.Minute)
	store := &memLog{rows: []AttendeeRow{{UserID: viewer, JoinedAt: joined, LeftAt: &left, WatchSeconds: 1800}}}

	tests := []struct {
		name     string
		sessions SessionLookup
		user     uuid.UUID
		id       string
		status   int
	}{
		{"owner", memSessions{s.ID: s}, owner, s.ID.String(), http.StatusOK},
		{"not owner", memSessions{s.ID: s}, viewer, s.ID.String(), http.StatusForbidden},
		{"unknown session", memSessions{}, owner, uuid.NewString(), http.StatusNotFound},
		{"bad id", memSessions{}, owner, "x", http.StatusBadRequest},
		{"store failure", brokenSessions{}, owner, s.ID.String(), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(store, tt.sessions, nil)
			r := gin.New()
			r.GET("/live/:id/attendees", func(c *gin.Context) { c.Set(middleware.ContextUserID, tt.user) }, h.GetAttendees)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live/"+tt.id+"/attendees", nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("body", func(t *testing.T) {
		h := NewHandler(store, memSessions{s.ID: s}, nil)
		r := gin.New()
		r.GET("/live/:id/attendees", func(c *gin.Context) { c.Set(middleware.ContextUserID, owner) }, h.GetAttendees)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live/"+s.ID.String()+"/attendees", nil))

		var body struct {
			Data struct {
				Attendees []AttendeeRow       `json:"attendees"`
				Summary   WatchTimeAggregates `json:"summary"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Data.Attendees, 1)
		assert.Equal(t, viewer, body.Data.Attendees[0].UserID)
		assert.Equal(t, int64(1800), body.Data.Summary.TotalWatchSeconds)
		assert.Equal(t, 1, body.Data.Summary.DistinctUsers)
	})
}

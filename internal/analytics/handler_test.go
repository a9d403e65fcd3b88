package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/internal/sessionlog"
)

func init() { gin.SetMode(gin.TestMode) }

type stubSessions map[uuid.UUID]*models.LiveSession

func (s stubSessions) GetByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	if v, ok := s[id]; ok {
		return v, nil
	}
	return nil, livestream.ErrSessionNotFound
}

type stubEngagement Engagement

func (s stubEngagement) Engagement(context.Context, uuid.UUID) (*Engagement, error) {
	e := Engagement(s)
	return &e, nil
}

type stubWatch sessionlog.WatchTimeAggregates

func (s stubWatch) GetWatchTimeAggregates(context.Context, uuid.UUID) (*sessionlog.WatchTimeAggregates, error) {
	a := sessionlog.WatchTimeAggregates(s)
	return &a, nil
}

func serve(h *Handler, user uuid.UUID, id string) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/live/:id/analytics", func(c *gin.Context) { c.Set(middleware.ContextUserID, user) }, h.GetBySession)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live/"+id+"/analytics", nil))
	return w
}

func TestGetBySession(t *testing.T) {
	owner := uuid.New()
	s := &models.LiveSession{ID: uuid.New(), OwnerID: owner, Status: models.SessionEnded, DurationSeconds: 3600, PeakViewers: 40, TotalViewers: 90}
	eng := stubEngagement{ChatMessages: 120, Likes: 30, Dislikes: 10, Donations: 2, DonationsCents: map[string]int64{"USD": 2500}, UniqueViewers: 60}
	h := NewHandler(stubSessions{s.ID: s}, eng, stubWatch{TotalWatchSeconds: 6000, DistinctUsers: 4}, nil)

	w := serve(h, owner, s.ID.String())
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data SummaryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1500), body.Data.AvgWatchSeconds)
	assert.Equal(t, 40, body.Data.PeakViewers)
	require.NotNil(t, body.Data.LikeRatio)
	assert.InDelta(t, 0.75, *body.Data.LikeRatio, 1e-9)
	assert.Equal(t, int64(2500), body.Data.Engagement.DonationsCents["USD"])
}

func TestGetBySessionAccess(t *testing.T) {
	owner := uuid.New()
	s := &models.LiveSession{ID: uuid.New(), OwnerID: owner}
	h := NewHandler(stubSessions{s.ID: s}, stubEngagement{}, stubWatch{}, nil)

	assert.Equal(t, http.StatusForbidden, serve(h, uuid.New(), s.ID.String()).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, owner, uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, owner, "nope").Code)

	w := serve(h, owner, s.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "like_ratio")
}

package streams

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/internal/models"
)

func init() { gin.SetMode(gin.TestMode) }

type MockLiveService struct {
	mock.Mock
}

func session(args mock.Arguments) (*models.LiveSession, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LiveSession), args.Error(1)
}

func (m *MockLiveService) Create(ctx context.Context, ownerID uuid.UUID, in livestream.CreateInput) (*models.LiveSession, string, error) {
	args := m.Called(ctx, ownerID, in)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*models.LiveSession), args.String(1), args.Error(2)
}

func (m *MockLiveService) Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return session(m.Called(ctx, id))
}

func (m *MockLiveService) ListLive(ctx context.Context, limit int) ([]models.LiveSession, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.LiveSession), args.Error(1)
}

func (m *MockLiveService) Cancel(ctx context.Context, id uuid.UUID, actor livestream.Actor) (*models.LiveSession, error) {
	return session(m.Called(ctx, id, actor))
}

func (m *MockLiveService) ForceEnd(ctx context.Context, id, adminID uuid.UUID) (*models.LiveSession, error) {
	return session(m.Called(ctx, id, adminID))
}

func (m *MockLiveService) SetChatSettings(ctx context.Context, id uuid.UUID, actor livestream.Actor, in livestream.ChatSettings) (*models.LiveSession, error) {
	return session(m.Called(ctx, id, actor, in))
}

func (m *MockLiveService) AddModerator(ctx context.Context, id uuid.UUID, actor livestream.Actor, userID uuid.UUID) (*models.LiveSession, error) {
	return session(m.Called(ctx, id, actor, userID))
}

func (m *MockLiveService) RemoveModerator(ctx context.Context, id uuid.UUID, actor livestream.Actor, userID uuid.UUID) (*models.LiveSession, error) {
	return session(m.Called(ctx, id, actor, userID))
}

func (m *MockLiveService) ChatHistory(ctx context.Context, id uuid.UUID, limit int) ([]models.ChatEntry, error) {
	args := m.Called(ctx, id, limit)
	return args.Get(0).([]models.ChatEntry), args.Error(1)
}

type fakeQueries struct {
	unique int
}

func (f fakeQueries) ListByOwner(context.Context, uuid.UUID, int) ([]models.LiveSession, error) {
	return []models.LiveSession{}, nil
}

func (f fakeQueries) CountUniqueViewers(context.Context, uuid.UUID) (int, error) {
	return f.unique, nil
}

type fakePins struct {
	entry *models.ChatEntry
}

func (f fakePins) Pinned(context.Context, uuid.UUID) (*models.ChatEntry, error) { return f.entry, nil }

type memSubs struct {
	subs map[uuid.UUID]map[uuid.UUID]bool
}

func (m *memSubs) Subscribe(_ context.Context, channel, user uuid.UUID) error {
	if m.subs[channel] == nil {
		m.subs[channel] = map[uuid.UUID]bool{}
	}
	m.subs[channel][user] = true
	return nil
}

func (m *memSubs) Unsubscribe(_ context.Context, channel, user uuid.UUID) error {
	delete(m.subs[channel], user)
	return nil
}

func (m *memSubs) SubscriberCount(_ context.Context, channel uuid.UUID) (int, error) {
	return len(m.subs[channel]), nil
}

func routes(h *Handler, user uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if user != uuid.Nil {
			c.Set(middleware.ContextUserID, user)
		}
	})
	r.POST("/live", h.Create)
	r.GET("/live", h.ListLive)
	r.GET("/live/:id", h.Get)
	r.POST("/live/:id/cancel", h.Cancel)
	r.PATCH("/live/:id/chat", h.UpdateChatSettings)
	r.POST("/live/:id/moderators", h.AddModerator)
	r.DELETE("/live/:id/moderators/:userId", h.RemoveModerator)
	r.GET("/live/:id/chat", h.ChatHistory)
	r.GET("/live/:id/viewers", h.Viewers)
	r.POST("/admin/live/:id/end", h.ForceEnd)
	r.POST("/channels/:id/subscribe", h.Subscribe)
	r.DELETE("/channels/:id/subscribe", h.Unsubscribe)
	return r
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateReturnsIngestKeyOnce(t *testing.T) {
	owner := uuid.New()
	s := &models.LiveSession{ID: uuid.New(), OwnerID: owner, Title: "Speedrun", Status: models.SessionScheduled, IngestKeyHash: "$2a$hash"}
	svc := new(MockLiveService)
	svc.On("Create", mock.Anything, owner, mock.MatchedBy(func(in livestream.CreateInput) bool { return in.Title == "Speedrun" })).Return(s, "clear-key", nil)
	r := routes(NewHandler(svc, fakeQueries{}, fakePins{}, nil, nil), owner)

	w := do(r, http.MethodPost, "/live", map[string]string{"title": "Speedrun"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"ingest_key":"clear-key"`)
	assert.NotContains(t, w.Body.String(), "$2a$hash")
	svc.AssertExpectations(t)
}

func TestCreateMapsControllerErrors(t *testing.T) {
	owner := uuid.New()
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"already streaming", livestream.ErrAlreadyStreaming, http.StatusConflict},
		{"bad title", livestream.ErrInvalidInput, http.StatusBadRequest},
		{"anonymous", livestream.ErrUnauthenticated, http.StatusUnauthorized},
		{"store down", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLiveService)
			svc.On("Create", mock.Anything, owner, mock.Anything).Return(nil, "", tt.err)
			r := routes(NewHandler(svc, fakeQueries{}, fakePins{}, nil, nil), owner)

			w := do(r, http.MethodPost, "/live", map[string]string{"title": "x"})
			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}

func TestPrivateSessionVisibility(t *testing.T) {
	owner, mod := uuid.New(), uuid.New()
	s := &models.LiveSession{ID: uuid.New(), OwnerID: owner, Visibility: models.VisibilityPrivate, Moderators: []uuid.UUID{mod}}
	svc := new(MockLiveService)
	svc.On("Get", mock.Anything, s.ID).Return(s, nil)
	h := NewHandler(svc, fakeQueries{}, fakePins{}, nil, nil)

	for _, tt := range []struct {
		name   string
		user   uuid.UUID
		status int
	}{
		{"owner", owner, http.StatusOK},
		{"moderator", mod, http.StatusOK},
		{"stranger", uuid.New(), http.StatusNotFound},
		{"anonymous", uuid.Nil, http.StatusNotFound},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := do(routes(h, tt.user), http.MethodGet, "/live/"+s.ID.String(), nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestChatHistoryIncludesPinned(t *testing.T) {
	s := &models.LiveSession{ID: uuid.New(), Visibility: models.VisibilityPublic}
	pinned := &models.ChatEntry{ID: uuid.New(), SessionID: s.ID, Body: "welcome", Pinned: true}
	svc := new(MockLiveService)
	svc.On("Get", mock.Anything, s.ID).Return(s, nil)
	svc.On("ChatHistory", mock.Anything, s.ID, 20).Return([]models.ChatEntry{*pinned}, nil)
	r := routes(NewHandler(svc, fakeQueries{}, fakePins{entry: pinned}, nil, nil), uuid.Nil)

	w := do(r, http.MethodGet, "/live/"+s.ID.String()+"/chat?limit=20", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Entries []models.ChatEntry `json:"entries"`
			Pinned  *models.ChatEntry  `json:"pinned"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Data.Pinned)
	assert.Equal(t, pinned.ID, body.Data.Pinned.ID)
	assert.Len(t, body.Data.Entries, 1)
	svc.AssertExpectations(t)
}

func TestViewers(t *testing.T) {
	s := &models.LiveSession{ID: uuid.New(), Visibility: models.VisibilityUnlisted, CurrentViewers: 3, PeakViewers: 7, TotalViewers: 12}
	svc := new(MockLiveService)
	svc.On("Get", mock.Anything, s.ID).Return(s, nil)
	r := routes(NewHandler(svc, fakeQueries{unique: 5}, fakePins{}, nil, nil), uuid.Nil)

	w := do(r, http.MethodGet, "/live/"+s.ID.String()+"/viewers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body.Data["current_viewers"])
	assert.EqualValues(t, 7, body.Data["peak_viewers"])
	assert.EqualValues(t, 5, body.Data["unique_viewers"])
}

func TestOwnerCommands(t *testing.T) {
	owner, target := uuid.New(), uuid.New()
	id := uuid.New()
	actor := livestream.Actor{UserID: owner}
	s := &models.LiveSession{ID: id, OwnerID: owner}
	enabled := false

	svc := new(MockLiveService)
	svc.On("Cancel", mock.Anything, id, actor).Return(s, nil)
	svc.On("SetChatSettings", mock.Anything, id, actor, mock.MatchedBy(func(in livestream.ChatSettings) bool {
		return in.Enabled != nil && !*in.Enabled && in.SubscriberOnly == nil
	})).Return(s, nil)
	svc.On("AddModerator", mock.Anything, id, actor, target).Return(s, nil)
	svc.On("RemoveModerator", mock.Anything, id, actor, target).Return(nil, livestream.ErrNotOwner)
	r := routes(NewHandler(svc, fakeQueries{}, fakePins{}, nil, nil), owner)
	base := "/live/" + id.String()

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, base+"/cancel", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPatch, base+"/chat", livestream.ChatSettings{Enabled: &enabled}).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPatch, base+"/chat", map[string]string{}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, base+"/moderators", ModeratorRequest{UserID: target.String()}).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, base+"/moderators", ModeratorRequest{UserID: "nope"}).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodDelete, base+"/moderators/"+target.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/live/not-a-uuid/cancel", nil).Code)
	svc.AssertExpectations(t)
}

func TestForceEnd(t *testing.T) {
	admin := uuid.New()
	id := uuid.New()
	svc := new(MockLiveService)
	svc.On("ForceEnd", mock.Anything, id, admin).Return(&models.LiveSession{ID: id, Status: models.SessionEnded}, nil)
	r := routes(NewHandler(svc, fakeQueries{}, fakePins{}, nil, nil), admin)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/admin/live/"+id.String()+"/end", nil).Code)
	svc.AssertExpectations(t)
}

func TestSubscriptions(t *testing.T) {
	user, channel := uuid.New(), uuid.New()
	subs := &memSubs{subs: map[uuid.UUID]map[uuid.UUID]bool{}}
	r := routes(NewHandler(new(MockLiveService), fakeQueries{}, fakePins{}, subs, nil), user)

	w := do(r, http.MethodPost, "/channels/"+channel.String()+"/subscribe", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subscribers":1`)

	w = do(r, http.MethodDelete, "/channels/"+channel.String()+"/subscribe", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subscribers":0`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/channels/"+user.String()+"/subscribe", nil).Code)
}

func TestListLiveClampsLimit(t *testing.T) {
	svc := new(MockLiveService)
	svc.On("ListLive", mock.Anything, maxListLimit).Return([]models.LiveSession{}, nil)
	svc.On("ListLive", mock.Anything, defaultListLimit).Return([]models.LiveSession{}, nil)
	r := routes(NewHandler(svc, fakeQueries{}, fakePins{}, nil, nil), uuid.Nil)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/live?limit=5000", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/live?limit=-1", nil).Code)
	svc.AssertExpectations(t)
}

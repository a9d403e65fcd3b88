package streams

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/pkg/response"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// LiveService is the part of the live controller the REST endpoints drive.
type LiveService interface {
	Create(ctx context.Context, ownerID uuid.UUID, in livestream.CreateInput) (*models.LiveSession, string, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error)
	ListLive(ctx context.Context, limit int) ([]models.LiveSession, error)
	Cancel(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor) (*models.LiveSession, error)
	ForceEnd(ctx context.Context, sessionID, adminID uuid.UUID) (*models.LiveSession, error)
	SetChatSettings(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor, in livestream.ChatSettings) (*models.LiveSession, error)
	AddModerator(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor, userID uuid.UUID) (*models.LiveSession, error)
	RemoveModerator(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor, userID uuid.UUID) (*models.LiveSession, error)
	ChatHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEntry, error)
}

// SessionQueries are read-only lookups served straight from the repository.
type SessionQueries interface {
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.LiveSession, error)
	CountUniqueViewers(ctx context.Context, id uuid.UUID) (int, error)
}

// PinnedReader returns a session's pinned chat entry, or nil.
type PinnedReader interface {
	Pinned(ctx context.Context, sessionID uuid.UUID) (*models.ChatEntry, error)
}

// ChannelSubscriptions manages who follows a channel.
type ChannelSubscriptions interface {
	Subscribe(ctx context.Context, channelOwnerID, userID uuid.UUID) error
	Unsubscribe(ctx context.Context, channelOwnerID, userID uuid.UUID) error
	SubscriberCount(ctx context.Context, channelOwnerID uuid.UUID) (int, error)
}

// CreateResponse carries the clear ingest key. It is shown exactly once.
type CreateResponse struct {
	Session   *models.LiveSession `json:"session"`
	IngestKey string              `json:"ingest_key"`
}

// ModeratorRequest is the body of POST /live/:id/moderators.
type ModeratorRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Handler serves the live session REST endpoints.
type Handler struct {
	svc     LiveService
	queries SessionQueries
	pins    PinnedReader
	subs    ChannelSubscriptions
	logger  *zap.Logger
}

// NewHandler creates a live session handler.
func NewHandler(svc LiveService, queries SessionQueries, pins PinnedReader, subs ChannelSubscriptions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, queries: queries, pins: pins, subs: subs, logger: logger}
}

// Create handles POST /live.
func (h *Handler) Create(c *gin.Context) {
	var in livestream.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, key, err := h.svc.Create(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		h.fail(c, "create live session failed", uuid.Nil, err)
		return
	}
	response.Created(c, CreateResponse{Session: s, IngestKey: key})
}

// ListLive handles GET /live: the public directory of sessions on air.
func (h *Handler) ListLive(c *gin.Context) {
	list, err := h.svc.ListLive(c.Request.Context(), limitParam(c))
	if err != nil {
		h.fail(c, "list live sessions failed", uuid.Nil, err)
		return
	}
	response.OK(c, list)
}

// ListMine handles GET /me/live.
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.queries.ListByOwner(c.Request.Context(), middleware.UserID(c), limitParam(c))
	if err != nil {
		h.fail(c, "list own sessions failed", uuid.Nil, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /live/:id.
func (h *Handler) Get(c *gin.Context) {
	s, ok := h.visible(c)
	if !ok {
		return
	}
	response.OK(c, s)
}

// Cancel handles POST /live/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	s, err := h.svc.Cancel(c.Request.Context(), id, actorOf(c))
	if err != nil {
		h.fail(c, "cancel live session failed", id, err)
		return
	}
	response.OK(c, s)
}

// ForceEnd handles POST /admin/live/:id/end.
func (h *Handler) ForceEnd(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	s, err := h.svc.ForceEnd(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		h.fail(c, "force end failed", id, err)
		return
	}
	h.logger.Info("live session force-ended", zap.String("session_id", id.String()), zap.String("admin_id", middleware.UserID(c).String()))
	response.OK(c, s)
}

// UpdateChatSettings handles PATCH /live/:id/chat.
func (h *Handler) UpdateChatSettings(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	var in livestream.ChatSettings
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if in.Enabled == nil && in.SubscriberOnly == nil {
		response.BadRequest(c, "nothing to update")
		return
	}
	s, err := h.svc.SetChatSettings(c.Request.Context(), id, actorOf(c), in)
	if err != nil {
		h.fail(c, "update chat settings failed", id, err)
		return
	}
	response.OK(c, s)
}

// AddModerator handles POST /live/:id/moderators.
func (h *Handler) AddModerator(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	var body ModeratorRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}
	s, err := h.svc.AddModerator(c.Request.Context(), id, actorOf(c), userID)
	if err != nil {
		h.fail(c, "add moderator failed", id, err)
		return
	}
	response.OK(c, s)
}

// RemoveModerator handles DELETE /live/:id/moderators/:userId.
func (h *Handler) RemoveModerator(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	s, err := h.svc.RemoveModerator(c.Request.Context(), id, actorOf(c), userID)
	if err != nil {
		h.fail(c, "remove moderator failed", id, err)
		return
	}
	response.OK(c, s)
}

// ChatHistory handles GET /live/:id/chat: recent entries oldest first plus
// the pinned entry, if any.
func (h *Handler) ChatHistory(c *gin.Context) {
	s, ok := h.visible(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	entries, err := h.svc.ChatHistory(ctx, s.ID, limitParam(c))
	if err != nil {
		h.fail(c, "load chat history failed", s.ID, err)
		return
	}
	pinned, err := h.pins.Pinned(ctx, s.ID)
	if err != nil {
		h.fail(c, "load pinned entry failed", s.ID, err)
		return
	}
	response.OK(c, gin.H{"entries": entries, "pinned": pinned})
}

// Viewers handles GET /live/:id/viewers.
func (h *Handler) Viewers(c *gin.Context) {
	s, ok := h.visible(c)
	if !ok {
		return
	}
	unique, err := h.queries.CountUniqueViewers(c.Request.Context(), s.ID)
	if err != nil {
		h.fail(c, "count unique viewers failed", s.ID, err)
		return
	}
	response.OK(c, gin.H{
		"session_id":      s.ID,
		"current_viewers": s.CurrentViewers,
		"peak_viewers":    s.PeakViewers,
		"total_viewers":   s.TotalViewers,
		"unique_viewers":  unique,
	})
}

// Subscribe handles POST /channels/:id/subscribe.
func (h *Handler) Subscribe(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	if channelID == userID {
		response.BadRequest(c, "cannot subscribe to your own channel")
		return
	}
	if err := h.subs.Subscribe(c.Request.Context(), channelID, userID); err != nil {
		h.fail(c, "subscribe failed", uuid.Nil, err)
		return
	}
	h.subscriberCount(c, channelID)
}

// Unsubscribe handles DELETE /channels/:id/subscribe.
func (h *Handler) Unsubscribe(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	if err := h.subs.Unsubscribe(c.Request.Context(), channelID, middleware.UserID(c)); err != nil {
		h.fail(c, "unsubscribe failed", uuid.Nil, err)
		return
	}
	h.subscriberCount(c, channelID)
}

func (h *Handler) subscriberCount(c *gin.Context, channelID uuid.UUID) {
	n, err := h.subs.SubscriberCount(c.Request.Context(), channelID)
	if err != nil {
		h.fail(c, "count subscribers failed", uuid.Nil, err)
		return
	}
	response.OK(c, gin.H{"channel_id": channelID, "subscribers": n})
}

// visible loads the session named by :id. Private sessions are reported as
// missing to everyone but the owner and moderators.
func (h *Handler) visible(c *gin.Context) (*models.LiveSession, bool) {
	id, ok := sessionParam(c)
	if !ok {
		return nil, false
	}
	s, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "load live session failed", id, err)
		return nil, false
	}
	if s.Visibility == models.VisibilityPrivate {
		user := middleware.UserID(c)
		if user == uuid.Nil || (user != s.OwnerID && !s.IsModerator(user)) {
			h.fail(c, "private session hidden", id, livestream.ErrSessionNotFound)
			return nil, false
		}
	}
	return s, true
}

func (h *Handler) fail(c *gin.Context, msg string, sessionID uuid.UUID, err error) {
	status := livestream.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.Fail(c, status, livestream.Code(err), err.Error())
}

func actorOf(c *gin.Context) livestream.Actor {
	return livestream.Actor{UserID: middleware.UserID(c)}
}

func sessionParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func channelParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid channel id")
		return uuid.Nil, false
	}
	return id, true
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

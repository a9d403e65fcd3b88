package sessionlog

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/pkg/response"
)

// Reader is the read side of the viewer log.
type Reader interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]AttendeeRow, error)
	GetWatchTimeAggregates(ctx context.Context, sessionID uuid.UUID) (*WatchTimeAggregates, error)
}

// SessionLookup loads the session to check ownership.
type SessionLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Handler handles GET /live/:id/attendees.
type Handler struct {
	repo     Reader
	sessions SessionLookup
	logger   *zap.Logger
}

// NewHandler creates a viewer log handler.
func NewHandler(repo Reader, sessions SessionLookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, sessions: sessions, logger: logger}
}

// GetAttendees lists viewers with join time and watch duration. Owner only.
func (h *Handler) GetAttendees(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ctx := c.Request.Context()
	s, err := h.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, livestream.ErrSessionNotFound) {
			response.NotFound(c, "stream not found")
			return
		}
		h.logger.Error("load session failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load stream")
		return
	}
	if s.OwnerID != c.MustGet(middleware.ContextUserID).(uuid.UUID) {
		response.Forbidden(c, "only the stream owner can view attendees")
		return
	}
	list, err := h.repo.ListBySession(ctx, sessionID)
	if err != nil {
		h.logger.Error("list attendees failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to list attendees")
		return
	}
	agg, err := h.repo.GetWatchTimeAggregates(ctx, sessionID)
	if err != nil {
		h.logger.Error("watch time aggregates failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to list attendees")
		return
	}
	response.OK(c, gin.H{"attendees": list, "summary": agg})
}

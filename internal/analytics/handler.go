package analytics

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/internal/sessionlog"
	"github.com/tubecast/backend/pkg/response"
)

// EngagementReader loads per-session engagement counts.
type EngagementReader interface {
	Engagement(ctx context.Context, sessionID uuid.UUID) (*Engagement, error)
}

// WatchTime loads viewer log aggregates.
type WatchTime interface {
	GetWatchTimeAggregates(ctx context.Context, sessionID uuid.UUID) (*sessionlog.WatchTimeAggregates, error)
}

// SessionLookup loads the session to check ownership.
type SessionLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Handler handles GET /live/:id/analytics.
type Handler struct {
	sessions   SessionLookup
	engagement EngagementReader
	watch      WatchTime
	logger     *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(sessions SessionLookup, engagement EngagementReader, watch WatchTime, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, engagement: engagement, watch: watch, logger: logger}
}

// SummaryResponse is the analytics summary of one broadcast.
type SummaryResponse struct {
	SessionID       uuid.UUID            `json:"session_id"`
	Status          models.SessionStatus `json:"status"`
	DurationSeconds int64                `json:"duration_seconds"`
	PeakViewers     int                  `json:"peak_viewers"`
	TotalViewers    int                  `json:"total_viewers"`
	AvgWatchSeconds int64                `json:"avg_watch_seconds"`
	Engagement      *Engagement          `json:"engagement"`
	LikeRatio       *float64             `json:"like_ratio,omitempty"`
}

// GetBySession handles GET /live/:id/analytics. Owner only.
func (h *Handler) GetBySession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ctx := c.Request.Context()

	s, err := h.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, livestream.ErrSessionNotFound) {
			response.NotFound(c, "stream not found")
			return
		}
		h.logger.Error("load session failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to load stream")
		return
	}
	if s.OwnerID != middleware.UserID(c) {
		response.Forbidden(c, "only the stream owner can view analytics")
		return
	}

	eng, err := h.engagement.Engagement(ctx, id)
	if err != nil {
		h.logger.Error("load engagement failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to load engagement")
		return
	}
	agg, err := h.watch.GetWatchTimeAggregates(ctx, id)
	if err != nil {
		h.logger.Error("load watch time failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to load watch time")
		return
	}

	out := SummaryResponse{
		SessionID:       s.ID,
		Status:          s.Status,
		DurationSeconds: s.DurationSeconds,
		PeakViewers:     s.PeakViewers,
		TotalViewers:    s.TotalViewers,
		Engagement:      eng,
	}
	if agg.DistinctUsers > 0 {
		out.AvgWatchSeconds = agg.TotalWatchSeconds / int64(agg.DistinctUsers)
	}
	if votes := eng.Likes + eng.Dislikes; votes > 0 {
		ratio := float64(eng.Likes) / float64(votes)
		out.LikeRatio = &ratio
	}
	response.OK(c, out)
}

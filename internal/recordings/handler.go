package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/pkg/response"
)

// VideoReader is the read side of the videos repository.
type VideoReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Video, error)
}

// Presigner issues time-limited download links for archived objects.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
	VideosBucket() string
}

// Handler serves archived broadcasts to their owners.
type Handler struct {
	repo   VideoReader
	s3     Presigner
	logger *zap.Logger
}

// NewHandler creates a videos handler. s3 may be nil when storage is not
// configured; download links then answer 503.
func NewHandler(repo VideoReader, s3 Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// ListMine handles GET /videos.
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list videos failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to list videos")
		return
	}
	response.OK(c, list)
}

// Get handles GET /videos/:id. Only the owner sees a video.
func (h *Handler) Get(c *gin.Context) {
	v, ok := h.ownedVideo(c)
	if !ok {
		return
	}
	response.OK(c, v)
}

// GenerateDownloadURL handles GET /videos/:id/download-url.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	v, ok := h.ownedVideo(c)
	if !ok {
		return
	}
	if v.Status != models.VideoStatusCompleted || v.S3Key == "" {
		response.Conflict(c, "video not ready for download")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "storage not configured")
		return
	}
	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.VideosBucket(), v.S3Key, expire)
	if err != nil {
		h.logger.Error("presign video download failed", zap.Error(err), zap.String("video_id", v.ID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}

func (h *Handler) ownedVideo(c *gin.Context) (*models.Video, bool) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	v, err := h.repo.GetByID(c.Request.Context(), videoID)
	if err != nil {
		if errors.Is(err, ErrVideoNotFound) {
			response.NotFound(c, "video not found")
			return nil, false
		}
		h.logger.Error("get video failed", zap.Error(err), zap.String("video_id", videoID.String()))
		response.Internal(c, "failed to load video")
		return nil, false
	}
	if v.OwnerID != userID {
		response.NotFound(c, "video not found")
		return nil, false
	}
	return v, true
}

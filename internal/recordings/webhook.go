package recordings

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/pkg/response"
)

// IngestKeyHeader carries the session's ingest key on ingest callbacks.
const IngestKeyHeader = "X-Ingest-Key"

// RecordingReadyPayload is the body the ingest server posts when a
// broadcast's recording file is available.
type RecordingReadyPayload struct {
	SessionID string `json:"session_id" binding:"required"`
	FileURL   string `json:"file_url" binding:"required"`
}

// IngestVerifyPayload is the body of POST /ingest/verify.
type IngestVerifyPayload struct {
	SessionID string `json:"session_id" binding:"required"`
	Key       string `json:"key" binding:"required"`
}

// IngestService is the part of the live controller the ingest callbacks use.
type IngestService interface {
	VerifyIngestKey(ctx context.Context, sessionID uuid.UUID, key string) (*models.LiveSession, error)
	AttachRecording(ctx context.Context, sessionID uuid.UUID, sourceURL string) (*models.LiveSession, error)
}

// WebhookHandler serves the endpoints called by the media ingest server.
type WebhookHandler struct {
	svc    IngestService
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(svc IngestService, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{svc: svc, logger: logger}
}

// VerifyIngest handles POST /ingest/verify: the ingest server checks a
// stream key before accepting a push.
func (h *WebhookHandler) VerifyIngest(c *gin.Context) {
	var body IngestVerifyPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session_id")
		return
	}
	s, err := h.svc.VerifyIngestKey(c.Request.Context(), sessionID, body.Key)
	if err != nil {
		h.fail(c, "ingest key rejected", sessionID, err)
		return
	}
	response.OK(c, gin.H{"session_id": s.ID, "owner_id": s.OwnerID, "status": s.Status})
}

// RecordingReady handles POST /webhooks/recording-ready. The caller proves it
// owns the stream with the ingest key; archival runs once the session ends.
func (h *WebhookHandler) RecordingReady(c *gin.Context) {
	var body RecordingReadyPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session_id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.svc.VerifyIngestKey(ctx, sessionID, c.GetHeader(IngestKeyHeader)); err != nil && !isEndedState(err) {
		h.fail(c, "recording webhook rejected", sessionID, err)
		return
	}
	s, err := h.svc.AttachRecording(ctx, sessionID, body.FileURL)
	if err != nil {
		h.fail(c, "attach recording failed", sessionID, err)
		return
	}

	h.logger.Info("recording_ready webhook processed", zap.String("session_id", sessionID.String()), zap.String("status", string(s.Status)))
	response.Accepted(c, gin.H{"session_id": s.ID, "status": s.Status})
}

// isEndedState lets the recording callback through for sessions that have
// already ended; VerifyIngestKey refuses terminal sessions for pushes only.
func isEndedState(err error) bool {
	return livestream.Code(err) == "INVALID_STATE"
}

func (h *WebhookHandler) fail(c *gin.Context, msg string, sessionID uuid.UUID, err error) {
	status := livestream.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	h.logger.Warn(msg, zap.String("session_id", sessionID.String()), zap.Error(err))
	response.Fail(c, status, livestream.Code(err), err.Error())
}

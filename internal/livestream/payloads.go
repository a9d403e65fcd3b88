package livestream

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/tubecast/backend/internal/models"
)

// Outbound event bodies. Every body carries session_id so a client watching
// several streams on one socket can route it.

type StreamStartedPayload struct {
	SessionID uuid.UUID           `json:"session_id"`
	Session   *models.LiveSession `json:"session"`
}

type StreamJoinedPayload struct {
	SessionID   uuid.UUID           `json:"session_id"`
	Session     *models.LiveSession `json:"session"`
	Broadcaster ConnID              `json:"broadcaster"`
	You         ConnID              `json:"you"`
	ICEServers  []webrtc.ICEServer  `json:"ice_servers"`
}

type ViewerJoinedPayload struct {
	SessionID uuid.UUID  `json:"session_id"`
	Viewer    ConnID     `json:"viewer"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
}

type ViewerCountPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Current   int       `json:"current"`
	Peak      int       `json:"peak"`
	Total     int       `json:"total"`
}

type ChatHistoryPayload struct {
	SessionID uuid.UUID          `json:"session_id"`
	Entries   []models.ChatEntry `json:"entries"`
}

type ChatEntryPayload struct {
	SessionID uuid.UUID         `json:"session_id"`
	Entry     *models.ChatEntry `json:"entry"`
}

type ChatDeletedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	EntryID   uuid.UUID `json:"entry_id"`
	DeletedBy uuid.UUID `json:"deleted_by"`
	Body      string    `json:"body"`
}

type LikesPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Likes     int       `json:"likes"`
	Dislikes  int       `json:"dislikes"`
}

// DonationPayload carries the running total for the donation's currency.
type DonationPayload struct {
	SessionID  uuid.UUID         `json:"session_id"`
	Donation   *models.Donation  `json:"donation"`
	Entry      *models.ChatEntry `json:"entry,omitempty"`
	Currency   string            `json:"currency"`
	TotalCents int64             `json:"total_cents"`
}

type StreamEndedPayload struct {
	SessionID       uuid.UUID `json:"session_id"`
	Reason          string    `json:"reason"`
	DurationSeconds int64     `json:"duration_seconds"`
	PeakViewers     int       `json:"peak_viewers"`
	TotalViewers    int       `json:"total_viewers"`
}

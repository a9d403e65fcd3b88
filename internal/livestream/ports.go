package livestream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tubecast/backend/internal/models"
)

// ConnID identifies one open client connection.
type ConnID string

// Actor is who issued a command: the authenticated user (uuid.Nil when
// anonymous) and the connection it came from (empty for HTTP callers).
type Actor struct {
	UserID uuid.UUID
	Conn   ConnID
}

// Authenticated reports whether the actor carries a user identity.
func (a Actor) Authenticated() bool { return a.UserID != uuid.Nil }

// SessionStore persists live sessions. Implementations give no atomicity
// across calls.
type SessionStore interface {
	// Create inserts s and fills ID and timestamps. Returns ErrAlreadyStreaming
	// when the owner already has a scheduled or live session.
	Create(ctx context.Context, s *models.LiveSession) error
	// GetByID returns ErrSessionNotFound when no row exists.
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	// FindActiveByOwner returns nil, nil when the owner has no scheduled/live session.
	FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) (*models.LiveSession, error)
	// Save writes status, timestamps, duration, counters and chat settings.
	Save(ctx context.Context, s *models.LiveSession) error
	UpdateViewerCounts(ctx context.Context, id uuid.UUID, current, peak, total int) error
	AddUniqueViewer(ctx context.Context, id, userID uuid.UUID) error
	AddModerator(ctx context.Context, id, userID uuid.UUID) error
	RemoveModerator(ctx context.Context, id, userID uuid.UUID) error
	// SetReaction replaces the user's reaction; ReactionNone removes it.
	SetReaction(ctx context.Context, id, userID uuid.UUID, r models.Reaction) (models.ReactionCounts, error)
	// AddDonation appends to the ledger and returns the ledger sum in cents
	// for the donation's currency.
	AddDonation(ctx context.Context, d *models.Donation) (int64, error)
	SetRecordingSource(ctx context.Context, id uuid.UUID, url string) error
	LinkRecording(ctx context.Context, id, videoID uuid.UUID) error
	// ListLive returns live sessions, most watched first. limit <= 0 means no limit.
	ListLive(ctx context.Context, limit int, publicOnly bool) ([]models.LiveSession, error)
}

// ChatStore persists the chat/event log.
type ChatStore interface {
	// Insert assigns ID, Seq and CreatedAt.
	Insert(ctx context.Context, e *models.ChatEntry) error
	// GetByID returns ErrEntryNotFound when no row exists.
	GetByID(ctx context.Context, id uuid.UUID) (*models.ChatEntry, error)
	// Recent returns up to limit non-deleted entries, newest first.
	Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEntry, error)
	// SoftDelete reports false when the entry was already deleted.
	SoftDelete(ctx context.Context, id, deleterID uuid.UUID, at time.Time) (bool, error)
	// Pin clears any pin on the session and pins entryID, atomically.
	Pin(ctx context.Context, sessionID, entryID uuid.UUID) error
}

// SubscriptionChecker answers whether userID subscribes to channelOwnerID.
type SubscriptionChecker interface {
	IsSubscribed(ctx context.Context, channelOwnerID, userID uuid.UUID) (bool, error)
}

// Fanout delivers events to connections. Sends to connections that are gone
// are dropped silently.
type Fanout interface {
	JoinRoom(sessionID uuid.UUID, conn ConnID)
	LeaveRoom(sessionID uuid.UUID, conn ConnID)
	Broadcast(sessionID uuid.UUID, event string, payload interface{})
	BroadcastExcept(sessionID uuid.UUID, except ConnID, event string, payload interface{})
	Send(conn ConnID, event string, payload interface{}) bool
	CloseRoom(sessionID uuid.UUID)
}

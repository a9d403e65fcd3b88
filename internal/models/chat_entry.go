package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatKind classifies a chat/event log entry.
type ChatKind string

const (
	ChatMessage      ChatKind = "message"
	ChatDonation     ChatKind = "donation"
	ChatSubscription ChatKind = "subscription"
	ChatModerator    ChatKind = "moderator"
	ChatSystem       ChatKind = "system"
)

// SystemAuthorID authors entries the server writes on its own behalf.
var SystemAuthorID = uuid.Nil

// DeletedPlaceholder replaces the body of a soft-deleted entry.
const DeletedPlaceholder = "[message deleted]"

// ChatEntry is one row of a live session's chat/event log.
type ChatEntry struct {
	ID          uuid.UUID  `json:"id"`
	Seq         int64      `json:"seq"`
	SessionID   uuid.UUID  `json:"session_id"`
	AuthorID    uuid.UUID  `json:"author_id"`
	Body        string     `json:"body"`
	Kind        ChatKind   `json:"kind"`
	ReplyToID   *uuid.UUID `json:"reply_to_id,omitempty"`
	Pinned      bool       `json:"pinned"`
	Highlighted bool       `json:"highlighted"`
	Deleted     bool       `json:"deleted"`
	DeletedBy   *uuid.UUID `json:"deleted_by,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

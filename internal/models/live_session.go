package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no transition leaves this status.
func (s SessionStatus) Terminal() bool {
	return s == SessionEnded || s == SessionCancelled
}

// Visibility controls who can discover a live session.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
		return true
	}
	return false
}

// Reaction is a viewer's like/dislike on a live session.
type Reaction string

const (
	ReactionNone    Reaction = ""
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

// LiveSession is one scheduled or live broadcast owned by a single user.
type LiveSession struct {
	ID                 uuid.UUID     `json:"id"`
	OwnerID            uuid.UUID     `json:"owner_id"`
	IngestKeyHash      string        `json:"-"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Category           string        `json:"category"`
	Visibility         Visibility    `json:"visibility"`
	Status             SessionStatus `json:"status"`
	ScheduledStart     *time.Time    `json:"scheduled_start,omitempty"`
	ActualStart        *time.Time    `json:"actual_start,omitempty"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds    int64         `json:"duration_seconds"`
	CurrentViewers     int           `json:"current_viewers"`
	PeakViewers        int           `json:"peak_viewers"`
	TotalViewers       int           `json:"total_viewers"`
	ChatEnabled        bool          `json:"chat_enabled"`
	SubscriberOnlyChat bool          `json:"subscriber_only_chat"`
	Moderators         []uuid.UUID   `json:"moderators"`
	ArchiveOnEnd       bool          `json:"archive_on_end"`
	RecordingSourceURL string        `json:"-"`
	RecordingID        *uuid.UUID    `json:"recording_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// IsModerator reports whether userID moderates this session's chat.
func (s *LiveSession) IsModerator(userID uuid.UUID) bool {
	for _, m := range s.Moderators {
		if m == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand across goroutines.
func (s *LiveSession) Clone() *LiveSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Moderators = append([]uuid.UUID(nil), s.Moderators...)
	c.ScheduledStart = cloneTime(s.ScheduledStart)
	c.ActualStart = cloneTime(s.ActualStart)
	c.EndedAt = cloneTime(s.EndedAt)
	if s.RecordingID != nil {
		id := *s.RecordingID
		c.RecordingID = &id
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Donation is one append-only ledger row.
type Donation struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	UserID      uuid.UUID `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReactionCounts is the like/dislike tally for a session.
type ReactionCounts struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

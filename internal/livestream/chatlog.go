package livestream

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tubecast/backend/internal/models"
)

const (
	// MaxChatBodyLength is counted in characters, not bytes.
	MaxChatBodyLength   = 500
	DefaultHistoryLimit = 50
)

// ChatLog validates and persists chat/event entries for live sessions.
type ChatLog struct {
	store ChatStore
	subs  SubscriptionChecker
	now   func() time.Time
}

// NewChatLog builds a ChatLog. subs may be nil, in which case subscriber-only
// chat admits only the owner and moderators.
func NewChatLog(store ChatStore, subs SubscriptionChecker) *ChatLog {
	return &ChatLog{store: store, subs: subs, now: time.Now}
}

// Append validates e against session and stores it. ID, Seq and CreatedAt are
// assigned by the store.
func (l *ChatLog) Append(ctx context.Context, session *models.LiveSession, e *models.ChatEntry) (*models.ChatEntry, error) {
	if session.Status != models.SessionLive {
		return nil, fmt.Errorf("%w: stream is %s", ErrInvalidState, session.Status)
	}
	if e.Kind == "" {
		e.Kind = models.ChatMessage
	}
	e.SessionID = session.ID
	e.Body = strings.TrimSpace(e.Body)

	if e.Kind == models.ChatMessage {
		if e.AuthorID == uuid.Nil {
			return nil, ErrUnauthenticated
		}
		if !session.ChatEnabled {
			return nil, ErrChatDisabled
		}
		if session.SubscriberOnlyChat {
			if err := l.checkSubscriber(ctx, session, e.AuthorID); err != nil {
				return nil, err
			}
		}
		if e.Body == "" {
			return nil, fmt.Errorf("%w: message is empty", ErrInvalidInput)
		}
	}
	if utf8.RuneCountInString(e.Body) > MaxChatBodyLength {
		return nil, ErrMessageTooLong
	}
	if e.ReplyToID != nil {
		parent, err := l.store.GetByID(ctx, *e.ReplyToID)
		if err != nil {
			return nil, err
		}
		if parent.SessionID != session.ID {
			return nil, fmt.Errorf("%w: reply target belongs to another stream", ErrInvalidInput)
		}
	}

	if err := l.store.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("insert chat entry: %w", err)
	}
	return e, nil
}

func (l *ChatLog) checkSubscriber(ctx context.Context, session *models.LiveSession, userID uuid.UUID) error {
	if userID == session.OwnerID || session.IsModerator(userID) {
		return nil
	}
	if l.subs == nil {
		return ErrSubscribersOnly
	}
	ok, err := l.subs.IsSubscribed(ctx, session.OwnerID, userID)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if !ok {
		return ErrSubscribersOnly
	}
	return nil
}

// Recent returns up to limit non-deleted entries, oldest first.
func (l *ChatLog) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries, err := l.store.Recent(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chat: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SoftDelete blanks an entry. The author, the session owner and moderators may
// delete; a repeat delete returns the entry with changed == false.
func (l *ChatLog) SoftDelete(ctx context.Context, session *models.LiveSession, entryID, deleterID uuid.UUID) (entry *models.ChatEntry, changed bool, err error) {
	if deleterID == uuid.Nil {
		return nil, false, ErrUnauthenticated
	}
	entry, err = l.entryOf(ctx, session, entryID)
	if err != nil {
		return nil, false, err
	}
	if deleterID != entry.AuthorID && deleterID != session.OwnerID && !session.IsModerator(deleterID) {
		return nil, false, ErrNotAuthorOrModerator
	}
	if entry.Deleted {
		return entry, false, nil
	}

	at := l.now().UTC()
	changed, err = l.store.SoftDelete(ctx, entryID, deleterID, at)
	if err != nil {
		return nil, false, fmt.Errorf("soft delete chat entry: %w", err)
	}
	entry.Deleted = true
	entry.Body = models.DeletedPlaceholder
	if changed {
		entry.DeletedBy = &deleterID
		entry.DeletedAt = &at
	}
	return entry, changed, nil
}

// Pin makes entryID the session's only pinned entry. Owner only.
func (l *ChatLog) Pin(ctx context.Context, session *models.LiveSession, entryID, requesterID uuid.UUID) (*models.ChatEntry, error) {
	if requesterID == uuid.Nil || requesterID != session.OwnerID {
		return nil, ErrNotOwner
	}
	entry, err := l.entryOf(ctx, session, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Deleted {
		return nil, fmt.Errorf("%w: deleted messages cannot be pinned", ErrInvalidInput)
	}
	if err := l.store.Pin(ctx, session.ID, entryID); err != nil {
		return nil, fmt.Errorf("pin chat entry: %w", err)
	}
	entry.Pinned = true
	return entry, nil
}

func (l *ChatLog) entryOf(ctx context.Context, session *models.LiveSession, entryID uuid.UUID) (*models.ChatEntry, error) {
	entry, err := l.store.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.SessionID != session.ID {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

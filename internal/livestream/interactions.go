package livestream

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/models"
)

const (
	// MaxDonationCents caps a single donation at 10,000.00 in any currency.
	MaxDonationCents      = 1_000_000
	MaxDonationMessageLen = 200
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// React sets the actor's reaction on a live session and broadcasts the tally.
func (c *Controller) React(ctx context.Context, sessionID uuid.UUID, actor Actor, r models.Reaction) (models.ReactionCounts, error) {
	if !actor.Authenticated() {
		return models.ReactionCounts{}, ErrUnauthenticated
	}
	if r != models.ReactionLike && r != models.ReactionDislike && r != models.ReactionNone {
		return models.ReactionCounts{}, fmt.Errorf("%w: unknown reaction %q", ErrInvalidInput, r)
	}
	unlock := c.locks.lock(sessionID)
	defer unlock()

	if _, ok := c.registry.Lookup(sessionID); !ok {
		return models.ReactionCounts{}, ErrSessionNotFound
	}
	counts, err := c.sessions.SetReaction(ctx, sessionID, actor.UserID, r)
	if err != nil {
		return models.ReactionCounts{}, fmt.Errorf("set reaction: %w", err)
	}
	c.room.Broadcast(sessionID, OutLikesUpdate, LikesPayload{SessionID: sessionID, Likes: counts.Likes, Dislikes: counts.Dislikes})
	return counts, nil
}

// DonationInput is a donation as sent by a client. Amount is in major units.
type DonationInput struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Message  string  `json:"message"`
}

// Cents validates the input and returns the amount in minor units.
func (in DonationInput) Cents() (int64, error) {
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidDonation)
	}
	scaled := in.Amount * 100
	cents := math.Round(scaled)
	if math.Abs(scaled-cents) > 1e-6 {
		return 0, fmt.Errorf("%w: amount has more than two decimals", ErrInvalidDonation)
	}
	if cents > MaxDonationCents {
		return 0, fmt.Errorf("%w: amount exceeds 10000.00", ErrInvalidDonation)
	}
	if !currencyPattern.MatchString(in.Currency) {
		return 0, fmt.Errorf("%w: currency must be a three-letter code", ErrInvalidDonation)
	}
	if utf8.RuneCountInString(in.Message) > MaxDonationMessageLen {
		return 0, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidDonation, MaxDonationMessageLen)
	}
	return int64(cents), nil
}

// Donate records a donation, posts a highlighted chat entry for it and
// broadcasts the ledger total in the donation's currency.
func (c *Controller) Donate(ctx context.Context, sessionID uuid.UUID, actor Actor, in DonationInput) (*DonationPayload, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthenticated
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Message = strings.TrimSpace(in.Message)
	cents, err := in.Cents()
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(sessionID)
	defer unlock()

	entry, ok := c.registry.Lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	d := &models.Donation{
		SessionID:   sessionID,
		UserID:      actor.UserID,
		AmountCents: cents,
		Currency:    in.Currency,
		Message:     in.Message,
	}
	total, err := c.sessions.AddDonation(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("add donation: %w", err)
	}

	payload := &DonationPayload{SessionID: sessionID, Donation: d, Currency: d.Currency, TotalCents: total}
	chatEntry, err := c.chat.Append(ctx, entry.Snapshot, &models.ChatEntry{
		AuthorID:    actor.UserID,
		Kind:        models.ChatDonation,
		Body:        donationBody(d),
		Highlighted: true,
	})
	if err != nil {
		// The ledger row is committed; the receipt entry is best-effort.
		c.logger.Warn("donation chat entry failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	} else {
		payload.Entry = chatEntry
	}

	c.room.Broadcast(sessionID, OutNewDonation, payload)
	c.hooks.Emit(Event{Type: EventDonationReceived, Session: entry.Snapshot, UserID: actor.UserID, Donation: d})
	if chatEntry != nil {
		c.hooks.Emit(Event{Type: EventChatPosted, Session: entry.Snapshot, UserID: actor.UserID, Entry: chatEntry})
	}
	return payload, nil
}

func donationBody(d *models.Donation) string {
	body := fmt.Sprintf("donated %d.%02d %s", d.AmountCents/100, d.AmountCents%100, d.Currency)
	if d.Message != "" {
		body += ": " + d.Message
	}
	return body
}

// SendChat appends a chat message from actor and broadcasts it to the room.
func (c *Controller) SendChat(ctx context.Context, sessionID uuid.UUID, actor Actor, body string, replyTo *uuid.UUID) (*models.ChatEntry, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	entry, ok := c.registry.Lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e, err := c.chat.Append(ctx, entry.Snapshot, &models.ChatEntry{
		AuthorID:  actor.UserID,
		Kind:      models.ChatMessage,
		Body:      body,
		ReplyToID: replyTo,
	})
	if err != nil {
		return nil, err
	}
	c.room.Broadcast(sessionID, OutNewChatMessage, ChatEntryPayload{SessionID: sessionID, Entry: e})
	c.hooks.Emit(Event{Type: EventChatPosted, Session: entry.Snapshot, UserID: actor.UserID, Entry: e})
	return e, nil
}

// DeleteChat soft-deletes an entry. Deleting twice is a silent no-op.
func (c *Controller) DeleteChat(ctx context.Context, sessionID uuid.UUID, actor Actor, entryID uuid.UUID) (*models.ChatEntry, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	s, err := c.current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e, changed, err := c.chat.SoftDelete(ctx, s, entryID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if changed {
		c.room.Broadcast(sessionID, OutChatDeleted, ChatDeletedPayload{
			SessionID: sessionID,
			EntryID:   e.ID,
			DeletedBy: actor.UserID,
			Body:      e.Body,
		})
	}
	return e, nil
}

// PinChat pins an entry, unpinning whatever was pinned before. Owner only.
func (c *Controller) PinChat(ctx context.Context, sessionID uuid.UUID, actor Actor, entryID uuid.UUID) (*models.ChatEntry, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	s, err := c.current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e, err := c.chat.Pin(ctx, s, entryID, actor.UserID)
	if err != nil {
		return nil, err
	}
	c.room.Broadcast(sessionID, OutChatPinned, ChatEntryPayload{SessionID: sessionID, Entry: e})
	return e, nil
}

// ChatSettings is a partial update; nil fields are left alone.
type ChatSettings struct {
	Enabled        *bool `json:"chat_enabled"`
	SubscriberOnly *bool `json:"subscriber_only_chat"`
}

// SetChatSettings updates chat configuration and, while live, tells the room
// through a system entry.
func (c *Controller) SetChatSettings(ctx context.Context, sessionID uuid.UUID, actor Actor, in ChatSettings) (*models.LiveSession, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	s, err := c.owned(ctx, sessionID, actor)
	if err != nil {
		return nil, err
	}
	if in.Enabled != nil {
		s.ChatEnabled = *in.Enabled
	}
	if in.SubscriberOnly != nil {
		s.SubscriberOnlyChat = *in.SubscriberOnly
	}
	if err := c.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save chat settings: %w", err)
	}
	c.registry.UpdateSnapshot(sessionID, func(snap *models.LiveSession) {
		snap.ChatEnabled = s.ChatEnabled
		snap.SubscriberOnlyChat = s.SubscriberOnlyChat
	})

	switch {
	case in.Enabled != nil && !*in.Enabled:
		c.announce(ctx, s, models.ChatSystem, "chat was turned off")
	case in.Enabled != nil && *in.Enabled:
		c.announce(ctx, s, models.ChatSystem, "chat was turned on")
	case in.SubscriberOnly != nil && *in.SubscriberOnly:
		c.announce(ctx, s, models.ChatSystem, "chat is now subscribers only")
	}
	return s, nil
}

// AddModerator grants chat moderation on a session. Adding an existing
// moderator is a no-op.
func (c *Controller) AddModerator(ctx context.Context, sessionID uuid.UUID, actor Actor, userID uuid.UUID) (*models.LiveSession, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: moderator id required", ErrInvalidInput)
	}
	unlock := c.locks.lock(sessionID)
	defer unlock()

	s, err := c.owned(ctx, sessionID, actor)
	if err != nil {
		return nil, err
	}
	if userID == s.OwnerID || s.IsModerator(userID) {
		return s, nil
	}
	if err := c.sessions.AddModerator(ctx, sessionID, userID); err != nil {
		return nil, fmt.Errorf("add moderator: %w", err)
	}
	s.Moderators = append(s.Moderators, userID)
	c.registry.UpdateSnapshot(sessionID, func(snap *models.LiveSession) {
		snap.Moderators = append(snap.Moderators, userID)
	})
	c.announce(ctx, s, models.ChatModerator, "a new moderator joined the chat")
	return s, nil
}

func (c *Controller) RemoveModerator(ctx context.Context, sessionID uuid.UUID, actor Actor, userID uuid.UUID) (*models.LiveSession, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	s, err := c.owned(ctx, sessionID, actor)
	if err != nil {
		return nil, err
	}
	if !s.IsModerator(userID) {
		return s, nil
	}
	if err := c.sessions.RemoveModerator(ctx, sessionID, userID); err != nil {
		return nil, fmt.Errorf("remove moderator: %w", err)
	}
	s.Moderators = withoutID(s.Moderators, userID)
	c.registry.UpdateSnapshot(sessionID, func(snap *models.LiveSession) {
		snap.Moderators = withoutID(snap.Moderators, userID)
	})
	return s, nil
}

// AttachRecording stores the artifact URL reported by the ingest pipeline.
// Archival happens in a listener once the session has ended.
func (c *Controller) AttachRecording(ctx context.Context, sessionID uuid.UUID, sourceURL string) (*models.LiveSession, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "s3") || u.Host == "" {
		return nil, fmt.Errorf("%w: recording url must be an absolute http(s) or s3 url", ErrInvalidInput)
	}
	unlock := c.locks.lock(sessionID)
	defer unlock()

	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == models.SessionCancelled || s.Status == models.SessionScheduled {
		return nil, fmt.Errorf("%w: stream is %s", ErrInvalidState, s.Status)
	}
	if err := c.sessions.SetRecordingSource(ctx, sessionID, u.String()); err != nil {
		return nil, fmt.Errorf("set recording source: %w", err)
	}
	s.RecordingSourceURL = u.String()
	c.registry.UpdateSnapshot(sessionID, func(snap *models.LiveSession) {
		snap.RecordingSourceURL = s.RecordingSourceURL
	})
	c.hooks.Emit(Event{Type: EventRecordingAttached, Session: s.Clone()})
	return s, nil
}

// current prefers the registry copy and falls back to the store, so chat can
// still be moderated after a stream ends.
func (c *Controller) current(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error) {
	if entry, ok := c.registry.Lookup(sessionID); ok {
		return entry.Snapshot, nil
	}
	return c.sessions.GetByID(ctx, sessionID)
}

func (c *Controller) owned(ctx context.Context, sessionID uuid.UUID, actor Actor) (*models.LiveSession, error) {
	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.UserID == uuid.Nil || actor.UserID != s.OwnerID {
		return nil, ErrNotOwner
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("%w: stream is %s", ErrInvalidState, s.Status)
	}
	return s, nil
}

// announce posts a system-authored entry while the session is live. Failures
// are logged; the setting change has already been saved.
func (c *Controller) announce(ctx context.Context, s *models.LiveSession, kind models.ChatKind, body string) {
	if s.Status != models.SessionLive {
		return
	}
	e, err := c.chat.Append(ctx, s, &models.ChatEntry{AuthorID: models.SystemAuthorID, Kind: kind, Body: body})
	if err != nil {
		c.logger.Warn("system chat entry failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		return
	}
	c.room.Broadcast(s.ID, OutNewChatMessage, ChatEntryPayload{SessionID: s.ID, Entry: e})
}

func withoutID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

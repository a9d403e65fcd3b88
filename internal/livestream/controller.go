package livestream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/pkg/utils"
)

const (
	MaxTitleLength = 200

	EndReasonOwner      = "owner"
	EndReasonDisconnect = "disconnect"
	EndReasonRestart    = "restart"
	EndReasonAdmin      = "admin"

	// DisconnectEndAttempts bounds how often an end after a broadcaster
	// disconnect is retried before the session is left to the sweep.
	DisconnectEndAttempts  = 3
	DefaultEndRetryBackoff = 250 * time.Millisecond
)

// Options tunes a Controller.
type Options struct {
	HistoryLimit     int
	ICEServers       []webrtc.ICEServer
	ArchiveByDefault bool
	// EndRetryBackoff is multiplied by the attempt number between retries.
	EndRetryBackoff time.Duration
}

// Controller owns the live session state machine. Every operation on one
// session runs under that session's lock, persistence included, so handlers
// for the same session never interleave.
type Controller struct {
	sessions SessionStore
	chat     *ChatLog
	registry Registry
	relay    *Relay
	room     Fanout
	hooks    *Hooks
	locks    *sessionLocks
	logger   *zap.Logger
	now      func() time.Time
	opts     Options

	// stranded holds sessions whose broadcaster is gone but whose end could
	// not be persisted, mapped to the owner.
	strandMu sync.Mutex
	stranded map[uuid.UUID]uuid.UUID
}

func NewController(sessions SessionStore, chat *ChatLog, registry Registry, room Fanout, hooks *Hooks, logger *zap.Logger, opts Options) *Controller {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.EndRetryBackoff <= 0 {
		opts.EndRetryBackoff = DefaultEndRetryBackoff
	}
	if hooks == nil {
		hooks = NewHooks(logger, false)
	}
	return &Controller{
		sessions: sessions,
		chat:     chat,
		registry: registry,
		relay:    NewRelay(registry, room),
		room:     room,
		hooks:    hooks,
		locks:    newSessionLocks(),
		logger:   logger,
		now:      time.Now,
		opts:     opts,
		stranded: make(map[uuid.UUID]uuid.UUID),
	}
}

// RelayOffer, RelayAnswer and RelayICECandidate forward signaling without
// taking the session lock; the relay only reads the registry.
func (c *Controller) RelayOffer(sessionID uuid.UUID, from ConnID, offer webrtc.SessionDescription, target ConnID) error {
	return c.relay.RelayOffer(sessionID, from, offer, target)
}

func (c *Controller) RelayAnswer(sessionID uuid.UUID, from ConnID, answer webrtc.SessionDescription) error {
	return c.relay.RelayAnswer(sessionID, from, answer)
}

func (c *Controller) RelayICECandidate(sessionID uuid.UUID, from ConnID, candidate webrtc.ICECandidateInit, target ConnID) error {
	return c.relay.RelayICECandidate(sessionID, from, candidate, target)
}

// CreateInput is what an owner supplies for a new session. Nil pointers take
// the configured defaults.
type CreateInput struct {
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Category           string            `json:"category"`
	Visibility         models.Visibility `json:"visibility"`
	ScheduledStart     *time.Time        `json:"scheduled_start"`
	ArchiveOnEnd       *bool             `json:"archive_on_end"`
	ChatEnabled        *bool             `json:"chat_enabled"`
	SubscriberOnlyChat bool              `json:"subscriber_only_chat"`
}

// Create stores a scheduled session and returns it with the clear ingest key.
// The key is not recoverable afterwards.
func (c *Controller) Create(ctx context.Context, ownerID uuid.UUID, in CreateInput) (*models.LiveSession, string, error) {
	if ownerID == uuid.Nil {
		return nil, "", ErrUnauthenticated
	}
	title := strings.TrimSpace(in.Title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, "", fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, MaxTitleLength)
	}
	if in.Visibility == "" {
		in.Visibility = models.VisibilityPublic
	}
	if !in.Visibility.Valid() {
		return nil, "", fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, in.Visibility)
	}

	unlock := c.locks.lock(ownerID)
	defer unlock()

	active, err := c.sessions.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, "", fmt.Errorf("find active session: %w", err)
	}
	if active != nil {
		return nil, "", ErrAlreadyStreaming
	}

	key, err := utils.GenerateIngestKey()
	if err != nil {
		return nil, "", err
	}
	hash, err := utils.HashIngestKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("hash ingest key: %w", err)
	}

	s := &models.LiveSession{
		OwnerID:            ownerID,
		IngestKeyHash:      hash,
		Title:              title,
		Description:        strings.TrimSpace(in.Description),
		Category:           strings.TrimSpace(in.Category),
		Visibility:         in.Visibility,
		Status:             models.SessionScheduled,
		ScheduledStart:     in.ScheduledStart,
		ChatEnabled:        boolOr(in.ChatEnabled, true),
		SubscriberOnlyChat: in.SubscriberOnlyChat,
		ArchiveOnEnd:       boolOr(in.ArchiveOnEnd, c.opts.ArchiveByDefault),
	}
	if err := c.sessions.Create(ctx, s); err != nil {
		if errors.Is(err, ErrAlreadyStreaming) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	c.logger.Info("live session created", zap.String("session_id", s.ID.String()), zap.String("owner_id", ownerID.String()))
	c.hooks.Emit(Event{Type: EventSessionCreated, Session: s.Clone(), UserID: ownerID})
	return s, key, nil
}

// Start moves a scheduled session to live and makes actor.Conn its broadcaster.
func (c *Controller) Start(ctx context.Context, sessionID uuid.UUID, actor Actor) (*models.LiveSession, error) {
	if actor.Conn == "" {
		return nil, fmt.Errorf("%w: start requires a live connection", ErrInvalidInput)
	}
	unlock := c.locks.lock(sessionID)
	defer unlock()

	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != s.OwnerID {
		return nil, ErrNotOwner
	}
	to, err := nextStatus(s.Status, TransitionStart)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	s.Status = to
	s.ActualStart = &now
	s.CurrentViewers = 0
	if err := c.registry.Register(s.ID, actor.Conn, s); err != nil {
		return nil, err
	}
	if err := c.sessions.Save(ctx, s); err != nil {
		c.registry.Unregister(s.ID)
		return nil, fmt.Errorf("save started session: %w", err)
	}

	c.room.JoinRoom(s.ID, actor.Conn)
	c.room.Send(actor.Conn, OutStreamStarted, StreamStartedPayload{SessionID: s.ID, Session: s.Clone()})
	c.logger.Info("live session started", zap.String("session_id", s.ID.String()), zap.String("conn", string(actor.Conn)))
	c.hooks.Emit(Event{Type: EventSessionStarted, Session: s.Clone(), UserID: actor.UserID, Conn: actor.Conn})
	return s, nil
}

// Join admits a viewer connection to a live session.
func (c *Controller) Join(ctx context.Context, sessionID uuid.UUID, actor Actor) error {
	if actor.Conn == "" {
		return fmt.Errorf("%w: join requires a live connection", ErrInvalidInput)
	}
	unlock := c.locks.lock(sessionID)
	defer unlock()

	entry, ok := c.registry.Lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s := entry.Snapshot
	if s.Visibility == models.VisibilityPrivate && actor.UserID != s.OwnerID && !s.IsModerator(actor.UserID) {
		return ErrSessionNotFound
	}

	// The broadcaster and already-joined viewers get a fresh sync and nothing else.
	if actor.Conn == entry.Broadcaster || c.registry.HasViewer(sessionID, actor.Conn) {
		c.syncJoiner(ctx, entry, s, actor.Conn)
		return nil
	}

	s.CurrentViewers++
	s.TotalViewers++
	if s.CurrentViewers > s.PeakViewers {
		s.PeakViewers = s.CurrentViewers
	}
	if err := c.sessions.UpdateViewerCounts(ctx, sessionID, s.CurrentViewers, s.PeakViewers, s.TotalViewers); err != nil {
		return fmt.Errorf("update viewer counts: %w", err)
	}
	if actor.Authenticated() {
		if err := c.sessions.AddUniqueViewer(ctx, sessionID, actor.UserID); err != nil {
			c.logger.Warn("record unique viewer failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}

	c.registry.AddViewer(sessionID, actor.Conn)
	c.setCounts(sessionID, s)
	c.room.JoinRoom(sessionID, actor.Conn)
	c.syncJoiner(ctx, entry, s, actor.Conn)
	c.room.Broadcast(sessionID, OutViewerCount, countsOf(s))

	joined := ViewerJoinedPayload{SessionID: sessionID, Viewer: actor.Conn}
	if actor.Authenticated() {
		uid := actor.UserID
		joined.UserID = &uid
	}
	c.room.Send(entry.Broadcaster, OutViewerJoined, joined)
	c.hooks.Emit(Event{Type: EventViewerJoined, Session: s.Clone(), UserID: actor.UserID, Conn: actor.Conn})
	return nil
}

func (c *Controller) syncJoiner(ctx context.Context, entry Entry, s *models.LiveSession, conn ConnID) {
	history, err := c.chat.Recent(ctx, s.ID, c.opts.HistoryLimit)
	if err != nil {
		c.logger.Warn("load chat history failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		history = nil
	}
	if history == nil {
		history = []models.ChatEntry{}
	}
	c.room.Send(conn, OutStreamJoined, StreamJoinedPayload{
		SessionID:   s.ID,
		Session:     s.Clone(),
		Broadcaster: entry.Broadcaster,
		You:         conn,
		ICEServers:  c.opts.ICEServers,
	})
	c.room.Send(conn, OutChatHistory, ChatHistoryPayload{SessionID: s.ID, Entries: history})
}

// Leave removes a viewer connection. Unknown connections and sessions are a no-op.
func (c *Controller) Leave(ctx context.Context, sessionID uuid.UUID, actor Actor) error {
	unlock := c.locks.lock(sessionID)
	defer unlock()
	return c.leaveLocked(ctx, sessionID, actor, false)
}

// leaveLocked with force set drops the viewer even when the count write
// fails; used when the connection is already gone.
func (c *Controller) leaveLocked(ctx context.Context, sessionID uuid.UUID, actor Actor, force bool) error {
	entry, ok := c.registry.Lookup(sessionID)
	if !ok || !c.registry.HasViewer(sessionID, actor.Conn) {
		c.room.LeaveRoom(sessionID, actor.Conn)
		return nil
	}
	s := entry.Snapshot
	if s.CurrentViewers > 0 {
		s.CurrentViewers--
	}
	if err := c.sessions.UpdateViewerCounts(ctx, sessionID, s.CurrentViewers, s.PeakViewers, s.TotalViewers); err != nil {
		if !force {
			return fmt.Errorf("update viewer counts: %w", err)
		}
		c.logger.Warn("update viewer counts on disconnect failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	c.registry.RemoveViewer(sessionID, actor.Conn)
	c.setCounts(sessionID, s)
	c.room.LeaveRoom(sessionID, actor.Conn)
	c.room.Broadcast(sessionID, OutViewerCount, countsOf(s))
	c.hooks.Emit(Event{Type: EventViewerLeft, Session: s.Clone(), UserID: actor.UserID, Conn: actor.Conn})
	return nil
}

// End finishes a live session on the owner's request.
func (c *Controller) End(ctx context.Context, sessionID uuid.UUID, actor Actor) (*models.LiveSession, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()
	return c.endLocked(ctx, sessionID, actor.UserID, EndReasonOwner)
}

// ForceEnd ends a session regardless of owner. Used by moderation tooling.
func (c *Controller) ForceEnd(ctx context.Context, sessionID, adminID uuid.UUID) (*models.LiveSession, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()
	return c.endLocked(ctx, sessionID, adminID, EndReasonAdmin)
}

// endLocked checks ownership only for owner-initiated ends.
func (c *Controller) endLocked(ctx context.Context, sessionID, userID uuid.UUID, reason string) (*models.LiveSession, error) {
	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if reason == EndReasonOwner && userID != s.OwnerID {
		return nil, ErrNotOwner
	}
	to, err := nextStatus(s.Status, TransitionEnd)
	if err != nil {
		return nil, err
	}

	released := 0
	if entry, ok := c.registry.Lookup(sessionID); ok {
		released = entry.ViewerCount
		// Counters in the registry are at least as fresh as the row.
		s.PeakViewers = max(s.PeakViewers, entry.Snapshot.PeakViewers)
		s.TotalViewers = max(s.TotalViewers, entry.Snapshot.TotalViewers)
	}
	now := c.now().UTC()
	s.Status = to
	s.EndedAt = &now
	if s.ActualStart != nil {
		s.DurationSeconds = int64(now.Sub(*s.ActualStart).Seconds())
	}
	s.CurrentViewers = 0
	if err := c.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save ended session: %w", err)
	}

	c.registry.Unregister(sessionID)
	c.room.Broadcast(sessionID, OutStreamEnded, StreamEndedPayload{
		SessionID:       sessionID,
		Reason:          reason,
		DurationSeconds: s.DurationSeconds,
		PeakViewers:     s.PeakViewers,
		TotalViewers:    s.TotalViewers,
	})
	c.room.CloseRoom(sessionID)
	c.logger.Info("live session ended",
		zap.String("session_id", sessionID.String()),
		zap.String("reason", reason),
		zap.Int64("duration_seconds", s.DurationSeconds))
	c.hooks.Emit(Event{Type: EventSessionEnded, Session: s.Clone(), UserID: userID, Reason: reason, Released: released})
	return s, nil
}

// Cancel abandons a session that never went live.
func (c *Controller) Cancel(ctx context.Context, sessionID uuid.UUID, actor Actor) (*models.LiveSession, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != s.OwnerID {
		return nil, ErrNotOwner
	}
	to, err := nextStatus(s.Status, TransitionCancel)
	if err != nil {
		return nil, err
	}
	s.Status = to
	if err := c.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save cancelled session: %w", err)
	}
	c.hooks.Emit(Event{Type: EventSessionCancelled, Session: s.Clone(), UserID: actor.UserID})
	return s, nil
}

// Disconnect cleans up after a closed connection: a broadcaster's session is
// ended as if the owner had ended it, and viewer memberships are released.
func (c *Controller) Disconnect(ctx context.Context, actor Actor) {
	if sessionID, ok := c.registry.FindSessionByBroadcasterConnection(actor.Conn); ok {
		c.endAfterDisconnect(ctx, sessionID, actor.UserID)
	}
	for _, sessionID := range c.registry.SessionsForViewer(actor.Conn) {
		unlock := c.locks.lock(sessionID)
		_ = c.leaveLocked(ctx, sessionID, actor, true)
		unlock()
	}
}

// endAfterDisconnect retries the end a few times. If the store keeps failing
// the session is taken off the air anyway and queued for SweepStranded.
func (c *Controller) endAfterDisconnect(ctx context.Context, sessionID, userID uuid.UUID) {
	for attempt := 1; attempt <= DisconnectEndAttempts; attempt++ {
		unlock := c.locks.lock(sessionID)
		_, err := c.endLocked(ctx, sessionID, userID, EndReasonDisconnect)
		unlock()
		if err == nil || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrSessionNotFound) {
			return
		}
		c.logger.Warn("end after disconnect failed",
			zap.String("session_id", sessionID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < DisconnectEndAttempts && !sleepCtx(ctx, c.opts.EndRetryBackoff*time.Duration(attempt)) {
			break
		}
	}

	unlock := c.locks.lock(sessionID)
	c.registry.Unregister(sessionID)
	c.room.Broadcast(sessionID, OutStreamEnded, StreamEndedPayload{SessionID: sessionID, Reason: EndReasonDisconnect})
	c.room.CloseRoom(sessionID)
	unlock()

	c.strandMu.Lock()
	c.stranded[sessionID] = userID
	c.strandMu.Unlock()
	c.logger.Error("session stranded after broadcaster disconnect", zap.String("session_id", sessionID.String()))
}

// SweepStranded persists the end of sessions stranded by endAfterDisconnect
// and returns how many were ended. Failures stay queued for the next sweep.
func (c *Controller) SweepStranded(ctx context.Context) int {
	c.strandMu.Lock()
	pending := make(map[uuid.UUID]uuid.UUID, len(c.stranded))
	for id, owner := range c.stranded {
		pending[id] = owner
	}
	c.strandMu.Unlock()

	n := 0
	for id, owner := range pending {
		unlock := c.locks.lock(id)
		_, err := c.endLocked(ctx, id, owner, EndReasonDisconnect)
		unlock()
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrSessionNotFound):
		default:
			c.logger.Warn("sweep stranded session failed", zap.String("session_id", id.String()), zap.Error(err))
			continue
		}
		c.strandMu.Lock()
		delete(c.stranded, id)
		c.strandMu.Unlock()
	}
	return n
}

// RunStrandedSweep calls SweepStranded every interval until ctx is done.
func (c *Controller) RunStrandedSweep(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.SweepStranded(ctx); n > 0 {
				c.logger.Info("ended stranded sessions", zap.Int("count", n))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// EndOrphaned ends sessions persisted as live that this process does not
// host. Run once at startup: the registry is empty after a restart.
func (c *Controller) EndOrphaned(ctx context.Context) (int, error) {
	live, err := c.sessions.ListLive(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("list live sessions: %w", err)
	}
	n := 0
	for _, s := range live {
		if _, ok := c.registry.Lookup(s.ID); ok {
			continue
		}
		unlock := c.locks.lock(s.ID)
		_, err := c.endLocked(ctx, s.ID, models.SystemAuthorID, EndReasonRestart)
		unlock()
		if err != nil {
			c.logger.Warn("end orphaned session failed", zap.String("session_id", s.ID.String()), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Get returns the registry copy of a live session, else the stored row.
func (c *Controller) Get(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error) {
	if entry, ok := c.registry.Lookup(sessionID); ok {
		return entry.Snapshot, nil
	}
	return c.sessions.GetByID(ctx, sessionID)
}

// ListLive is the public directory of live sessions.
func (c *Controller) ListLive(ctx context.Context, limit int) ([]models.LiveSession, error) {
	return c.sessions.ListLive(ctx, limit, true)
}

// ChatHistory returns the latest entries of a session, oldest first.
func (c *Controller) ChatHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEntry, error) {
	if _, err := c.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.chat.Recent(ctx, sessionID, limit)
}

// VerifyIngestKey authenticates the ingest endpoint for a session.
func (c *Controller) VerifyIngestKey(ctx context.Context, sessionID uuid.UUID, key string) (*models.LiveSession, error) {
	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if key == "" || !utils.CheckIngestKey(key, s.IngestKeyHash) {
		return nil, ErrInvalidIngestKey
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("%w: stream is %s", ErrInvalidState, s.Status)
	}
	return s, nil
}

func (c *Controller) setCounts(sessionID uuid.UUID, s *models.LiveSession) {
	c.registry.UpdateSnapshot(sessionID, func(snap *models.LiveSession) {
		snap.CurrentViewers = s.CurrentViewers
		snap.PeakViewers = s.PeakViewers
		snap.TotalViewers = s.TotalViewers
	})
}

func countsOf(s *models.LiveSession) ViewerCountPayload {
	return ViewerCountPayload{SessionID: s.ID, Current: s.CurrentViewers, Peak: s.PeakViewers, Total: s.TotalViewers}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

package livestream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/models"
)

// EventType names something that already happened to a session.
type EventType string

const (
	EventSessionCreated    EventType = "session.created"
	EventSessionStarted    EventType = "session.started"
	EventSessionEnded      EventType = "session.ended"
	EventSessionCancelled  EventType = "session.cancelled"
	EventViewerJoined      EventType = "viewer.joined"
	EventViewerLeft        EventType = "viewer.left"
	EventChatPosted        EventType = "chat.posted"
	EventDonationReceived  EventType = "donation.received"
	EventRecordingAttached EventType = "recording.attached"
)

// Event is delivered to listeners after the change is persisted. Session is a
// private copy.
type Event struct {
	Type     EventType
	Session  *models.LiveSession
	UserID   uuid.UUID
	Conn     ConnID
	Entry    *models.ChatEntry
	Donation *models.Donation
	// Reason and Released are set on EventSessionEnded. Reason is "owner" or
	// "disconnect"; Released counts viewer connections dropped by the end.
	Reason   string
	Released int
	At       time.Time
}

// Listener reacts to session events. A returned error is logged only.
type Listener interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc struct {
	ID string
	Fn func(ctx context.Context, ev Event) error
}

func (l ListenerFunc) Name() string                               { return l.ID }
func (l ListenerFunc) Handle(ctx context.Context, ev Event) error { return l.Fn(ctx, ev) }

const (
	hookTimeout   = 30 * time.Second
	hookQueueSize = 1024
)

// Hooks fans events out to listeners. Listener failures and panics never
// reach the operation that emitted the event.
type Hooks struct {
	mu     sync.RWMutex
	subs   []*subscriber
	async  bool
	closed bool
	wg     sync.WaitGroup
	logger *zap.Logger
}

// subscriber owns the queue of one listener in async mode. A single worker
// drains it, so each listener sees events in emission order.
type subscriber struct {
	listener Listener
	queue    chan Event
}

// NewHooks returns a dispatcher. With async set every listener gets its own
// ordered queue and worker; Wait blocks until the queues are drained.
func NewHooks(logger *zap.Logger, async bool) *Hooks {
	return &Hooks{logger: logger, async: async}
}

func (h *Hooks) Subscribe(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &subscriber{listener: l}
	if h.async && !h.closed {
		s.queue = make(chan Event, hookQueueSize)
		go h.drain(s)
	}
	h.subs = append(h.subs, s)
}

// Emit hands ev to every listener. In async mode it blocks only while a
// listener's queue is full.
func (h *Hooks) Emit(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	var inline []Listener
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	for _, s := range h.subs {
		if s.queue == nil {
			inline = append(inline, s.listener)
			continue
		}
		h.wg.Add(1)
		s.queue <- ev
	}
	h.mu.RUnlock()

	for _, l := range inline {
		h.run(l, ev)
	}
}

func (h *Hooks) drain(s *subscriber) {
	for ev := range s.queue {
		h.run(s.listener, ev)
		h.wg.Done()
	}
}

func (h *Hooks) run(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("hook listener panicked",
				zap.String("listener", l.Name()),
				zap.String("event", string(ev.Type)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := l.Handle(ctx, ev); err != nil {
		fields := []zap.Field{
			zap.String("listener", l.Name()),
			zap.String("event", string(ev.Type)),
			zap.Error(err),
		}
		if ev.Session != nil {
			fields = append(fields, zap.String("session_id", ev.Session.ID.String()))
		}
		h.logger.Warn("hook listener failed", fields...)
	}
}

// Wait blocks until every queued event has been handled.
func (h *Hooks) Wait() {
	if h == nil {
		return
	}
	h.wg.Wait()
}

// Close drains pending events and stops the workers. Later events are
// dropped.
func (h *Hooks) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, s := range h.subs {
		if s.queue != nil {
			close(s.queue)
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}

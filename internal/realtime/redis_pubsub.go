package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/models"
)

const (
	// DefaultNotificationsChannel carries go-live notifications for the
	// subscriber notification service.
	DefaultNotificationsChannel = "live:notifications"
	publishTimeout              = 5 * time.Second
)

// Notification is the message published when a public session starts or ends.
type Notification struct {
	Type      string    `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Title     string    `json:"title"`
	Category  string    `json:"category,omitempty"`
	At        int64     `json:"at"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// LivePublisher is a hook listener that fans go-live notifications out over
// Redis pub/sub. Delivery is fire-and-forget.
type LivePublisher struct {
	client  redisPublisher
	channel string
	logger  *zap.Logger
}

func NewLivePublisher(client *redis.Client, channel string, logger *zap.Logger) *LivePublisher {
	return newLivePublisher(client, channel, logger)
}

func newLivePublisher(client redisPublisher, channel string, logger *zap.Logger) *LivePublisher {
	if channel == "" {
		channel = DefaultNotificationsChannel
	}
	return &LivePublisher{client: client, channel: channel, logger: logger}
}

func (p *LivePublisher) Name() string { return "live-publisher" }

// Handle publishes started/ended events for public sessions.
func (p *LivePublisher) Handle(ctx context.Context, ev livestream.Event) error {
	n, ok := notificationFor(ev)
	if !ok {
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", n.Type, err)
	}
	p.logger.Debug("live notification published", zap.String("type", n.Type), zap.String("session_id", n.SessionID.String()))
	return nil
}

func notificationFor(ev livestream.Event) (Notification, bool) {
	if ev.Session == nil || ev.Session.Visibility != models.VisibilityPublic {
		return Notification{}, false
	}
	var kind string
	switch ev.Type {
	case livestream.EventSessionStarted:
		kind = "live.started"
	case livestream.EventSessionEnded:
		kind = "live.ended"
	default:
		return Notification{}, false
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return Notification{
		Type:      kind,
		SessionID: ev.Session.ID,
		OwnerID:   ev.Session.OwnerID,
		Title:     ev.Session.Title,
		Category:  ev.Session.Category,
		At:        at.Unix(),
	}, true
}

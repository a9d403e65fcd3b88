package sessionlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
)

// Store is the write side of the viewer log.
type Store interface {
	LogJoin(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error
	LogLeave(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error
	CloseSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error)
}

// Listener records join/leave rows for signed-in viewers. Anonymous viewers
// are counted by the session but leave no log.
type Listener struct {
	store  Store
	logger *zap.Logger
}

// NewListener creates the viewer log hook listener.
func NewListener(store Store, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{store: store, logger: logger}
}

func (l *Listener) Name() string { return "viewerlog" }

func (l *Listener) Handle(ctx context.Context, ev livestream.Event) error {
	if ev.Session == nil {
		return nil
	}
	switch ev.Type {
	case livestream.EventViewerJoined:
		if ev.UserID == uuid.Nil {
			return nil
		}
		return l.store.LogJoin(ctx, ev.Session.ID, ev.UserID, ev.At)
	case livestream.EventViewerLeft:
		if ev.UserID == uuid.Nil {
			return nil
		}
		return l.store.LogLeave(ctx, ev.Session.ID, ev.UserID, ev.At)
	case livestream.EventSessionEnded:
		n, err := l.store.CloseSession(ctx, ev.Session.ID, ev.At)
		if err != nil {
			return err
		}
		if n > 0 {
			l.logger.Debug("closed open viewer logs", zap.String("session_id", ev.Session.ID.String()), zap.Int64("rows", n))
		}
	}
	return nil
}

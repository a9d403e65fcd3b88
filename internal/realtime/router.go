package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/models"
)

const commandTimeout = 10 * time.Second

// LiveService is the part of livestream.Controller the websocket layer drives.
type LiveService interface {
	Start(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor) (*models.LiveSession, error)
	End(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor) (*models.LiveSession, error)
	Join(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor) error
	Leave(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor) error
	Disconnect(ctx context.Context, actor livestream.Actor)

	RelayOffer(sessionID uuid.UUID, from livestream.ConnID, offer webrtc.SessionDescription, target livestream.ConnID) error
	RelayAnswer(sessionID uuid.UUID, from livestream.ConnID, answer webrtc.SessionDescription) error
	RelayICECandidate(sessionID uuid.UUID, from livestream.ConnID, candidate webrtc.ICECandidateInit, target livestream.ConnID) error

	SendChat(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor, body string, replyTo *uuid.UUID) (*models.ChatEntry, error)
	DeleteChat(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor, entryID uuid.UUID) (*models.ChatEntry, error)
	PinChat(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor, entryID uuid.UUID) (*models.ChatEntry, error)
	React(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor, r models.Reaction) (models.ReactionCounts, error)
	Donate(ctx context.Context, sessionID uuid.UUID, actor livestream.Actor, in livestream.DonationInput) (*livestream.DonationPayload, error)
}

// Sender delivers one event to one connection.
type Sender interface {
	Send(conn livestream.ConnID, event string, payload interface{}) bool
}

// inbound is the union of every inbound data body.
type inbound struct {
	SessionID string                     `json:"session_id"`
	Target    string                     `json:"target,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Message   string                     `json:"message,omitempty"`
	ReplyTo   *uuid.UUID                 `json:"reply_to,omitempty"`
	MessageID string                     `json:"message_id,omitempty"`
	Action    string                     `json:"action,omitempty"`
	Amount    float64                    `json:"amount,omitempty"`
	Currency  string                     `json:"currency,omitempty"`
}

// Router turns inbound websocket messages into controller calls. Failures go
// back to the originating connection only, as the error event matching the
// command family.
type Router struct {
	svc     LiveService
	out     Sender
	metrics *livestream.Metrics
	logger  *zap.Logger
}

func NewRouter(svc LiveService, out Sender, metrics *livestream.Metrics, logger *zap.Logger) *Router {
	return &Router{svc: svc, out: out, metrics: metrics, logger: logger}
}

// Dispatch handles one inbound message. Unknown event kinds are ignored.
func (r *Router) Dispatch(actor livestream.Actor, msg WSMessage) {
	if !knownEvent(msg.Event) {
		r.logger.Debug("ignoring ws event", zap.String("event", msg.Event), zap.String("client_id", string(actor.Conn)))
		return
	}

	var in inbound
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			r.fail(actor.Conn, msg.Event, "", livestream.ErrInvalidInput)
			return
		}
	}
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		r.fail(actor.Conn, msg.Event, in.SessionID, livestream.ErrInvalidInput)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := r.handle(ctx, actor, msg.Event, sessionID, in); err != nil {
		r.fail(actor.Conn, msg.Event, in.SessionID, err)
	}
}

func (r *Router) handle(ctx context.Context, actor livestream.Actor, event string, sessionID uuid.UUID, in inbound) error {
	target := livestream.ConnID(in.Target)

	switch event {
	case livestream.InStartStream:
		_, err := r.svc.Start(ctx, sessionID, actor)
		return err
	case livestream.InEndStream:
		_, err := r.svc.End(ctx, sessionID, actor)
		return err
	case livestream.InJoinStream:
		return r.svc.Join(ctx, sessionID, actor)
	case livestream.InLeaveStream:
		return r.svc.Leave(ctx, sessionID, actor)

	case livestream.InWebRTCOffer:
		if in.SDP == nil || in.SDP.SDP == "" {
			return livestream.ErrInvalidInput
		}
		return r.svc.RelayOffer(sessionID, actor.Conn, *in.SDP, target)
	case livestream.InWebRTCAnswer:
		if in.SDP == nil || in.SDP.SDP == "" {
			return livestream.ErrInvalidInput
		}
		return r.svc.RelayAnswer(sessionID, actor.Conn, *in.SDP)
	case livestream.InWebRTCCandidate:
		if in.Candidate == nil {
			return livestream.ErrInvalidInput
		}
		return r.svc.RelayICECandidate(sessionID, actor.Conn, *in.Candidate, target)

	case livestream.InChatMessage:
		_, err := r.svc.SendChat(ctx, sessionID, actor, in.Message, in.ReplyTo)
		return err
	case livestream.InDeleteChat:
		entryID, err := uuid.Parse(in.MessageID)
		if err != nil {
			return livestream.ErrInvalidInput
		}
		_, err = r.svc.DeleteChat(ctx, sessionID, actor, entryID)
		return err
	case livestream.InPinChat:
		entryID, err := uuid.Parse(in.MessageID)
		if err != nil {
			return livestream.ErrInvalidInput
		}
		_, err = r.svc.PinChat(ctx, sessionID, actor, entryID)
		return err

	case livestream.InStreamLike:
		reaction, ok := parseReaction(in.Action)
		if !ok {
			return livestream.ErrInvalidInput
		}
		_, err := r.svc.React(ctx, sessionID, actor, reaction)
		return err
	case livestream.InStreamDonation:
		_, err := r.svc.Donate(ctx, sessionID, actor, livestream.DonationInput{
			Amount:   in.Amount,
			Currency: in.Currency,
			Message:  in.Message,
		})
		return err
	}
	return nil
}

// Disconnect runs the controller cleanup for a closed connection.
func (r *Router) Disconnect(actor livestream.Actor) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	r.svc.Disconnect(ctx, actor)
}

// RateLimited answers a message dropped by the per-connection limiter.
func (r *Router) RateLimited(conn livestream.ConnID, msg WSMessage) {
	r.metrics.IncRateLimited()
	var in inbound
	_ = json.Unmarshal(msg.Data, &in)
	r.out.Send(conn, errorEvent(msg.Event), livestream.ErrorPayload{
		SessionID: in.SessionID,
		Code:      "RATE_LIMITED",
		Message:   "too many messages, slow down",
	})
}

func (r *Router) fail(conn livestream.ConnID, event, sessionID string, err error) {
	code := livestream.Code(err)
	r.metrics.CommandError(event, code)
	if !livestream.IsValidation(err) {
		r.logger.Error("ws command failed",
			zap.String("event", event),
			zap.String("session_id", sessionID),
			zap.String("client_id", string(conn)),
			zap.Error(err),
		)
	}
	r.out.Send(conn, errorEvent(event), livestream.NewErrorPayload(sessionID, err))
}

// errorEvent picks the error kind a client listens for after sending event.
func errorEvent(event string) string {
	switch event {
	case livestream.InWebRTCOffer, livestream.InWebRTCAnswer, livestream.InWebRTCCandidate:
		return livestream.OutWebRTCError
	case livestream.InChatMessage, livestream.InDeleteChat, livestream.InPinChat:
		return livestream.OutChatError
	case livestream.InStreamDonation:
		return livestream.OutDonationError
	default:
		return livestream.OutStreamError
	}
}

func knownEvent(event string) bool {
	switch event {
	case livestream.InStartStream, livestream.InEndStream, livestream.InJoinStream, livestream.InLeaveStream,
		livestream.InWebRTCOffer, livestream.InWebRTCAnswer, livestream.InWebRTCCandidate,
		livestream.InChatMessage, livestream.InDeleteChat, livestream.InPinChat,
		livestream.InStreamLike, livestream.InStreamDonation:
		return true
	}
	return false
}

func parseReaction(action string) (models.Reaction, bool) {
	switch models.Reaction(action) {
	case models.ReactionLike, models.ReactionDislike:
		return models.Reaction(action), true
	case "none", models.ReactionNone:
		return models.ReactionNone, true
	}
	return "", false
}

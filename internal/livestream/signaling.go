package livestream

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// SignalPayload is what peers receive for offer/answer/ICE events. From is the
// sending connection so the broadcaster can pair answers with viewers.
type SignalPayload struct {
	SessionID uuid.UUID                  `json:"session_id"`
	From      ConnID                     `json:"from"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Relay forwards WebRTC negotiation between a session's broadcaster and its
// viewers. It keeps no state of its own and never looks inside SDP bodies.
type Relay struct {
	registry Registry
	room     Fanout
}

func NewRelay(registry Registry, room Fanout) *Relay {
	return &Relay{registry: registry, room: room}
}

// RelayOffer is accepted only from the broadcaster connection. With a target
// the offer goes to that viewer alone, otherwise to the whole room.
func (r *Relay) RelayOffer(sessionID uuid.UUID, from ConnID, offer webrtc.SessionDescription, target ConnID) error {
	entry, ok := r.registry.Lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if from == "" || from != entry.Broadcaster {
		return ErrNotBroadcaster
	}
	payload := SignalPayload{SessionID: sessionID, From: from, SDP: &offer}
	if target != "" {
		r.unicast(entry, sessionID, target, OutWebRTCOffer, payload)
		return nil
	}
	r.room.BroadcastExcept(sessionID, from, OutWebRTCOffer, payload)
	return nil
}

// RelayAnswer unicasts a viewer's answer to the broadcaster.
func (r *Relay) RelayAnswer(sessionID uuid.UUID, from ConnID, answer webrtc.SessionDescription) error {
	entry, ok := r.registry.Lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if !r.registry.HasViewer(sessionID, from) {
		return ErrNotInSession
	}
	r.room.Send(entry.Broadcaster, OutWebRTCAnswer, SignalPayload{SessionID: sessionID, From: from, SDP: &answer})
	return nil
}

// RelayICECandidate unicasts to target when given, else to everyone in the
// room except the sender.
func (r *Relay) RelayICECandidate(sessionID uuid.UUID, from ConnID, candidate webrtc.ICECandidateInit, target ConnID) error {
	entry, ok := r.registry.Lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if from != entry.Broadcaster && !r.registry.HasViewer(sessionID, from) {
		return ErrNotInSession
	}
	payload := SignalPayload{SessionID: sessionID, From: from, Candidate: &candidate}
	if target != "" {
		r.unicast(entry, sessionID, target, OutWebRTCCandidate, payload)
		return nil
	}
	r.room.BroadcastExcept(sessionID, from, OutWebRTCCandidate, payload)
	return nil
}

// unicast delivers only to a member of the session. Any other target, whether
// departed or in another session, is dropped silently.
func (r *Relay) unicast(entry Entry, sessionID uuid.UUID, target ConnID, event string, payload SignalPayload) {
	if target != entry.Broadcaster && !r.registry.HasViewer(sessionID, target) {
		return
	}
	r.room.Send(target, event, payload)
}

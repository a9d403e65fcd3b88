package livestream

// Inbound websocket event kinds.
const (
	InStartStream     = "start-stream"
	InEndStream       = "end-stream"
	InJoinStream      = "join-stream"
	InLeaveStream     = "leave-stream"
	InWebRTCOffer     = "webrtc-offer"
	InWebRTCAnswer    = "webrtc-answer"
	InWebRTCCandidate = "webrtc-ice-candidate"
	InChatMessage     = "stream-chat-message"
	InDeleteChat      = "delete-chat-message"
	InPinChat         = "pin-chat-message"
	InStreamLike      = "stream-like"
	InStreamDonation  = "stream-donation"
)

// Outbound websocket event kinds.
const (
	OutStreamStarted   = "stream-started"
	OutStreamError     = "stream-error"
	OutStreamEnded     = "stream-ended"
	OutStreamJoined    = "stream-joined"
	OutViewerJoined    = "viewer-joined"
	OutViewerCount     = "viewer-count-update"
	OutChatHistory     = "chat-history"
	OutNewChatMessage  = "new-chat-message"
	OutChatDeleted     = "chat-message-deleted"
	OutChatPinned      = "chat-message-pinned"
	OutLikesUpdate     = "stream-likes-update"
	OutNewDonation     = "new-donation"
	OutWebRTCOffer     = "webrtc-offer"
	OutWebRTCAnswer    = "webrtc-answer"
	OutWebRTCCandidate = "webrtc-ice-candidate"
	OutChatError       = "chat-error"
	OutWebRTCError     = "webrtc-error"
	OutDonationError   = "donation-error"
)

// ErrorPayload is the body of every *-error event.
type ErrorPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewErrorPayload builds the client-facing error body. Anything that is not a
// validation failure is reported generically.
func NewErrorPayload(sessionID string, err error) ErrorPayload {
	msg := "something went wrong, please retry"
	if IsValidation(err) {
		msg = err.Error()
	}
	return ErrorPayload{SessionID: sessionID, Code: Code(err), Message: msg}
}

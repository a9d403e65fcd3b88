package livestream

import (
	"errors"
	"net/http"
)

var (
	ErrAlreadyStreaming     = errors.New("owner already has an active live session")
	ErrSessionNotFound      = errors.New("stream not available")
	ErrNotOwner             = errors.New("only the session owner can do this")
	ErrNotAuthorOrModerator = errors.New("only the author, the owner or a moderator can delete this message")
	ErrChatDisabled         = errors.New("chat is disabled for this stream")
	ErrInvalidState         = errors.New("transition not allowed from the current state")
	ErrNotBroadcaster       = errors.New("only the broadcaster connection can send offers")
	ErrUnauthenticated      = errors.New("sign in required")
	ErrMessageTooLong       = errors.New("message exceeds 500 characters")
	ErrInvalidInput         = errors.New("invalid input")
	ErrSubscribersOnly      = errors.New("chat is limited to subscribers")
	ErrEntryNotFound        = errors.New("chat message not found")
	ErrInvalidDonation      = errors.New("invalid donation")
	ErrInvalidIngestKey     = errors.New("invalid ingest key")
	ErrNotInSession         = errors.New("connection has not joined this stream")
)

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{ErrAlreadyStreaming, "ALREADY_STREAMING", http.StatusConflict},
	{ErrSessionNotFound, "SESSION_NOT_FOUND", http.StatusNotFound},
	{ErrNotOwner, "NOT_OWNER", http.StatusForbidden},
	{ErrNotAuthorOrModerator, "NOT_AUTHOR_OR_MODERATOR", http.StatusForbidden},
	{ErrChatDisabled, "CHAT_DISABLED", http.StatusConflict},
	{ErrInvalidState, "INVALID_STATE", http.StatusConflict},
	{ErrNotBroadcaster, "NOT_BROADCASTER", http.StatusForbidden},
	{ErrUnauthenticated, "UNAUTHENTICATED", http.StatusUnauthorized},
	{ErrMessageTooLong, "MESSAGE_TOO_LONG", http.StatusBadRequest},
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrSubscribersOnly, "SUBSCRIBERS_ONLY", http.StatusForbidden},
	{ErrEntryNotFound, "ENTRY_NOT_FOUND", http.StatusNotFound},
	{ErrInvalidDonation, "INVALID_DONATION", http.StatusBadRequest},
	{ErrInvalidIngestKey, "INVALID_INGEST_KEY", http.StatusUnauthorized},
	{ErrNotInSession, "NOT_IN_SESSION", http.StatusForbidden},
}

// Code returns the stable wire code for err, or INTERNAL for anything that is
// not a validation failure (persistence errors and the like).
func Code(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "INTERNAL"
}

// HTTPStatus maps err to the status used by the REST handlers.
func HTTPStatus(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// IsValidation reports whether err is one of the kinds above, i.e. safe to
// show to the client verbatim.
func IsValidation(err error) bool {
	return Code(err) != "INTERNAL"
}

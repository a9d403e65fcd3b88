package livestream

import (
	"fmt"

	"github.com/tubecast/backend/internal/models"
)

// Transition names an edge of the session state machine.
type Transition string

const (
	TransitionStart  Transition = "start"
	TransitionEnd    Transition = "end"
	TransitionCancel Transition = "cancel"
)

// transitions is the whole state machine. Terminal states have no entry.
var transitions = map[models.SessionStatus]map[Transition]models.SessionStatus{
	models.SessionScheduled: {
		TransitionStart:  models.SessionLive,
		TransitionCancel: models.SessionCancelled,
	},
	models.SessionLive: {
		TransitionEnd: models.SessionEnded,
	},
}

// nextStatus validates t from the current status and returns the target.
func nextStatus(from models.SessionStatus, t Transition) (models.SessionStatus, error) {
	if to, ok := transitions[from][t]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: cannot %s a %s session", ErrInvalidState, t, from)
}

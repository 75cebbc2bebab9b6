package apperror

import "errors"

var (
	ErrMatchNotFound        = errors.New("match not found")
	ErrAlreadyFull          = errors.New("match is already full")
	ErrDuplicateParticipant = errors.New("you are already playing this match as X")
	ErrMatchFinished        = errors.New("match is already finished")
	ErrInvalidPosition      = errors.New("invalid position")
	ErrNotYourTurn          = errors.New("it's not your turn")
	ErrUnsupportedAction    = errors.New("unsupported action")

	// ErrTransportUnavailable is returned by senders when the endpoint is gone.
	// It never affects match state.
	ErrTransportUnavailable = errors.New("endpoint is unavailable")

	// ErrStoreConflict means the match changed between load and persist.
	ErrStoreConflict = errors.New("match was updated concurrently, try again")
)

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrValidation is the parent of every user-correctable input error.
// Wrapped sentinels below can be matched either precisely or as a class.
var ErrValidation = fmt.Errorf("validation error")

var (
	ErrInvalidUsername     = fmt.Errorf("%w: display name must be between 1 and 50 characters", ErrValidation)
	ErrInvalidLanguage     = fmt.Errorf("%w: unsupported language", ErrValidation)
	ErrInvalidContent      = fmt.Errorf("%w: message must be between 1 and 1000 characters", ErrValidation)
	ErrInvalidRoom         = fmt.Errorf("%w: invalid room name", ErrValidation)
	ErrDuplicateConnection = fmt.Errorf("%w: connection already joined", ErrValidation)
	ErrInvalidCursor       = fmt.Errorf("%w: invalid history cursor", ErrValidation)
	ErrMalformedFrame      = fmt.Errorf("%w: malformed event", ErrValidation)
	ErrUnknownFrame        = fmt.Errorf("%w: unknown event type", ErrValidation)
)

var (
	ErrNotAuthenticated = fmt.Errorf("not authenticated: join a room first")
	ErrNotFound         = fmt.Errorf("connection not found")
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrNotStarted       = fmt.Errorf("dispatcher not started")
	ErrStopped          = fmt.Errorf("dispatcher stopped")
	ErrEmptyWords       = fmt.Errorf("no words have been found")
	ErrConnectionClosed = fmt.Errorf("connection closed")
)

// IsUserFacing reports whether err must be delivered back to the originating connection.
// NotFound stays silent so disconnects remain idempotent.
func IsUserFacing(err error) bool {
	return stderrors.Is(err, ErrValidation) ||
		stderrors.Is(err, ErrNotAuthenticated) ||
		stderrors.Is(err, ErrWorkerPanic)
}

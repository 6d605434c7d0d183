package download

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound means the requested catalog object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrSessionNotFound means the requested download session does not exist.
	ErrSessionNotFound = errors.New("download session not found")

	// ErrForbidden means the session belongs to a different user token.
	ErrForbidden = errors.New("download session belongs to another user")

	// ErrSessionNotActive means a stream was requested on a session that is
	// no longer busy.
	ErrSessionNotActive = errors.New("download session is not active")

	// ErrAlreadyStreaming means the session already has a running progress
	// clock; a session is streamed by at most one caller at a time.
	ErrAlreadyStreaming = errors.New("download session is already streaming")

	// ErrNoActiveDownload means the user has no busy session to cancel or query.
	ErrNoActiveDownload = errors.New("no active download found")
)

// ConflictError reports that admission was refused because another session is
// already busy for the user. It carries enough context for the caller to
// render the blocking download.
type ConflictError struct {
	ObjectName string
	Progress   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("another download already in progress: %s at %d%%", e.ObjectName, e.Progress)
}

// StoreConflictError reports a concurrent-write race that survived the
// reap-and-retry sequence in Admit. It is a transient failure; the caller may
// simply try again.
type StoreConflictError struct {
	UserToken string
	Err       error
}

func (e *StoreConflictError) Error() string {
	return fmt.Sprintf("concurrent admission race persisted for user %s", e.UserToken)
}

func (e *StoreConflictError) Unwrap() error {
	return e.Err
}

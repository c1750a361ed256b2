package session

import "errors"

var (
	// ErrInvalidOperation is returned when a submitted operation's base
	// length does not match the document text at the revision it claims.
	ErrInvalidOperation = errors.New("session: invalid operation")

	// ErrRevisionAhead is returned when a submission names a parent
	// revision the session has not reached yet.
	ErrRevisionAhead = errors.New("session: parent revision ahead of current revision")

	// ErrUnknownParticipant is returned by any call naming a participant id
	// that is not currently attached.
	ErrUnknownParticipant = errors.New("session: unknown participant")
)

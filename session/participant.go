package session

import "github.com/docsync/docsync/ot"

// Participant is one attached connection's view within a Session: identity,
// display info, and the last cursor it reported.
type Participant struct {
	ID   uint32
	Name string
	Hue  int

	Cursor         *ot.CursorData
	CursorRevision uint64

	events chan<- Event
	wake   chan<- struct{}
}

// ParticipantInit is supplied by the caller of Attach. Events is the
// participant's outbound queue for discrete presence/cursor/language
// changes; the session pushes Event values to it and never blocks doing so
// — a slow reader drops messages rather than stalling the session's
// critical section. Wake carries no payload: it only tells the participant
// that the operation log has grown, so it should call Session.OperationsFrom
// with whatever revision it last read. A dropped wake is harmless for the
// same reason a dropped event is not — the reader always re-derives the
// diff from its own last-observed revision rather than trusting delivery.
type ParticipantInit struct {
	Name   string
	Hue    int
	Events chan<- Event
	Wake   chan<- struct{}
}

// Info strips the delivery channels, leaving the wire-safe identity fields.
func (p Participant) Info() Participant {
	p.events = nil
	p.wake = nil
	return p
}

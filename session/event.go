package session

import "github.com/docsync/docsync/ot"

// EventType discriminates the kind of change a Session is announcing to an
// attached participant. Accepted operations are not an EventType: a
// participant learns about those by waking and re-reading the log (see
// Participant.wake), not through a discrete pushed value, so a slow reader
// can never miss one.
type EventType int

const (
	EventJoin EventType = iota
	EventLeave
	EventCursor
	EventLanguage
	EventInfo
)

// Event is pushed to a participant's outbound channel whenever another
// participant's action changes shared state. transport.Driver translates
// these into the server->client wire tags of the client protocol.
type Event struct {
	Type EventType

	Revision uint64
	UserID   uint32

	Cursor   ot.CursorData
	Language string
	Name     string
	Hue      int
}

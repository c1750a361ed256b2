// Package session implements the collaboration state machine for a single
// document: participant bookkeeping, the OT submission algorithm, and
// broadcast of accepted changes. Each Session serializes all mutation
// through one goroutine, mirroring a single-writer critical section.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsync/docsync/ot"
)

// archiveTimeout bounds how long Submit waits on the archive collaborator
// before giving up on persisting an accepted operation. Persistence is
// best-effort: a timeout or error here is logged, never returned to the
// caller, since the operation already committed to the live document.
const archiveTimeout = 5 * time.Second

// Archiver is the slice of the archive collaborator a Session needs: append
// each accepted operation to the durable log, and read that log back when a
// session is bootstrapped from a previous run. store.DocumentStore and
// store.CachedStore both satisfy it.
type Archiver interface {
	AppendOperation(ctx context.Context, docID string, op ot.Operation, version int) error
	GetOperations(ctx context.Context, docID string, fromVersion int) ([]ot.Operation, error)
}

// Snapshot is handed back to a newly attached participant: everything it
// needs to render the document and its collaborators immediately.
type Snapshot struct {
	Text         string
	Revision     uint64
	Language     string
	Participants []Participant
}

// UserOperation is one entry in a session's accepted-operation log: the
// operation as it was applied to the document, together with the
// participant that submitted it. The attribution travels with the log entry
// so broadcasts and echo suppression can identify the originator.
type UserOperation struct {
	UserID uint32
	Op     ot.Operation
}

// Session owns one document's live collaboration state. All exported
// methods are safe for concurrent use: they hand a closure to the session's
// single actor goroutine and block for its result, so document mutation
// never races.
type Session struct {
	docID    string
	doc      *ot.Document
	language string

	participants map[uint32]*Participant
	nextID       uint32
	log          []UserOperation

	notifier Notifier
	archive  Archiver
	logger   zerolog.Logger

	ops  chan func()
	stop chan struct{}
}

// New creates a Session bootstrapped with the given initial content and
// revision, typically loaded from the archive collaborator (or version 0
// and empty content for a brand-new document). history is the accepted-
// operation log for revisions 1..version, when the archive collaborator was
// able to supply one; a caller that can only recover the flattened content
// (no op log, or one that disagrees with version) passes nil, and the
// session simply cannot rebase submissions against pre-restart revisions —
// clients resuming from before the restart replay the fallback synthetic
// insert transport.Driver builds from the snapshot text instead.
//
// archive receives every operation Submit accepts, keeping the durable log
// in step with the live document; a nil archive makes persistence a no-op,
// which is what test sessions use.
func New(docID, content string, version int, history []ot.Operation, notifier Notifier, archive Archiver, logger zerolog.Logger) *Session {
	doc := ot.NewDocument(content)
	doc.Version = version
	doc.History = history

	log := make([]UserOperation, len(history))
	for i, op := range history {
		log[i] = UserOperation{Op: op}
	}

	return &Session{
		docID:        docID,
		doc:          doc,
		participants: make(map[uint32]*Participant),
		log:          log,
		notifier:     notifier,
		archive:      archive,
		logger:       logger,
		ops:          make(chan func()),
		stop:         make(chan struct{}),
	}
}

// Run is the session's actor loop. It must be started in its own goroutine
// before any exported method is called, and returns once Stop is called.
func (s *Session) Run() {
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the actor loop. Any exported method called after Stop
// blocks forever; callers (the registry) must not retain a Session past
// Stop.
func (s *Session) Stop() {
	close(s.stop)
}

// do runs fn on the actor goroutine and blocks until it completes.
func (s *Session) do(fn func()) {
	done := make(chan struct{})
	s.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

// CurrentRevision returns the document's current revision number.
func (s *Session) CurrentRevision() uint64 {
	var rev uint64
	s.do(func() { rev = uint64(s.doc.Version) })
	return rev
}

// Text returns the document's current content.
func (s *Session) Text() string {
	var text string
	s.do(func() { text = s.doc.Content })
	return text
}

// Attach registers a new participant and returns its assigned id along with
// a snapshot of the document as of this instant, whose roster lists the
// other participants. Every other already-attached participant is notified
// of the join.
func (s *Session) Attach(init ParticipantInit) (uint32, Snapshot) {
	var id uint32
	var snap Snapshot
	s.do(func() {
		s.nextID++
		id = s.nextID
		p := &Participant{ID: id, Name: init.Name, Hue: init.Hue, events: init.Events, wake: init.Wake}
		s.participants[id] = p

		snap = Snapshot{
			Text:     s.doc.Content,
			Revision: uint64(s.doc.Version),
			Language: s.language,
		}
		for otherID, other := range s.participants {
			if otherID == id {
				continue
			}
			snap.Participants = append(snap.Participants, other.Info())
		}

		for otherID, other := range s.participants {
			if otherID == id {
				continue
			}
			send(other.events, Event{Type: EventJoin, UserID: id, Name: p.Name, Hue: p.Hue})
		}
	})
	return id, snap
}

// Detach removes a participant and notifies the rest.
func (s *Session) Detach(id uint32) {
	s.do(func() {
		if _, ok := s.participants[id]; !ok {
			return
		}
		delete(s.participants, id)
		for _, other := range s.participants {
			send(other.events, Event{Type: EventLeave, UserID: id})
		}
	})
}

// Submit runs the OT submission algorithm: the operation is rebased against
// every operation the participant has not yet seen, applied to the
// document, appended to the log, and every participant, the submitter
// included, is woken to read it from the log.
// It returns the revision the operation was assigned.
func (s *Session) Submit(id uint32, parentRevision uint64, op ot.Operation) (uint64, error) {
	var rev uint64
	var err error
	s.do(func() {
		if _, ok := s.participants[id]; !ok {
			err = ErrUnknownParticipant
			return
		}
		current := uint64(s.doc.Version)
		if parentRevision > current {
			err = ErrRevisionAhead
			return
		}

		// Rebase op against every operation committed since parentRevision:
		// the classic single-log, central-server OT catch-up. Each missed
		// operation is consumed once and discarded — the submitter already
		// learns about it by waking and re-reading the log itself, not by
		// re-deriving it here.
		transformed := op
		for i := parentRevision; i < current; i++ {
			var terr error
			transformed, _, terr = ot.Transform(transformed, s.doc.History[i])
			if terr != nil {
				err = fmt.Errorf("%w: %v", ErrInvalidOperation, terr)
				return
			}
		}
		if aerr := s.doc.Apply(transformed); aerr != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidOperation, aerr)
			return
		}

		rev = uint64(s.doc.Version)
		s.log = append(s.log, UserOperation{UserID: id, Op: transformed})

		if s.archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			if aerr := s.archive.AppendOperation(ctx, s.docID, transformed, int(rev)); aerr != nil {
				s.logger.Error().Err(aerr).Str("doc", s.docID).Uint64("revision", rev).
					Msg("persist operation failed")
			}
			cancel()
		}

		for _, other := range s.participants {
			if other.Cursor == nil {
				continue
			}
			transformedCursor := ot.TransformCursorData(*other.Cursor, transformed)
			other.Cursor = &transformedCursor
			other.CursorRevision = rev
		}

		// Wake every participant's writer rather than pushing the operation
		// itself: a writer that misses this signal (its wake channel already
		// has one queued) still catches up correctly, because it always
		// re-reads the log from its own last-observed revision instead of
		// trusting how many wakeups arrived.
		for _, p := range s.participants {
			wake(p.wake)
		}
		if s.notifier != nil {
			s.notifier.NotifyRevision(s.docID, rev)
		}
	})
	return rev, err
}

// UpdateCursor records a participant's cursor, forward-transforming it from
// atRevision to the session's current revision before storing and
// broadcasting it, so every listener always sees cursors expressed against
// the latest text.
func (s *Session) UpdateCursor(id uint32, data ot.CursorData, atRevision uint64) error {
	var err error
	s.do(func() {
		if _, ok := s.participants[id]; !ok {
			err = ErrUnknownParticipant
			return
		}
		current := uint64(s.doc.Version)
		if atRevision > current {
			err = ErrRevisionAhead
			return
		}
		transformed := data
		for i := atRevision; i < current; i++ {
			transformed = ot.TransformCursorData(transformed, s.doc.History[i])
		}
		p := s.participants[id]
		p.Cursor = &transformed
		p.CursorRevision = current
		s.broadcastExcept(id, Event{Type: EventCursor, UserID: id, Cursor: transformed, Revision: current})
	})
	return err
}

// SetLanguage updates the document's language tag and notifies every
// attached participant.
func (s *Session) SetLanguage(tag string) {
	s.do(func() {
		s.language = tag
		s.broadcastExcept(0, Event{Type: EventLanguage, Language: tag})
	})
}

// SetInfo updates a participant's display name and cursor color hue, and
// notifies the rest.
func (s *Session) SetInfo(id uint32, name string, hue int) error {
	var err error
	s.do(func() {
		p, ok := s.participants[id]
		if !ok {
			err = ErrUnknownParticipant
			return
		}
		p.Name = name
		p.Hue = hue
		s.broadcastExcept(id, Event{Type: EventInfo, UserID: id, Name: name, Hue: hue})
	})
	return err
}

// Subscribe returns the Notifier this session announces revisions on, so a
// registry can layer cross-process fan-out on top of it.
func (s *Session) Subscribe() Notifier {
	return s.notifier
}

// History returns a copy of the accepted-operation log in submission order,
// each entry attributed to the participant that submitted it. Used by the
// stats endpoint's byte count.
func (s *Session) History() []UserOperation {
	var out []UserOperation
	s.do(func() {
		out = append(out, s.log...)
	})
	return out
}

// OperationsFrom returns the accepted-operation log entries with revision
// greater than fromRevision, in submission order: the segment a client that
// has already applied revisions 1..fromRevision still needs to replay to
// catch up. OperationsFrom(0) returns the whole log.
func (s *Session) OperationsFrom(fromRevision uint64) []UserOperation {
	var out []UserOperation
	s.do(func() {
		if fromRevision > uint64(len(s.log)) {
			fromRevision = uint64(len(s.log))
		}
		out = append(out, s.log[fromRevision:]...)
	})
	return out
}

// DocID returns the identifier this session was created for.
func (s *Session) DocID() string {
	return s.docID
}

// ParticipantCount returns the number of currently attached participants.
func (s *Session) ParticipantCount() int {
	var n int
	s.do(func() { n = len(s.participants) })
	return n
}

func (s *Session) broadcastExcept(exclude uint32, ev Event) {
	for id, p := range s.participants {
		if id == exclude {
			continue
		}
		send(p.events, ev)
	}
}

// send delivers ev without blocking; a participant whose queue is full
// drops the message rather than stalling the session's critical section.
func send(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

// wake signals ch without blocking. A full channel means a wakeup is
// already pending, which is exactly as good as sending another one.
func wake(ch chan<- struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

package transport

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/docsync/docsync/ot"
	"github.com/docsync/docsync/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024

	// inboundRate bounds how often a single connection may submit frames;
	// bursts up to inboundBurst are absorbed before the limiter engages.
	inboundRate  = 50
	inboundBurst = 100
)

// Driver owns one client's WebSocket connection to a document session: it
// decodes inbound frames into session calls and re-encodes session events
// as outbound frames. One Driver runs per connection.
type Driver struct {
	conn    *websocket.Conn
	session *session.Session
	logger  zerolog.Logger

	id uint32

	send   chan []byte
	events chan session.Event
	wake   chan struct{}

	// lastSent is the highest revision this driver has already written to
	// the connection. writePump advances it every time it drains the log,
	// so a wakeup it never sees still gets caught by the next one — the
	// diff is always recomputed against this field, never against how many
	// wakeups arrived.
	lastSent uint64

	limiter *rate.Limiter
}

// NewDriver attaches to sess as a new participant and returns a Driver ready
// to run. name and hue seed the participant's initial presence info.
// resumeRevision replays the operation log from that point on instead of
// the whole thing, for a client reconnecting with a revision it has
// already seen.
func NewDriver(conn *websocket.Conn, sess *session.Session, name string, hue int, resumeRevision uint64, logger zerolog.Logger) *Driver {
	d := &Driver{
		conn:    conn,
		session: sess,
		logger:  logger,
		send:    make(chan []byte, 256),
		events:  make(chan session.Event, 256),
		wake:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(inboundRate, inboundBurst),
	}
	id, snap := sess.Attach(session.ParticipantInit{Name: name, Hue: hue, Events: d.events, Wake: d.wake})
	d.id = id
	d.sendInitialState(snap, resumeRevision)
	return d
}

// sendInitialState sends the handshake burst: assigned identity, the
// backlog from resumeRevision onwards, the language tag, and the current
// roster. The backlog is the session's real per-operation log whenever one
// exists; only a session bootstrapped from archived text with no in-session
// operations yet falls back to describing that text as a single synthetic
// insert authored by no one (participant id 0 is never assigned to a real
// participant), since the original per-operation history for that text was
// not retained across the session's own lifetime.
func (d *Driver) sendInitialState(snap session.Snapshot, resumeRevision uint64) {
	d.enqueue(IdentityFrame(d.id))

	ops := d.session.OperationsFrom(resumeRevision)
	entries := make([]HistoryEntry, 0, len(ops))
	for _, op := range ops {
		entries = append(entries, HistoryEntry{ID: op.UserID, Operation: op.Op})
	}
	if len(entries) == 0 && resumeRevision == 0 && snap.Text != "" {
		entries = append(entries, HistoryEntry{ID: 0, Operation: ot.NewInsert(0, snap.Text, 0)})
	}
	d.enqueue(HistoryFrame(resumeRevision, entries))
	d.lastSent = resumeRevision + uint64(len(ops))

	if snap.Language != "" {
		d.enqueue(LanguageFrame(snap.Language))
	}
	for _, p := range snap.Participants {
		d.enqueue(UserInfoFrame(p.ID, &UserInfo{Name: p.Name, Hue: p.Hue}))
	}
}

// Run drives the connection until it closes, blocking the caller. It starts
// the write pump internally and runs the read pump on the calling
// goroutine, detaching from the session on return.
func (d *Driver) Run() {
	go d.writePump()
	d.readPump()
	d.session.Detach(d.id)
	close(d.send)
}

func (d *Driver) readPump() {
	defer d.conn.Close()

	d.conn.SetReadLimit(maxMsgSize)
	d.conn.SetReadDeadline(time.Now().Add(pongWait))
	d.conn.SetPongHandler(func(string) error {
		d.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				d.logger.Debug().Err(err).Uint32("id", d.id).Msg("driver read error")
			}
			return
		}

		if !d.limiter.Allow() {
			d.logger.Warn().Uint32("id", d.id).Msg("driver: inbound rate limit exceeded, closing")
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			d.logger.Debug().Err(err).Uint32("id", d.id).Msg("driver: malformed frame")
			return
		}

		if !d.dispatch(frame) {
			return
		}
	}
}

// dispatch applies one decoded frame to the session, returning false if the
// connection should be closed (a session-layer error or an unrecognised
// frame type).
func (d *Driver) dispatch(frame ClientFrame) bool {
	switch frame.Type {
	case FrameEdit:
		// Submit blocks until the session has applied the op and woken every
		// participant, so the next frame is only read once this one has been
		// applied. The echo itself is written afterwards by the write pump;
		// the read loop does not wait for that write.
		_, err := d.session.Submit(d.id, frame.Revision, frame.ToOperation())
		if err != nil {
			d.logger.Debug().Err(err).Uint32("id", d.id).Msg("driver: submit rejected")
			return false
		}
		return true

	case FrameSetLanguage:
		d.session.SetLanguage(frame.Language)
		return true

	case FrameClientInfo:
		if err := d.session.SetInfo(d.id, frame.Name, frame.Hue); err != nil {
			d.logger.Debug().Err(err).Uint32("id", d.id).Msg("driver: set info rejected")
			return false
		}
		return true

	case FrameCursorData:
		if err := d.session.UpdateCursor(d.id, frame.ToCursorData(), frame.Revision); err != nil {
			d.logger.Debug().Err(err).Uint32("id", d.id).Msg("driver: cursor update rejected")
			return false
		}
		return true

	default:
		d.logger.Debug().Str("type", frame.Type).Uint32("id", d.id).Msg("driver: unknown frame type")
		return false
	}
}

func (d *Driver) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		d.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.writeFrame(translateEvent(ev))

		case _, ok := <-d.wake:
			if !ok {
				return
			}
			d.drainOperations()

		case data, ok := <-d.send:
			if !ok {
				d.conn.SetWriteDeadline(time.Now().Add(writeWait))
				d.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := d.write(data); err != nil {
				return
			}

		case <-ticker.C:
			d.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := d.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainOperations reads every operation logged since lastSent and writes it
// as a single backlog frame, the same pull the initial handshake burst does.
// Called on every wake signal; a signal that arrives while a previous one is
// still being processed is safe to coalesce away, since this always
// recomputes the diff from lastSent rather than trusting the wakeup count.
func (d *Driver) drainOperations() {
	ops := d.session.OperationsFrom(d.lastSent)
	if len(ops) == 0 {
		return
	}
	entries := make([]HistoryEntry, len(ops))
	for i, op := range ops {
		entries[i] = HistoryEntry{ID: op.UserID, Operation: op.Op}
	}
	d.writeFrame(HistoryFrame(d.lastSent, entries))
	d.lastSent += uint64(len(ops))
}

func (d *Driver) write(data []byte) error {
	d.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return d.conn.WriteMessage(websocket.TextMessage, data)
}

func (d *Driver) writeFrame(f ServerFrame) {
	if err := d.write(f.Encode()); err != nil {
		d.logger.Debug().Err(err).Uint32("id", d.id).Msg("driver: write failed")
	}
}

// enqueue is used only before the write pump starts, to seed the initial
// identity/history/presence burst without racing writePump's own writes.
func (d *Driver) enqueue(f ServerFrame) {
	select {
	case d.send <- f.Encode():
	default:
	}
}

func translateEvent(ev session.Event) ServerFrame {
	switch ev.Type {
	case session.EventCursor:
		return UserCursorFrame(ev.UserID, ev.Cursor)
	case session.EventLanguage:
		return LanguageFrame(ev.Language)
	case session.EventJoin, session.EventInfo:
		return UserInfoFrame(ev.UserID, &UserInfo{Name: ev.Name, Hue: ev.Hue})
	case session.EventLeave:
		return UserInfoFrame(ev.UserID, nil)
	default:
		return ServerFrame{}
	}
}

// Package transport drives the per-connection client channel: decoding
// inbound frames into session calls and encoding session events into
// outbound frames, over a WebSocket.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/docsync/docsync/ot"
)

// Client → server frame tags.
const (
	FrameEdit        = "Edit"
	FrameSetLanguage = "SetLanguage"
	FrameClientInfo  = "ClientInfo"
	FrameCursorData  = "CursorData"
)

// Server → client frame tags.
const (
	FrameIdentity   = "Identity"
	FrameHistory    = "History"
	FrameLanguage   = "Language"
	FrameUserInfo   = "UserInfo"
	FrameUserCursor = "UserCursor"
)

// ClientFrame is one client-to-server message. Only the fields relevant to
// Type are populated; the rest are the JSON zero value.
type ClientFrame struct {
	Type string `json:"type"`

	Revision   uint64   `json:"revision,omitempty"`
	Operation  wireOp   `json:"operation,omitempty"`
	Language   string   `json:"language,omitempty"`
	Name       string   `json:"name,omitempty"`
	Hue        int      `json:"hue,omitempty"`
	Cursors    []int    `json:"cursors,omitempty"`
	Selections [][2]int `json:"selections,omitempty"`
}

// ToOperation unwraps the frame's operation field.
func (f ClientFrame) ToOperation() ot.Operation {
	return ot.Operation(f.Operation)
}

// ToCursorData unwraps the frame's cursor fields.
func (f ClientFrame) ToCursorData() ot.CursorData {
	return ot.CursorData{Cursors: f.Cursors, Selections: f.Selections}
}

// HistoryEntry pairs a logged operation with the participant id that
// submitted it: the wire shape is `operations: [{id, operation}]`.
type HistoryEntry struct {
	ID        uint32       `json:"id"`
	Operation ot.Operation `json:"operation"`
}

// UserInfo describes a participant's presence for the UserInfo frame. A nil
// Info (via UserInfoFrame's own Info field being null) signals departure.
type UserInfo struct {
	Name string `json:"name"`
	Hue  int    `json:"hue"`
}

// ServerFrame is one server-to-client message.
type ServerFrame struct {
	Type string `json:"type"`

	ID         uint32         `json:"id,omitempty"`
	Start      uint64         `json:"start,omitempty"`
	Operations []historyEntry `json:"operations,omitempty"`
	Language   string         `json:"language,omitempty"`
	Info       *UserInfo      `json:"info,omitempty"`
	Data       *cursorPayload `json:"data,omitempty"`
}

type cursorPayload struct {
	Cursors    []int    `json:"cursors"`
	Selections [][2]int `json:"selections"`
}

type historyEntry struct {
	ID        uint32 `json:"id"`
	Operation wireOp `json:"operation"`
}

// IdentityFrame assigns a participant its id.
func IdentityFrame(id uint32) ServerFrame {
	return ServerFrame{Type: FrameIdentity, ID: id}
}

// HistoryFrame reports a backlog segment starting at revision start.
func HistoryFrame(start uint64, entries []HistoryEntry) ServerFrame {
	out := make([]historyEntry, len(entries))
	for i, e := range entries {
		out[i] = historyEntry{ID: e.ID, Operation: wireOp(e.Operation)}
	}
	return ServerFrame{Type: FrameHistory, Start: start, Operations: out}
}

// LanguageFrame reports a document language tag change.
func LanguageFrame(language string) ServerFrame {
	return ServerFrame{Type: FrameLanguage, Language: language}
}

// UserInfoFrame reports a presence add, update, or (info == nil) removal.
func UserInfoFrame(id uint32, info *UserInfo) ServerFrame {
	return ServerFrame{Type: FrameUserInfo, ID: id, Info: info}
}

// UserCursorFrame reports another participant's cursor update.
func UserCursorFrame(id uint32, data ot.CursorData) ServerFrame {
	return ServerFrame{
		Type: FrameUserCursor,
		ID:   id,
		Data: &cursorPayload{Cursors: data.Cursors, Selections: data.Selections},
	}
}

// Encode serializes a ServerFrame to JSON bytes for the wire.
func (f ServerFrame) Encode() []byte {
	b, _ := json.Marshal(f)
	return b
}

// wireOp is ot.Operation with a MarshalJSON/UnmarshalJSON pair that
// produces and consumes the compact on-the-wire array form: a positive
// integer is Retain(n), a negative integer is Delete(-n), and a string is
// Insert(s). This is distinct from ot.Operation's own struct-tagged JSON
// form, which archive backends use for storage.
type wireOp ot.Operation

func (w wireOp) MarshalJSON() ([]byte, error) {
	arr := make([]interface{}, 0, len(w.Ops))
	for _, c := range w.Ops {
		switch {
		case c.IsRetain():
			arr = append(arr, c.Retain)
		case c.IsDelete():
			arr = append(arr, -c.Delete)
		case c.IsInsert():
			arr = append(arr, c.Insert)
		}
	}
	if arr == nil {
		arr = []interface{}{}
	}
	return json.Marshal(arr)
}

func (w *wireOp) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("wire operation: %w", err)
	}

	ops := make([]ot.Component, 0, len(raw))
	for i, item := range raw {
		var n int
		if err := json.Unmarshal(item, &n); err == nil {
			switch {
			case n > 0:
				ops = append(ops, ot.Component{Retain: n})
			case n < 0:
				ops = append(ops, ot.Component{Delete: -n})
			}
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s != "" {
				ops = append(ops, ot.Component{Insert: s})
			}
			continue
		}
		return fmt.Errorf("wire operation: component %d is neither number nor string", i)
	}

	w.Ops = ot.Operation{Ops: ops}.Canonicalize().Ops
	return nil
}

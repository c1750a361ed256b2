package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/docsync/docsync/session"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newTestDriverServer(t *testing.T, sess *session.Session) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		d := NewDriver(conn, sess, "Nova", 200, 0, zerolog.Nop())
		d.Run()
	})
	return httptest.NewServer(handler)
}

func wsConnect(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return f
}

func newRunningSession(t *testing.T, content string) *session.Session {
	t.Helper()
	sess := session.New("doc1", content, 0, nil, nil, nil, zerolog.Nop())
	go sess.Run()
	t.Cleanup(sess.Stop)
	return sess
}

func TestDriver_ConnectReceivesIdentity(t *testing.T) {
	sess := newRunningSession(t, "")
	server := newTestDriverServer(t, sess)
	defer server.Close()

	conn := wsConnect(t, server)
	defer conn.Close()

	f := readFrame(t, conn)
	if f.Type != FrameIdentity {
		t.Fatalf("expected Identity, got %q", f.Type)
	}
	if f.ID != 1 {
		t.Errorf("got id %d, want 1", f.ID)
	}
}

func TestDriver_ConnectAlwaysReceivesHistory(t *testing.T) {
	sess := newRunningSession(t, "")
	server := newTestDriverServer(t, sess)
	defer server.Close()

	conn := wsConnect(t, server)
	defer conn.Close()

	readFrame(t, conn) // identity
	f := readFrame(t, conn)
	if f.Type != FrameHistory {
		t.Fatalf("expected History, got %q", f.Type)
	}
	if f.Start != 0 {
		t.Errorf("start = %d, want 0", f.Start)
	}
	if len(f.Operations) != 0 {
		t.Fatalf("got %d history entries, want 0 for an empty document", len(f.Operations))
	}
}

func TestDriver_ConnectWithExistingTextReceivesHistory(t *testing.T) {
	sess := newRunningSession(t, "hello")
	server := newTestDriverServer(t, sess)
	defer server.Close()

	conn := wsConnect(t, server)
	defer conn.Close()

	readFrame(t, conn) // identity
	f := readFrame(t, conn)
	if f.Type != FrameHistory {
		t.Fatalf("expected History, got %q", f.Type)
	}
	if len(f.Operations) != 1 {
		t.Fatalf("got %d history entries, want 1", len(f.Operations))
	}
}

func TestDriver_ReconnectWithResumeRevisionReplaysOnlyNewOps(t *testing.T) {
	sess := newRunningSession(t, "")
	server := newTestDriverServer(t, sess)
	defer server.Close()

	conn1 := wsConnect(t, server)
	defer conn1.Close()
	readFrame(t, conn1) // identity
	readFrame(t, conn1) // empty history

	if err := conn1.WriteJSON(map[string]interface{}{
		"type":      FrameEdit,
		"revision":  0,
		"operation": []interface{}{"one"},
	}); err != nil {
		t.Fatal(err)
	}
	readFrame(t, conn1) // echo of its own op, revision 1

	if err := conn1.WriteJSON(map[string]interface{}{
		"type":      FrameEdit,
		"revision":  1,
		"operation": []interface{}{3, "two"},
	}); err != nil {
		t.Fatal(err)
	}
	readFrame(t, conn1) // echo of its own op, revision 2

	// A reconnecting client that has already seen revision 1 should only be
	// replayed the operation that produced revision 2.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		d := NewDriver(conn, sess, "Nova", 200, 1, zerolog.Nop())
		d.Run()
	})
	resumeServer := httptest.NewServer(handler)
	defer resumeServer.Close()

	conn2, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(resumeServer.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn2.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	readFrame(t, conn2) // identity
	f := readFrame(t, conn2)
	if f.Type != FrameHistory {
		t.Fatalf("expected History, got %q", f.Type)
	}
	if f.Start != 1 {
		t.Errorf("start = %d, want 1", f.Start)
	}
	if len(f.Operations) != 1 {
		t.Fatalf("got %d history entries, want 1", len(f.Operations))
	}
}

func TestDriver_SecondClientSeesFirstJoin(t *testing.T) {
	sess := newRunningSession(t, "")
	server := newTestDriverServer(t, sess)
	defer server.Close()

	conn1 := wsConnect(t, server)
	defer conn1.Close()
	readFrame(t, conn1) // identity for conn1
	readFrame(t, conn1) // empty history for conn1

	conn2 := wsConnect(t, server)
	defer conn2.Close()
	readFrame(t, conn2) // identity for conn2
	readFrame(t, conn2) // empty history for conn2
	readFrame(t, conn2) // conn1's presence, sent as part of conn2's roster

	f := readFrame(t, conn1)
	if f.Type != FrameUserInfo {
		t.Fatalf("expected UserInfo, got %q", f.Type)
	}
	if f.Info == nil || f.Info.Name != "Nova" {
		t.Errorf("unexpected join info: %+v", f.Info)
	}
}

func TestDriver_EditBroadcastsToOtherParticipant(t *testing.T) {
	sess := newRunningSession(t, "")
	server := newTestDriverServer(t, sess)
	defer server.Close()

	conn1 := wsConnect(t, server)
	defer conn1.Close()
	readFrame(t, conn1) // identity
	readFrame(t, conn1) // empty history

	conn2 := wsConnect(t, server)
	defer conn2.Close()
	readFrame(t, conn2) // identity
	readFrame(t, conn2) // empty history
	readFrame(t, conn2) // conn1's presence
	readFrame(t, conn1) // join notification for conn2

	if err := conn1.WriteJSON(map[string]interface{}{
		"type":      FrameEdit,
		"revision":  0,
		"operation": []interface{}{"hi"},
	}); err != nil {
		t.Fatal(err)
	}

	f := readFrame(t, conn2)
	if f.Type != FrameHistory {
		t.Fatalf("expected History broadcast, got %q", f.Type)
	}
	if len(f.Operations) != 1 || f.Operations[0].ID != 1 {
		t.Fatalf("unexpected broadcast: %+v", f.Operations)
	}

	// The submitter must see its own accepted operation echoed back too.
	echo := readFrame(t, conn1)
	if echo.Type != FrameHistory {
		t.Fatalf("expected History echo, got %q", echo.Type)
	}
	if len(echo.Operations) != 1 || echo.Operations[0].ID != 1 {
		t.Fatalf("unexpected echo: %+v", echo.Operations)
	}
}

func TestDriver_UnknownFrameTypeClosesConnection(t *testing.T) {
	sess := newRunningSession(t, "")
	server := newTestDriverServer(t, sess)
	defer server.Close()

	conn := wsConnect(t, server)
	defer conn.Close()
	readFrame(t, conn) // identity
	readFrame(t, conn) // empty history

	conn.WriteJSON(map[string]interface{}{"type": "Bogus"})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Error("expected connection to close on unknown frame type")
	}
}

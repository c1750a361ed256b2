package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/docsync/docsync/auth"
	"github.com/docsync/docsync/registry"
	"github.com/docsync/docsync/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, freezer store.Freezer, authManager *auth.Manager) (*gin.Engine, store.DocumentStore) {
	t.Helper()
	archive := store.NewMemoryStore()
	reg := registry.New(archive, zerolog.Nop())
	t.Cleanup(reg.Close)
	return NewRouter(reg, archive, freezer, authManager, zerolog.Nop()), archive
}

func TestHandleNewDocument(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/documents", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var body newDocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID == "" {
		t.Error("expected non-empty document id")
	}
}

func TestHandleGetText(t *testing.T) {
	router, archive := newTestRouter(t, nil, nil)
	if err := archive.Create(context.Background(), "doc1", "hello world"); err != nil {
		t.Fatalf("create: %v", err)
	}
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/text/doc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestHandleGetText_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/text/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestHandleStats_EmptyRegistry(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Sessions != 0 || stats.Participants != 0 {
		t.Errorf("expected empty registry stats, got %+v", stats)
	}
}

func TestHandleSocket_Upgrades(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/doc1?name=Ada"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestFreezeAndAuthRoutesAbsentWithoutManager(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/auth/register", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestHandleRegisterAndLogin(t *testing.T) {
	authManager := auth.NewManager()
	router, _ := newTestRouter(t, nil, authManager)
	server := httptest.NewServer(router)
	defer server.Close()

	body := `{"username":"ada","password":"lovelace"}`
	resp, err := http.Post(server.URL+"/api/auth/register", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %d", resp.StatusCode)
	}

	loginResp, err := http.Post(server.URL+"/api/auth/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", loginResp.StatusCode)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	authManager := auth.NewManager()
	if _, err := authManager.Register("ada", "lovelace", false, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	router, _ := newTestRouter(t, nil, authManager)
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", strings.NewReader(`{"username":"ada","password":"wrong"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestHandleFreeze_RequiresAuth(t *testing.T) {
	authManager := auth.NewManager()
	if _, err := authManager.Register("ada", "lovelace", false, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	freezer, err := store.NewFileFreezer(store.FreezeConfig{
		Enabled:     true,
		SaveDir:     t.TempDir(),
		MaxFileSize: 1024,
		Retention:   store.DefaultFreezeConfig().Retention,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new freezer: %v", err)
	}
	router, archive := newTestRouter(t, freezer, authManager)
	if err := archive.Create(context.Background(), "doc1", "package main"); err != nil {
		t.Fatalf("create: %v", err)
	}
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/documents/doc1/freeze", "application/json", strings.NewReader(`{"language":"go"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/documents/doc1/freeze", strings.NewReader(`{"language":"go"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.SetBasicAuth("ada", "lovelace")
	req.Header.Set("Content-Type", "application/json")
	authedResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer authedResp.Body.Close()
	if authedResp.StatusCode != http.StatusOK {
		t.Fatalf("authed status: %d", authedResp.StatusCode)
	}
	var frozen freezeResponse
	if err := json.NewDecoder(authedResp.Body).Decode(&frozen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frozen.FileExtension != "go" {
		t.Errorf("expected go extension, got %q", frozen.FileExtension)
	}
}

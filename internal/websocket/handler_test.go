package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"go.uber.org/goleak"

	"github.com/dukerupert/tracklist/internal/auth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// asOwner stands in for the auth middleware.
func asOwner(owner string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if owner != "" {
			r = r.WithContext(auth.WithAuth(r.Context(), auth.AuthContext{Username: owner}))
		}
		next.ServeHTTP(w, r)
	})
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleWebSocketDelivers(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(asOwner("alice", HandleWebSocket(hub, slog.Default())))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	waitForClients(t, hub, 1)
	if got := hub.OwnerCount("alice"); got != 1 {
		t.Fatalf("alice clients = %d, want 1", got)
	}

	hub.Broadcast("alice", NewMessage("task", "created", 7, nil))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "task_created" || got.ID != 7 {
		t.Errorf("message = %+v, want task_created id 7", got)
	}

	conn.Close(ws.StatusNormalClosure, "")
	waitForClients(t, hub, 0)
}

func TestHandleWebSocketRequiresOwner(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(asOwner("", HandleWebSocket(hub, slog.Default())))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if hub.ClientCount() != 0 {
		t.Error("no client should register without an owner")
	}
}

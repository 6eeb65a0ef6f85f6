package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/model"
	"github.com/dukerupert/tracklist/internal/store"
	ws "github.com/dukerupert/tracklist/internal/websocket"
)

type testEnv struct {
	mux  *http.ServeMux
	hub  *recordingHub
	push *fakePushService
	db   *database.DB
}

// recordingHub captures broadcasts per owner.
type recordingHub struct {
	mu   sync.Mutex
	msgs map[model.Owner][]ws.Message
}

func (h *recordingHub) Broadcast(owner model.Owner, msg ws.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.msgs == nil {
		h.msgs = make(map[model.Owner][]ws.Message)
	}
	h.msgs[owner] = append(h.msgs[owner], msg)
}

func (h *recordingHub) sent(owner model.Owner) []ws.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ws.Message(nil), h.msgs[owner]...)
}

func setupHandlerTest(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.Default()
	db, err := database.Open(context.Background(), database.Config{Path: ":memory:"}, logger)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hub := &recordingHub{}
	gh := NewGroceryHandler(store.NewGroceryStore(db), hub, logger)
	th := NewTaskHandler(store.NewTaskStore(db), hub, logger)
	bh := NewBackupHandler(store.NewBackupStore(db), hub, logger)
	pushSvc := &fakePushService{}
	ph := NewPushHandler(store.NewPushStore(db), pushSvc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/groceries", gh.List)
	mux.HandleFunc("POST /api/groceries", gh.Create)
	mux.HandleFunc("POST /api/groceries/{name}/purchase", gh.RecordPurchase)
	mux.HandleFunc("PUT /api/groceries/{name}", gh.Update)
	mux.HandleFunc("PUT /api/groceries", gh.ReplaceAll)
	mux.HandleFunc("DELETE /api/groceries/{name}", gh.Delete)
	mux.HandleFunc("DELETE /api/groceries", gh.Reset)
	mux.HandleFunc("GET /api/tasks", th.List)
	mux.HandleFunc("POST /api/tasks", th.Create)
	mux.HandleFunc("PUT /api/tasks/{id}", th.Update)
	mux.HandleFunc("POST /api/tasks/{id}/toggle", th.Toggle)
	mux.HandleFunc("PUT /api/tasks", th.ReplaceAll)
	mux.HandleFunc("DELETE /api/tasks/{id}", th.Delete)
	mux.HandleFunc("DELETE /api/tasks", th.Reset)
	mux.HandleFunc("GET /api/export", bh.Export)
	mux.HandleFunc("POST /api/import", bh.Import)
	mux.HandleFunc("GET /api/push/vapid-key", ph.VAPIDKey)
	mux.HandleFunc("POST /api/push/subscribe", ph.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", ph.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", ph.Unsubscribe)
	mux.HandleFunc("POST /api/push/test", ph.Test)

	return &testEnv{mux: mux, hub: hub, push: pushSvc, db: db}
}

// do sends a request as owner and returns the recorded response.
func (e *testEnv) do(t *testing.T, owner, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{Username: owner}))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

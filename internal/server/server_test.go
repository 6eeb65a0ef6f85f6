package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/push"
)

func setupTestServer(t *testing.T) http.Handler {
	t.Helper()
	return newTestServer(t).Router()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.Default()
	db, err := database.Open(context.Background(), database.Config{Path: ":memory:"}, logger)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	accounts, err := auth.NewAccounts(true, "alice:"+string(hash))
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	issuer := auth.NewTokenIssuer([]byte("server-test-secret"), time.Hour)
	return New(db, accounts, issuer, logger)
}

func request(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	rec := request(t, h, "POST", "/api/auth/login", "", map[string]string{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body %s", username, rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp.Token
}

func TestHealth(t *testing.T) {
	h := setupTestServer(t)

	rec := request(t, h, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["database"] != "sqlite" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := setupTestServer(t)

	rec := request(t, h, "GET", "/api/groceries", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = request(t, h, "GET", "/api/tasks", "bogus", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad token: status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec = request(t, h, "GET", "/ws", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ws without token: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	h := setupTestServer(t)
	demo := login(t, h, "demo", "demo123")
	alice := login(t, h, "alice", "hunter2")

	rec := request(t, h, "POST", "/api/groceries", alice, map[string]string{"name": "Coffee"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = request(t, h, "GET", "/api/groceries", demo, nil)
	if rec.Body.String() != "[]\n" {
		t.Errorf("demo sees %s, want []", rec.Body.String())
	}

	rec = request(t, h, "DELETE", "/api/groceries/Coffee", demo, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("demo delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = request(t, h, "GET", "/api/groceries", alice, nil)
	var items []map[string]any
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 1 {
		t.Errorf("alice items = %d, want 1", len(items))
	}
}

func TestVerifyRoute(t *testing.T) {
	h := setupTestServer(t)
	token := login(t, h, "demo", "demo123")

	rec := request(t, h, "GET", "/api/auth/verify", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Valid bool `json:"valid"`
		User  struct {
			Username string `json:"username"`
			IsDemo   bool   `json:"isDemo"`
		} `json:"user"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.Valid || body.User.Username != "demo" || !body.User.IsDemo {
		t.Errorf("body = %+v", body)
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := setupTestServer(t)

	for i := 0; i < loginLimit; i++ {
		rec := request(t, h, "POST", "/api/auth/login", "", map[string]string{"username": "demo", "password": "wrong"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, rec.Code, http.StatusUnauthorized)
		}
	}

	rec := request(t, h, "POST", "/api/auth/login", "", map[string]string{"username": "demo", "password": "demo123"})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Another family member on the same IP can still sign in.
	login(t, h, "alice", "hunter2")
}

func TestLoginRateLimitedPerIP(t *testing.T) {
	h := setupTestServer(t)

	for i := 0; i < loginIPLimit; i++ {
		rec := request(t, h, "POST", "/api/auth/login", "", map[string]string{"username": fmt.Sprintf("guess%d", i), "password": "x"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, rec.Code, http.StatusUnauthorized)
		}
	}

	rec := request(t, h, "POST", "/api/auth/login", "", map[string]string{"username": "alice", "password": "hunter2"})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestPushRoutesOnlyWhenEnabled(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Router()
	token := login(t, h, "demo", "demo123")

	rec := request(t, h, "GET", "/api/push/vapid-key", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("vapid keys: %v", err)
	}
	srv.EnablePush(push.NewService(push.Config{VAPIDPublicKey: pub, VAPIDPrivateKey: priv}))
	h = srv.Router()

	rec = request(t, h, "GET", "/api/push/vapid-key", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enabled: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["publicKey"] != pub {
		t.Errorf("publicKey = %q, want %q", body["publicKey"], pub)
	}
}

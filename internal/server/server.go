package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/handler"
	"github.com/dukerupert/tracklist/internal/middleware"
	"github.com/dukerupert/tracklist/internal/store"
	ws "github.com/dukerupert/tracklist/internal/websocket"
)

const (
	// Per client IP and username.
	loginLimit = 10
	// Per client IP across all usernames.
	loginIPLimit = 30
	loginWindow  = time.Minute
)

type Server struct {
	db          *database.DB
	hub         *ws.Hub
	groceryH    *handler.GroceryHandler
	taskH       *handler.TaskHandler
	backupH     *handler.BackupHandler
	authH       *handler.AuthHandler
	pushH       *handler.PushHandler
	issuer      *auth.TokenIssuer
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *database.DB, accounts *auth.Accounts, issuer *auth.TokenIssuer, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	return &Server{
		db:          db,
		hub:         hub,
		groceryH:    handler.NewGroceryHandler(store.NewGroceryStore(db), hub, logger.With("component", "grocery")),
		taskH:       handler.NewTaskHandler(store.NewTaskStore(db), hub, logger.With("component", "task")),
		backupH:     handler.NewBackupHandler(store.NewBackupStore(db), hub, logger.With("component", "backup")),
		authH:       handler.NewAuthHandler(accounts, issuer, logger.With("component", "auth")),
		issuer:      issuer,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// EnablePush mounts the Web Push subscription routes. Without it they
// are not registered.
func (s *Server) EnablePush(svc handler.PushService) {
	s.pushH = handler.NewPushHandler(store.NewPushStore(s.db), svc, s.logger.With("component", "push"))
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the live sync hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /api/auth/verify", s.authH.Verify)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.issuer)
	protected := authMiddleware(protectedMux)
	outerMux.Handle("/api/", protected)
	outerMux.Handle("/ws", protected)

	return middleware.RequestLogger(s.logger.With("component", "http"))(middleware.CORS(outerMux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]string{"status": "ok", "database": s.db.Dialect().String()}
	status := http.StatusOK
	if err := s.db.SQL().PingContext(ctx); err != nil {
		s.logger.Error("health check ping", "error", err)
		body["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	perUser := middleware.RateLimit(s.rateLimiter, "login", middleware.LoginKey, loginLimit, loginWindow)
	perIP := middleware.RateLimit(s.rateLimiter, "login-ip", middleware.RealIP, loginIPLimit, loginWindow)
	return perIP(perUser(h)).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Grocery API routes
	mux.HandleFunc("GET /api/groceries", s.groceryH.List)
	mux.HandleFunc("POST /api/groceries", s.groceryH.Create)
	mux.HandleFunc("PUT /api/groceries", s.groceryH.ReplaceAll)
	mux.HandleFunc("DELETE /api/groceries", s.groceryH.Reset)
	mux.HandleFunc("POST /api/groceries/{name}/purchase", s.groceryH.RecordPurchase)
	mux.HandleFunc("PUT /api/groceries/{name}", s.groceryH.Update)
	mux.HandleFunc("DELETE /api/groceries/{name}", s.groceryH.Delete)

	// Task API routes
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("POST /api/tasks", s.taskH.Create)
	mux.HandleFunc("PUT /api/tasks", s.taskH.ReplaceAll)
	mux.HandleFunc("DELETE /api/tasks", s.taskH.Reset)
	mux.HandleFunc("PUT /api/tasks/{id}", s.taskH.Update)
	mux.HandleFunc("POST /api/tasks/{id}/toggle", s.taskH.Toggle)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Delete)

	// Backup routes
	mux.HandleFunc("GET /api/export", s.backupH.Export)
	mux.HandleFunc("POST /api/import", s.backupH.Import)

	// Push notification routes
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("POST /api/push/test", s.pushH.Test)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}

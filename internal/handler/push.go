package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/model"
	"github.com/dukerupert/tracklist/internal/push"
	"github.com/dukerupert/tracklist/internal/store"
)

// PushService is the part of push.Service the handler uses.
type PushService interface {
	push.Sender
	VAPIDPublicKey() string
}

type PushHandler struct {
	store   *store.PushStore
	service PushService
	logger  *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc PushService, logger *slog.Logger) *PushHandler {
	return &PushHandler{store: ps, service: svc, logger: logger}
}

// subscribeRequest accepts the browser's PushSubscription.toJSON() shape
// as well as flat p256dh/auth fields.
type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"deviceName"`
}

func (req subscribeRequest) subscription() model.PushSubscription {
	sub := model.PushSubscription{
		Endpoint:   strings.TrimSpace(req.Endpoint),
		P256dhKey:  req.Keys.P256dh,
		AuthKey:    req.Keys.Auth,
		DeviceName: strings.TrimSpace(req.DeviceName),
	}
	if sub.P256dhKey == "" {
		sub.P256dhKey = req.P256dh
	}
	if sub.AuthKey == "" {
		sub.AuthKey = req.Auth
	}
	return sub
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.service.VAPIDPublicKey()})
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	sub := req.subscription()
	if sub.Endpoint == "" || sub.P256dhKey == "" || sub.AuthKey == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh and auth are required")
		return
	}

	saved, err := h.store.Subscribe(r.Context(), auth.Owner(r.Context()), sub)
	if err != nil {
		writeStoreError(w, h.logger, "create push subscription", err, "")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.List(r.Context(), auth.Owner(r.Context()))
	if err != nil {
		writeStoreError(w, h.logger, "list push subscriptions", err, "")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	removed, err := h.store.Unsubscribe(r.Context(), auth.Owner(r.Context()), id)
	if err != nil {
		writeStoreError(w, h.logger, "delete push subscription", err, "")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/push/test, sending a sample notification to each
// of the caller's devices.
func (h *PushHandler) Test(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := auth.Owner(ctx)

	subs, err := h.store.List(ctx, owner)
	if err != nil {
		writeStoreError(w, h.logger, "list push subscriptions", err, "")
		return
	}

	payload := push.Payload{Title: "Tracklist", Body: "Notifications are working", URL: "/", Tag: "test"}
	sent := 0
	for _, sub := range subs {
		if err := h.service.Send(ctx, sub, payload); err != nil {
			h.logger.Warn("test notification failed", "id", sub.ID, "error", err)
			continue
		}
		sent++
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent, "subscriptions": len(subs)})
}

package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/model"
	"github.com/dukerupert/tracklist/internal/store"
	ws "github.com/dukerupert/tracklist/internal/websocket"
)

type GroceryHandler struct {
	store  *store.GroceryStore
	hub    Broadcaster
	logger *slog.Logger
}

func NewGroceryHandler(gs *store.GroceryStore, hub Broadcaster, logger *slog.Logger) *GroceryHandler {
	return &GroceryHandler{store: gs, hub: hub, logger: logger}
}

func (h *GroceryHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context(), auth.Owner(r.Context()))
	if err != nil {
		writeStoreError(w, h.logger, "list groceries", err, "")
		return
	}
	if items == nil {
		items = []model.Grocery{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *GroceryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	owner := auth.Owner(r.Context())
	item, err := h.store.Add(r.Context(), owner, req.Name)
	if err != nil {
		writeStoreError(w, h.logger, "add grocery", err, "Item already exists")
		return
	}

	h.hub.Broadcast(owner, ws.NewNamedMessage("grocery", "created", item.Name, nil))
	writeJSON(w, http.StatusCreated, item)
}

func (h *GroceryHandler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	item, err := h.store.RecordPurchase(r.Context(), owner, r.PathValue("name"))
	if err != nil {
		writeStoreError(w, h.logger, "record purchase", err, "")
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}

	h.hub.Broadcast(owner, ws.NewNamedMessage("grocery", "purchased", item.Name, nil))
	writeJSON(w, http.StatusOK, item)
}

func (h *GroceryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd model.GroceryUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	owner := auth.Owner(r.Context())
	name := r.PathValue("name")
	item, err := h.store.Update(r.Context(), owner, name, upd)
	if err != nil {
		writeStoreError(w, h.logger, "update grocery", err, "Item already exists")
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}

	var extra map[string]any
	if !strings.EqualFold(item.Name, name) {
		extra = map[string]any{"previous": name}
	}
	h.hub.Broadcast(owner, ws.NewNamedMessage("grocery", "updated", item.Name, extra))
	writeJSON(w, http.StatusOK, item)
}

func (h *GroceryHandler) ReplaceAll(w http.ResponseWriter, r *http.Request) {
	items, err := decodeList[model.Grocery](w, r, "groceries")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Groceries must be an array")
		return
	}

	owner := auth.Owner(r.Context())
	saved, err := h.store.ReplaceAll(r.Context(), owner, items)
	if err != nil {
		writeStoreError(w, h.logger, "replace groceries", err, "Duplicate item names")
		return
	}
	if saved == nil {
		saved = []model.Grocery{}
	}

	h.hub.Broadcast(owner, ws.NewMessage("grocery", "replaced", 0, map[string]any{"count": len(saved)}))
	writeJSON(w, http.StatusOK, saved)
}

func (h *GroceryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	name := r.PathValue("name")
	removed, err := h.store.Remove(r.Context(), owner, name)
	if err != nil {
		writeStoreError(w, h.logger, "remove grocery", err, "")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}

	h.hub.Broadcast(owner, ws.NewNamedMessage("grocery", "deleted", name, nil))
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroceryHandler) Reset(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	if err := h.store.Reset(r.Context(), owner); err != nil {
		writeStoreError(w, h.logger, "reset groceries", err, "")
		return
	}

	h.hub.Broadcast(owner, ws.NewMessage("grocery", "reset", 0, nil))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Groceries reset"})
}

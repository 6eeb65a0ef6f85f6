package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/model"
	"github.com/dukerupert/tracklist/internal/store"
	ws "github.com/dukerupert/tracklist/internal/websocket"
)

type BackupHandler struct {
	store  *store.BackupStore
	hub    Broadcaster
	logger *slog.Logger
}

func NewBackupHandler(bs *store.BackupStore, hub Broadcaster, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{store: bs, hub: hub, logger: logger}
}

func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.Export(r.Context(), auth.Owner(r.Context()))
	if err != nil {
		writeStoreError(w, h.logger, "export", err, "")
		return
	}

	filename := fmt.Sprintf("tracklist-backup-%s.json", b.ExportDate.Format(model.DueDateLayout))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	writeJSON(w, http.StatusOK, b)
}

func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Groceries *[]model.Grocery `json:"groceries"`
		Tasks     *[]model.Task    `json:"tasks"`
		Version   string           `json:"version"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Groceries == nil || req.Tasks == nil {
		writeError(w, http.StatusBadRequest, "Invalid backup file format")
		return
	}
	if req.Version != "" && req.Version != model.BackupVersion {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported backup version %q", req.Version))
		return
	}

	owner := auth.Owner(r.Context())
	b, err := h.store.Import(r.Context(), owner, model.Backup{
		Groceries: *req.Groceries,
		Tasks:     *req.Tasks,
		Version:   req.Version,
	})
	if err != nil {
		writeStoreError(w, h.logger, "import", err, "Backup contains duplicates")
		return
	}

	h.hub.Broadcast(owner, ws.NewMessage("backup", "imported", 0, map[string]any{
		"groceries": len(b.Groceries),
		"tasks":     len(b.Tasks),
	}))
	writeJSON(w, http.StatusOK, b)
}

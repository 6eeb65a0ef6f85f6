package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/tracklist/internal/model"
	"github.com/dukerupert/tracklist/internal/store"
	ws "github.com/dukerupert/tracklist/internal/websocket"
)

// Broadcaster fans sync notifications out to an owner's live clients.
type Broadcaster interface {
	Broadcast(owner model.Owner, msg ws.Message)
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeList accepts either a bare JSON array or an object wrapping the
// array under key, e.g. {"groceries": [...]}.
func decodeList[T any](w http.ResponseWriter, r *http.Request, key string) ([]T, error) {
	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, err
		}
		inner, ok := wrapped[key]
		if !ok {
			return nil, fmt.Errorf("missing %q", key)
		}
		raw = bytes.TrimSpace(inner)
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errors.New("not an array")
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// writeStoreError maps store failures onto status codes. Unexpected errors
// are logged and answered with a generic message.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, op string, err error, duplicateMsg string) {
	switch {
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, duplicateMsg)
	case errors.Is(err, store.ErrNoOwner):
		writeError(w, http.StatusUnauthorized, "Authentication required")
	default:
		logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

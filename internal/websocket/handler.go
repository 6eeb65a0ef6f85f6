package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/tracklist/internal/auth"
)

// HandleWebSocket returns an HTTP handler that upgrades authenticated
// connections and runs them as Hub clients of the caller's owner.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := auth.Owner(r.Context())
		if owner == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Authentication required"})
			return
		}

		// Long-lived connection: lift the server's read/write timeouts.
		rc := http.NewResponseController(w)
		rc.SetReadDeadline(time.Time{})
		rc.SetWriteDeadline(time.Time{})

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // Token auth guards the socket, any origin may connect
		})
		if err != nil {
			logger.Warn("websocket accept", "owner", owner, "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn, owner)
		client.Run(r.Context())
	}
}

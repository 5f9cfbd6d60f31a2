package websocket

import (
	"io"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/timeline/internal/owner"
)

// HandleWebSocket returns an HTTP handler that upgrades connections to
// WebSocket and runs them as clients of the requesting owner. With no
// originPatterns every origin is accepted.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := &ws.AcceptOptions{
		OriginPatterns:     originPatterns,
		InsecureSkipVerify: len(originPatterns) == 0,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := owner.FromContext(r.Context())
		if !ok {
			http.Error(w, "missing owner", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, opts)
		if err != nil {
			logger.Warn("accept", "owner", id, "error", err)
			return
		}

		logger.Debug("client connected", "owner", id)
		NewClient(hub, conn, id).Run(r.Context())
		logger.Debug("client disconnected", "owner", id)
	}
}

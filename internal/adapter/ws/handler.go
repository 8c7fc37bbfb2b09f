package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/FinSight/internal/domain"
)

// HandleStream upgrades the request to a WebSocket and attaches it as a
// viewer of the session named in the URL. An unknown session is rejected
// before the upgrade so the client gets a plain 404.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := h.snapshots.GetSession(token); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "session", token, "error", err)
		return
	}

	connID, err := h.Attach(sock, token)
	if err != nil {
		slog.Error("websocket attach failed", "session", token, "error", err)
		_ = sock.Close(websocket.StatusInternalError, "attach failed")
		return
	}

	go h.readLoop(sock, connID)
}

// readLoop consumes inbound frames. Clients send nothing of semantic value;
// every successful read refreshes liveness, and a read error means the
// client is gone.
func (h *Hub) readLoop(sock *websocket.Conn, connID string) {
	defer h.Detach(connID)

	for {
		_, _, err := sock.Read(context.Background())
		if err != nil {
			return
		}
		h.mu.RLock()
		c, ok := h.conns[connID]
		h.mu.RUnlock()
		if !ok {
			return
		}
		c.touch()
	}
}

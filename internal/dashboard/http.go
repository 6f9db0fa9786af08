package dashboard

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the JSON status snapshot and the live WebSocket feed.
type Handler struct {
	hub     *Hub
	collect Collector
}

// NewHandler builds a Handler backed by hub for streaming and collect for
// the one-shot JSON snapshot.
func NewHandler(hub *Hub, collect Collector) *Handler {
	return &Handler{hub: hub, collect: collect}
}

// ServeStatus writes the current Snapshot as JSON.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.collect())
}

// ServeWS upgrades the connection and registers it with the hub.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("dashboard: websocket upgrade failed: %v", err)
		return
	}
	h.hub.Register(conn)
}

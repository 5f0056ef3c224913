// Package wsserver serves this node's own /ws status-stream endpoint
// that peers subscribe to — spec.md §6's "Peer stream — consumed"
// describes the client side; this is the matching server side every
// node also runs for its siblings. Adapted from the teacher's
// websocket.MonitorHub (register/unregister/broadcast channels) and
// handlers/websocket.go's upgrade handler.
package wsserver

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"loadsharing/internal/peertypes"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub manages WebSocket connections from subscribing peers and
// broadcasts this node's own status: a full snapshot on connect,
// followed by delta frames (spec.md §6).
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan interface{}

	current func() peertypes.Status
}

// NewHub creates a hub. current returns the node's own live status,
// sent as the initial full snapshot to each newly connected peer.
func NewHub(current func() peertypes.Status) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan interface{}, 256),
		current:    current,
	}
}

// Run is the hub's event loop; call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
			if err := conn.WriteJSON(h.current()); err != nil {
				log.Printf("wsserver: initial snapshot write failed: %v", err)
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("wsserver: write error, dropping client: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastDelta sends a partial status update to every subscribed peer.
func (h *Hub) BroadcastDelta(delta peertypes.StatusDelta) {
	select {
	case h.broadcast <- delta:
	default:
		log.Printf("wsserver: broadcast channel full, delta dropped")
	}
}

// HandleUpgrade upgrades an inbound HTTP request to the peer status
// stream (spec.md §6: "GET http://{peer}/ws upgrade").
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsserver: upgrade error: %v", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("wsserver: read error: %v", err)
				}
				return
			}
		}
	}()
}

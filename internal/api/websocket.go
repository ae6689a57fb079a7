package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // operator dashboards connect from arbitrary origins
	},
}

// VerdictHub maintains the set of operator dashboards subscribed to the
// live verdict/freeze feed and broadcasts evaluation outcomes to all of
// them as they happen.
type VerdictHub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *VerdictHub {
	return &VerdictHub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run drains the broadcast channel and fans each payload out to every
// connected dashboard. Must be started once, in its own goroutine,
// before StreamVerdicts accepts any connections.
func (h *VerdictHub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Set write deadline to prevent a stalled dashboard from
			// hanging the hub and starving every other subscriber.
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				log.Printf("verdict stream write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// StreamVerdicts upgrades GET /api/v1/stream into a websocket connection
// that receives every subsequent SecurityVerdict and freeze event as
// it's emitted.
func (h *VerdictHub) StreamVerdicts(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("failed to upgrade verdict stream: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mutex.Unlock()

	log.Printf("operator dashboard connected to verdict stream, %d active", count)

	// Keep-alive loop: we only ever push verdicts down, but the
	// connection must still be read from to detect a client going away.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			remaining := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("operator dashboard disconnected from verdict stream, %d active", remaining)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("verdict stream error: %v", err)
				}
				break
			}
		}
	}()
}

// BroadcastVerdict sends a JSON-encoded verdict or freeze event to every
// connected dashboard.
func (h *VerdictHub) BroadcastVerdict(data []byte) {
	h.broadcast <- data
}

package feed

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"itemprice/internal/models"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// PriceEvent is pushed to subscribers for every committed price.
type PriceEvent struct {
	ItemInternalID uint      `json:"item_iid"`
	Name           string    `json:"name"`
	Price          int64     `json:"price"`
	AddedAt        time.Time `json:"added_at"`
	Inflated       bool      `json:"inflated"`
	ManualCheck    *string   `json:"manual_check"`
}

type client struct {
	conn *websocket.Conn
	send chan []PriceEvent
}

// Hub fans committed prices out to websocket subscribers. Slow subscribers
// are dropped rather than blocking a batch run.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish implements pricing.Publisher.
func (h *Hub) Publish(prices []models.TrustedPrice) {
	if len(prices) == 0 {
		return
	}
	events := make([]PriceEvent, 0, len(prices))
	for _, p := range prices {
		events = append(events, PriceEvent{
			ItemInternalID: p.ItemInternalID,
			Name:           p.Name,
			Price:          p.Price,
			AddedAt:        p.AddedAt,
			Inflated:       p.Inflated(),
			ManualCheck:    p.ManualCheck,
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- events:
		default:
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams price events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []PriceEvent, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop only drains control frames; it returns when the peer disconnects.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for events := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(events); err != nil {
			h.remove(c)
			c.conn.Close()
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/muranga-mess/api/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client is one websocket connection subscribed to a single room.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	room string
	send chan []byte
}

// readPump only watches for disconnects and pongs; subscribers never send.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: websocket %s: %v", c.room, err)
			}
			return
		}
	}
}

// writePump delivers each event as its own text frame so every frame is a
// complete JSON document.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// upgrader accepts any origin unless the hub was given an allowlist.
func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(h.origins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || h.origins[origin]
		},
	}
}

// serve upgrades the request and joins the connection to room.
func serve(hub *Hub, room string, w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARN: websocket upgrade for %s: %v", room, err)
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		room: room,
		send: make(chan []byte, sendBuffer),
	}
	if !hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ServeOrderWS streams status changes of one order. Knowing the order code is
// enough to watch it, the same as polling its status.
// Endpoint: WS /ws/orders/{code}
func ServeOrderWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	if code == "" {
		http.Error(w, "missing order code", http.StatusBadRequest)
		return
	}
	serve(hub, OrderRoom(code), w, r)
}

// ServeMenuWS streams every order transition on one daily menu to staff.
// Browsers cannot set headers on a websocket handshake, so the access token
// travels in the query string.
// Endpoint: WS /ws/menus/{id}?token=JWT
func ServeMenuWS(hub *Hub, jwtSecret string, w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := auth.ValidateToken(jwtSecret, tokenStr); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	menuID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid menu id", http.StatusBadRequest)
		return
	}
	serve(hub, MenuRoom(menuID), w, r)
}

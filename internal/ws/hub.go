package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/muranga-mess/api/internal/service"
)

const EventOrderStatus = "order.status_changed"

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// roomEvent routes an event to one room
type roomEvent struct {
	Room  string
	Event Event
}

// OrderRoom is the room a student watching one order joins.
func OrderRoom(code string) string { return "order:" + code }

// MenuRoom is the room staff watching one daily menu join.
func MenuRoom(id uuid.UUID) string { return "menu:" + id.String() }

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by room
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomEvent

	// closed when Run returns
	done chan struct{}

	// allowed websocket origins; empty allows any
	origins map[string]bool

	mu sync.RWMutex
}

// NewHub creates a hub. Handshakes from browsers are limited to origins when
// any are given.
func NewHub(origins ...string) *Hub {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Hub{
		origins:    allowed,
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomEvent, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled, closing
// every client still connected.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for room, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.room] == nil {
				h.rooms[client.room] = make(map[*Client]bool)
			}
			h.rooms[client.room][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			message, err := json.Marshal(event.Event)
			if err != nil {
				log.Printf("ERROR: marshal ws event: %v", err)
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[event.Room] {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop it
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops client from its room. Callers hold h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.room]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.room)
	}
}

// Register adds client to the hub. It reports false if the hub is stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues an event for a room. It never blocks: when the queue is
// full the event is dropped.
func (h *Hub) Broadcast(room string, event Event) {
	select {
	case h.broadcast <- &roomEvent{Room: room, Event: event}:
	default:
		log.Printf("WARN: ws broadcast queue full, dropping %s for %s", event.Type, room)
	}
}

// OrderChanged publishes an order transition to the order's room and to the
// room of its daily menu.
func (h *Hub) OrderChanged(ev service.OrderEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ERROR: marshal order event %s: %v", ev.OrderCode, err)
		return
	}
	event := Event{Type: EventOrderStatus, Payload: payload}
	h.Broadcast(OrderRoom(ev.OrderCode), event)
	h.Broadcast(MenuRoom(ev.DailyMenuID), event)
}

// Clients returns the number of clients in room.
func (h *Hub) Clients(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

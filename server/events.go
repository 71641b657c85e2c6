package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunedl/tunedl/download/logging"
)

const (
	wsClientBufferSize = 256
	wsHistorySize      = 500
	wsPingInterval     = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsReadTimeout      = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one server event pushed to websocket clients.
type Event struct {
	Timestamp int64  `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Operation string `json:"operation,omitempty"`
	BatchID   string `json:"download_id,omitempty"`
}

// EventsHub fans server events out to websocket clients, replaying recent
// history to newly connected clients.
type EventsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	history []Event
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	closed bool
	mu     sync.Mutex
}

// NewEventsHub creates an empty hub.
func NewEventsHub() *EventsHub {
	return &EventsHub{
		clients: make(map[*wsClient]struct{}),
		history: make([]Event, 0, wsHistorySize),
	}
}

// PublishLog converts a log entry into an event broadcast. Installed as the
// logger's broadcast hook.
func (h *EventsHub) PublishLog(entry logging.LogEntry) {
	h.Publish(Event{
		Timestamp: entry.Timestamp.Unix(),
		Level:     string(entry.Level),
		Message:   entry.Message,
		Operation: entry.Operation,
		BatchID:   entry.BatchID,
	})
}

// Publish broadcasts an event to all clients and stores it in history.
func (h *EventsHub) Publish(event Event) {
	h.mu.Lock()
	if len(h.history) >= wsHistorySize {
		h.history = h.history[1:]
	}
	h.history = append(h.history, event)
	h.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Slow consumer; drop the event for this client.
		}
	}
}

// History returns a copy of the retained events.
func (h *EventsHub) History() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// ClientCount returns the number of connected clients.
func (h *EventsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection and manages its lifecycle.
func (h *EventsHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsClientBufferSize),
	}

	// Replay history directly on the connection before registering the
	// client, so live events cannot interleave with the replay.
	for _, event := range h.History() {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			return
		}
	}

	h.addClient(client)
	go h.writePump(client)
	go h.readPump(client)
}

func (h *EventsHub) addClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

func (h *EventsHub) removeClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

func (h *EventsHub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		h.closeClient(client)
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			// Each queued event goes out as its own frame.
			n := len(client.send)
			for i := 0; i < n; i++ {
				if err := client.conn.WriteMessage(websocket.TextMessage, <-client.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventsHub) readPump(client *wsClient) {
	defer h.closeClient(client)
	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// closeClient removes the client from the hub before closing its channel, so
// Publish can never send on a closed channel.
func (h *EventsHub) closeClient(client *wsClient) {
	h.removeClient(client)

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		client.closed = true
		close(client.send)
		client.conn.Close()
	}
}

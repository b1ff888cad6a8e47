// Package hub provides connection management for WebSocket clients that
// watch a run's event stream live.
package hub

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single WebSocket connection subscribed to one
// run's event stream.
type Connection struct {
	ID    string
	RunID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// runs maps run_id to set of connection IDs
	runs map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *RunMessage

	mu sync.RWMutex
}

// RunMessage is used to broadcast a message to a run's watchers.
type RunMessage struct {
	RunID string
	Data  []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		runs:        make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *RunMessage, 256),
	}
}

// NewConnection wraps a websocket connection subscribed to runID.
func (h *Hub) NewConnection(ws *websocket.Conn, runID string) *Connection {
	return &Connection{
		ID:    "conn_" + uuid.New().String()[:8],
		RunID: runID,
		Conn:  ws,
		Send:  make(chan []byte, 64),
	}
}

// Register queues a connection for registration.
func (h *Hub) Register(conn *Connection) { h.register <- conn }

// Unregister queues a connection for removal.
func (h *Hub) Unregister(conn *Connection) { h.unregister <- conn }

// Publish broadcasts data to every watcher of the run.
func (h *Hub) Publish(runID string, data []byte) {
	select {
	case h.broadcast <- &RunMessage{RunID: runID, Data: data}:
	default:
		log.Printf("hub broadcast queue full, dropping message for run %s", runID)
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.runs[conn.RunID] == nil {
				h.runs[conn.RunID] = make(map[string]bool)
			}
			h.runs[conn.RunID][conn.ID] = true
			h.mu.Unlock()
			log.Printf("connection registered: %s (run: %s)", conn.ID, conn.RunID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if h.runs[conn.RunID] != nil {
					delete(h.runs[conn.RunID], conn.ID)
					if len(h.runs[conn.RunID]) == 0 {
						delete(h.runs, conn.RunID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.runs[msg.RunID] {
				conn, ok := h.connections[connID]
				if !ok {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					// Slow consumer: drop the message rather than
					// block ingestion.
				}
			}
			h.mu.RUnlock()
		}
	}
}

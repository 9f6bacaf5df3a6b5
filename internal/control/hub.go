package control

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// TokenValidator authenticates the first message a client sends.
type TokenValidator interface {
	ValidateToken(token string) error
}

// CommandSink receives parsed inbound commands. Implemented by Dispatcher.
type CommandSink interface {
	Submit(cmd Command)
}

// Hub owns all websocket clients and fans broadcasts out to them. Clients
// that cannot drain their send buffer are disconnected rather than allowed
// to stall the others.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan any
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger

	validator TokenValidator
	sink      CommandSink
	version   string
}

func NewHub(validator TokenValidator, sink CommandSink, version string, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan any, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
		validator:  validator,
		sink:       sink,
		version:    version,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("remote", client.conn.RemoteAddr().String()),
				zap.Int("clients", h.ClientCount()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.Int("clients", h.ClientCount()))

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client too slow, disconnecting",
						zap.String("remote", client.conn.RemoteAddr().String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for every connected client. Non-blocking: when
// the hub itself is saturated the message is dropped with a warning.
func (h *Hub) Broadcast(message any) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

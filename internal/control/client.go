package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	authWait       = 10 * time.Second
	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

type authRequest struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

// readPump authenticates the connection, then feeds commands to the sink.
// The first message must be an auth message and must arrive within authWait.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if !c.authenticate() {
		return
	}

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		return
	}

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Unexpected close", zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.logger.Warn("Discarding unparseable message", zap.Error(err))
			continue
		}
		c.hub.sink.Submit(cmd)
	}
}

func (c *Client) authenticate() bool {
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	_, message, err := c.conn.ReadMessage()
	if err != nil {
		c.logger.Debug("Client disconnected before auth", zap.Error(err))
		return false
	}

	var req authRequest
	if err := json.Unmarshal(message, &req); err != nil || req.Type != MessageTypeAuth {
		c.reject("First message must be auth")
		return false
	}
	if err := c.hub.validator.ValidateToken(req.Token); err != nil {
		c.logger.Warn("Client auth failed",
			zap.String("remote", c.conn.RemoteAddr().String()),
			zap.Error(err))
		c.reject("Invalid token")
		return false
	}

	c.enqueue(AuthResponse{Type: MessageTypeAuthSuccess, Timestamp: time.Now()})
	c.enqueue(NewClientRegister(c.hub.version))
	return true
}

func (c *Client) reject(reason string) {
	data, err := json.Marshal(AuthResponse{
		Type:      MessageTypeAuthFailed,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	if err != nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Send buffer full, dropping message")
	}
}

// writePump drains the send buffer to the socket and keeps the connection
// alive with pings. Queued messages are coalesced into one frame.
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// ServeWs upgrades an HTTP request to a websocket connection.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.Named("ws-client"),
	}

	go client.writePump()
	go client.readPump()
}

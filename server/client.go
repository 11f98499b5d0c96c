package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/factwire/bus"
	"github.com/teranos/factwire/logger"
)

// Client is one WebSocket connection with its own bus subscription.
// writePump is the only goroutine that writes to conn.
type Client struct {
	server *Server
	conn   *websocket.Conn
	sub    *bus.Subscription
	id     string

	// Control replies (subscribed, pong, error) queued for writePump
	send chan interface{}
	done chan struct{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c := &Client{
		server: s,
		id:     uuid.New().String(),
		send:   make(chan interface{}, controlBuffer),
		done:   make(chan struct{}),
	}

	// Reserve the slot before upgrading so the 503 is a plain HTTP reply
	if !s.register(c) {
		s.logger.Warnw("Rejecting WebSocket client",
			"client_id", shortID(c.id),
			logger.FieldCount, s.ClientCount(),
			"max_clients", s.maxClients)
		writeError(w, http.StatusServiceUnavailable, "too many clients")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Debugw("WebSocket upgrade failed", logger.FieldError, err)
		s.unregister(c)
		return
	}
	c.conn = conn
	c.sub = s.engine.Bus.Subscribe()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ConnectedMessage{
		Type:           MsgConnected,
		Message:        "subscribed to fact updates",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SubscriptionID: c.sub.ID,
	}); err != nil {
		s.logger.Debugw("Failed to greet client", "client_id", shortID(c.id), logger.FieldError, err)
		conn.Close()
		s.unregister(c)
		return
	}

	s.logger.Infow("Client connected",
		"client_id", shortID(c.id),
		logger.FieldSubscriberID, c.sub.ID,
		logger.FieldCount, s.ClientCount())

	go c.writePump()
	go c.readPump()
}

// readPump reads client messages until the connection fails
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(ControlMessage{Type: MsgError, Message: "invalid message"})
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MsgSubscribe:
		entity := strings.TrimSpace(msg.Entity)
		c.sub.SetEntityPrefix(entity)
		c.server.logger.Debugw("Client subscription narrowed",
			"client_id", shortID(c.id),
			"entity", entity)
		c.reply(SubscribedMessage{
			Type:      MsgSubscribed,
			Entity:    entity,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	case MsgPing:
		c.reply(ControlMessage{Type: MsgPong})
	default:
		c.reply(ControlMessage{Type: MsgError, Message: "unknown message type " + msg.Type})
	}
}

// reply queues a control message; a client that never reads loses replies
// rather than blocking its reader
func (c *Client) reply(msg interface{}) {
	select {
	case c.send <- msg:
	default:
		c.server.logger.Debugw("Control reply dropped", "client_id", shortID(c.id))
	}
}

func (c *Client) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
		c.server.logger.Warnw("WebSocket unexpected close",
			"client_id", shortID(c.id),
			logger.FieldError, err)
		return
	}
	c.server.logger.Debugw("WebSocket closed", "client_id", shortID(c.id), logger.FieldError, err)
}

// writePump forwards bus deliveries and control replies to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-c.done:
			return

		case f, ok := <-c.sub.C():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(FactUpdateMessage{
				Type:    MsgFactUpdate,
				Data:    f,
				Dropped: c.sub.Dropped(),
			}); err != nil {
				c.server.logger.Debugw("Fact write error",
					"client_id", shortID(c.id),
					logger.FieldFactID, f.ID,
					logger.FieldError, err)
				return
			}

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("Control write error", "client_id", shortID(c.id), logger.FieldError, err)
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

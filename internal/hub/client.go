package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/shravanisdakve/NexusAI-sub002/internal/config"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session
	config  config.WebSocketConfig

	messages *rate.Limiter
	presence *rate.Limiter
}

// Limits caps how fast one connection may post chat messages and relay
// events. A zero rate disables the limit.
type Limits struct {
	MessagesPerSecond float64
	MessageBurst      int
	PresenceBurst     int
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig, session *domain.Session, limits Limits) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	c := &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, buf),
		Session: session,
		config:  cfg,
	}
	if limits.MessagesPerSecond > 0 {
		c.messages = rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), max(limits.MessageBurst, 1))
		c.presence = rate.NewLimiter(rate.Limit(limits.MessagesPerSecond*10), max(limits.PresenceBurst, 1))
	}
	return c
}

// AllowMessage reports whether the client may post another chat message.
func (c *Client) AllowMessage() bool {
	return c.messages == nil || c.messages.Allow()
}

// AllowPresence reports whether the client may relay another event.
func (c *Client) AllowPresence() bool {
	return c.presence == nil || c.presence.Allow()
}

// ReadPump reads frames until the connection fails, then unregisters the
// client and calls onClose.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
		if onClose != nil {
			onClose(c)
		}
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldConnectionID, c.ID).Msg("websocket read error")
			}
			break
		}

		if c.Session != nil {
			c.Session.UpdateActivity()
		}

		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage marshals message and queues it for this client only.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.Hub.SendTo(c.ID, data)
	return nil
}

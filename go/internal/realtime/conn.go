package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageHandler processes frames read from a connection. Calls for one
// connection never overlap.
type MessageHandler interface {
	HandleMessage(ctx context.Context, c *Connection, data []byte)
	Disconnected(c *Connection)
}

// writePump pumps messages from the hub to the websocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.setWriteDeadline()
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("write error")
				return
			}

		case <-ticker.C:
			c.setWriteDeadline()
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("ping error")
				return
			}
		}
	}
}

// readPump pumps messages from the websocket connection to the handler
func (c *Connection) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.handler.Disconnected(c)
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	if c.hub.config.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	}
	c.setReadDeadline()
	c.Conn.SetPongHandler(func(string) error {
		c.setReadDeadline()
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("websocket error")
			}
			return
		}
		c.setReadDeadline()
		c.handler.HandleMessage(ctx, c, data)
	}
}

func (c *Connection) setReadDeadline() {
	if c.hub.config.ReadTimeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

func (c *Connection) setWriteDeadline() {
	if c.hub.config.WriteTimeout > 0 {
		c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
	}
}

// Allow reports whether the connection may issue another command now
func (c *Connection) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	sl "chat_service/internal/lib/logger"
	"chat_service/internal/models"

	"github.com/gorilla/websocket"
)

// client is one live connection's state: its identity, its wire connection
// and its broadcaster subscription. The two pumps are the only code that
// touches it after the handshake.
type client struct {
	id     string
	userID string
	name   string
	conn   *websocket.Conn
	sub    *Subscription
	log    *slog.Logger
}

// readPump is the inbound half: wire frames become persisted Message
// events and broadcast envelopes. It returns on read failure or cancel;
// persistence failures are logged and never stop live delivery.
func (c *client) readPump(ctx context.Context, h *Handler) {
	c.conn.SetReadLimit(h.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(h.pongTimeout)); err != nil {
		c.log.Warn("failed to set read deadline", sl.Err(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) && ctx.Err() == nil {
				c.log.Warn("websocket read error", sl.Err(err))
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		text := strings.TrimSpace(string(payload))
		if text == "" {
			continue
		}

		now := time.Now().UTC()

		event := &models.ChatEvent{
			UserID:    c.userID,
			Username:  c.name,
			EventType: models.EventMessage,
			Message:   text,
			Timestamp: now,
		}
		if _, err := h.events.Append(ctx, event); err != nil {
			c.log.Warn("failed to save chat message", sl.Err(err))
		}

		frame, err := MessageEnvelope(c.userID, c.name, text, now).Encode()
		if err != nil {
			c.log.Error("failed to encode message frame", sl.Err(err))
			continue
		}

		h.broadcaster.Publish(frame)
	}
}

// writePump is the outbound half: broadcaster messages go to the wire, a
// ping keeps the peer alive. It returns on write failure or cancel.
func (c *client) writePump(ctx context.Context, h *Handler) {
	ticker := time.NewTicker(h.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeClose(h.writeTimeout)
			return

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case msg, ok := <-c.sub.C():
			if !ok {
				return
			}
			if n := c.sub.TakeLag(); n > 0 {
				c.log.Warn("subscriber lagged, stale messages dropped",
					slog.Int64("dropped", n))
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *client) writeClose(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
}

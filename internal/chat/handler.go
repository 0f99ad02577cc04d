package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chat_service/internal/config"
	sl "chat_service/internal/lib/logger"
	"chat_service/internal/models"

	"github.com/gorilla/websocket"
)

// EventStore is the durable append-only chat log this package depends on.
// Recent returns events in chronological order.
type EventStore interface {
	Append(ctx context.Context, event *models.ChatEvent) (*models.ChatEvent, error)
	Recent(ctx context.Context, limit int) ([]models.ChatEvent, error)
}

// Authenticator resolves a session credential to its session and user.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionToken string) (*models.Session, *models.User, error)
}

const persistTimeout = 5 * time.Second

// Handler owns the connection lifecycle: handshake, identity, join and
// leave bookkeeping, and the two per-connection pumps.
type Handler struct {
	log         *slog.Logger
	registry    *Registry
	broadcaster *Broadcaster
	events      EventStore
	auth        Authenticator
	upgrader    websocket.Upgrader

	maxMessageSize int64
	writeTimeout   time.Duration
	pongTimeout    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHandler(
	log *slog.Logger,
	registry *Registry,
	broadcaster *Broadcaster,
	events EventStore,
	auth Authenticator,
	cfg config.Chat,
) *Handler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		log:         log,
		registry:    registry,
		broadcaster: broadcaster,
		events:      events,
		auth:        auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		maxMessageSize: cfg.MaxMessageSize,
		writeTimeout:   cfg.WriteTimeout,
		pongTimeout:    cfg.PongTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (h *Handler) pingPeriod() time.Duration {
	// Pings must land inside the peer's read deadline window.
	return h.pongTimeout * 9 / 10
}

// ServeWS upgrades the connection and runs it to completion. An invalid or
// absent session credential downgrades to anonymous participation instead
// of rejecting the upgrade.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	const op = "chat.Handler.ServeWS"

	log := h.log.With(slog.String("op", op))

	cl := h.identify(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", sl.Err(err))
		return
	}

	cl.conn = conn
	cl.log = h.log.With(
		slog.String("client_id", cl.id),
		slog.String("username", cl.name),
	)

	h.wg.Add(1)
	defer h.wg.Done()

	h.handle(cl)
}

// identify extracts a session credential from any cookie whose name
// contains "session_token" and falls back to an anonymous identity.
func (h *Handler) identify(r *http.Request) *client {
	for _, cookie := range r.Cookies() {
		if !strings.Contains(cookie.Name, "session_token") {
			continue
		}

		_, user, err := h.auth.Authenticate(r.Context(), cookie.Value)
		if err != nil {
			h.log.Warn("session credential rejected, downgrading to anonymous", sl.Err(err))
			break
		}

		return &client{
			id:     user.ID,
			userID: user.ID,
			name:   user.Name,
		}
	}

	id := fmt.Sprintf("anon_%d", time.Now().UnixMilli())
	return &client{
		id:   id,
		name: "Anonymous" + id[5:9],
	}
}

func (h *Handler) handle(cl *client) {
	// Subscribe before announcing the join so this connection sees its own
	// join frame; everything published earlier stays invisible to it.
	cl.sub = h.broadcaster.Subscribe()

	h.registry.Add(cl.id, cl.name)
	h.announce(cl.log, JoinedEnvelope(cl.name), &models.ChatEvent{
		UserID:    cl.userID,
		Username:  cl.name,
		EventType: models.EventUserJoined,
		Timestamp: time.Now().UTC(),
	})

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	// Closing the wire connection is what unblocks a reader stuck in
	// ReadMessage, so cancellation never waits on further network I/O.
	go func() {
		<-ctx.Done()
		_ = cl.conn.Close()
	}()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		defer cancel()
		cl.writePump(ctx, h)
	}()
	go func() {
		defer pumps.Done()
		defer cancel()
		cl.readPump(ctx, h)
	}()
	pumps.Wait()

	cl.sub.Close()

	// Remove reports presence, so the leave side effects run exactly once
	// even if this path is ever raced.
	if h.registry.Remove(cl.id) {
		h.announce(cl.log, LeftEnvelope(cl.name), &models.ChatEvent{
			UserID:    cl.userID,
			Username:  cl.name,
			EventType: models.EventUserLeft,
			Timestamp: time.Now().UTC(),
		})
	}

	cl.log.Info("client disconnected")
}

// announce persists a presence event and broadcasts its frame. A failed
// append is logged; live delivery always proceeds.
func (h *Handler) announce(log *slog.Logger, env Envelope, event *models.ChatEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if _, err := h.events.Append(ctx, event); err != nil {
		log.Warn("failed to save presence event", sl.Err(err))
	}

	frame, err := env.Encode()
	if err != nil {
		log.Error("failed to encode presence frame", sl.Err(err))
		return
	}

	h.broadcaster.Publish(frame)
}

// Shutdown cancels every live connection and waits for their handlers to
// finish, up to the timeout.
func (h *Handler) Shutdown(timeout time.Duration) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

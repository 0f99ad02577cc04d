package history

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chat_service/internal/auth"
	"chat_service/internal/chat"
	"chat_service/internal/http_server/handlers/verify"
	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger"
	"chat_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Events []models.ChatEvent `json:"events"`
}

// New returns recent chat events in chronological order. History is only
// served to authenticated sessions; live fanout stays open to anonymous
// participants.
func New(
	log *slog.Logger,
	authService chat.Authenticator,
	events chat.EventStore,
	defaultLimit int,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.history.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		cookie, err := r.Cookie(verify.SessionCookie)
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not signed in"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if _, _, err := authService.Authenticate(ctx, cookie.Value); err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid session"))

				return
			}

			log.Error("failed to authenticate session", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("limit must be a positive integer"))

				return
			}
			limit = parsed
		}

		recent, err := events.Recent(ctx, limit)
		if err != nil {
			log.Error("failed to load chat history", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		if recent == nil {
			recent = []models.ChatEvent{}
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Events:   recent,
		})
	}
}

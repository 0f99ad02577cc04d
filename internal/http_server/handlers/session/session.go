package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chat_service/internal/auth"
	"chat_service/internal/http_server/handlers/verify"
	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger"
	"chat_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	User    *models.User `json:"user"`
	Expires time.Time    `json:"expires"`
}

type Authenticator interface {
	Authenticate(ctx context.Context, sessionToken string) (*models.Session, *models.User, error)
}

// New reports the caller's current session, resolved from the cookie.
func New(
	log *slog.Logger,
	authService Authenticator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.session.New"

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

		sess, user, err := authService.Authenticate(ctx, cookie.Value)
		if err != nil {
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

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     user,
			Expires:  sess.Expires,
		})
	}
}

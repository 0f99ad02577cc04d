package logout

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

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
}

type LogoutProvider interface {
	Logout(ctx context.Context, sessionToken string) error
}

func New(
	log *slog.Logger,
	authService LogoutProvider,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

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

		if err := authService.Logout(ctx, cookie.Value); err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				clearSessionCookie(w)

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid session"))

				return
			}

			log.Error("failed to logout user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		clearSessionCookie(w)

		log.Info("user logged out successfully")

		render.JSON(w, r, Response{Response: resp.OK()})
	}
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     verify.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

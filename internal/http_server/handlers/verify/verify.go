package verify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chat_service/internal/auth"
	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger"
	"chat_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// SessionCookie is the credential cookie set on successful verification.
const SessionCookie = "session_token"

type Response struct {
	resp.Response
	User *models.User `json:"user,omitempty"`
}

type CallbackProvider interface {
	Callback(ctx context.Context, email, token string) (*models.Session, *models.User, error)
}

// New handles the sign-in link: it redeems the one-time token and plants
// the session cookie.
func New(
	log *slog.Logger,
	authService CallbackProvider,
	secureCookie bool,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verify.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		token := r.URL.Query().Get("token")
		email := r.URL.Query().Get("email")

		if token == "" || email == "" {
			log.Warn("missing token or email parameter")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("token and email are required"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		session, user, err := authService.Callback(ctx, email, token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenNotFound) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("token not found"))

				return
			}
			if errors.Is(err, auth.ErrTokenExpired) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("token has expired"))

				return
			}

			log.Error("failed to verify token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    session.SessionToken,
			Path:     "/",
			Expires:  session.Expires,
			HttpOnly: true,
			Secure:   secureCookie,
			SameSite: http.SameSiteLaxMode,
		})

		log.Info("user verified", slog.String("user_id", user.ID))

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     user,
		})
	}
}

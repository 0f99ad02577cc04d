package signin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email       string `json:"email" validate:"required,email"`
	CallbackURL string `json:"callback_url,omitempty" validate:"omitempty,url"`
}

type Response struct {
	resp.Response
}

type SignInProvider interface {
	SignIn(ctx context.Context, email, callbackURL string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService SignInProvider,
	defaultCallbackURL string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.signin.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		log.Info("Request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		callbackURL := req.CallbackURL
		if callbackURL == "" {
			callbackURL = defaultCallbackURL
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := authService.SignIn(ctx, req.Email, callbackURL); err != nil {
			log.Error("failed to start sign-in", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("Sign-in link queued")

		render.JSON(w, r, Response{Response: resp.OK()})
	}
}

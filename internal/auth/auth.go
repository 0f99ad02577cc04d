package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	sl "chat_service/internal/lib/logger"
	"chat_service/internal/models"
	"chat_service/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrTokenNotFound   = errors.New("verification token not found")
	ErrTokenExpired    = errors.New("verification token expired")
	ErrUnauthenticated = errors.New("unauthenticated")
)

type TokenRepo interface {
	Save(ctx context.Context, identifier, token string, expires time.Time) (*models.VerificationToken, error)
	Take(ctx context.Context, identifier, token string) (*models.VerificationToken, error)
}

type SessionRepo interface {
	Save(ctx context.Context, userID, token string, expires time.Time) (*models.Session, error)
	ByToken(ctx context.Context, token string) (*models.Session, error)
	DeleteByToken(ctx context.Context, token string) (*models.Session, error)
	UpdateExpiry(ctx context.Context, token string, expires time.Time) (*models.Session, error)
}

type UserRepo interface {
	Save(ctx context.Context, name, email string) (*models.User, error)
	ByID(ctx context.Context, id string) (*models.User, error)
	ByEmail(ctx context.Context, email string) (*models.User, error)
	SetEmailVerified(ctx context.Context, id string) (*models.User, error)
}

type Publisher interface {
	SendMessage(ctx context.Context, msg models.EmailMessage) error
}

type Auth struct {
	log        *slog.Logger
	tokens     TokenRepo
	sessions   SessionRepo
	users      UserRepo
	emails     Publisher
	tokenTTL   time.Duration
	sessionTTL time.Duration
}

func New(
	log *slog.Logger,
	tokens TokenRepo,
	sessions SessionRepo,
	users UserRepo,
	emails Publisher,
	tokenTTL, sessionTTL time.Duration,
) *Auth {
	return &Auth{
		log:        log,
		tokens:     tokens,
		sessions:   sessions,
		users:      users,
		emails:     emails,
		tokenTTL:   tokenTTL,
		sessionTTL: sessionTTL,
	}
}

// SignIn mints a one-time verification token for the address and queues the
// redemption link. Concurrent sign-ins for the same address each get their
// own token; none invalidates another.
func (a *Auth) SignIn(ctx context.Context, email, callbackURL string) error {
	const op = "auth.SignIn"

	log := a.log.With(slog.String("op", op))

	token, err := a.tokens.Save(ctx, email, uuid.NewString(), time.Now().Add(a.tokenTTL))
	if err != nil {
		log.Error("failed to create verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	link := fmt.Sprintf("%s?token=%s&email=%s",
		callbackURL,
		url.QueryEscape(token.Token),
		url.QueryEscape(email),
	)

	msg := models.EmailMessage{
		Email:   email,
		Link:    link,
		Subject: "Your sign-in link",
	}

	if err := a.emails.SendMessage(ctx, msg); err != nil {
		log.Error("failed to queue sign-in email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("sign-in link queued")

	return nil
}

// Callback redeems the token and returns a fresh session for the owning
// user, creating the account on first sign-in. The token row is consumed
// even when redemption fails with ErrTokenExpired.
func (a *Auth) Callback(ctx context.Context, email, token string) (*models.Session, *models.User, error) {
	const op = "auth.Callback"

	log := a.log.With(slog.String("op", op))

	if _, err := a.tokens.Take(ctx, email, token); err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			log.Warn("verification token not found")
			return nil, nil, ErrTokenNotFound
		case errors.Is(err, storage.ErrTokenExpired):
			log.Warn("verification token expired")
			return nil, nil, ErrTokenExpired
		}

		log.Error("failed to redeem verification token", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.getOrCreateUser(ctx, email)
	if err != nil {
		log.Error("failed to resolve user", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.EmailVerified == nil {
		if verified, err := a.users.SetEmailVerified(ctx, user.ID); err != nil {
			log.Warn("failed to stamp email_verified", sl.Err(err))
		} else {
			user = verified
		}
	}

	session, err := a.sessions.Save(ctx, user.ID, uuid.NewString(), time.Now().Add(a.sessionTTL))
	if err != nil {
		log.Error("failed to create session", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user signed in", slog.String("user_id", user.ID))

	return session, user, nil
}

// Authenticate resolves a session credential to its session and user.
// Lapsed sessions are rejected and removed.
func (a *Auth) Authenticate(ctx context.Context, sessionToken string) (*models.Session, *models.User, error) {
	const op = "auth.Authenticate"

	log := a.log.With(slog.String("op", op))

	session, err := a.sessions.ByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, nil, ErrUnauthenticated
		}

		log.Error("failed to look up session", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if session.IsExpired() {
		if _, err := a.sessions.DeleteByToken(ctx, sessionToken); err != nil {
			log.Warn("failed to drop lapsed session", sl.Err(err))
		}
		return nil, nil, ErrUnauthenticated
	}

	user, err := a.users.ByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil, ErrUnauthenticated
		}

		log.Error("failed to load session user", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return session, user, nil
}

func (a *Auth) Logout(ctx context.Context, sessionToken string) error {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))

	if _, err := a.sessions.DeleteByToken(ctx, sessionToken); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return ErrUnauthenticated
		}

		log.Error("failed to delete session", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out")

	return nil
}

// Refresh extends the session's expiry by a full session TTL.
func (a *Auth) Refresh(ctx context.Context, sessionToken string) (*models.Session, error) {
	const op = "auth.Refresh"

	session, err := a.sessions.UpdateExpiry(ctx, sessionToken, time.Now().Add(a.sessionTTL))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

func (a *Auth) getOrCreateUser(ctx context.Context, email string) (*models.User, error) {
	user, err := a.users.ByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}

	user, err = a.users.Save(ctx, nameFromEmail(email), email)
	if err != nil {
		// Another sign-in for the same address may have won the race.
		if errors.Is(err, storage.ErrUserExists) {
			return a.users.ByEmail(ctx, email)
		}
		return nil, err
	}

	return user, nil
}

func nameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

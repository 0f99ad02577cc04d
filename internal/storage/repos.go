package storage

import (
	"context"
	"fmt"
	"time"

	"chat_service/internal/models"
)

// Typed repositories over the narrow Store contract. Services depend on
// small consumer interfaces that these satisfy; nothing above this file
// knows which backend is wired in.

type Tokens struct {
	store Store
}

func NewTokens(store Store) *Tokens {
	return &Tokens{store: store}
}

func (t *Tokens) Save(ctx context.Context, identifier, token string, expires time.Time) (*models.VerificationToken, error) {
	const op = "storage.Tokens.Save"

	content := models.VerificationToken{
		Identifier: identifier,
		Token:      token,
		Expires:    expires.UTC(),
	}

	rec, err := t.store.Create(ctx, TableVerificationToken, content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return decodeToken(rec)
}

// Take atomically removes the matching token row and returns its prior
// value. The row is consumed even when the token turns out to be expired,
// so an expired token cannot be retried.
func (t *Tokens) Take(ctx context.Context, identifier, token string) (*models.VerificationToken, error) {
	const op = "storage.Tokens.Take"

	recs, err := t.store.Query(ctx, StmtTakeVerificationToken, Bindings{
		"identifier": identifier,
		"token":      token,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(recs) == 0 {
		return nil, ErrTokenNotFound
	}

	taken, err := decodeToken(&recs[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if taken.IsExpired() {
		return nil, ErrTokenExpired
	}

	return taken, nil
}

func decodeToken(rec *Record) (*models.VerificationToken, error) {
	var tok models.VerificationToken
	if err := rec.Decode(&tok); err != nil {
		return nil, err
	}
	tok.ID = rec.ID
	return &tok, nil
}

type Sessions struct {
	store Store
}

func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

func (s *Sessions) Save(ctx context.Context, userID, token string, expires time.Time) (*models.Session, error) {
	const op = "storage.Sessions.Save"

	content := models.Session{
		UserID:       userID,
		SessionToken: token,
		Expires:      expires.UTC(),
	}

	rec, err := s.store.Create(ctx, TableSession, content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return decodeSession(rec)
}

func (s *Sessions) ByToken(ctx context.Context, token string) (*models.Session, error) {
	const op = "storage.Sessions.ByToken"

	recs, err := s.store.Query(ctx, StmtSessionByToken, Bindings{"session_token": token})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(recs) == 0 {
		return nil, ErrSessionNotFound
	}

	return decodeSession(&recs[0])
}

func (s *Sessions) DeleteByToken(ctx context.Context, token string) (*models.Session, error) {
	const op = "storage.Sessions.DeleteByToken"

	recs, err := s.store.Query(ctx, StmtDeleteSessionByToken, Bindings{"session_token": token})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(recs) == 0 {
		return nil, ErrSessionNotFound
	}

	return decodeSession(&recs[0])
}

func (s *Sessions) UpdateExpiry(ctx context.Context, token string, expires time.Time) (*models.Session, error) {
	const op = "storage.Sessions.UpdateExpiry"

	recs, err := s.store.Query(ctx, StmtUpdateSessionExpiry, Bindings{
		"session_token": token,
		"expires":       expires.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(recs) == 0 {
		return nil, ErrSessionNotFound
	}

	return decodeSession(&recs[0])
}

func decodeSession(rec *Record) (*models.Session, error) {
	var sess models.Session
	if err := rec.Decode(&sess); err != nil {
		return nil, err
	}
	sess.ID = rec.ID
	return &sess, nil
}

type Users struct {
	store Store
}

func NewUsers(store Store) *Users {
	return &Users{store: store}
}

func (u *Users) Save(ctx context.Context, name, email string) (*models.User, error) {
	const op = "storage.Users.Save"

	content := models.User{
		Name:  name,
		Email: email,
	}

	rec, err := u.store.Create(ctx, TableUser, content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return decodeUser(rec)
}

func (u *Users) ByID(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.Users.ByID"

	rec, err := u.store.Select(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rec == nil || rec.Table != TableUser {
		return nil, ErrUserNotFound
	}

	return decodeUser(rec)
}

func (u *Users) ByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.Users.ByEmail"

	recs, err := u.store.Query(ctx, StmtUserByEmail, Bindings{"email": email})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(recs) == 0 {
		return nil, ErrUserNotFound
	}

	return decodeUser(&recs[0])
}

func (u *Users) SetEmailVerified(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.Users.SetEmailVerified"

	recs, err := u.store.Query(ctx, StmtVerifyUserEmail, Bindings{
		"id":       id,
		"verified": time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(recs) == 0 {
		return nil, ErrUserNotFound
	}

	return decodeUser(&recs[0])
}

func decodeUser(rec *Record) (*models.User, error) {
	var usr models.User
	if err := rec.Decode(&usr); err != nil {
		return nil, err
	}
	usr.ID = rec.ID
	return &usr, nil
}

type Events struct {
	store Store
}

func NewEvents(store Store) *Events {
	return &Events{store: store}
}

func (e *Events) Append(ctx context.Context, event *models.ChatEvent) (*models.ChatEvent, error) {
	const op = "storage.Events.Append"

	content := *event
	content.ID = ""
	if content.Timestamp.IsZero() {
		content.Timestamp = time.Now().UTC()
	}

	rec, err := e.store.Create(ctx, TableChatEvent, content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var created models.ChatEvent
	if err := rec.Decode(&created); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	created.ID = rec.ID

	return &created, nil
}

// Recent returns up to limit events in chronological order.
func (e *Events) Recent(ctx context.Context, limit int) ([]models.ChatEvent, error) {
	const op = "storage.Events.Recent"

	recs, err := e.store.Query(ctx, StmtRecentChatEvents, Bindings{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// The statement yields newest first; flip to chronological.
	events := make([]models.ChatEvent, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		var ev models.ChatEvent
		if err := recs[i].Decode(&ev); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ev.ID = recs[i].ID
		events = append(events, ev)
	}

	return events, nil
}

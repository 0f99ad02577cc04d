package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrTokenNotFound      = errors.New("verification token not found")
	ErrTokenExpired       = errors.New("verification token expired")
	ErrSessionNotFound    = errors.New("session not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnknownStatement   = errors.New("unknown query statement")
)

// Tables of the document store.
const (
	TableUser              = "user"
	TableVerificationToken = "verification_token"
	TableSession           = "session"
	TableChatEvent         = "chat_event"
)

// Named query statements. Every backend must implement all of them;
// repositories never hand backend syntax to the store.
const (
	// StmtTakeVerificationToken deletes the row matching the identifier and
	// token bindings and returns its prior value in a single storage
	// operation. Under concurrent redemption at most one caller gets a row.
	StmtTakeVerificationToken = "take_verification_token"

	// StmtSessionByToken returns the session row whose session_token matches.
	StmtSessionByToken = "session_by_token"

	// StmtDeleteSessionByToken deletes the matching session and returns its
	// prior value.
	StmtDeleteSessionByToken = "delete_session_by_token"

	// StmtUpdateSessionExpiry sets expires on the matching session and
	// returns the updated row. Bindings: session_token, expires.
	StmtUpdateSessionExpiry = "update_session_expiry"

	// StmtUserByEmail returns the user row whose email matches.
	StmtUserByEmail = "user_by_email"

	// StmtVerifyUserEmail stamps email_verified on the user row with the
	// bound id and returns the updated row. Bindings: id, verified.
	StmtVerifyUserEmail = "verify_user_email"

	// StmtRecentChatEvents returns up to limit chat events, newest first.
	StmtRecentChatEvents = "recent_chat_events"
)

type Bindings map[string]any

// Record is one stored document.
type Record struct {
	ID        string
	Table     string
	Data      json.RawMessage
	CreatedAt time.Time
}

func (r *Record) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// Store is the narrow capability contract every backend implements.
// Select and Delete return (nil, nil) when no row matches; Delete returns
// the prior value of the deleted row.
type Store interface {
	Create(ctx context.Context, table string, content any) (*Record, error)
	Select(ctx context.Context, id string) (*Record, error)
	Query(ctx context.Context, statement string, bindings Bindings) ([]Record, error)
	Delete(ctx context.Context, id string) (*Record, error)
}

package models

import "time"

type User struct {
	ID            string     `json:"id,omitempty"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	EmailVerified *time.Time `json:"email_verified,omitempty"`
	Image         string     `json:"image,omitempty"`
}

// VerificationToken is a single-use opaque secret proving control of an
// identifier. It is consumed by an atomic delete-and-return, so two
// concurrent redemptions can never both succeed.
type VerificationToken struct {
	ID         string    `json:"id,omitempty"`
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}

func (t *VerificationToken) IsExpired() bool {
	return t.Expires.Before(time.Now())
}

// Session is a long-lived opaque credential bound to a user.
type Session struct {
	ID           string    `json:"id,omitempty"`
	UserID       string    `json:"user_id"`
	SessionToken string    `json:"session_token"`
	Expires      time.Time `json:"expires"`
}

func (s *Session) IsExpired() bool {
	return s.Expires.Before(time.Now())
}

type ChatEventType string

const (
	EventMessage    ChatEventType = "Message"
	EventUserJoined ChatEventType = "UserJoined"
	EventUserLeft   ChatEventType = "UserLeft"
)

// ChatEvent is one append-only row of the chat log. UserID is empty for
// anonymous participants.
type ChatEvent struct {
	ID        string        `json:"id,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	Username  string        `json:"username"`
	EventType ChatEventType `json:"event_type"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EmailMessage is the payload published to the mail queue.
type EmailMessage struct {
	Email   string `json:"to"`
	Link    string `json:"link"`
	Subject string `json:"subject"`
}

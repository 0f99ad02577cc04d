package chat

import (
	"encoding/json"
	"errors"
	"time"

	"chat_service/internal/models"
)

// AnonymousUserID stands in for user_id on messages from unauthenticated
// participants.
const AnonymousUserID = "user:anonymous"

var ErrEmptyEnvelope = errors.New("envelope carries no variant")

// Presence is the payload of join and leave frames.
type Presence struct {
	Username string `json:"username"`
}

// WireMessage is the payload of chat message frames.
type WireMessage struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Envelope is the frame format on the wire: an externally tagged union,
// exactly one of the variants set. It marshals as
// {"UserJoined":{"username":...}}, {"UserLeft":{...}} or {"Message":{...}}.
type Envelope struct {
	UserJoined *Presence    `json:"UserJoined,omitempty"`
	UserLeft   *Presence    `json:"UserLeft,omitempty"`
	Message    *WireMessage `json:"Message,omitempty"`
}

func JoinedEnvelope(username string) Envelope {
	return Envelope{UserJoined: &Presence{Username: username}}
}

func LeftEnvelope(username string) Envelope {
	return Envelope{UserLeft: &Presence{Username: username}}
}

func MessageEnvelope(userID, username, message string, ts time.Time) Envelope {
	if userID == "" {
		userID = AnonymousUserID
	}
	return Envelope{Message: &WireMessage{
		UserID:    userID,
		Username:  username,
		Message:   message,
		Timestamp: ts.Format(time.RFC3339),
	}}
}

// Event converts the envelope to its persisted form.
func (e Envelope) Event() (*models.ChatEvent, error) {
	switch {
	case e.UserJoined != nil:
		return &models.ChatEvent{
			Username:  e.UserJoined.Username,
			EventType: models.EventUserJoined,
		}, nil
	case e.UserLeft != nil:
		return &models.ChatEvent{
			Username:  e.UserLeft.Username,
			EventType: models.EventUserLeft,
		}, nil
	case e.Message != nil:
		ts, err := time.Parse(time.RFC3339, e.Message.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}
		userID := e.Message.UserID
		if userID == AnonymousUserID {
			userID = ""
		}
		return &models.ChatEvent{
			UserID:    userID,
			Username:  e.Message.Username,
			EventType: models.EventMessage,
			Message:   e.Message.Message,
			Timestamp: ts,
		}, nil
	}

	return nil, ErrEmptyEnvelope
}

func (e Envelope) Encode() ([]byte, error) {
	if e.UserJoined == nil && e.UserLeft == nil && e.Message == nil {
		return nil, ErrEmptyEnvelope
	}
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	if e.UserJoined == nil && e.UserLeft == nil && e.Message == nil {
		return Envelope{}, ErrEmptyEnvelope
	}
	return e, nil
}

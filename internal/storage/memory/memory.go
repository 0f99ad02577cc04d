package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat_service/internal/storage"

	"github.com/google/uuid"
)

// MemoryStore is the in-process backend used for development and tests.
// It implements the same statement set as the postgres backend.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]storage.Record
	order   []string
}

func New() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]storage.Record),
	}
}

func (s *MemoryStore) Create(_ context.Context, table string, content any) (*storage.Record, error) {
	const op = "storage.memory.Create"

	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if table == storage.TableUser {
		email := fieldOf(data, "email")
		for _, id := range s.order {
			rec := s.records[id]
			if rec.Table == storage.TableUser && fieldOf(rec.Data, "email") == email {
				return nil, storage.ErrUserExists
			}
		}
	}

	rec := storage.Record{
		ID:        table + ":" + uuid.NewString(),
		Table:     table,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)

	return &rec, nil
}

func (s *MemoryStore) Select(_ context.Context, id string) (*storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}

	return &rec, nil
}

func (s *MemoryStore) Query(_ context.Context, statement string, b storage.Bindings) ([]storage.Record, error) {
	const op = "storage.memory.Query"

	s.mu.Lock()
	defer s.mu.Unlock()

	switch statement {
	case storage.StmtTakeVerificationToken:
		identifier, _ := b["identifier"].(string)
		token, _ := b["token"].(string)
		for _, id := range s.order {
			rec := s.records[id]
			if rec.Table != storage.TableVerificationToken {
				continue
			}
			if fieldOf(rec.Data, "identifier") == identifier && fieldOf(rec.Data, "token") == token {
				s.remove(id)
				return []storage.Record{rec}, nil
			}
		}
		return nil, nil

	case storage.StmtSessionByToken:
		return s.matchField(storage.TableSession, "session_token", b["session_token"]), nil

	case storage.StmtDeleteSessionByToken:
		matched := s.matchField(storage.TableSession, "session_token", b["session_token"])
		for _, rec := range matched {
			s.remove(rec.ID)
		}
		return matched, nil

	case storage.StmtUpdateSessionExpiry:
		matched := s.matchField(storage.TableSession, "session_token", b["session_token"])
		if len(matched) == 0 {
			return nil, nil
		}
		rec := matched[0]
		updated, err := setField(rec.Data, "expires", b["expires"])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rec.Data = updated
		s.records[rec.ID] = rec
		return []storage.Record{rec}, nil

	case storage.StmtUserByEmail:
		return s.matchField(storage.TableUser, "email", b["email"]), nil

	case storage.StmtVerifyUserEmail:
		id, _ := b["id"].(string)
		rec, ok := s.records[id]
		if !ok || rec.Table != storage.TableUser {
			return nil, nil
		}
		updated, err := setField(rec.Data, "email_verified", b["verified"])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rec.Data = updated
		s.records[rec.ID] = rec
		return []storage.Record{rec}, nil

	case storage.StmtRecentChatEvents:
		limit := asInt(b["limit"])
		var events []storage.Record
		for _, id := range s.order {
			rec := s.records[id]
			if rec.Table == storage.TableChatEvent {
				events = append(events, rec)
			}
		}
		// Newest first; repositories flip to chronological.
		sort.SliceStable(events, func(i, j int) bool {
			ti := eventTime(events[i])
			tj := eventTime(events[j])
			return ti.After(tj)
		})
		if limit > 0 && len(events) > limit {
			events = events[:limit]
		}
		return events, nil
	}

	return nil, fmt.Errorf("%s: %w: %s", op, storage.ErrUnknownStatement, statement)
}

func (s *MemoryStore) Delete(_ context.Context, id string) (*storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	s.remove(id)

	return &rec, nil
}

// remove expects s.mu to be held.
func (s *MemoryStore) remove(id string) {
	delete(s.records, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// matchField expects s.mu to be held.
func (s *MemoryStore) matchField(table, field string, want any) []storage.Record {
	wantStr, _ := want.(string)

	var matched []storage.Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Table == table && fieldOf(rec.Data, field) == wantStr {
			matched = append(matched, rec)
		}
	}

	return matched
}

func fieldOf(data json.RawMessage, field string) string {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	v, _ := m[field].(string)
	return v
}

func setField(data json.RawMessage, field string, value any) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m[field] = value
	return json.Marshal(m)
}

func eventTime(rec storage.Record) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, fieldOf(rec.Data, "timestamp"))
	if err != nil {
		return rec.CreatedAt
	}
	return ts
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

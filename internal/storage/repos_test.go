package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_service/internal/models"
	"chat_service/internal/storage"
	"chat_service/internal/storage/memory"
)

func TestTokensTakeConsumesRow(t *testing.T) {
	tokens := storage.NewTokens(memory.New())
	ctx := context.Background()

	saved, err := tokens.Save(ctx, "alice@example.com", "tok-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	taken, err := tokens.Take(ctx, "alice@example.com", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", taken.Token)
	assert.Equal(t, "alice@example.com", taken.Identifier)

	_, err = tokens.Take(ctx, "alice@example.com", "tok-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestTokensTakeRequiresMatchingIdentifier(t *testing.T) {
	tokens := storage.NewTokens(memory.New())
	ctx := context.Background()

	_, err := tokens.Save(ctx, "alice@example.com", "tok-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = tokens.Take(ctx, "mallory@example.com", "tok-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	// The mismatch left the real row untouched.
	_, err = tokens.Take(ctx, "alice@example.com", "tok-1")
	assert.NoError(t, err)
}

func TestTokensTakeExpiredConsumesRow(t *testing.T) {
	tokens := storage.NewTokens(memory.New())
	ctx := context.Background()

	_, err := tokens.Save(ctx, "alice@example.com", "tok-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = tokens.Take(ctx, "alice@example.com", "tok-1")
	assert.ErrorIs(t, err, storage.ErrTokenExpired)

	_, err = tokens.Take(ctx, "alice@example.com", "tok-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestSessionsLifecycle(t *testing.T) {
	sessions := storage.NewSessions(memory.New())
	ctx := context.Background()

	expires := time.Now().Add(24 * time.Hour).UTC()

	saved, err := sessions.Save(ctx, "user:alice", "sess-1", expires)
	require.NoError(t, err)
	assert.Equal(t, "user:alice", saved.UserID)

	got, err := sessions.ByToken(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.WithinDuration(t, expires, got.Expires, time.Second)

	later := expires.Add(24 * time.Hour)
	updated, err := sessions.UpdateExpiry(ctx, "sess-1", later)
	require.NoError(t, err)
	assert.WithinDuration(t, later, updated.Expires, time.Second)

	deleted, err := sessions.DeleteByToken(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, deleted.ID)

	_, err = sessions.ByToken(ctx, "sess-1")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	_, err = sessions.DeleteByToken(ctx, "sess-1")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	_, err = sessions.UpdateExpiry(ctx, "sess-1", later)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestUsersSaveAndLookup(t *testing.T) {
	users := storage.NewUsers(memory.New())
	ctx := context.Background()

	saved, err := users.Save(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, saved.ID, storage.TableUser+":")
	assert.Nil(t, saved.EmailVerified)

	byID, err := users.ByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Name)

	byEmail, err := users.ByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byEmail.ID)

	_, err = users.ByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = users.ByID(ctx, "user:nope")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUsersDuplicateEmail(t *testing.T) {
	users := storage.NewUsers(memory.New())
	ctx := context.Background()

	_, err := users.Save(ctx, "alice", "alice@example.com")
	require.NoError(t, err)

	_, err = users.Save(ctx, "also-alice", "alice@example.com")
	assert.ErrorIs(t, err, storage.ErrUserExists)
}

func TestUsersByIDRejectsForeignTable(t *testing.T) {
	store := memory.New()
	users := storage.NewUsers(store)
	sessions := storage.NewSessions(store)
	ctx := context.Background()

	sess, err := sessions.Save(ctx, "user:alice", "sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = users.ByID(ctx, sess.ID)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUsersSetEmailVerified(t *testing.T) {
	users := storage.NewUsers(memory.New())
	ctx := context.Background()

	saved, err := users.Save(ctx, "alice", "alice@example.com")
	require.NoError(t, err)

	verified, err := users.SetEmailVerified(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, verified.EmailVerified)
	assert.WithinDuration(t, time.Now(), *verified.EmailVerified, time.Minute)

	_, err = users.SetEmailVerified(ctx, "user:nope")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestEventsAppendFillsTimestamp(t *testing.T) {
	events := storage.NewEvents(memory.New())
	ctx := context.Background()

	created, err := events.Append(ctx, &models.ChatEvent{
		Username:  "alice",
		EventType: models.EventUserJoined,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Timestamp.IsZero())
}

func TestEventsRecentIsChronological(t *testing.T) {
	events := storage.NewEvents(memory.New())
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := events.Append(ctx, &models.ChatEvent{
			Username:  "alice",
			EventType: models.EventMessage,
			Message:   fmt.Sprintf("m%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	got, err := events.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, ev := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), ev.Message)
	}
}

func TestEventsRecentOrdersSubSecondNeighbors(t *testing.T) {
	events := storage.NewEvents(memory.New())
	ctx := context.Background()

	// Adjacent instants inside one second, chosen so their RFC3339
	// encodings sort backwards as text.
	earlier := time.Date(2026, 5, 1, 12, 0, 0, 500_000_000, time.UTC)
	later := time.Date(2026, 5, 1, 12, 0, 0, 510_000_000, time.UTC)

	for _, ev := range []struct {
		msg string
		ts  time.Time
	}{
		{"first", earlier},
		{"second", later},
	} {
		_, err := events.Append(ctx, &models.ChatEvent{
			Username:  "alice",
			EventType: models.EventMessage,
			Message:   ev.msg,
			Timestamp: ev.ts,
		})
		require.NoError(t, err)
	}

	got, err := events.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[1].Message)
}

func TestEventsRecentLimitKeepsNewest(t *testing.T) {
	events := storage.NewEvents(memory.New())
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := events.Append(ctx, &models.ChatEvent{
			Username:  "alice",
			EventType: models.EventMessage,
			Message:   fmt.Sprintf("m%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	got, err := events.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].Message)
	assert.Equal(t, "m3", got[1].Message)
	assert.Equal(t, "m4", got[2].Message)
}

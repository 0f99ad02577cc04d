package session_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_service/internal/auth"
	"chat_service/internal/http_server/handlers/session"
	"chat_service/internal/http_server/handlers/verify"
	resp "chat_service/internal/lib/api/response"
	"chat_service/internal/models"
)

type fakeAuth struct {
	session *models.Session
	user    *models.User
	err     error
}

func (f *fakeAuth) Authenticate(_ context.Context, _ string) (*models.Session, *models.User, error) {
	return f.session, f.user, f.err
}

func get(t *testing.T, provider *fakeAuth, sessionToken string) *httptest.ResponseRecorder {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := session.New(log, provider)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	if sessionToken != "" {
		req.AddCookie(&http.Cookie{Name: verify.SessionCookie, Value: sessionToken})
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestSessionSuccess(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	provider := &fakeAuth{
		session: &models.Session{SessionToken: "sess-1", Expires: expires},
		user:    &models.User{ID: "user:alice", Name: "alice"},
	}

	rr := get(t, provider, "sess-1")

	require.Equal(t, http.StatusOK, rr.Code)

	var body session.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, resp.StatusOK, body.Status)
	require.NotNil(t, body.User)
	assert.Equal(t, "alice", body.User.Name)
	assert.True(t, body.Expires.Equal(expires))
}

func TestSessionWithoutCookie(t *testing.T) {
	rr := get(t, &fakeAuth{}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionUnauthenticated(t *testing.T) {
	rr := get(t, &fakeAuth{err: auth.ErrUnauthenticated}, "stale")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionInternalError(t *testing.T) {
	rr := get(t, &fakeAuth{err: assert.AnError}, "sess-1")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

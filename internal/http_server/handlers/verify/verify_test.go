package verify_test

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
	"chat_service/internal/http_server/handlers/verify"
	resp "chat_service/internal/lib/api/response"
	"chat_service/internal/models"
)

type fakeCallback struct {
	session *models.Session
	user    *models.User
	err     error

	gotEmail string
	gotToken string
}

func (f *fakeCallback) Callback(_ context.Context, email, token string) (*models.Session, *models.User, error) {
	f.gotEmail = email
	f.gotToken = token
	return f.session, f.user, f.err
}

func get(t *testing.T, provider *fakeCallback, target string) *httptest.ResponseRecorder {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := verify.New(log, provider, false)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestVerifySuccessSetsSessionCookie(t *testing.T) {
	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	provider := &fakeCallback{
		session: &models.Session{SessionToken: "sess-1", Expires: expires},
		user:    &models.User{ID: "user:alice", Name: "alice", Email: "alice@example.com"},
	}

	rr := get(t, provider, "/verify?token=tok-1&email=alice%40example.com")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice@example.com", provider.gotEmail)
	assert.Equal(t, "tok-1", provider.gotToken)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, verify.SessionCookie, cookie.Name)
	assert.Equal(t, "sess-1", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.WithinDuration(t, expires, cookie.Expires, time.Second)

	var body verify.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, resp.StatusOK, body.Status)
	require.NotNil(t, body.User)
	assert.Equal(t, "alice", body.User.Name)
}

func TestVerifyMissingParams(t *testing.T) {
	for _, target := range []string{"/verify", "/verify?token=tok-1", "/verify?email=a%40b.com"} {
		rr := get(t, &fakeCallback{}, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestVerifyTokenNotFound(t *testing.T) {
	provider := &fakeCallback{err: auth.ErrTokenNotFound}

	rr := get(t, provider, "/verify?token=bogus&email=a%40b.com")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
}

func TestVerifyTokenExpired(t *testing.T) {
	provider := &fakeCallback{err: auth.ErrTokenExpired}

	rr := get(t, provider, "/verify?token=tok-1&email=a%40b.com")

	require.Equal(t, http.StatusUnauthorized, rr.Code)

	var body resp.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "expired")
}

func TestVerifyInternalError(t *testing.T) {
	provider := &fakeCallback{err: assert.AnError}

	rr := get(t, provider, "/verify?token=tok-1&email=a%40b.com")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "resto_session", "secret", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("42")
	sess.Set("branch_scope", "branch:3")

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, nil, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "resto_session", cookies[0].Name)
	require.True(t, mr.Exists("session:"+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "42", loaded.User())
	require.Equal(t, "branch:3", loaded.Get("branch_scope"))

	mr.FastForward(30 * time.Minute)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), req, loaded))
	require.Equal(t, time.Hour, mr.TTL("session:"+sess.ID))

	sm.Destroy(loaded)
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, loaded))
	require.False(t, mr.Exists("session:"+sess.ID))
	require.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestSessionUnknownCookieStartsEmpty(t *testing.T) {
	sm, _ := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "resto_session", Value: "expired"})

	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "expired", sess.ID)
	require.Empty(t, sess.User())
}

func TestCSRFToken(t *testing.T) {
	m := NewCSRFManager("secret")
	sess := &Session{ID: "abc"}
	ctx := context.Background()

	require.ErrorIs(t, m.VerifyToken(ctx, sess, "x"), ErrCSRFTokenMissing)
	token, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, token, again)

	require.NoError(t, m.VerifyToken(ctx, sess, token))
	require.ErrorIs(t, m.VerifyToken(ctx, sess, token+"x"), ErrCSRFTokenMismatch)
	require.ErrorIs(t, m.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)

	other := &Session{ID: "abc"}
	otherToken, err := m.EnsureToken(ctx, other)
	require.NoError(t, err)
	require.NotEqual(t, token, otherToken)
	require.ErrorIs(t, m.VerifyToken(ctx, other, token), ErrCSRFTokenMismatch)

	req := httptest.NewRequest(http.MethodPost, "/ledger/entries", nil)
	req.Header.Set(CSRFHeader, " "+token+" ")
	require.Equal(t, token, m.TokenFromRequest(req))
}

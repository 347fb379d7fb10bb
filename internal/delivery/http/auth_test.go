package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialog_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	_, err := s.shop.Users.EnsureUser(context.Background(), 42)
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/api/users/1/dialog", `{"flow":"admin_top_up"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.do(http.MethodPost, "/api/users/1/dialog/input", `{"text":"42"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(http.MethodPost, "/api/users/1/dialog/input", `{"text":"1000000"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	balance, err := s.shop.Ledger.GetBalance(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	_, ok, err := s.engine.Active(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDialog_TokenForAnotherUserIsForbidden(t *testing.T) {
	s := newTestServer(t)

	rec := s.doAs(t, 7, http.MethodPost, "/api/users/1/dialog", `{"flow":"admin_top_up"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.doAs(t, 7, http.MethodGet, "/api/users/1/orders", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDialog_RejectsBadTokens(t *testing.T) {
	s := newTestServer(t)

	expired, err := s.auth.Issue(1, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other-secret").Issue(1, time.Hour)
	require.NoError(t, err)

	cases := map[string]string{
		"expired":        "Bearer " + expired,
		"wrong secret":   "Bearer " + foreign,
		"garbage":        "Bearer not-a-token",
		"missing scheme": expired,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/users/1/dialog", strings.NewReader(`{"flow":"admin_top_up"}`))
			req.Header.Set("Authorization", header)
			rec := s.serve(req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthenticator(t *testing.T) {
	a := NewAuthenticator("secret")
	token, err := a.Issue(99, time.Hour)
	require.NoError(t, err)

	id, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)

	var disabled *Authenticator
	assert.Nil(t, NewAuthenticator(""))
	_, err = disabled.Validate(token)
	assert.Error(t, err)
	_, err = disabled.Issue(99, time.Hour)
	assert.Error(t, err)
}

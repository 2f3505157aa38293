package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/filter"
	"lambda-dispatch/internal/httperr"
	"lambda-dispatch/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newManager(t *testing.T, at time.Time) *token.Manager {
	t.Helper()
	m, err := token.NewManager("secret", "test", token.WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	return m
}

func contextWithAuth(header string) *filter.Context {
	req := &event.HTTPRequest{}
	req.Headers = map[string]string{}
	if header != "" {
		req.Headers["Authorization"] = header
	}
	return &filter.Context{Event: req}
}

func TestRequireToken(t *testing.T) {
	m := newManager(t, now)
	tok, err := m.Create("alice", nil, []string{"ADMIN"}, 60, nil)
	require.NoError(t, err)

	fc := contextWithAuth("Bearer " + tok)
	ok, err := RequireToken(m)(context.Background(), fc)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, fc.Event.Authorization)
	assert.Equal(t, "alice", fc.Event.Authorization.Subject)
}

func TestRequireTokenFailures(t *testing.T) {
	issuer := newManager(t, now)
	tok, err := issuer.Create("bob", nil, nil, 60, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		checker *token.Manager
		msg     string
	}{
		{"missing", "", issuer, "Missing bearer token"},
		{"wrong scheme", "Basic abc", issuer, "Missing bearer token"},
		{"garbage", "Bearer not-a-token", issuer, "Invalid token"},
		{"expired", "Bearer " + tok, newManager(t, now.Add(2*time.Minute)), "Token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := contextWithAuth(tt.header)
			ok, err := RequireToken(tt.checker)(context.Background(), fc)
			assert.False(t, ok)
			require.Error(t, err)
			assert.Equal(t, http.StatusUnauthorized, httperr.StatusOf(err))
			assert.Equal(t, tt.msg, err.Error())
			assert.Nil(t, fc.Event.Authorization)
		})
	}
}

func TestOptionalToken(t *testing.T) {
	m := newManager(t, now)

	ok, err := OptionalToken(m)(context.Background(), contextWithAuth(""))
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = OptionalToken(m)(context.Background(), contextWithAuth("Bearer junk"))
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httperr.StatusOf(err))
}

func TestRequireAnyRole(t *testing.T) {
	fc := contextWithAuth("")
	ok, err := RequireAnyRole("ADMIN")(context.Background(), fc)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httperr.StatusOf(err))

	fc.Event.Authorization = &token.Claims{Subject: "u", Roles: []string{"USER"}}
	ok, err = RequireAnyRole("ADMIN", "OPS")(context.Background(), fc)
	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, httperr.StatusOf(err))

	ok, err = RequireAnyRole("ADMIN", "USER")(context.Background(), fc)
	assert.True(t, ok)
	assert.NoError(t, err)
}

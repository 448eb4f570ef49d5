package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/itskum47/pulsewire/realtime/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func base64UrlEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func makeToken(t *testing.T, claims Claims) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	body, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64UrlEncode(header) + "." + base64UrlEncode(body) + ".sig"
}

func TestParseClaims(t *testing.T) {
	tok := makeToken(t, Claims{Sub: 7, Admin: true, ExpiresAt: 1700000000})
	c, err := ParseClaims(tok)
	require.NoError(t, err)
	assert.Equal(t, &Claims{Sub: 7, Admin: true, ExpiresAt: 1700000000}, c)

	_, err = ParseClaims("not-a-jwt")
	assert.Error(t, err)
	_, err = ParseClaims("a.!!!.c")
	assert.Error(t, err)
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	fc := clock.Fake(now)
	tok := makeToken(t, Claims{Sub: 1, ExpiresAt: now.Add(time.Minute).Unix()})

	s := NewSession(tok, WithClock(fc))
	assert.Equal(t, tok, s.Token())
	assert.False(t, s.IsExpired())

	fc.Advance(time.Minute)
	assert.True(t, s.IsExpired())
}

func TestSessionSkew(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	tok := makeToken(t, Claims{Sub: 1, ExpiresAt: now.Add(20 * time.Second).Unix()})

	s := NewSession(tok, WithClock(clock.Fake(now)), WithSkew(30*time.Second))
	assert.True(t, s.IsExpired())
}

func TestOpaqueTokenNeverExpires(t *testing.T) {
	s := NewSession("opaque")
	assert.False(t, s.IsExpired())
	assert.Nil(t, s.Claims())
}

func TestLogoutClearsTokenAndRunsHook(t *testing.T) {
	calls := 0
	s := NewSession("opaque", WithLogoutHook(func() { calls++ }))

	s.Logout()
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.Token())
	assert.True(t, s.IsExpired())

	s.SetToken("fresh")
	assert.False(t, s.IsExpired())
}

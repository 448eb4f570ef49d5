// Package auth provides the authentication capability the connection
// manager consumes: the current token, whether it has expired, and a way
// to end the session.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/itskum47/pulsewire/realtime/clock"
)

// Capability is what the connection manager needs from the auth layer.
type Capability interface {
	Token() string
	IsExpired() bool
	Logout()
}

// Claims are the fields the client reads from the server-issued JWT. The
// signature is not verified here; that is the server's job.
type Claims struct {
	Sub       int64 `json:"sub"`
	Admin     bool  `json:"admin"`
	ExpiresAt int64 `json:"exp"`
}

// ParseClaims decodes the payload segment of a JWT.
func ParseClaims(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token format")
	}

	claimsJSON, err := base64UrlDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claims: %w", err)
	}
	return &claims, nil
}

// Session holds the token for one logged-in user.
type Session struct {
	mu       sync.RWMutex
	token    string
	claims   *Claims
	clock    clock.Clock
	skew     time.Duration
	onLogout func()
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithSkew treats tokens as expired this long before their exp claim.
func WithSkew(d time.Duration) Option {
	return func(s *Session) { s.skew = d }
}

// WithLogoutHook registers a function run once per Logout call.
func WithLogoutHook(fn func()) Option {
	return func(s *Session) { s.onLogout = fn }
}

// NewSession creates a Session for token. Tokens that are not JWTs are
// accepted and never expire.
func NewSession(token string, opts ...Option) *Session {
	s := &Session{clock: clock.Real()}
	for _, opt := range opts {
		opt(s)
	}
	s.setLocked(token)
	return s
}

// Token returns the current token, or "" after Logout.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsExpired reports whether the token is missing or past its exp claim.
func (s *Session) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return true
	}
	if s.claims == nil || s.claims.ExpiresAt == 0 {
		return false
	}
	return !s.clock.Now().Add(s.skew).Before(time.Unix(s.claims.ExpiresAt, 0))
}

// Claims returns the decoded claims, if the token is a JWT.
func (s *Session) Claims() *Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil {
		return nil
	}
	c := *s.claims
	return &c
}

// SetToken replaces the token, e.g. after a refresh.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(token)
}

// Logout clears the token and runs the logout hook.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.claims = nil
	hook := s.onLogout
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (s *Session) setLocked(token string) {
	s.token = token
	s.claims = nil
	if claims, err := ParseClaims(token); err == nil {
		s.claims = claims
	}
}

func base64UrlDecode(data string) ([]byte, error) {
	if l := len(data) % 4; l > 0 {
		data += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(data)
}

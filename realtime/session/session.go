// Package session assembles one realtime session: a single registry and
// connection manager shared by reference with every binding created from
// it.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/itskum47/pulsewire/realtime/auth"
	"github.com/itskum47/pulsewire/realtime/binding"
	"github.com/itskum47/pulsewire/realtime/clock"
	"github.com/itskum47/pulsewire/realtime/config"
	"github.com/itskum47/pulsewire/realtime/conn"
	"github.com/itskum47/pulsewire/realtime/log"
	"github.com/itskum47/pulsewire/realtime/registry"
	"github.com/itskum47/pulsewire/realtime/store"
	"github.com/itskum47/pulsewire/realtime/timeline"
	"github.com/itskum47/pulsewire/realtime/topic"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Bind after Close.
var ErrClosed = errors.New("session closed")

type options struct {
	dialer   conn.Dialer
	clock    clock.Clock
	cursors  store.CursorStore
	onLogout func()
}

// Option customises Open.
type Option func(*options)

// WithDialer replaces the gorilla dialer built from the config.
func WithDialer(d conn.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithCursorStore uses s instead of the backend named in the config.
func WithCursorStore(s store.CursorStore) Option { return func(o *options) { o.cursors = s } }

// OnLogout runs fn after the server rejects the session's token.
func OnLogout(fn func()) Option { return func(o *options) { o.onLogout = fn } }

// Session owns the shared registry and connection.
type Session struct {
	Auth     *auth.Session
	Registry *registry.Registry
	Conn     *conn.Manager
	Timeline *timeline.Store

	cursors store.CursorStore
	logger  zerolog.Logger

	mu       sync.Mutex
	closed   bool
	bindings map[*binding.Binding]struct{}
}

// Open builds a session from cfg. No connection is made until the first
// binding subscribes.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	cursors := o.cursors
	if cursors == nil {
		var err error
		cursors, err = store.Open(ctx, StoreOptions(cfg))
		if err != nil {
			return nil, err
		}
	}

	logger := log.WithComponent("session")
	dialer := o.dialer
	if dialer == nil {
		dialer = conn.NewWSDialer(cfg.ConnectTimeout, cfg.WriteTimeout, cfg.ReadIdleTimeout)
	}

	s := &Session{
		Registry: registry.New(),
		Timeline: timeline.NewStore(timeline.DefaultCapacity),
		cursors:  cursors,
		logger:   logger,
		bindings: make(map[*binding.Binding]struct{}),
	}
	s.Auth = auth.NewSession(cfg.Token, auth.WithClock(o.clock), auth.WithLogoutHook(func() {
		logger.Warn().Msg("session logged out by server")
		if o.onLogout != nil {
			o.onLogout()
		}
	}))
	s.Conn = conn.NewManager(ConnConfig(cfg), s.Auth, s.Registry,
		conn.WithDialer(dialer),
		conn.WithClock(o.clock),
		conn.WithCursorStore(cursors),
		conn.WithTimeline(s.Timeline),
	)
	return s, nil
}

// Bind creates a binding for topics and handlers.
func (s *Session) Bind(topics []topic.Topic, handlers binding.Handlers) (*binding.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	b := binding.New(s.Registry, s.Conn)
	if err := b.Update(topics, handlers); err != nil {
		return nil, err
	}
	s.bindings[b] = struct{}{}
	return b, nil
}

// Unbind closes b and forgets it.
func (s *Session) Unbind(b *binding.Binding) error {
	s.mu.Lock()
	delete(s.bindings, b)
	s.mu.Unlock()
	return b.Close()
}

// Login installs a new token and reconnects.
func (s *Session) Login(token string) {
	s.Auth.SetToken(token)
	s.Conn.EnsureConnected()
}

// Reauth refreshes the token on the open connection.
func (s *Session) Reauth(token string) {
	s.Auth.SetToken(token)
	s.Conn.Reauth(token)
}

// Close releases every binding, destroys the connection and closes the
// cursor store.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	bindings := s.bindings
	s.bindings = nil
	s.mu.Unlock()

	for b := range bindings {
		_ = b.Close()
	}
	s.Conn.Destroy()
	return s.cursors.Close()
}

// ConnConfig maps the file/env config onto connection settings.
func ConnConfig(cfg config.Config) conn.Config {
	return conn.Config{
		URL:               cfg.URL,
		TokenParam:        cfg.TokenParam,
		ConnectTimeout:    cfg.ConnectTimeout,
		KeepaliveInterval: cfg.KeepaliveInterval,
		Backoff: conn.Backoff{
			Base:        cfg.Backoff.Base,
			Max:         cfg.Backoff.Max,
			ExponentCap: cfg.Backoff.ExponentCap,
		},
		SignalPingInterval: cfg.SignalPingInterval,
	}
}

// StoreOptions maps the cursor store section onto store options.
func StoreOptions(cfg config.Config) store.Options {
	cs := cfg.CursorStore
	return store.Options{
		Backend:       cs.Backend,
		RedisAddr:     cs.RedisAddr,
		RedisPassword: cs.RedisPassword,
		RedisDB:       cs.RedisDB,
		PostgresDSN:   cs.PostgresDSN,
		KeyPrefix:     cs.KeyPrefix,
	}
}

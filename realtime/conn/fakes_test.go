package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itskum47/pulsewire/realtime/clock"
	"github.com/itskum47/pulsewire/realtime/log"
	"github.com/itskum47/pulsewire/realtime/registry"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	mu      sync.Mutex
	token   string
	expired bool
	logouts int
}

func (a *fakeAuth) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *fakeAuth) IsExpired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expired
}

func (a *fakeAuth) Logout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
	a.token = ""
}

func (a *fakeAuth) logoutCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logouts
}

// fakeSocket records writes; tests drive its handlers explicitly.
type fakeSocket struct {
	target string
	h      Handlers

	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	failSend error
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend != nil {
		return s.failSend
	}
	if s.closed {
		return ErrSocketNotOpen
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) open()                { s.h.OnOpen() }
func (s *fakeSocket) deliver(frame string) { s.h.OnMessage([]byte(frame)) }
func (s *fakeSocket) drop()                { s.h.OnClose(errors.New("connection reset")) }
func (s *fakeSocket) fail(err error)       { s.h.OnError(err) }

func (s *fakeSocket) setFailSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSend = err
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// frames decodes every written frame.
func (s *fakeSocket) frames(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.sent))
	for i, b := range s.sent {
		require.NoError(t, json.Unmarshal(b, &out[i]))
	}
	return out
}

func (s *fakeSocket) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, f := range s.frames(t) {
		out = append(out, f["type"].(string))
	}
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	err     error
}

func (d *fakeDialer) Dial(_ context.Context, target string, h Handlers) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeSocket{target: target, h: h}
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDialer) last(t *testing.T) *fakeSocket {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.sockets, "nothing dialled")
	return d.sockets[len(d.sockets)-1]
}

type harness struct {
	m      *Manager
	auth   *fakeAuth
	dialer *fakeDialer
	clock  *clock.FakeClock
	reg    *registry.Registry
}

func testConfig() Config {
	cfg := DefaultConfig("ws://example.test/ws")
	cfg.Backoff = Backoff{
		Base:        100 * time.Millisecond,
		Max:         2 * time.Second,
		ExponentCap: 5,
		Jitter:      func(time.Duration) time.Duration { return 0 },
	}
	cfg.KeepaliveInterval = time.Hour
	return cfg
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		auth:   &fakeAuth{token: "tok"},
		dialer: &fakeDialer{},
		clock:  clock.Fake(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)),
		reg:    registry.New(),
	}
	base := []Option{WithDialer(h.dialer), WithClock(h.clock), WithLogger(log.Nop())}
	h.m = NewManager(cfg, h.auth, h.reg, append(base, opts...)...)
	t.Cleanup(h.m.Destroy)
	return h
}

// connect dials and opens a socket.
func (h *harness) connect(t *testing.T) *fakeSocket {
	t.Helper()
	h.m.EnsureConnected()
	s := h.dialer.last(t)
	s.open()
	require.Equal(t, StatusOpen, h.m.Status())
	return s
}

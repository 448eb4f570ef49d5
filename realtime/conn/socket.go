package conn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSocketNotOpen is returned by Send before the handshake completes or
// after Close.
var ErrSocketNotOpen = errors.New("socket not open")

// Handlers receive socket lifecycle callbacks. They are invoked from the
// socket's own goroutine, never from inside Dial, Send or Close.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(err error)
	OnError   func(err error)
}

// Socket is one physical connection attempt.
type Socket interface {
	Send(data []byte) error
	Close() error
}

// Dialer starts a connection attempt and returns immediately. Progress is
// reported through the handlers.
type Dialer interface {
	Dial(ctx context.Context, target string, h Handlers) (Socket, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// ReadIdleTimeout closes the socket when nothing arrives for this long.
	// Zero disables the deadline.
	ReadIdleTimeout time.Duration

	Header http.Header
}

// NewWSDialer returns a WSDialer with the given timeouts.
func NewWSDialer(handshake, write, readIdle time.Duration) *WSDialer {
	return &WSDialer{
		HandshakeTimeout: handshake,
		WriteTimeout:     write,
		ReadIdleTimeout:  readIdle,
	}
}

func (d *WSDialer) Dial(ctx context.Context, target string, h Handlers) (Socket, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	s := &wsSocket{
		dialer: d,
		cancel: cancel,
		h:      h,
		done:   make(chan struct{}),
	}
	go s.run(dialCtx, target)
	return s, nil
}

type wsSocket struct {
	dialer *WSDialer
	cancel context.CancelFunc
	h      Handlers
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
}

func (s *wsSocket) run(ctx context.Context, target string) {
	defer close(s.done)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.dialer.HandshakeTimeout,
	}
	c, resp, err := dialer.DialContext(ctx, target, s.dialer.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.conn = c
	s.mu.Unlock()

	if s.dialer.ReadIdleTimeout > 0 {
		s.refreshReadDeadline(c)
		c.SetPongHandler(func(string) error {
			s.refreshReadDeadline(c)
			return nil
		})
	}

	if s.h.OnOpen != nil {
		s.h.OnOpen()
	}

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			c.Close()
			if s.h.OnClose != nil {
				s.h.OnClose(err)
			}
			return
		}
		if s.dialer.ReadIdleTimeout > 0 {
			s.refreshReadDeadline(c)
		}
		if s.h.OnMessage != nil {
			s.h.OnMessage(data)
		}
	}
}

func (s *wsSocket) refreshReadDeadline(c *websocket.Conn) {
	c.SetReadDeadline(time.Now().Add(s.dialer.ReadIdleTimeout))
}

// fail reports a failed handshake unless the socket was closed locally.
func (s *wsSocket) fail(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
	if s.h.OnClose != nil {
		s.h.OnClose(err)
	}
}

func (s *wsSocket) Send(data []byte) error {
	s.mu.Lock()
	c, closed := s.conn, s.closed
	s.mu.Unlock()
	if c == nil || closed {
		return ErrSocketNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.dialer.WriteTimeout > 0 {
		c.SetWriteDeadline(time.Now().Add(s.dialer.WriteTimeout))
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

// Close cancels a pending handshake or sends a close frame and tears the
// connection down. The read goroutine reports OnClose afterwards.
func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.conn
	s.mu.Unlock()

	s.cancel()
	if c == nil {
		return nil
	}

	s.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()
	return c.Close()
}

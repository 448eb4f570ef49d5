// Package conn owns the single realtime connection of a session: its
// lifecycle, reconnect backoff, keepalive, the outbound frame queue, and
// routing of inbound frames to the subscription registry.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itskum47/pulsewire/realtime/auth"
	"github.com/itskum47/pulsewire/realtime/clock"
	"github.com/itskum47/pulsewire/realtime/log"
	"github.com/itskum47/pulsewire/realtime/observability"
	"github.com/itskum47/pulsewire/realtime/protocol"
	"github.com/itskum47/pulsewire/realtime/registry"
	"github.com/itskum47/pulsewire/realtime/store"
	"github.com/itskum47/pulsewire/realtime/timeline"
	"github.com/itskum47/pulsewire/realtime/topic"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	errConnectTimeout = errors.New("connect timeout")
	errAuthRejected   = errors.New("authentication rejected")
)

// cursorTimeout bounds a single resume cursor store round trip.
const cursorTimeout = time.Second

// Config holds the connection settings.
type Config struct {
	URL        string
	TokenParam string

	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	Backoff           Backoff

	// SignalPingInterval throttles liveness pings triggered by Visible.
	SignalPingInterval time.Duration
}

// DefaultConfig returns the default connection settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                url,
		TokenParam:         "token",
		ConnectTimeout:     10 * time.Second,
		KeepaliveInterval:  25 * time.Second,
		Backoff:            DefaultBackoff(),
		SignalPingInterval: 5 * time.Second,
	}
}

// Option customises a Manager.
type Option func(*Manager)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option { return func(m *Manager) { m.dialer = d } }

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithCursorStore enables resume cursors.
func WithCursorStore(s store.CursorStore) Option { return func(m *Manager) { m.cursors = s } }

// WithTimeline records lifecycle transitions into t.
func WithTimeline(t *timeline.Store) Option { return func(m *Manager) { m.timeline = t } }

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.base = l } }

// Manager owns one logical connection. All methods are safe for concurrent
// use and none block on the network except a single socket write.
type Manager struct {
	cfg      Config
	auth     auth.Capability
	reg      *registry.Registry
	dialer   Dialer
	clock    clock.Clock
	cursors  store.CursorStore
	timeline *timeline.Store
	base     zerolog.Logger
	pings    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    Status
	queue     []protocol.Outbound
	socket    Socket
	gen       uint64 // bumped whenever the current socket is abandoned
	connID    string
	logger    zerolog.Logger // base plus conn_id of the current attempt
	attempt   int
	destroyed bool

	connectTimer   *clock.Timer
	reconnectTimer *clock.Timer
	keepaliveTimer *clock.Timer
}

// NewManager creates an idle Manager. Nothing is dialled until the first
// Subscribe or EnsureConnected.
func NewManager(cfg Config, a auth.Capability, reg *registry.Registry, opts ...Option) *Manager {
	def := DefaultConfig(cfg.URL)
	if cfg.TokenParam == "" {
		cfg.TokenParam = def.TokenParam
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.SignalPingInterval <= 0 {
		cfg.SignalPingInterval = def.SignalPingInterval
	}

	m := &Manager{
		cfg:    cfg,
		auth:   a,
		reg:    reg,
		clock:  clock.Real(),
		base:   log.WithComponent("conn"),
		status: StatusIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.base
	if m.dialer == nil {
		m.dialer = NewWSDialer(cfg.ConnectTimeout, 10*time.Second, 2*cfg.KeepaliveInterval)
	}
	m.pings = rate.NewLimiter(rate.Every(cfg.SignalPingInterval), 1)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	observability.SetConnectionStatus(m.status.String(), statusNames)
	return m
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// QueueLen returns the number of frames waiting for the connection to open.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// EnsureConnected starts a connection attempt unless one is open or in
// progress.
func (m *Manager) EnsureConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureConnectedLocked()
}

// Send transmits f, or queues it until the connection opens.
func (m *Manager) Send(f protocol.Outbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendLocked(f)
}

// Subscribe asks the server for events on topics. A nil since is filled
// from the resume cursor store when every topic has a stored cursor.
func (m *Manager) Subscribe(topics []topic.Topic, since *uint64) {
	if len(topics) == 0 {
		return
	}
	if since == nil {
		since = m.resumeCursor(topics)
	}
	m.Send(protocol.Subscribe{Topics: topics, Since: since})
	m.EnsureConnected()
}

// Unsubscribe tells the server to stop sending events for topics.
func (m *Manager) Unsubscribe(topics []topic.Topic) {
	if len(topics) == 0 {
		return
	}
	m.Send(protocol.Unsubscribe{Topics: topics})
}

// Reauth sends a fresh token over the open connection.
func (m *Manager) Reauth(token string) {
	m.Send(protocol.Reauth{Token: token})
}

// Command sends an application command; t may be nil.
func (m *Manager) Command(name string, t topic.Topic, data []byte) {
	m.Send(protocol.Command{Name: name, Topic: t, Data: data})
}

// Destroy tears the connection down for good. Timers are cancelled before
// the socket is closed so no reconnect can race the shutdown.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.destroyed = true

	m.stopTimersLocked()
	m.setStatusLocked(StatusClosing)
	m.gen++
	if m.socket != nil {
		if err := m.socket.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("socket close failed during destroy")
		}
		m.socket = nil
	}
	m.setStatusLocked(StatusClosed)
	m.record(timeline.StageDestroyed, nil)
	m.cancel()

	if n := len(m.queue); n > 0 {
		m.logger.Debug().Int(log.FieldQueued, n).Msg("discarding queued frames")
		m.queue = nil
		observability.OutboundQueueDepth.Set(0)
	}
}

func (m *Manager) ensureConnectedLocked() {
	if m.destroyed {
		return
	}
	if m.status == StatusOpen || m.status == StatusConnecting {
		return
	}
	m.openLocked()
}

func (m *Manager) openLocked() {
	token := m.auth.Token()
	if token == "" || m.auth.IsExpired() {
		m.logger.Debug().Msg("no valid auth token, not connecting")
		return
	}
	target, err := m.target(token)
	if err != nil {
		m.logger.Error().Err(err).Str(log.FieldURL, m.cfg.URL).Msg("invalid realtime url")
		return
	}

	stopTimer(&m.reconnectTimer)
	m.gen++
	gen := m.gen
	m.connID = uuid.NewString()
	m.logger = m.base.With().Str(log.FieldConnID, m.connID).Logger()
	m.setStatusLocked(StatusConnecting)
	m.record(timeline.StageConnecting, nil)

	m.connectTimer = m.clock.AfterFunc(m.cfg.ConnectTimeout, func() { m.onConnectTimeout(gen) })

	sock, err := m.dialer.Dial(m.ctx, target, Handlers{
		OnOpen:    func() { m.onOpen(gen) },
		OnMessage: func(data []byte) { m.onMessage(gen, data) },
		OnClose:   func(err error) { m.onClose(gen, err) },
		OnError:   func(err error) { m.onError(gen, err) },
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("dial failed")
		m.gen++
		m.handleClosedLocked()
		return
	}
	m.socket = sock
}

// target embeds the token as a query parameter.
func (m *Manager) target(token string) (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q needs scheme and host", m.cfg.URL)
	}
	q := u.Query()
	q.Set(m.cfg.TokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) onOpen(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	stopTimer(&m.connectTimer)
	m.setStatusLocked(StatusOpen)
	m.attempt = 0
	m.record(timeline.StageOpen, nil)
	m.logger.Info().Int(log.FieldQueued, len(m.queue)).Msg("realtime connection open")

	m.queue = append(m.resubscribeFramesLocked(), m.queue...)
	if !m.flushLocked() {
		return
	}
	m.scheduleKeepaliveLocked(gen)
	m.sendLocked(protocol.Ping{})
}

// resubscribeFramesLocked rebuilds subscriptions the server lost with the
// previous socket. Topics already covered by a queued subscribe are skipped.
func (m *Manager) resubscribeFramesLocked() []protocol.Outbound {
	queued := make(map[string]bool)
	for _, f := range m.queue {
		if s, ok := f.(protocol.Subscribe); ok {
			for _, t := range s.Topics {
				queued[t.Path()] = true
			}
		}
	}

	var frames []protocol.Outbound
	var batch []topic.Topic
	for _, p := range m.reg.Paths() {
		if queued[p] {
			continue
		}
		t, err := topic.Parse(p)
		if err != nil {
			m.logger.Warn().Str(log.FieldTopic, p).Err(err).Msg("cannot resubscribe non-canonical path")
			continue
		}
		if v, ok := m.reg.LastSeenVersion(p); ok {
			since := v
			frames = append(frames, protocol.Subscribe{Topics: []topic.Topic{t}, Since: &since})
			continue
		}
		batch = append(batch, t)
	}
	if len(batch) > 0 {
		frames = append(frames, protocol.Subscribe{Topics: batch})
	}
	if len(frames) > 0 {
		m.logger.Debug().Int("frames", len(frames)).Msg("resubscribing held topics")
	}
	return frames
}

// flushLocked drains the queue in FIFO order. On a send failure the
// unsent frames stay queued, in order, and the socket is force-closed.
func (m *Manager) flushLocked() bool {
	q := m.queue
	m.queue = nil
	for i, f := range q {
		if err := m.transmitLocked(f); err != nil {
			m.queue = q[i:]
			observability.OutboundQueueDepth.Set(float64(len(m.queue)))
			m.forceCloseLocked(err, timeline.StageSendFailed)
			return false
		}
	}
	observability.OutboundQueueDepth.Set(0)
	return true
}

func (m *Manager) sendLocked(f protocol.Outbound) {
	if m.destroyed {
		observability.FramesDropped.WithLabelValues("destroyed").Inc()
		return
	}
	if m.status != StatusOpen || m.socket == nil {
		m.queue = append(m.queue, f)
		observability.OutboundQueueDepth.Set(float64(len(m.queue)))
		return
	}
	if err := m.transmitLocked(f); err != nil {
		m.queue = append(m.queue, f)
		observability.OutboundQueueDepth.Set(float64(len(m.queue)))
		m.forceCloseLocked(err, timeline.StageSendFailed)
	}
}

func (m *Manager) transmitLocked(f protocol.Outbound) error {
	data, err := protocol.Encode(f)
	if err != nil {
		m.logger.Error().Err(err).Str(log.FieldFrameType, string(f.Type())).Msg("dropping unencodable frame")
		return nil
	}
	if err := m.socket.Send(data); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldFrameType, string(f.Type())).Msg("send failed")
		return err
	}
	observability.FramesSent.WithLabelValues(string(f.Type())).Inc()
	return nil
}

func (m *Manager) onMessage(gen uint64, data []byte) {
	m.mu.Lock()
	stale := gen != m.gen
	logger := m.logger
	m.mu.Unlock()
	if stale {
		return
	}

	frame, err := protocol.Parse(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownFrame) {
			reason = "unknown_type"
		}
		observability.FramesDropped.WithLabelValues(reason).Inc()
		logger.Debug().Err(err).Msg("dropping inbound frame")
		return
	}
	observability.FramesReceived.WithLabelValues(string(frame.Type())).Inc()

	switch f := frame.(type) {
	case protocol.Ready:
		if !f.Supported() {
			logger.Warn().
				Uint64("policy_version", f.PolicyVersion).
				Int("supported", protocol.SchemaVersion).
				Msg("server speaks a newer policy version; unknown frames will be dropped")
			return
		}
		logger.Debug().Uint64("policy_version", f.PolicyVersion).Msg("server ready")
	case protocol.Pong:
	case protocol.SubscribeOk:
		logger.Debug().Strs(log.FieldTopics, f.Accepted).Msg("subscribe acknowledged")
		for _, r := range f.Rejected {
			observability.SubscribeRejections.WithLabelValues(r.Reason).Inc()
			logger.Warn().Str(log.FieldTopic, r.Topic).Str(log.FieldReason, r.Reason).Msg("subscription rejected")
		}
	case protocol.UnsubscribeOk:
		logger.Debug().Strs(log.FieldTopics, f.Topics).Msg("unsubscribe acknowledged")
	case protocol.Error:
		m.onServerError(gen, logger, f)
	case protocol.Event:
		m.saveCursor(f)
		m.reg.Dispatch(f)
	}
}

// onServerError logs out at most once per token on an auth failure and
// drops the connection; with the token cleared no reconnect is scheduled.
func (m *Manager) onServerError(gen uint64, logger zerolog.Logger, f protocol.Error) {
	if !IsAuthError(f) {
		logger.Warn().Str(log.FieldCode, f.Code).Str(log.FieldMessage, f.Message).Msg("server error")
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	loggedIn := m.auth.Token() != ""
	m.mu.Unlock()

	logger.Warn().Str(log.FieldCode, f.Code).Str(log.FieldMessage, f.Message).Bool("logout", loggedIn).Msg("authentication rejected")
	if loggedIn {
		observability.Logouts.Inc()
		m.auth.Logout()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.forceCloseLocked(fmt.Errorf("%w: %s", errAuthRejected, f.Code), timeline.StageAuthError)
}

func (m *Manager) onClose(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.gen++
	m.socket = nil
	m.logger.Info().AnErr(log.FieldReason, err).Msg("realtime connection closed")
	m.handleClosedLocked()
}

func (m *Manager) onError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.forceCloseLocked(err, timeline.StageSocketError)
}

func (m *Manager) onConnectTimeout(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.status != StatusConnecting {
		return
	}
	m.forceCloseLocked(errConnectTimeout, timeline.StageTimeout)
}

// forceCloseLocked abandons the current socket and runs the close path
// directly. Callbacks the socket fires afterwards are stale and ignored.
func (m *Manager) forceCloseLocked(reason error, stage string) {
	m.gen++
	if m.socket != nil {
		if err := m.socket.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("socket close failed")
		}
		m.socket = nil
	}
	m.record(stage, map[string]string{"reason": reason.Error()})
	m.logger.Warn().AnErr(log.FieldReason, reason).Msg("realtime connection force-closed")
	m.handleClosedLocked()
}

func (m *Manager) handleClosedLocked() {
	stopTimer(&m.connectTimer)
	stopTimer(&m.keepaliveTimer)
	m.setStatusLocked(StatusClosed)
	m.record(timeline.StageClosed, nil)
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer. Nothing is
// scheduled without a usable token; EnsureConnected restarts the cycle.
func (m *Manager) scheduleReconnectLocked() {
	if m.destroyed {
		return
	}
	if m.auth.Token() == "" || m.auth.IsExpired() {
		m.logger.Info().Msg("auth token unavailable, not reconnecting")
		return
	}

	stopTimer(&m.reconnectTimer)
	delay := m.cfg.Backoff.Delay(m.attempt)
	m.attempt++
	gen := m.gen

	observability.Reconnects.Inc()
	observability.ReconnectDelay.Observe(delay.Seconds())
	m.record(timeline.StageReconnectSched, map[string]string{"delay": delay.String()})
	m.logger.Info().Int(log.FieldAttempt, m.attempt).Dur(log.FieldDelay, delay).Msg("scheduling reconnect")

	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.onReconnect(gen) })
}

func (m *Manager) onReconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.reconnectTimer = nil
	m.ensureConnectedLocked()
}

func (m *Manager) scheduleKeepaliveLocked(gen uint64) {
	m.keepaliveTimer = m.clock.AfterFunc(m.cfg.KeepaliveInterval, func() { m.onKeepalive(gen) })
}

func (m *Manager) onKeepalive(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.status != StatusOpen {
		return
	}
	m.sendLocked(protocol.Ping{})
	if gen == m.gen && m.status == StatusOpen {
		m.scheduleKeepaliveLocked(gen)
	}
}

func (m *Manager) stopTimersLocked() {
	stopTimer(&m.connectTimer)
	stopTimer(&m.reconnectTimer)
	stopTimer(&m.keepaliveTimer)
}

func stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.logger.Debug().Stringer(log.FieldOldStatus, m.status).Stringer(log.FieldStatus, s).Msg("status change")
	m.status = s
	observability.SetConnectionStatus(s.String(), statusNames)
}

func (m *Manager) record(stage string, meta map[string]string) {
	if m.timeline == nil {
		return
	}
	m.timeline.Record(timeline.ConnEvent{
		ConnID:    m.connID,
		Stage:     stage,
		Timestamp: m.clock.Now(),
		Attempt:   m.attempt,
		Metadata:  meta,
	})
}

func (m *Manager) saveCursor(ev protocol.Event) {
	if m.cursors == nil || ev.Version == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, cursorTimeout)
	defer cancel()
	if err := m.cursors.Advance(ctx, ev.Topic, *ev.Version); err != nil {
		m.base.Warn().Err(err).Str(log.FieldTopic, ev.Topic).Uint64(log.FieldVersion, *ev.Version).Msg("failed to save resume cursor")
	}
}

func (m *Manager) resumeCursor(topics []topic.Topic) *uint64 {
	if m.cursors == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(m.ctx, cursorTimeout)
	defer cancel()
	v, ok, err := store.MinCursor(ctx, m.cursors, topic.Paths(topics))
	if err != nil {
		m.base.Warn().Err(err).Msg("failed to read resume cursors")
		return nil
	}
	if !ok {
		return nil
	}
	return &v
}

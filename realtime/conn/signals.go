package conn

import (
	"context"

	"github.com/itskum47/pulsewire/realtime/protocol"
)

// Signal is a platform connectivity notification.
type Signal int

const (
	// SignalNetworkOnline means the host regained network access.
	SignalNetworkOnline Signal = iota
	// SignalVisible means the application returned to the foreground.
	SignalVisible
)

func (s Signal) String() string {
	switch s {
	case SignalNetworkOnline:
		return "network_online"
	case SignalVisible:
		return "visible"
	}
	return "unknown"
}

// NetworkOnline reconnects right away instead of waiting out the backoff.
func (m *Manager) NetworkOnline() {
	m.EnsureConnected()
}

// Visible checks an open connection with a throttled ping, or reconnects
// when there is none.
func (m *Manager) Visible() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusOpen {
		m.ensureConnectedLocked()
		return
	}
	if m.pings.AllowN(m.clock.Now(), 1) {
		m.sendLocked(protocol.Ping{})
	}
}

// WatchSignals applies signals from ch until ctx is done or ch is closed.
func (m *Manager) WatchSignals(ctx context.Context, ch <-chan Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			m.base.Debug().Stringer("signal", s).Msg("connectivity signal")
			switch s {
			case SignalNetworkOnline:
				m.NetworkOnline()
			case SignalVisible:
				m.Visible()
			}
		}
	}
}

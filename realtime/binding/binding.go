// Package binding keeps one consumer's desired (topic, event, handler) set
// in sync with the shared registry, issuing wire subscribe and unsubscribe
// commands only on first and last references.
package binding

import (
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/itskum47/pulsewire/realtime/log"
	"github.com/itskum47/pulsewire/realtime/protocol"
	"github.com/itskum47/pulsewire/realtime/registry"
	"github.com/itskum47/pulsewire/realtime/topic"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Update after Close.
var ErrClosed = errors.New("binding closed")

// Conn is the part of the connection manager a binding drives.
type Conn interface {
	Subscribe(topics []topic.Topic, since *uint64)
	Unsubscribe(topics []topic.Topic)
}

// Handler receives events of one kind.
type Handler func(protocol.Event)

// Handlers maps event kinds to handlers.
type Handlers map[protocol.EventKind]Handler

type handlerSet map[string]Handler

// Binding is one consumer's view of the session's subscriptions. It holds
// one registry reference per path, whatever the number of event kinds, and
// a single listener that fans out by event name. Replacing handlers swaps
// the set without touching the registry.
type Binding struct {
	reg      *registry.Registry
	conn     Conn
	logger   zerolog.Logger
	listener *registry.Listener
	handlers atomic.Pointer[handlerSet]

	mu     sync.Mutex
	closed bool
	paths  []string
	events []string
	topics map[string]topic.Topic
}

// New creates an empty binding over a shared registry and connection.
func New(reg *registry.Registry, conn Conn) *Binding {
	b := &Binding{
		reg:    reg,
		conn:   conn,
		logger: log.WithComponent("binding"),
		topics: make(map[string]topic.Topic),
	}
	b.listener = registry.NewListener(b.deliver)
	return b
}

func (b *Binding) deliver(ev protocol.Event) {
	set := b.handlers.Load()
	if set == nil {
		return
	}
	if h := (*set)[ev.Name]; h != nil {
		h(ev)
	}
}

// Update reconciles the registry with the desired topics and handlers.
// New registrations are made before stale ones are released, so a topic
// kept across the change never drops to zero references.
func (b *Binding) Update(topics []topic.Topic, handlers Handlers) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.reconcileLocked(topics, handlers)
	return nil
}

// Close releases every registration. Further Updates fail with ErrClosed.
func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.reconcileLocked(nil, nil)
	b.closed = true
	return nil
}

// Paths returns the canonical paths currently held, in first-seen order.
func (b *Binding) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

func (b *Binding) reconcileLocked(topics []topic.Topic, handlers Handlers) {
	set := make(handlerSet, len(handlers))
	events := make([]string, 0, len(handlers))
	for kind, h := range handlers {
		if h == nil {
			continue
		}
		set[string(kind)] = h
		events = append(events, string(kind))
	}
	sort.Strings(events)

	var paths []string
	desiredTopics := make(map[string]topic.Topic)
	if len(events) > 0 {
		for _, t := range topics {
			if t == nil {
				continue
			}
			p := t.Path()
			if _, dup := desiredTopics[p]; dup {
				continue
			}
			desiredTopics[p] = t
			paths = append(paths, p)
		}
	}
	eventsChanged := !slices.Equal(events, b.events)

	b.reg.Exclusive(func() {
		b.handlers.Store(&set)

		var subscribe []topic.Topic
		for _, p := range paths {
			if _, held := b.topics[p]; held {
				if eventsChanged {
					b.reg.Retarget(p, events, b.listener)
				}
				continue
			}
			if b.reg.Add(p, events, b.listener) {
				subscribe = append(subscribe, desiredTopics[p])
			}
		}

		var unsubscribe []topic.Topic
		for _, p := range b.paths {
			if _, keep := desiredTopics[p]; keep {
				continue
			}
			if b.reg.Remove(p, b.events, b.listener) {
				unsubscribe = append(unsubscribe, b.topics[p])
			}
		}

		if len(subscribe) > 0 {
			b.logger.Debug().Strs(log.FieldTopics, topic.Paths(subscribe)).Msg("first reference, subscribing")
			b.conn.Subscribe(subscribe, nil)
		}
		if len(unsubscribe) > 0 {
			b.logger.Debug().Strs(log.FieldTopics, topic.Paths(unsubscribe)).Msg("last reference, unsubscribing")
			b.conn.Unsubscribe(unsubscribe)
		}
	})

	b.paths = paths
	b.events = events
	b.topics = desiredTopics
}

// Typed adapts a handler for one payload type. Events whose payload is not
// a T are ignored.
func Typed[T any](fn func(payload T, ev protocol.Event)) Handler {
	return func(ev protocol.Event) {
		if p, ok := ev.Payload.(T); ok {
			fn(p, ev)
		}
	}
}

// Package registry tracks which topics the session is interested in and
// routes inbound events to the listeners registered for them.
package registry

import (
	"runtime/debug"
	"sort"
	"sync"

	"github.com/itskum47/pulsewire/realtime/log"
	"github.com/itskum47/pulsewire/realtime/observability"
	"github.com/itskum47/pulsewire/realtime/protocol"
	"github.com/rs/zerolog"
)

// Listener is a registered event callback. Its pointer is its identity, so
// the same Listener may be added for many (topic, event) pairs and removed
// precisely later.
type Listener struct {
	fn func(protocol.Event)
}

// NewListener wraps fn.
func NewListener(fn func(protocol.Event)) *Listener {
	return &Listener{fn: fn}
}

// entry is the per-topic state, present only while refCount > 0.
type entry struct {
	refCount    uint
	listeners   map[string][]*Listener // event name -> listeners in registration order
	lastVersion *uint64
}

// Registry is a ref-counted map of canonical topic path to listeners. One
// Registry is shared by every binding in a session.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	// exclusive serialises reconciliations; never held by Dispatch.
	exclusive sync.Mutex

	logger zerolog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  log.WithComponent("registry"),
	}
}

// Add registers l for every (path, event) pair. It reports whether the
// topic had no interest before the call, in which case the caller must
// issue a wire subscribe.
func (r *Registry) Add(path string, events []string, l *Listener) (firstRef bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[path]
	if !ok {
		e = &entry{listeners: make(map[string][]*Listener)}
		r.entries[path] = e
		observability.ActiveTopics.Set(float64(len(r.entries)))
	}
	for _, ev := range events {
		if !contains(e.listeners[ev], l) {
			e.listeners[ev] = append(e.listeners[ev], l)
		}
	}
	e.refCount++
	return e.refCount == 1
}

// Remove unregisters l from every (path, event) pair and releases one
// reference. It reports whether the topic dropped to zero interest, in
// which case the caller must issue a wire unsubscribe.
func (r *Registry) Remove(path string, events []string, l *Listener) (droppedToZero bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[path]
	if !ok {
		return false
	}
	for _, ev := range events {
		e.listeners[ev] = without(e.listeners[ev], l)
		if len(e.listeners[ev]) == 0 {
			delete(e.listeners, ev)
		}
	}
	e.refCount--
	if e.refCount > 0 {
		return false
	}
	delete(r.entries, path)
	observability.ActiveTopics.Set(float64(len(r.entries)))
	return true
}

// Retarget replaces the events l listens to on path without touching the
// reference count. It reports false if path has no interest.
func (r *Registry) Retarget(path string, events []string, l *Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[path]
	if !ok {
		return false
	}
	for ev, ls := range e.listeners {
		if ls = without(ls, l); len(ls) == 0 {
			delete(e.listeners, ev)
		} else {
			e.listeners[ev] = ls
		}
	}
	for _, ev := range events {
		if !contains(e.listeners[ev], l) {
			e.listeners[ev] = append(e.listeners[ev], l)
		}
	}
	return true
}

// Dispatch delivers ev to the listeners registered for (ev.Topic, ev.Name).
// Events for topics without interest are dropped. Listeners run
// synchronously on the caller's goroutine, outside the registry lock.
func (r *Registry) Dispatch(ev protocol.Event) {
	r.mu.Lock()
	e, ok := r.entries[ev.Topic]
	if !ok {
		r.mu.Unlock()
		observability.StaleEvents.Inc()
		r.logger.Debug().
			Str(log.FieldTopic, ev.Topic).
			Str(log.FieldEvent, ev.Name).
			Msg("event for topic without interest")
		return
	}
	if ev.Version != nil {
		v := *ev.Version
		e.lastVersion = &v
	}
	targets := append([]*Listener(nil), e.listeners[ev.Name]...)
	r.mu.Unlock()

	observability.Dispatches.WithLabelValues(ev.Name).Inc()
	for _, l := range targets {
		r.invoke(l, ev)
	}
}

func (r *Registry) invoke(l *Listener, ev protocol.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.ListenerPanics.WithLabelValues(ev.Name).Inc()
			r.logger.Error().
				Str(log.FieldTopic, ev.Topic).
				Str(log.FieldEvent, ev.Name).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("event listener panicked")
		}
	}()
	l.fn(ev)
}

// LastSeenVersion returns the newest version dispatched for path.
func (r *Registry) LastSeenVersion(path string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[path]
	if !ok || e.lastVersion == nil {
		return 0, false
	}
	return *e.lastVersion, true
}

// Has reports whether path currently has interest.
func (r *Registry) Has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[path]
	return ok
}

// RefCount returns the number of registrations holding path.
func (r *Registry) RefCount(path string) uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[path]; ok {
		return e.refCount
	}
	return 0
}

// Paths returns every held path, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Exclusive runs fn while no other Exclusive call runs. Bindings wrap each
// reconcile in it so that wire subscribe/unsubscribe commands leave in the
// same order as the ref-count transitions that produced them.
func (r *Registry) Exclusive(fn func()) {
	r.exclusive.Lock()
	defer r.exclusive.Unlock()
	fn()
}

func contains(ls []*Listener, l *Listener) bool {
	for _, x := range ls {
		if x == l {
			return true
		}
	}
	return false
}

func without(ls []*Listener, l *Listener) []*Listener {
	out := ls[:0]
	for _, x := range ls {
		if x != l {
			out = append(out, x)
		}
	}
	for i := len(out); i < len(ls); i++ {
		ls[i] = nil
	}
	return out
}

// Package timeline keeps a bounded, in-memory record of connection
// lifecycle transitions for debugging reconnect behaviour.
package timeline

import (
	"sync"
	"time"
)

// Stages recorded by the connection manager.
const (
	StageConnecting     = "CONNECTING"
	StageOpen           = "OPEN"
	StageClosed         = "CLOSED"
	StageTimeout        = "CONNECT_TIMEOUT"
	StageReconnectSched = "RECONNECT_SCHEDULED"
	StageSendFailed     = "SEND_FAILED"
	StageSocketError    = "SOCKET_ERROR"
	StageAuthError      = "AUTH_ERROR"
	StageDestroyed      = "DESTROYED"
)

// DefaultCapacity bounds the number of retained entries.
const DefaultCapacity = 256

type ConnEvent struct {
	ConnID    string            `json:"conn_id"`
	Stage     string            `json:"stage"`
	Timestamp time.Time         `json:"timestamp"`
	Attempt   int               `json:"attempt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Store struct {
	events   []ConnEvent
	capacity int
	mu       sync.RWMutex
}

// NewStore creates a Store retaining at most capacity entries; oldest
// entries are evicted first. capacity <= 0 means DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		events:   make([]ConnEvent, 0),
		capacity: capacity,
	}
}

func (s *Store) Record(e ConnEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.events = append(s.events, e)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append(s.events[:0], s.events[over:]...)
	}
}

// GetEvents returns the events recorded for one connection attempt.
func (s *Store) GetEvents(connID string) []ConnEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ConnEvent
	for _, e := range s.events {
		if e.ConnID == connID {
			results = append(results, e)
		}
	}
	return results
}

// Stages returns the recorded stage names in order.
func (s *Store) Stages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Stage
	}
	return out
}

// GetAllEvents returns a copy of every retained entry.
func (s *Store) GetAllEvents() []ConnEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := make([]ConnEvent, len(s.events))
	copy(c, s.events)
	return c
}

// Package store persists resume cursors: the last event version seen per
// topic path. The connection manager saves versions as events arrive and
// reads them back to fill the since field of a subscribe frame, so a
// restarted client can ask the server for what it missed.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itskum47/pulsewire/realtime/observability"
)

// CursorStore abstracts over the in-memory, Redis and Postgres backends.
type CursorStore interface {
	// Get returns the stored version for path. ok is false when none exists.
	Get(ctx context.Context, path string) (version uint64, ok bool, err error)

	// Advance stores version for path unless a higher one is already stored.
	Advance(ctx context.Context, path string, version uint64) error

	// Delete forgets the cursor for path.
	Delete(ctx context.Context, path string) error

	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cursor store backend")

// Options selects and configures a backend.
type Options struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
	KeyPrefix     string
}

// Open builds the backend named by opts.Backend. An empty name means memory.
func Open(ctx context.Context, opts Options) (CursorStore, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis cursor store: %w", err)
		}
		return s, nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres cursor store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// MinCursor returns the smallest stored version across paths. ok is false
// if any path has no cursor, since the server would then skip its backlog.
func MinCursor(ctx context.Context, s CursorStore, paths []string) (uint64, bool, error) {
	if len(paths) == 0 {
		return 0, false, nil
	}
	var lowest uint64
	for i, p := range paths {
		v, ok, err := s.Get(ctx, p)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		if i == 0 || v < lowest {
			lowest = v
		}
	}
	return lowest, true, nil
}

func track(backend, op string) func() {
	start := time.Now()
	return func() {
		observability.CursorStoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	}
}

package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// advanceScript sets KEYS[1] to ARGV[1] only when it is greater than the
// stored value. Both are canonical decimal strings, compared by length then
// lexically so values past 2^53 keep their order. Returns 1 when the cursor
// moved.
const advanceScript = `
local current = redis.call("GET", KEYS[1])
local nextv = ARGV[1]
if not current or #nextv > #current or (#nextv == #current and nextv > current) then
    redis.call("SET", KEYS[1], nextv)
    return 1
end
return 0
`

// RedisStore implements CursorStore using Redis.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	advance *redis.Script
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		advance: redis.NewScript(advanceScript),
	}
}

func (s *RedisStore) Get(ctx context.Context, path string) (uint64, bool, error) {
	defer track(BackendRedis, "get")()

	raw, err := s.client.Get(ctx, CursorKey(s.prefix, path)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Advance runs the compare-and-set script so concurrent writers never move
// a cursor backwards.
func (s *RedisStore) Advance(ctx context.Context, path string, version uint64) error {
	defer track(BackendRedis, "advance")()
	return s.advance.Run(ctx, s.client, []string{CursorKey(s.prefix, path)}, strconv.FormatUint(version, 10)).Err()
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	return s.client.Del(ctx, CursorKey(s.prefix, path)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

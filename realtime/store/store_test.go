package store

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseCursorStore runs the behaviour every backend must share.
func exerciseCursorStore(t *testing.T, s CursorStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "tickets:5")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Advance(ctx, "tickets:5", 10))
	v, ok, err := s.Get(ctx, "tickets:5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(10), v)

	// never moves backwards
	require.NoError(t, s.Advance(ctx, "tickets:5", 3))
	v, _, err = s.Get(ctx, "tickets:5")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), v)

	require.NoError(t, s.Advance(ctx, "tickets:5", 11))
	v, _, _ = s.Get(ctx, "tickets:5")
	assert.Equal(t, uint64(11), v)

	require.NoError(t, s.Advance(ctx, "system", 4))
	lowest, ok, err := MinCursor(ctx, s, []string{"tickets:5", "system"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(4), lowest)

	_, ok, err = MinCursor(ctx, s, []string{"tickets:5", "tickets:6"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "tickets:5"))
	_, ok, err = s.Get(ctx, "tickets:5")
	require.NoError(t, err)
	assert.False(t, ok)
}

// exerciseLargeVersions checks ordering beyond float64 precision.
func exerciseLargeVersions(t *testing.T, s CursorStore) {
	t.Helper()
	ctx := context.Background()

	const big = uint64(1) << 53
	require.NoError(t, s.Advance(ctx, "tickets:9", big))
	require.NoError(t, s.Advance(ctx, "tickets:9", big+1))
	v, _, err := s.Get(ctx, "tickets:9")
	require.NoError(t, err)
	assert.Equal(t, big+1, v)

	require.NoError(t, s.Advance(ctx, "tickets:9", math.MaxUint64))
	require.NoError(t, s.Advance(ctx, "tickets:9", math.MaxUint64-1))
	v, _, err = s.Get(ctx, "tickets:9")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), v)

	require.NoError(t, s.Advance(ctx, "tickets:10", 99))
	require.NoError(t, s.Advance(ctx, "tickets:10", 100))
	v, _, _ = s.Get(ctx, "tickets:10")
	assert.Equal(t, uint64(100), v)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseCursorStore(t, s)
	exerciseLargeVersions(t, s)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), mr.Addr(), "", 0, "test")
	require.NoError(t, err)
	defer s.Close()

	exerciseCursorStore(t, s)
	exerciseLargeVersions(t, s)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "")
	defer s.Close()

	require.NoError(t, s.Advance(context.Background(), "attendance:session:42", 7))
	got, err := mr.Get("pulsewire:cursors:attendance:session:42")
	require.NoError(t, err)
	assert.Equal(t, "7", got)
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), addr, "", 0, "")
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PULSEWIRE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PULSEWIRE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	_ = s.Delete(ctx, "tickets:5")
	_ = s.Delete(ctx, "system")
	exerciseCursorStore(t, s)
}

func TestPostgresStoreRejectsVersionsAboveInt64(t *testing.T) {
	var s PostgresStore
	err := s.Advance(context.Background(), "tickets:5", math.MaxInt64+1)
	assert.ErrorIs(t, err, ErrVersionRange)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), Options{Backend: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	mr := miniredis.RunT(t)
	s, err = Open(context.Background(), Options{Backend: BackendRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())
}

func TestCursorKey(t *testing.T) {
	assert.Equal(t, "pulsewire:cursors:system", CursorKey("", "system"))
	assert.Equal(t, "app:cursors:tickets:1", CursorKey("app", "tickets:1"))
}

package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createCursorsTable = `
	CREATE TABLE IF NOT EXISTS realtime_cursors (
		topic_path TEXT PRIMARY KEY,
		version    BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// ErrVersionRange is returned for versions the backend cannot represent.
var ErrVersionRange = errors.New("cursor version out of range")

// PostgresStore implements CursorStore using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a PostgresStore and creates its table.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// one client, low write rate
	config.MaxConns = 4
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createCursorsTable); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) (uint64, bool, error) {
	defer track(BackendPostgres, "get")()

	var v int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM realtime_cursors WHERE topic_path = $1`, path).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(v), true, nil
}

// Advance moves the cursor forward. The column is BIGINT, so versions above
// math.MaxInt64 are rejected with ErrVersionRange.
func (s *PostgresStore) Advance(ctx context.Context, path string, version uint64) error {
	if version > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrVersionRange, version)
	}
	defer track(BackendPostgres, "advance")()

	query := `
		INSERT INTO realtime_cursors (topic_path, version, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (topic_path) DO UPDATE SET
			version = GREATEST(realtime_cursors.version, EXCLUDED.version),
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query, path, int64(version))
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM realtime_cursors WHERE topic_path = $1`, path)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/cursor-sync/internal/balancer"
	"github.com/rickgao/cursor-sync/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS endpoint_probes (
	id               BIGSERIAL PRIMARY KEY,
	endpoint         TEXT        NOT NULL,
	healthy          BOOLEAN     NOT NULL,
	response_time_ms DOUBLE PRECISION,
	error            TEXT,
	checked_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS endpoint_probes_endpoint_checked_at
	ON endpoint_probes (endpoint, checked_at DESC);
`

const insertProbe = `
INSERT INTO endpoint_probes (endpoint, healthy, response_time_ms, error, checked_at)
VALUES ($1, $2, $3, $4, $5)`

const selectRecent = `
SELECT endpoint, healthy, response_time_ms, error, checked_at
FROM endpoint_probes
WHERE endpoint = $1
ORDER BY checked_at DESC
LIMIT $2`

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists health probe history. It implements balancer.ProbeRecorder.
type Store struct {
	db     DB
	pool   *pgxpool.Pool // nil when built with NewStore
	logger *slog.Logger
}

// NewStore wraps an existing connection.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Open connects to the probe database and ensures the schema exists.
func Open(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Store, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := NewStore(pool, logger)
	s.pool = pool

	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("probe store ready", "host", cfg.Host, "database", cfg.Name)
	return s, nil
}

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the probe table if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RecordProbe inserts one probe result.
func (s *Store) RecordProbe(ctx context.Context, r balancer.ProbeResult) error {
	var rtMillis *float64
	if r.Healthy {
		ms := float64(r.ResponseTime) / float64(time.Millisecond)
		rtMillis = &ms
	}
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}

	if _, err := s.db.Exec(ctx, insertProbe, r.URL, r.Healthy, rtMillis, errText, r.CheckedAt); err != nil {
		return fmt.Errorf("insert probe %s: %w", r.URL, err)
	}
	return nil
}

// RecentProbes returns up to limit probe results for endpoint, newest first.
func (s *Store) RecentProbes(ctx context.Context, endpoint string, limit int) ([]balancer.ProbeResult, error) {
	rows, err := s.db.Query(ctx, selectRecent, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("query probes %s: %w", endpoint, err)
	}
	defer rows.Close()

	var out []balancer.ProbeResult
	for rows.Next() {
		var (
			r        balancer.ProbeResult
			rtMillis *float64
			errText  *string
		)
		if err := rows.Scan(&r.URL, &r.Healthy, &rtMillis, &errText, &r.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan probe: %w", err)
		}
		if rtMillis != nil {
			r.ResponseTime = time.Duration(*rtMillis * float64(time.Millisecond))
		}
		if errText != nil {
			r.Error = *errText
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping verifies the connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping probe database: %w", err)
	}
	return nil
}

// Close closes the pool opened by Open.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

package window

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"optin/internal/ratelimit/models"
)

// pgxConn is the subset of *pgxpool.Pool used by the store.
type pgxConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps fixed windows in the rate_limit_windows table. The
// upsert is a single statement, so row-level locking serializes concurrent
// calls on one key.
type PostgresStore struct {
	db    pgxConn
	clock func() time.Time
}

// NewPostgres constructs a Postgres-backed window store.
func NewPostgres(db pgxConn) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const allowQuery = `
	INSERT INTO rate_limit_windows (key, window_start, count)
	VALUES ($1, $2, 1)
	ON CONFLICT (key) DO UPDATE SET
		window_start = CASE
			WHEN rate_limit_windows.window_start <= $2 - make_interval(secs => $3) THEN EXCLUDED.window_start
			ELSE rate_limit_windows.window_start
		END,
		count = CASE
			WHEN rate_limit_windows.window_start <= $2 - make_interval(secs => $3) THEN 1
			ELSE rate_limit_windows.count + 1
		END
	RETURNING window_start, count
`

func (s *PostgresStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.clock()
	if limit <= 0 || window <= 0 {
		return models.Unlimited(now), nil
	}

	var (
		windowStart time.Time
		count       int
	)
	err := s.db.QueryRow(ctx, allowQuery, key, now, window.Seconds()).Scan(&windowStart, &count)
	if err != nil {
		return nil, fmt.Errorf("postgres fixed window: %w", err)
	}
	return models.NewResult(count, limit, windowStart, window, now), nil
}

func (s *PostgresStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM rate_limit_windows WHERE key = $1`, key); err != nil {
		return fmt.Errorf("reset rate limit window: %w", err)
	}
	return nil
}

// Prune removes windows older than maxWindow.
func (s *PostgresStore) Prune(ctx context.Context, maxWindow time.Duration) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM rate_limit_windows WHERE window_start <= $1`,
		s.clock().Add(-maxWindow),
	)
	if err != nil {
		return 0, fmt.Errorf("prune rate limit windows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

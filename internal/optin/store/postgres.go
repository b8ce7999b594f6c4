package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"optin/internal/optin/models"
	"optin/pkg/platform/sentinel"
)

// PostgresStore persists opt-in records in PostgreSQL. Every mutation is a
// single statement, so the row lock taken by the statement is the per-token
// atomic unit.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed opt-in store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, token, form_ref, status, email, created_at, updated_at, opted_out_at,
	ip_at_create, ip_at_confirm, ip_at_opt_out, consent_snapshot, content_snapshot, files, category_ref`

func (s *PostgresStore) Get(ctx context.Context, token string) (*models.OptInRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM optin_records WHERE token = $1`, token)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get optin record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *models.OptInRecord, expected *models.Status) (bool, error) {
	if expected == nil {
		return s.insert(ctx, rec)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE optin_records SET
			status = $3,
			updated_at = $4,
			opted_out_at = $5,
			ip_at_confirm = $6,
			ip_at_opt_out = $7,
			category_ref = $8
		WHERE token = $1 AND status = $2
	`, rec.Token, string(*expected), string(rec.Status), rec.UpdatedAt, nullTime(rec.OptedOutAt),
		rec.IPAtConfirm, rec.IPAtOptOut, rec.CategoryRef)
	if err != nil {
		return false, fmt.Errorf("update optin record: %w", err)
	}
	return affectedOne(res)
}

// insert refuses both live and retired tokens.
func (s *PostgresStore) insert(ctx context.Context, rec *models.OptInRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO optin_records (`+recordColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		WHERE NOT EXISTS (SELECT 1 FROM optin_retired_tokens WHERE token = $2)
		ON CONFLICT (token) DO NOTHING
	`, rec.ID, rec.Token, rec.FormRef, string(rec.Status), rec.Email, rec.CreatedAt, rec.UpdatedAt,
		nullTime(rec.OptedOutAt), rec.IPAtCreate, rec.IPAtConfirm, rec.IPAtOptOut, rec.ConsentSnapshot,
		rec.ContentSnapshot, pq.Array(nonNil(rec.Files)), rec.CategoryRef)
	if err != nil {
		return false, fmt.Errorf("insert optin record: %w", err)
	}
	return affectedOne(res)
}

func (s *PostgresStore) DeleteByToken(ctx context.Context, token string) (bool, error) {
	var deleted int
	err := s.db.QueryRowContext(ctx, `
		WITH gone AS (
			DELETE FROM optin_records WHERE token = $1 RETURNING token
		), retired AS (
			INSERT INTO optin_retired_tokens (token, retired_at)
			SELECT token, now() FROM gone
			ON CONFLICT (token) DO NOTHING
		)
		SELECT count(*) FROM gone
	`, token).Scan(&deleted)
	if err != nil {
		return false, fmt.Errorf("delete optin record: %w", err)
	}
	return deleted > 0, nil
}

func (s *PostgresStore) DeleteByStatusOlderThan(ctx context.Context, status models.Status, cutoff time.Time) (int, error) {
	var deleted int
	err := s.db.QueryRowContext(ctx, `
		WITH gone AS (
			DELETE FROM optin_records WHERE status = $1 AND created_at <= $2 RETURNING token
		), retired AS (
			INSERT INTO optin_retired_tokens (token, retired_at)
			SELECT token, now() FROM gone
			ON CONFLICT (token) DO NOTHING
		)
		SELECT count(*) FROM gone
	`, string(status), cutoff).Scan(&deleted)
	if err != nil {
		return 0, fmt.Errorf("delete optin records by status: %w", err)
	}
	return deleted, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string, status *models.Status) ([]*models.OptInRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM optin_records WHERE email = $1`
	args := []any{email}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find optin records by email: %w", err)
	}
	defer rows.Close()

	var out []*models.OptInRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan optin record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate optin records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, status models.Status) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM optin_records WHERE status = $1`, string(status),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count optin records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.OptInRecord, error) {
	var (
		rec        models.OptInRecord
		status     string
		optedOutAt sql.NullTime
		files      pq.StringArray
	)
	err := row.Scan(
		&rec.ID, &rec.Token, &rec.FormRef, &status, &rec.Email, &rec.CreatedAt, &rec.UpdatedAt, &optedOutAt,
		&rec.IPAtCreate, &rec.IPAtConfirm, &rec.IPAtOptOut, &rec.ConsentSnapshot, &rec.ContentSnapshot,
		&files, &rec.CategoryRef,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	if optedOutAt.Valid {
		t := optedOutAt.Time
		rec.OptedOutAt = &t
	}
	if len(files) > 0 {
		rec.Files = []string(files)
	}
	return &rec, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

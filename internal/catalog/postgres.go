package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresSchema is the SQL DDL for the interviews table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS interviews (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    role       TEXT NOT NULL,
    level      TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL DEFAULT '',
    techstack  JSONB NOT NULL DEFAULT '[]',
    questions  JSONB NOT NULL DEFAULT '[]',
    finalized  BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_interviews_user ON interviews(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_interviews_finalized ON interviews(finalized, created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Tech stack and questions
// are stored as JSONB arrays.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store using db. Call [PostgresStore.Migrate]
// before first use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the interviews table and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

const selectColumns = `id, user_id, role, level, type, techstack, questions, finalized, created_at`

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, iv *Interview) error {
	if err := iv.Validate(); err != nil {
		return err
	}
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	stackJSON, err := json.Marshal(emptySlice(iv.TechStack))
	if err != nil {
		return fmt.Errorf("catalog: marshal techstack: %w", err)
	}
	questionsJSON, err := json.Marshal(iv.Questions)
	if err != nil {
		return fmt.Errorf("catalog: marshal questions: %w", err)
	}

	const query = `
		INSERT INTO interviews (id, user_id, role, level, type, techstack, questions, finalized, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
		RETURNING created_at`

	var createdAt any
	if !iv.CreatedAt.IsZero() {
		createdAt = iv.CreatedAt
	}
	err = s.db.QueryRow(ctx, query,
		iv.ID, iv.UserID, iv.Role, iv.Level, iv.Type,
		stackJSON, questionsJSON, iv.Finalized, createdAt,
	).Scan(&iv.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("catalog: interview with id %q already exists", iv.ID)
		}
		return fmt.Errorf("catalog: create: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Interview, error) {
	query := `SELECT ` + selectColumns + ` FROM interviews WHERE id = $1`

	iv, err := scanInterview(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: get %q: %w", id, err)
	}
	return iv, nil
}

// ListByUser implements [Store].
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Interview, error) {
	query := `SELECT ` + selectColumns + `
		FROM interviews
		WHERE user_id = $1
		ORDER BY created_at DESC`
	return s.list(ctx, "list", query, userID)
}

// Latest implements [Store].
func (s *PostgresStore) Latest(ctx context.Context, excludeUserID string, limit int) ([]Interview, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + selectColumns + `
		FROM interviews
		WHERE finalized AND user_id <> $1
		ORDER BY created_at DESC
		LIMIT $2`
	return s.list(ctx, "latest", query, excludeUserID, limit)
}

func (s *PostgresStore) list(ctx context.Context, op, query string, args ...any) ([]Interview, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", op, err)
	}
	defer rows.Close()

	var out []Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s scan: %w", op, err)
		}
		out = append(out, *iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", op, err)
	}
	return out, nil
}

// scanInterview reads one row in selectColumns order. pgx.Rows satisfies
// pgx.Row, so it serves both single and multi-row queries.
func scanInterview(row pgx.Row) (*Interview, error) {
	var iv Interview
	var stackJSON, questionsJSON []byte
	if err := row.Scan(
		&iv.ID, &iv.UserID, &iv.Role, &iv.Level, &iv.Type,
		&stackJSON, &questionsJSON, &iv.Finalized, &iv.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stackJSON, &iv.TechStack); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal techstack: %w", err)
	}
	if err := json.Unmarshal(questionsJSON, &iv.Questions); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal questions: %w", err)
	}
	return &iv, nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice so JSON
// marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError reports a unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

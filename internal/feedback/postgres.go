package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresSchema is the SQL DDL for the interview_feedback table. There is no
// uniqueness constraint on (interview_id, user_id); the read path picks the
// newest row.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS interview_feedback (
    id           TEXT PRIMARY KEY,
    interview_id TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    result       JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interview_feedback_pair
    ON interview_feedback(interview_id, user_id, created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. The [Result] is stored as
// JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store using db. Call [PostgresStore.Migrate]
// before first use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the table and index if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("feedback: migrate: %w", err)
	}
	return nil
}

// Add implements [Store].
func (s *PostgresStore) Add(ctx context.Context, rec *Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return "", fmt.Errorf("feedback: marshal result: %w", err)
	}

	const query = `
		INSERT INTO interview_feedback (id, interview_id, user_id, result, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, query, rec.ID, rec.InterviewID, rec.UserID, resultJSON, rec.CreatedAt); err != nil {
		return "", fmt.Errorf("feedback: add: %w", err)
	}
	return rec.ID, nil
}

// Latest implements [Store].
func (s *PostgresStore) Latest(ctx context.Context, interviewID, userID string) (*Record, error) {
	const query = `
		SELECT id, interview_id, user_id, result, created_at
		FROM interview_feedback
		WHERE interview_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var rec Record
	var resultJSON []byte
	err := s.db.QueryRow(ctx, query, interviewID, userID).Scan(
		&rec.ID, &rec.InterviewID, &rec.UserID, &resultJSON, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("feedback: latest: %w", err)
	}
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return nil, fmt.Errorf("feedback: unmarshal result: %w", err)
	}
	return &rec, nil
}

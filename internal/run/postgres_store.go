package run

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists analysis runs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed run store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const runColumns = `id, agent_id, status, query, model, max_steps, steps_executed,
	       started_at, completed_at, error_message, requested_by,
	       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *Run) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			id, agent_id, status, query, model, max_steps, steps_executed,
			started_at, completed_at, error_message, requested_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.AgentID, string(r.Status), r.Query, r.Model,
		r.MaxSteps, r.StepsExecuted, nullTime(r.StartedAt),
		nullTime(r.CompletedAt), nullString(r.ErrorMessage),
		nullString(r.RequestedBy), r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Run, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return r, err
}

func (p *PostgresStore) Update(ctx context.Context, r *Run) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE analysis_runs SET
			status = $1, steps_executed = $2, started_at = $3,
			completed_at = $4, error_message = $5, updated_at = $6
		WHERE id = $7`,
		string(r.Status), r.StepsExecuted, nullTime(r.StartedAt),
		nullTime(r.CompletedAt), nullString(r.ErrorMessage),
		r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Run, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM analysis_runs
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	r := &Run{}
	var (
		status                    string
		startedAt, completedAt    sql.NullTime
		errorMessage, requestedBy sql.NullString
	)
	err := s.Scan(
		&r.ID, &r.AgentID, &status, &r.Query, &r.Model,
		&r.MaxSteps, &r.StepsExecuted, &startedAt, &completedAt,
		&errorMessage, &requestedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	r.ErrorMessage = errorMessage.String
	r.RequestedBy = requestedBy.String
	return r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists approval requests and decisions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed approval store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, idempotency_key, agent_id, requested_by, channel, status,
		       required_approvals, timeout_policy, is_escalated, escalated_at,
		       intent_payload, risk_score, notes, expires_at,
		       decided_at, decided_by, decision_reason, created_at, updated_at`

func (p *PostgresStore) CreateRequest(ctx context.Context, r *Request) error {
	payload, err := json.Marshal(r.IntentPayload)
	if err != nil {
		return fmt.Errorf("marshal intent payload: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO approval_requests (
			id, idempotency_key, agent_id, requested_by, channel, status,
			required_approvals, timeout_policy, is_escalated, escalated_at,
			intent_payload, risk_score, notes, expires_at,
			decided_at, decided_by, decision_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19
		)`,
		r.ID, r.IdempotencyKey, r.AgentID, nullString(r.RequestedBy),
		string(r.Channel), string(r.Status),
		r.RequiredApprovals, string(r.TimeoutPolicy), r.IsEscalated, nullTime(r.EscalatedAt),
		payload, r.RiskScore, nullString(r.Notes), nullTime(r.ExpiresAt),
		nullTime(r.DecidedAt), nullString(r.DecidedBy), nullString(r.DecisionReason),
		r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	return r, err
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, r *Request) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE approval_requests SET
			status = $1, is_escalated = $2, escalated_at = $3, notes = $4,
			expires_at = $5, decided_at = $6, decided_by = $7,
			decision_reason = $8, updated_at = $9
		WHERE id = $10`,
		string(r.Status), r.IsEscalated, nullTime(r.EscalatedAt), nullString(r.Notes),
		nullTime(r.ExpiresAt), nullTime(r.DecidedAt), nullString(r.DecidedBy),
		nullString(r.DecisionReason), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// FinalizeRequest writes the terminal fields only while the row is still
// pending, so concurrent finalizers resolve to exactly one winner.
func (p *PostgresStore) FinalizeRequest(ctx context.Context, r *Request) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE approval_requests SET
			status = $1, decided_at = $2, decided_by = $3,
			decision_reason = $4, updated_at = $5
		WHERE id = $6 AND status = 'pending'`,
		string(r.Status), nullTime(r.DecidedAt), nullString(r.DecidedBy),
		nullString(r.DecisionReason), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := p.GetRequest(ctx, r.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) CreateDecision(ctx context.Context, d *Decision) error {
	var metadata []byte
	if d.Metadata != nil {
		var err error
		metadata, err = json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal decision metadata: %w", err)
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO approval_decisions (
			id, request_id, actor_id, channel, decision, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.RequestID, nullString(d.ActorID), string(d.Channel),
		string(d.Decision), nullString(d.Reason), metadata, d.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateVote
		}
		return err
	}
	return nil
}

func (p *PostgresStore) ListDecisions(ctx context.Context, requestID string) ([]*Decision, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, request_id, actor_id, channel, decision, reason, metadata, created_at
		FROM approval_decisions
		WHERE request_id = $1
		ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Decision
	for rows.Next() {
		d := &Decision{}
		var (
			actorID, reason  sql.NullString
			channel, verdict string
			metadata         []byte
		)
		if err := rows.Scan(&d.ID, &d.RequestID, &actorID, &channel, &verdict, &reason, &metadata, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.ActorID = actorID.String
		d.Channel = Channel(channel)
		d.Decision = DecisionType(verdict)
		d.Reason = reason.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal decision metadata: %w", err)
			}
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CountApprovals(ctx context.Context, requestID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM approval_decisions
		WHERE request_id = $1 AND decision = 'approve' AND actor_id IS NOT NULL`,
		requestID).Scan(&count)
	return count, err
}

func (p *PostgresStore) HasActorDecided(ctx context.Context, requestID, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM approval_decisions
			WHERE request_id = $1 AND actor_id = $2
		)`, requestID, actorID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]*Request, error) {
	defer func() { _ = rows.Close() }()
	var result []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
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

func scanRequest(s scanner) (*Request, error) {
	r := &Request{}
	var (
		requestedBy, notes, decidedBy, reason sql.NullString
		channel, status, policy               string
		escalatedAt, expiresAt, decidedAt     sql.NullTime
		payload                               []byte
	)
	err := s.Scan(
		&r.ID, &r.IdempotencyKey, &r.AgentID, &requestedBy, &channel, &status,
		&r.RequiredApprovals, &policy, &r.IsEscalated, &escalatedAt,
		&payload, &r.RiskScore, &notes, &expiresAt,
		&decidedAt, &decidedBy, &reason, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RequestedBy = requestedBy.String
	r.Channel = Channel(channel)
	r.Status = Status(status)
	r.TimeoutPolicy = TimeoutPolicy(policy)
	r.Notes = notes.String
	r.DecidedBy = decidedBy.String
	r.DecisionReason = reason.String
	if escalatedAt.Valid {
		r.EscalatedAt = &escalatedAt.Time
	}
	if expiresAt.Valid {
		r.ExpiresAt = &expiresAt.Time
	}
	if decidedAt.Valid {
		r.DecidedAt = &decidedAt.Time
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.IntentPayload); err != nil {
			return nil, fmt.Errorf("unmarshal intent payload: %w", err)
		}
	}
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

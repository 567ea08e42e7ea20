package agent

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
)

// PostgresStore persists agents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed agent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const agentColumns = `id, owner_id, name, slug, status, execution_mode, approval_mode,
	       required_approvals, approvers, risk_policy_id, is_auto_enabled,
	       config, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Agent) error {
	configJSON, _ := json.Marshal(a.Config)
	if a.Config == nil {
		configJSON = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, owner_id, name, slug, status, execution_mode, approval_mode,
			required_approvals, approvers, risk_policy_id, is_auto_enabled,
			config, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.OwnerID, a.Name, a.Slug, string(a.Status),
		string(a.ExecutionMode), string(a.ApprovalMode),
		a.RequiredApprovals, pq.Array(a.Approvers), nullString(a.RiskPolicyID),
		a.IsAutoEnabled, configJSON, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Agent, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	return a, err
}

func (p *PostgresStore) Update(ctx context.Context, a *Agent) error {
	configJSON, _ := json.Marshal(a.Config)
	if a.Config == nil {
		configJSON = []byte("{}")
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE agents SET
			name = $1, slug = $2, status = $3, execution_mode = $4,
			approval_mode = $5, required_approvals = $6, approvers = $7,
			risk_policy_id = $8, is_auto_enabled = $9, config = $10,
			updated_at = $11
		WHERE id = $12`,
		a.Name, a.Slug, string(a.Status), string(a.ExecutionMode),
		string(a.ApprovalMode), a.RequiredApprovals, pq.Array(a.Approvers),
		nullString(a.RiskPolicyID), a.IsAutoEnabled, configJSON,
		a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Agent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(s scanner) (*Agent, error) {
	a := &Agent{}
	var (
		status, execMode, apprMode string
		approvers                  pq.StringArray
		riskPolicyID               sql.NullString
		configJSON                 []byte
	)
	err := s.Scan(
		&a.ID, &a.OwnerID, &a.Name, &a.Slug, &status, &execMode, &apprMode,
		&a.RequiredApprovals, &approvers, &riskPolicyID, &a.IsAutoEnabled,
		&configJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.ExecutionMode = ExecutionMode(execMode)
	a.ApprovalMode = ApprovalMode(apprMode)
	a.Approvers = approvers
	a.RiskPolicyID = riskPolicyID.String
	if len(configJSON) > 0 {
		_ = json.Unmarshal(configJSON, &a.Config)
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

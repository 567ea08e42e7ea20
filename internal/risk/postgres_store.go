package risk

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists risk policies in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const policyColumns = `id, owner_id, name, max_order_notional, max_position_notional,
	       max_daily_loss, max_orders_per_day, allowed_symbols,
	       require_market_hours, allow_shorting, is_default,
	       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, pol *Policy) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_policies (
			id, owner_id, name, max_order_notional, max_position_notional,
			max_daily_loss, max_orders_per_day, allowed_symbols,
			require_market_hours, allow_shorting, is_default,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		pol.ID, pol.OwnerID, pol.Name, pol.MaxOrderNotional,
		pol.MaxPositionNotional, pol.MaxDailyLoss, pol.MaxOrdersPerDay,
		pq.Array(pol.AllowedSymbols), pol.RequireMarketHours,
		pol.AllowShorting, pol.IsDefault, pol.CreatedAt, pol.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Policy, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM risk_policies WHERE id = $1`, id)
	pol, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	return pol, err
}

func (p *PostgresStore) Update(ctx context.Context, pol *Policy) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE risk_policies SET
			name = $1, max_order_notional = $2, max_position_notional = $3,
			max_daily_loss = $4, max_orders_per_day = $5, allowed_symbols = $6,
			require_market_hours = $7, allow_shorting = $8, is_default = $9,
			updated_at = $10
		WHERE id = $11`,
		pol.Name, pol.MaxOrderNotional, pol.MaxPositionNotional,
		pol.MaxDailyLoss, pol.MaxOrdersPerDay, pq.Array(pol.AllowedSymbols),
		pol.RequireMarketHours, pol.AllowShorting, pol.IsDefault,
		pol.UpdatedAt, pol.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Policy, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+policyColumns+`
		FROM risk_policies
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Policy
	for rows.Next() {
		pol, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pol)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(s scanner) (*Policy, error) {
	pol := &Policy{}
	var symbols pq.StringArray
	err := s.Scan(
		&pol.ID, &pol.OwnerID, &pol.Name, &pol.MaxOrderNotional,
		&pol.MaxPositionNotional, &pol.MaxDailyLoss, &pol.MaxOrdersPerDay,
		&symbols, &pol.RequireMarketHours, &pol.AllowShorting,
		&pol.IsDefault, &pol.CreatedAt, &pol.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	pol.AllowedSymbols = symbols
	return pol, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

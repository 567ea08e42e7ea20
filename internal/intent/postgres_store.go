package intent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists trade intents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed intent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const intentColumns = `id, idempotency_key, agent_id, symbol, exchange, side, quantity,
	       order_type, product, price, trigger_price, notional, status,
	       approval_request_id, broker_order_id, failure_reason,
	       placed_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *TradeIntent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trade_intents (
			id, idempotency_key, agent_id, symbol, exchange, side, quantity,
			order_type, product, price, trigger_price, notional, status,
			approval_request_id, broker_order_id, failure_reason,
			placed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19
		)`,
		t.ID, t.IdempotencyKey, t.AgentID, t.Symbol, t.Exchange,
		string(t.Side), t.Quantity, string(t.OrderType), string(t.Product),
		t.Price, t.TriggerPrice, t.Notional, string(t.Status),
		nullString(t.ApprovalRequestID), nullString(t.BrokerOrderID),
		nullString(t.FailureReason), nullTime(t.PlacedAt),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*TradeIntent, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM trade_intents WHERE id = $1`, id)
	t, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *TradeIntent) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE trade_intents SET
			status = $1, approval_request_id = $2, broker_order_id = $3,
			failure_reason = $4, placed_at = $5, notional = $6, updated_at = $7
		WHERE id = $8`,
		string(t.Status), nullString(t.ApprovalRequestID),
		nullString(t.BrokerOrderID), nullString(t.FailureReason),
		nullTime(t.PlacedAt), t.Notional, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit int, opts ...ListOption) ([]*TradeIntent, error) {
	o := applyListOpts(opts)

	query := `
		SELECT ` + intentColumns + `
		FROM trade_intents
		WHERE agent_id = $1`
	args := []any{agentID}
	if o.cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, o.cursor.CreatedAt, o.cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*TradeIntent
	for rows.Next() {
		t, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) GetByApprovalRequest(ctx context.Context, approvalRequestID string) (*TradeIntent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+intentColumns+`
		FROM trade_intents
		WHERE approval_request_id = $1`, approvalRequestID)
	t, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	return t, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(s scanner) (*TradeIntent, error) {
	t := &TradeIntent{}
	var (
		side, orderType, product, status            string
		approvalReqID, brokerOrderID, failureReason sql.NullString
		placedAt                                    sql.NullTime
	)
	err := s.Scan(
		&t.ID, &t.IdempotencyKey, &t.AgentID, &t.Symbol, &t.Exchange,
		&side, &t.Quantity, &orderType, &product,
		&t.Price, &t.TriggerPrice, &t.Notional, &status,
		&approvalReqID, &brokerOrderID, &failureReason,
		&placedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Side = Side(side)
	t.OrderType = OrderType(orderType)
	t.Product = Product(product)
	t.Status = Status(status)
	t.ApprovalRequestID = approvalReqID.String
	t.BrokerOrderID = brokerOrderID.String
	t.FailureReason = failureReason.String
	if placedAt.Valid {
		t.PlacedAt = &placedAt.Time
	}
	return t, nil
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

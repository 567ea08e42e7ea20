package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists webhook endpoints and deliveries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const endpointColumns = `id, owner_id, name, target_url, secret, custom_headers,
		       subscribed_events, is_active, created_at, updated_at`

func (p *PostgresStore) CreateEndpoint(ctx context.Context, e *WebhookEndpoint) error {
	headers, err := marshalHeaders(e.CustomHeaders)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_endpoints (
			id, owner_id, name, target_url, secret, custom_headers,
			subscribed_events, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.OwnerID, e.Name, e.TargetURL, nullString(e.Secret), headers,
		pq.Array(e.SubscribedEvents), e.IsActive, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateEndpoint
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetEndpoint(ctx context.Context, id string) (*WebhookEndpoint, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	e, err := scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, ErrEndpointNotFound
	}
	return e, err
}

func (p *PostgresStore) UpdateEndpoint(ctx context.Context, e *WebhookEndpoint) error {
	headers, err := marshalHeaders(e.CustomHeaders)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE webhook_endpoints SET
			name = $1, target_url = $2, secret = $3, custom_headers = $4,
			subscribed_events = $5, is_active = $6, updated_at = $7
		WHERE id = $8`,
		e.Name, e.TargetURL, nullString(e.Secret), headers,
		pq.Array(e.SubscribedEvents), e.IsActive, e.UpdatedAt, e.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateEndpoint
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteEndpoint(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (p *PostgresStore) ListEndpointsByOwner(ctx context.Context, ownerID string) ([]*WebhookEndpoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE owner_id = $1
		ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*WebhookEndpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

const deliveryColumns = `id, endpoint_id, run_id, event_type, status, attempts,
		       last_attempt_at, next_retry_at, response_status, response_body,
		       error_message, created_at, updated_at`

// GetOrCreateDelivery inserts the candidate delivery, relying on the unique
// (endpoint_id, run_id, event_type) index: on conflict the insert is a no-op
// and the existing row is returned instead.
func (p *PostgresStore) GetOrCreateDelivery(ctx context.Context, d *Delivery) (*Delivery, bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO notification_deliveries (
			id, endpoint_id, run_id, event_type, status, attempts,
			last_attempt_at, next_retry_at, response_status, response_body,
			error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (endpoint_id, run_id, event_type) DO NOTHING`,
		d.ID, d.EndpointID, d.RunID, d.EventType, string(d.Status), d.Attempts,
		nullTime(d.LastAttemptAt), nullTime(d.NextRetryAt),
		nullInt(d.ResponseStatus), nullString(d.ResponseBody),
		nullString(d.ErrorMessage), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	row := p.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM notification_deliveries
		WHERE endpoint_id = $1 AND run_id = $2 AND event_type = $3`,
		d.EndpointID, d.RunID, d.EventType)
	existing, err := scanDelivery(row)
	if err != nil {
		return nil, false, err
	}
	return existing, rows == 1, nil
}

func (p *PostgresStore) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM notification_deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, ErrDeliveryNotFound
	}
	return d, err
}

func (p *PostgresStore) UpdateDelivery(ctx context.Context, d *Delivery) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE notification_deliveries SET
			status = $1, attempts = $2, last_attempt_at = $3, next_retry_at = $4,
			response_status = $5, response_body = $6, error_message = $7,
			updated_at = $8
		WHERE id = $9`,
		string(d.Status), d.Attempts, nullTime(d.LastAttemptAt), nullTime(d.NextRetryAt),
		nullInt(d.ResponseStatus), nullString(d.ResponseBody),
		nullString(d.ErrorMessage), d.UpdatedAt, d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (p *PostgresStore) ListDeliveriesByRun(ctx context.Context, runID string) ([]*Delivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM notification_deliveries
		WHERE run_id = $1
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (p *PostgresStore) ListDueRetries(ctx context.Context, before time.Time, limit int) ([]*Delivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM notification_deliveries
		WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func collectDeliveries(rows *sql.Rows) ([]*Delivery, error) {
	defer func() { _ = rows.Close() }()
	var result []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEndpoint(s scanner) (*WebhookEndpoint, error) {
	e := &WebhookEndpoint{}
	var (
		secret  sql.NullString
		headers []byte
		events  pq.StringArray
	)
	err := s.Scan(
		&e.ID, &e.OwnerID, &e.Name, &e.TargetURL, &secret, &headers,
		&events, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Secret = secret.String
	e.SubscribedEvents = events
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &e.CustomHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal custom headers: %w", err)
		}
	}
	return e, nil
}

func scanDelivery(s scanner) (*Delivery, error) {
	d := &Delivery{}
	var (
		status                 string
		lastAttempt, nextRetry sql.NullTime
		responseStatus         sql.NullInt64
		responseBody, errorMsg sql.NullString
	)
	err := s.Scan(
		&d.ID, &d.EndpointID, &d.RunID, &d.EventType, &status, &d.Attempts,
		&lastAttempt, &nextRetry, &responseStatus, &responseBody,
		&errorMsg, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = DeliveryStatus(status)
	if lastAttempt.Valid {
		d.LastAttemptAt = &lastAttempt.Time
	}
	if nextRetry.Valid {
		d.NextRetryAt = &nextRetry.Time
	}
	d.ResponseStatus = int(responseStatus.Int64)
	d.ResponseBody = responseBody.String
	d.ErrorMessage = errorMsg.String
	return d, nil
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal custom headers: %w", err)
	}
	return data, nil
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

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

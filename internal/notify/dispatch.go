package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/circuitbreaker"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/idgen"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/logging"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/metrics"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/run"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/secrets"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/traces"
)

// Delivery defaults, overridable via Config.
const (
	DefaultTimeout          = 10 * time.Second
	DefaultMaxAttempts      = 3
	DefaultRetryBase        = 30 * time.Second
	DefaultRetryMax         = 15 * time.Minute
	DefaultResponseMaxChars = 1500
)

// Per-endpoint circuit breaker settings. An endpoint that fails this many
// consecutive attempts stops receiving traffic until the open window elapses.
const (
	breakerThreshold = 5
	breakerOpenFor   = time.Minute
)

// Config tunes delivery behavior.
type Config struct {
	Timeout          time.Duration
	MaxAttempts      int
	RetryBase        time.Duration
	RetryMax         time.Duration
	ResponseMaxChars int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = DefaultRetryMax
	}
	if c.ResponseMaxChars <= 0 {
		c.ResponseMaxChars = DefaultResponseMaxChars
	}
	return c
}

// Counters summarizes one dispatch pass.
type Counters struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Dispatcher fans run events out to subscribed endpoints and performs the
// HTTP delivery attempts.
type Dispatcher struct {
	store   Store
	runs    run.Store
	agents  agent.Store
	crypto  secrets.Decryptor
	client  *http.Client
	breaker *circuitbreaker.Breaker
	cfg     Config
	now     func() time.Time
}

// NewDispatcher creates a dispatcher with the given delivery config.
func NewDispatcher(store Store, runs run.Store, agents agent.Store, crypto secrets.Decryptor, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		store:   store,
		runs:    runs,
		agents:  agents,
		crypto:  crypto,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New(breakerThreshold, breakerOpenFor),
		cfg:     cfg,
		now:     time.Now,
	}
}

// DispatchForRun fans the run's terminal event out to every active subscribed
// endpoint of the agent owner. A run that is not yet terminal is skipped, not
// an error. Calling it again for the same run is idempotent:
// already-delivered and already-failed deliveries are skipped, and pending
// deliveries whose retry is not yet due only contribute to the returned min
// retry delay. One endpoint failing never blocks the others.
func (d *Dispatcher) DispatchForRun(ctx context.Context, r *run.Run) (Counters, time.Duration, error) {
	var counters Counters

	event, ok := EventForRunStatus(r.Status)
	if !ok {
		logging.L(ctx).Debug("run not terminal, notification skipped",
			"run_id", r.ID, "status", r.Status)
		return counters, 0, nil
	}

	ag, err := d.agents.Get(ctx, r.AgentID)
	if err != nil {
		return counters, 0, fmt.Errorf("load agent: %w", err)
	}

	endpoints, err := d.store.ListEndpointsByOwner(ctx, ag.OwnerID)
	if err != nil {
		return counters, 0, fmt.Errorf("list endpoints: %w", err)
	}

	now := d.now().UTC()
	var minDelay time.Duration
	trackDelay := func(next time.Time) {
		delay := next.Sub(now)
		if delay < 0 {
			delay = 0
		}
		if minDelay == 0 || delay < minDelay {
			minDelay = delay
		}
	}

	for _, ep := range endpoints {
		if !ep.IsActive || !ep.Subscribed(event) {
			continue
		}

		candidate := &Delivery{
			ID:         idgen.WithPrefix("del_"),
			EndpointID: ep.ID,
			RunID:      r.ID,
			EventType:  event,
			Status:     DeliveryPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		delivery, _, err := d.store.GetOrCreateDelivery(ctx, candidate)
		if err != nil {
			logging.L(ctx).Error("get or create delivery",
				"endpoint_id", ep.ID, "run_id", r.ID, "event", event, "error", err)
			continue
		}

		if delivery.Status != DeliveryPending {
			counters.Skipped++
			continue
		}
		if delivery.NextRetryAt != nil && delivery.NextRetryAt.After(now) {
			counters.Skipped++
			trackDelay(*delivery.NextRetryAt)
			continue
		}

		counters.Attempted++
		if err := d.Attempt(ctx, ep, delivery, ag, r); err != nil {
			logging.L(ctx).Warn("webhook delivery attempt",
				"delivery_id", delivery.ID, "endpoint_id", ep.ID, "error", err)
		}
		// Every unsuccessful attempt counts as failed, even when a
		// retry was scheduled.
		if delivery.Status == DeliveryDelivered {
			counters.Delivered++
		} else {
			counters.Failed++
			if delivery.NextRetryAt != nil {
				trackDelay(*delivery.NextRetryAt)
			}
		}
	}

	return counters, minDelay, nil
}

// RedeliverDue retries pending deliveries whose next_retry_at has passed,
// oldest first.
func (d *Dispatcher) RedeliverDue(ctx context.Context, limit int) (Counters, error) {
	var counters Counters

	due, err := d.store.ListDueRetries(ctx, d.now().UTC(), limit)
	if err != nil {
		return counters, fmt.Errorf("list due retries: %w", err)
	}

	for _, delivery := range due {
		ep, err := d.store.GetEndpoint(ctx, delivery.EndpointID)
		if err != nil {
			logging.L(ctx).Warn("redelivery endpoint lookup",
				"delivery_id", delivery.ID, "endpoint_id", delivery.EndpointID, "error", err)
			continue
		}
		if !ep.IsActive {
			counters.Skipped++
			continue
		}
		r, err := d.runs.Get(ctx, delivery.RunID)
		if err != nil {
			logging.L(ctx).Warn("redelivery run lookup",
				"delivery_id", delivery.ID, "run_id", delivery.RunID, "error", err)
			continue
		}
		ag, err := d.agents.Get(ctx, r.AgentID)
		if err != nil {
			logging.L(ctx).Warn("redelivery agent lookup",
				"delivery_id", delivery.ID, "agent_id", r.AgentID, "error", err)
			continue
		}

		counters.Attempted++
		if err := d.Attempt(ctx, ep, delivery, ag, r); err != nil {
			logging.L(ctx).Warn("webhook redelivery attempt",
				"delivery_id", delivery.ID, "endpoint_id", ep.ID, "error", err)
		}
		if delivery.Status == DeliveryDelivered {
			counters.Delivered++
		} else {
			counters.Failed++
		}
	}

	return counters, nil
}

// Attempt performs one HTTP delivery and persists the outcome on the
// delivery record: delivered on 2xx, a scheduled retry while attempts remain,
// failed once the attempt budget is spent.
func (d *Dispatcher) Attempt(ctx context.Context, ep *WebhookEndpoint, delivery *Delivery, ag *agent.Agent, r *run.Run) error {
	ctx, span := traces.StartSpan(ctx, "notify.Attempt",
		traces.RunID(r.ID), traces.EventType(delivery.EventType))
	defer span.End()

	now := d.now().UTC()

	// An open circuit defers the attempt without spending the attempt budget.
	if !d.breaker.Allow(ep.ID) {
		next := now.Add(d.Backoff(delivery.Attempts + 1))
		delivery.Status = DeliveryPending
		delivery.NextRetryAt = &next
		delivery.UpdatedAt = now
		metrics.WebhookDeliveriesTotal.WithLabelValues("circuit_open").Inc()
		if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
			return err
		}
		return fmt.Errorf("circuit open for endpoint %s", ep.ID)
	}

	delivery.Attempts++
	delivery.LastAttemptAt = &now
	delivery.UpdatedAt = now

	body, err := json.Marshal(buildPayload(delivery.EventType, now, ag, r))
	if err != nil {
		return d.recordFailure(ctx, delivery, 0, "", fmt.Sprintf("marshal payload: %v", err), now)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.TargetURL, bytes.NewReader(body))
	if err != nil {
		return d.recordFailure(ctx, delivery, 0, "", fmt.Sprintf("build request: %v", err), now)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event", delivery.EventType)
	req.Header.Set("X-Delivery-Id", delivery.ID)
	req.Header.Set("X-Run-Id", r.ID)
	for name, value := range ep.CustomHeaders {
		req.Header.Set(name, value)
	}
	if ep.Secret != "" {
		secret, err := d.crypto.Decrypt(ep.Secret)
		if err != nil {
			return d.recordFailure(ctx, delivery, 0, "", fmt.Sprintf("decrypt secret: %v", err), now)
		}
		req.Header.Set("X-Signature", "sha256="+sign(body, secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.breaker.RecordFailure(ep.ID)
		return d.recordFailure(ctx, delivery, 0, "", fmt.Sprintf("request failed: %v", err), now)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody := d.readBody(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.breaker.RecordSuccess(ep.ID)
		delivery.Status = DeliveryDelivered
		delivery.NextRetryAt = nil
		delivery.ResponseStatus = resp.StatusCode
		delivery.ResponseBody = respBody
		delivery.ErrorMessage = ""
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		return d.store.UpdateDelivery(ctx, delivery)
	}

	d.breaker.RecordFailure(ep.ID)
	return d.recordFailure(ctx, delivery, resp.StatusCode, respBody,
		fmt.Sprintf("endpoint returned status %d", resp.StatusCode), now)
}

func (d *Dispatcher) recordFailure(ctx context.Context, delivery *Delivery, status int, body, message string, now time.Time) error {
	delivery.ResponseStatus = status
	delivery.ResponseBody = body
	delivery.ErrorMessage = message

	if delivery.Attempts >= d.cfg.MaxAttempts {
		delivery.Status = DeliveryFailed
		delivery.NextRetryAt = nil
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	} else {
		next := now.Add(d.Backoff(delivery.Attempts))
		delivery.Status = DeliveryPending
		delivery.NextRetryAt = &next
		metrics.WebhookDeliveriesTotal.WithLabelValues("retry_scheduled").Inc()
	}
	return d.store.UpdateDelivery(ctx, delivery)
}

// Backoff returns the delay before the next attempt: base doubled per prior
// attempt, capped at the configured max.
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := d.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.RetryMax || delay <= 0 {
			return d.cfg.RetryMax
		}
	}
	if delay > d.cfg.RetryMax {
		return d.cfg.RetryMax
	}
	return delay
}

func (d *Dispatcher) readBody(rc io.Reader) string {
	limited := io.LimitReader(rc, int64(d.cfg.ResponseMaxChars)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return ""
	}
	if len(data) > d.cfg.ResponseMaxChars {
		data = data[:d.cfg.ResponseMaxChars]
	}
	return string(data)
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

type payloadAgent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type payloadRun struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Query         string     `json:"query,omitempty"`
	Model         string     `json:"model,omitempty"`
	MaxSteps      int        `json:"max_steps"`
	StepsExecuted int        `json:"steps_executed"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RequestedBy   string     `json:"requested_by,omitempty"`
}

type payload struct {
	EventType  string       `json:"event_type"`
	OccurredAt string       `json:"occurred_at"`
	Agent      payloadAgent `json:"agent"`
	Run        payloadRun   `json:"run"`
}

func buildPayload(event string, occurredAt time.Time, ag *agent.Agent, r *run.Run) payload {
	return payload{
		EventType:  event,
		OccurredAt: occurredAt.Format(time.RFC3339),
		Agent:      payloadAgent{ID: ag.ID, Name: ag.Name, Slug: ag.Slug},
		Run: payloadRun{
			ID:            r.ID,
			Status:        string(r.Status),
			Query:         r.Query,
			Model:         r.Model,
			MaxSteps:      r.MaxSteps,
			StepsExecuted: r.StepsExecuted,
			StartedAt:     r.StartedAt,
			CompletedAt:   r.CompletedAt,
			ErrorMessage:  r.ErrorMessage,
			RequestedBy:   r.RequestedBy,
		},
	}
}

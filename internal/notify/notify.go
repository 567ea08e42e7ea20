// Package notify delivers signed webhook notifications for analysis run
// lifecycle events.
//
// Owners register webhook endpoints; when a run reaches a terminal status the
// dispatcher fans out one delivery per subscribed endpoint, signs the payload
// with the endpoint secret, and retries failures with exponential backoff.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/run"
)

var (
	ErrEndpointNotFound  = errors.New("webhook endpoint not found")
	ErrDeliveryNotFound  = errors.New("notification delivery not found")
	ErrDuplicateEndpoint = errors.New("webhook endpoint name already used by owner")
)

// Run lifecycle events.
const (
	EventRunCompleted = "analysis_run.completed"
	EventRunFailed    = "analysis_run.failed"
	EventRunCanceled  = "analysis_run.canceled"
)

// EventForRunStatus maps a terminal run status to its notification event.
// Non-terminal statuses produce no event.
func EventForRunStatus(s run.Status) (string, bool) {
	switch s {
	case run.StatusCompleted:
		return EventRunCompleted, true
	case run.StatusFailed:
		return EventRunFailed, true
	case run.StatusCanceled:
		return EventRunCanceled, true
	}
	return "", false
}

// DeliveryStatus is the state of one notification delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookEndpoint is an owner-registered delivery target. Secret is stored
// encrypted at rest and never serialized outward.
type WebhookEndpoint struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`

	TargetURL        string            `json:"targetUrl"`
	Secret           string            `json:"-"`
	CustomHeaders    map[string]string `json:"customHeaders,omitempty"`
	SubscribedEvents []string          `json:"subscribedEvents,omitempty"`
	IsActive         bool              `json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Subscribed reports whether the endpoint wants the given event.
// An empty subscription list means all run events.
func (e *WebhookEndpoint) Subscribed(event string) bool {
	if len(e.SubscribedEvents) == 0 {
		return true
	}
	for _, ev := range e.SubscribedEvents {
		if ev == event {
			return true
		}
	}
	return false
}

// Delivery is one notification to one endpoint for one run event. The
// (endpoint, run, event) triple is unique, which makes redelivery sweeps and
// repeated dispatch calls idempotent.
type Delivery struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpointId"`
	RunID      string `json:"runId"`
	EventType  string `json:"eventType"`

	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt,omitempty"`
	NextRetryAt   *time.Time     `json:"nextRetryAt,omitempty"`

	ResponseStatus int    `json:"responseStatus,omitempty"`
	ResponseBody   string `json:"responseBody,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists webhook endpoints and notification deliveries.
//
// CreateEndpoint enforces unique names per owner and returns
// ErrDuplicateEndpoint on violation. GetOrCreateDelivery enforces the
// (endpoint, run, event) uniqueness: when a matching delivery already exists
// it is returned with created=false and the candidate is discarded.
type Store interface {
	CreateEndpoint(ctx context.Context, e *WebhookEndpoint) error
	GetEndpoint(ctx context.Context, id string) (*WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, e *WebhookEndpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	ListEndpointsByOwner(ctx context.Context, ownerID string) ([]*WebhookEndpoint, error)

	GetOrCreateDelivery(ctx context.Context, d *Delivery) (*Delivery, bool, error)
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	ListDeliveriesByRun(ctx context.Context, runID string) ([]*Delivery, error)
	ListDueRetries(ctx context.Context, before time.Time, limit int) ([]*Delivery, error)
}

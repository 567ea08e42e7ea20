package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/idgen"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/secrets"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/security"
)

// RegisterInput is the caller-facing shape for creating or updating an
// endpoint. Secret arrives in plaintext and is encrypted before storage.
type RegisterInput struct {
	Name             string            `json:"name" binding:"required"`
	TargetURL        string            `json:"targetUrl" binding:"required"`
	Secret           string            `json:"secret"`
	CustomHeaders    map[string]string `json:"customHeaders"`
	SubscribedEvents []string          `json:"subscribedEvents"`
	IsActive         *bool             `json:"isActive"`
}

// Registry manages webhook endpoint registration.
type Registry struct {
	store  Store
	crypto *secrets.Crypto
	now    func() time.Time
}

// NewRegistry creates an endpoint registry.
func NewRegistry(store Store, crypto *secrets.Crypto) *Registry {
	return &Registry{store: store, crypto: crypto, now: time.Now}
}

// Register validates and stores a new endpoint for the owner.
func (g *Registry) Register(ctx context.Context, ownerID string, in RegisterInput) (*WebhookEndpoint, error) {
	if err := security.ValidateEndpointURL(in.TargetURL); err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	if err := validateEvents(in.SubscribedEvents); err != nil {
		return nil, err
	}

	sealed, err := g.crypto.Encrypt(in.Secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}

	now := g.now().UTC()
	ep := &WebhookEndpoint{
		ID:               idgen.WithPrefix("ep_"),
		OwnerID:          ownerID,
		Name:             in.Name,
		TargetURL:        in.TargetURL,
		Secret:           sealed,
		CustomHeaders:    in.CustomHeaders,
		SubscribedEvents: in.SubscribedEvents,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.IsActive != nil {
		ep.IsActive = *in.IsActive
	}
	if err := g.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Update applies changes to an owner's endpoint. An empty secret keeps the
// stored one; a non-empty secret is re-encrypted.
func (g *Registry) Update(ctx context.Context, ownerID, id string, in RegisterInput) (*WebhookEndpoint, error) {
	ep, err := g.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep.OwnerID != ownerID {
		return nil, ErrEndpointNotFound
	}

	if err := security.ValidateEndpointURL(in.TargetURL); err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	if err := validateEvents(in.SubscribedEvents); err != nil {
		return nil, err
	}

	ep.Name = in.Name
	ep.TargetURL = in.TargetURL
	ep.CustomHeaders = in.CustomHeaders
	ep.SubscribedEvents = in.SubscribedEvents
	if in.IsActive != nil {
		ep.IsActive = *in.IsActive
	}
	if in.Secret != "" {
		sealed, err := g.crypto.Encrypt(in.Secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt secret: %w", err)
		}
		ep.Secret = sealed
	}
	ep.UpdatedAt = g.now().UTC()

	if err := g.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Delete removes an owner's endpoint.
func (g *Registry) Delete(ctx context.Context, ownerID, id string) error {
	ep, err := g.store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	if ep.OwnerID != ownerID {
		return ErrEndpointNotFound
	}
	return g.store.DeleteEndpoint(ctx, id)
}

func validateEvents(events []string) error {
	for _, ev := range events {
		switch ev {
		case EventRunCompleted, EventRunFailed, EventRunCanceled:
		default:
			return fmt.Errorf("unknown event type %q", ev)
		}
	}
	return nil
}

package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/testutil"
)

func TestPostgresEndpointWithoutSecret(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	ep := &WebhookEndpoint{
		ID:        "ep_pg_nosecret",
		OwnerID:   "owner-pg",
		Name:      "unsigned-hook",
		TargetURL: "https://203.0.113.10/hook",
		Secret:    "",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateEndpoint(ctx, ep); err != nil {
		t.Fatalf("create endpoint without secret: %v", err)
	}

	got, err := store.GetEndpoint(ctx, "ep_pg_nosecret")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Secret != "" {
		t.Fatalf("secret = %q, want empty", got.Secret)
	}
	if got.Name != "unsigned-hook" || !got.IsActive {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// Adding a secret later must also round-trip.
	got.Secret = "sealed-secret"
	got.UpdatedAt = now.Add(time.Second)
	if err := store.UpdateEndpoint(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetEndpoint(ctx, "ep_pg_nosecret")
	if got.Secret != "sealed-secret" {
		t.Fatalf("secret after update = %q", got.Secret)
	}
}

func TestPostgresEndpointDuplicateName(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := &WebhookEndpoint{
		ID:        "ep_pg_dup1",
		OwnerID:   "owner-pg",
		Name:      "ops-hook",
		TargetURL: "https://203.0.113.10/hook",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateEndpoint(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := *first
	dup.ID = "ep_pg_dup2"
	if err := store.CreateEndpoint(ctx, &dup); !errors.Is(err, ErrDuplicateEndpoint) {
		t.Fatalf("duplicate name err = %v", err)
	}

	// Same name under a different owner is fine.
	other := *first
	other.ID = "ep_pg_dup3"
	other.OwnerID = "owner-other"
	if err := store.CreateEndpoint(ctx, &other); err != nil {
		t.Fatalf("other owner create: %v", err)
	}
}

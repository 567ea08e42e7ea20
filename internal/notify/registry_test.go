package notify

import (
	"context"
	"testing"
)

func TestRegisterEncryptsSecret(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	crypto := testCrypto(t)
	registry := NewRegistry(store, crypto)

	ep, err := registry.Register(ctx, "owner-1", RegisterInput{
		Name:      "ops-hook",
		TargetURL: "https://203.0.113.10/hooks/runs",
		Secret:    "super-secret",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	stored, err := store.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Secret == "super-secret" {
		t.Fatal("secret must not be stored in plaintext")
	}
	plain, err := crypto.Decrypt(stored.Secret)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "super-secret" {
		t.Fatalf("decrypted = %q", plain)
	}
	if !stored.IsActive {
		t.Fatal("new endpoints default to active")
	}
}

func TestRegisterRejectsUnsafeURL(t *testing.T) {
	registry := NewRegistry(NewMemoryStore(), testCrypto(t))

	for _, url := range []string{
		"http://localhost:8000/hook",
		"http://127.0.0.1/hook",
		"http://10.0.0.5/hook",
		"ftp://203.0.113.10/hook",
		"not a url at all://",
	} {
		if _, err := registry.Register(context.Background(), "owner-1", RegisterInput{
			Name: "bad", TargetURL: url,
		}); err == nil {
			t.Errorf("Register(%q) succeeded, want error", url)
		}
	}
}

func TestRegisterRejectsUnknownEvent(t *testing.T) {
	registry := NewRegistry(NewMemoryStore(), testCrypto(t))

	_, err := registry.Register(context.Background(), "owner-1", RegisterInput{
		Name:             "hook",
		TargetURL:        "https://203.0.113.10/hook",
		SubscribedEvents: []string{"analysis_run.completed", "order.filled"},
	})
	if err == nil {
		t.Fatal("unknown event type must be rejected")
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	registry := NewRegistry(NewMemoryStore(), testCrypto(t))
	ctx := context.Background()

	in := RegisterInput{Name: "ops-hook", TargetURL: "https://203.0.113.10/hook"}
	if _, err := registry.Register(ctx, "owner-1", in); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := registry.Register(ctx, "owner-1", in); err != ErrDuplicateEndpoint {
		t.Fatalf("err = %v, want ErrDuplicateEndpoint", err)
	}

	// Same name under a different owner is fine.
	if _, err := registry.Register(ctx, "owner-2", in); err != nil {
		t.Fatalf("other owner register: %v", err)
	}
}

func TestUpdateKeepsSecretWhenOmitted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	crypto := testCrypto(t)
	registry := NewRegistry(store, crypto)

	ep, err := registry.Register(ctx, "owner-1", RegisterInput{
		Name:      "ops-hook",
		TargetURL: "https://203.0.113.10/hook",
		Secret:    "original",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := registry.Update(ctx, "owner-1", ep.ID, RegisterInput{
		Name:      "ops-hook-renamed",
		TargetURL: "https://203.0.113.10/hook/v2",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	plain, err := crypto.Decrypt(updated.Secret)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "original" {
		t.Fatalf("secret = %q, want original kept", plain)
	}

	// Another owner cannot touch the endpoint.
	if _, err := registry.Update(ctx, "owner-2", ep.ID, RegisterInput{
		Name: "x", TargetURL: "https://203.0.113.10/hook",
	}); err != ErrEndpointNotFound {
		t.Fatalf("err = %v, want ErrEndpointNotFound", err)
	}
}

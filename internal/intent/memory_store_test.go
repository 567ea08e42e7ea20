package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/pagination"
)

func seedIntents(t *testing.T, store *MemoryStore, n int) []*TradeIntent {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	var created []*TradeIntent
	for i := 0; i < n; i++ {
		it := &TradeIntent{
			ID:        string(rune('a'+i)) + "-intent",
			AgentID:   "agent-1",
			Symbol:    "RELIANCE",
			Side:      SideBuy,
			Quantity:  1,
			OrderType: OrderMarket,
			Status:    StatusDraft,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, it); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		created = append(created, it)
	}
	return created
}

func TestListByAgentNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	seedIntents(t, store, 5)

	got, err := store.ListByAgent(context.Background(), "agent-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Fatalf("results not newest-first at index %d", i)
		}
	}
}

func TestListByAgentCursorPaging(t *testing.T) {
	store := NewMemoryStore()
	seedIntents(t, store, 5)
	ctx := context.Background()

	first, err := store.ListByAgent(ctx, "agent-1", 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first page len = %d", len(first))
	}

	cursor := pagination.Encode(first[1].CreatedAt, first[1].ID)
	second, err := store.ListByAgent(ctx, "agent-1", 2, WithCursor(cursor))
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second page len = %d", len(second))
	}
	for _, it := range second {
		if !it.CreatedAt.Before(first[1].CreatedAt) {
			t.Fatalf("intent %s should be older than the cursor position", it.ID)
		}
	}

	cursor = pagination.Encode(second[1].CreatedAt, second[1].ID)
	third, err := store.ListByAgent(ctx, "agent-1", 2, WithCursor(cursor))
	if err != nil {
		t.Fatalf("third page: %v", err)
	}
	if len(third) != 1 {
		t.Fatalf("third page len = %d, want 1", len(third))
	}
}

func TestListByAgentBadCursorIgnored(t *testing.T) {
	store := NewMemoryStore()
	seedIntents(t, store, 3)

	got, err := store.ListByAgent(context.Background(), "agent-1", 10, WithCursor("!!not-base64!!"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want all 3 with malformed cursor ignored", len(got))
	}
}

func TestCreateDuplicateIdempotencyKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	a := &TradeIntent{ID: "int-1", IdempotencyKey: "idem-1", AgentID: "agent-1", Symbol: "TCS", Side: SideBuy, Quantity: 1, Status: StatusDraft, CreatedAt: now, UpdatedAt: now}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	b := &TradeIntent{ID: "int-2", IdempotencyKey: "idem-1", AgentID: "agent-1", Symbol: "TCS", Side: SideBuy, Quantity: 1, Status: StatusDraft, CreatedAt: now, UpdatedAt: now}
	if err := store.Create(ctx, b); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	seedIntents(t, store, 1)
	ctx := context.Background()

	got, err := store.Get(ctx, "a-intent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Symbol = "MUTATED"

	again, _ := store.Get(ctx, "a-intent")
	if again.Symbol != "RELIANCE" {
		t.Fatal("store must not expose internal state to mutation")
	}
}

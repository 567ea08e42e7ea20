package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/pagination"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	it := &TradeIntent{
		ID:             "int_pg1",
		IdempotencyKey: "idem-pg-1",
		AgentID:        "agt_pg1",
		Symbol:         "INFY",
		Exchange:       "NSE",
		Side:           SideSell,
		Quantity:       5,
		OrderType:      OrderLimit,
		Product:        "CNC",
		Price:          1500.50,
		Notional:       7502.50,
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Create(ctx, it); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, "int_pg1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Symbol != "INFY" || got.Side != SideSell || got.Quantity != 5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	dup := *it
	dup.ID = "int_pg2"
	if err := store.Create(ctx, &dup); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate key err = %v", err)
	}

	got.Status = StatusPlaced
	got.BrokerOrderID = "kite-123"
	placed := now.Add(time.Second)
	got.PlacedAt = &placed
	got.UpdatedAt = placed
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.Get(ctx, "int_pg1")
	if got.Status != StatusPlaced || got.BrokerOrderID != "kite-123" {
		t.Fatalf("update not persisted: %+v", got)
	}

	if _, err := store.Get(ctx, "int_missing"); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("missing intent err = %v", err)
	}
}

func TestPostgresStoreCursorPaging(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)

	ids := []string{"int_p1", "int_p2", "int_p3", "int_p4"}
	for i, id := range ids {
		it := &TradeIntent{
			ID:        id,
			AgentID:   "agt_page",
			Symbol:    "SBIN",
			Side:      SideBuy,
			Quantity:  1,
			OrderType: OrderMarket,
			Product:   "MIS",
			Status:    StatusDraft,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, it); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	first, err := store.ListByAgent(ctx, "agt_page", 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 || first[0].ID != "int_p4" || first[1].ID != "int_p3" {
		t.Fatalf("first page = %v", idsOf(first))
	}

	cursor := pagination.Encode(first[1].CreatedAt, first[1].ID)
	second, err := store.ListByAgent(ctx, "agt_page", 2, WithCursor(cursor))
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 2 || second[0].ID != "int_p2" || second[1].ID != "int_p1" {
		t.Fatalf("second page = %v", idsOf(second))
	}
}

func idsOf(intents []*TradeIntent) []string {
	out := make([]string, len(intents))
	for i, it := range intents {
		out[i] = it.ID
	}
	return out
}

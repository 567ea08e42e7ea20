package risk

import (
	"testing"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
)

func testIntent(symbol string, notional float64) *intent.TradeIntent {
	return &intent.TradeIntent{
		ID:       "int_test",
		Symbol:   symbol,
		Side:     intent.SideBuy,
		Quantity: 10,
		Notional: notional,
	}
}

func TestEvaluate_NoPolicy(t *testing.T) {
	e := NewEngine()

	d := e.Evaluate(testIntent("INFY", 50000), nil)
	if !d.Approved {
		t.Fatal("expected approval without a policy")
	}
	if d.RiskScore != 10 {
		t.Errorf("expected score 10, got %d", d.RiskScore)
	}
}

func TestEvaluate_NotionalExceeded(t *testing.T) {
	e := NewEngine()
	policy := &Policy{MaxOrderNotional: 10000}

	d := e.Evaluate(testIntent("INFY", 50000), policy)
	if d.Approved {
		t.Fatal("expected denial for notional over limit")
	}
	if d.RiskScore != 95 {
		t.Errorf("expected score 95, got %d", d.RiskScore)
	}
	if d.Reason == "" {
		t.Error("denial must carry a reason")
	}
}

func TestEvaluate_SymbolNotAllowed(t *testing.T) {
	e := NewEngine()
	policy := &Policy{
		MaxOrderNotional: 100000,
		AllowedSymbols:   []string{"TCS", "RELIANCE"},
	}

	d := e.Evaluate(testIntent("INFY", 5000), policy)
	if d.Approved {
		t.Fatal("expected denial for symbol outside allow-list")
	}
	if d.RiskScore != 90 {
		t.Errorf("expected score 90, got %d", d.RiskScore)
	}
}

func TestEvaluate_Passes(t *testing.T) {
	e := NewEngine()
	policy := &Policy{
		MaxOrderNotional: 100000,
		AllowedSymbols:   []string{"INFY"},
	}

	d := e.Evaluate(testIntent("INFY", 5000), policy)
	if !d.Approved {
		t.Fatalf("expected approval, got denial: %s", d.Reason)
	}
	if d.RiskScore != 20 {
		t.Errorf("expected score 20, got %d", d.RiskScore)
	}
}

func TestEvaluate_EmptyAllowListAdmitsAll(t *testing.T) {
	e := NewEngine()
	policy := &Policy{MaxOrderNotional: 100000}

	d := e.Evaluate(testIntent("ANYTHING", 5000), policy)
	if !d.Approved {
		t.Fatalf("expected approval with empty allow-list, got: %s", d.Reason)
	}
}

func TestEvaluate_NotionalAtLimitPasses(t *testing.T) {
	e := NewEngine()
	policy := &Policy{MaxOrderNotional: 10000}

	// Limit is exclusive: only strictly greater notional is denied.
	d := e.Evaluate(testIntent("INFY", 10000), policy)
	if !d.Approved {
		t.Fatalf("expected approval at exactly the limit, got: %s", d.Reason)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEngine()
	policy := &Policy{MaxOrderNotional: 10000, AllowedSymbols: []string{"TCS"}}
	it := testIntent("TCS", 9000)

	first := e.Evaluate(it, policy)
	for i := 0; i < 5; i++ {
		if got := e.Evaluate(it, policy); got != first {
			t.Fatalf("evaluation not deterministic: %+v vs %+v", got, first)
		}
	}
}

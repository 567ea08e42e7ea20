package risk

import (
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
)

// Decision is the outcome of evaluating an intent against a policy.
type Decision struct {
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason"`
	RiskScore int    `json:"riskScore"`
}

// Risk scores assigned by Evaluate. The values feed the approval
// orchestrator's risk threshold, so they are fixed, not tunable.
const (
	scoreNoPolicy      = 10
	scoreNotionalBlock = 95
	scoreSymbolBlock   = 90
	scorePassed        = 20
)

// Engine evaluates trade intents against risk policies. Evaluation is a
// pure function of its inputs: no clock, no I/O, no stored state.
type Engine struct{}

// NewEngine creates a risk evaluation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate checks an intent against a policy. A nil policy approves with a
// low fixed score. Denials carry the rule that fired and a high score so
// risk_based agents route the intent to human approval on the borderline.
func (e *Engine) Evaluate(it *intent.TradeIntent, policy *Policy) Decision {
	if policy == nil {
		return Decision{Approved: true, Reason: "No policy configured.", RiskScore: scoreNoPolicy}
	}

	if it.Notional > policy.MaxOrderNotional {
		return Decision{
			Approved:  false,
			Reason:    "Order notional exceeds max_order_notional.",
			RiskScore: scoreNotionalBlock,
		}
	}

	if !policy.AllowsSymbol(it.Symbol) {
		return Decision{
			Approved:  false,
			Reason:    "Symbol not present in allowed_symbols.",
			RiskScore: scoreSymbolBlock,
		}
	}

	return Decision{Approved: true, Reason: "Risk checks passed.", RiskScore: scorePassed}
}

package agent

import (
	"testing"
	"time"
)

func TestAgent_ConfigDefaults(t *testing.T) {
	a := &Agent{}

	if got := a.RiskThreshold(); got != DefaultRiskThreshold {
		t.Errorf("expected default threshold %d, got %d", DefaultRiskThreshold, got)
	}
	if got := a.ApprovalTTL(); got != DefaultApprovalTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultApprovalTTL, got)
	}
	if got := a.EscalationGrace(); got != DefaultEscalationGrace {
		t.Errorf("expected default grace %v, got %v", DefaultEscalationGrace, got)
	}
	if got := a.TimeoutPolicyName(); got != "" {
		t.Errorf("expected empty timeout policy, got %q", got)
	}
}

func TestAgent_ConfigOverrides(t *testing.T) {
	a := &Agent{Config: map[string]any{
		"approval_risk_threshold":  70,
		"approval_ttl_minutes":     5,
		"escalation_grace_minutes": 30,
		"timeout_policy":           "escalate",
	}}

	if got := a.RiskThreshold(); got != 70 {
		t.Errorf("expected threshold 70, got %d", got)
	}
	if got := a.ApprovalTTL(); got != 5*time.Minute {
		t.Errorf("expected TTL 5m, got %v", got)
	}
	if got := a.EscalationGrace(); got != 30*time.Minute {
		t.Errorf("expected grace 30m, got %v", got)
	}
	if got := a.TimeoutPolicyName(); got != "escalate" {
		t.Errorf("expected escalate, got %q", got)
	}
}

func TestAgent_ConfigJSONNumbers(t *testing.T) {
	// Values decoded from JSON arrive as float64.
	a := &Agent{Config: map[string]any{
		"approval_risk_threshold": float64(65),
		"approval_ttl_minutes":    float64(2),
	}}

	if got := a.RiskThreshold(); got != 65 {
		t.Errorf("expected 65, got %d", got)
	}
	if got := a.ApprovalTTL(); got != 2*time.Minute {
		t.Errorf("expected 2m, got %v", got)
	}
}

func TestAgent_ApprovalChannels(t *testing.T) {
	a := &Agent{}
	if got := a.ApprovalChannels("dashboard"); len(got) != 1 || got[0] != "dashboard" {
		t.Errorf("expected fallback channel, got %v", got)
	}

	a.Config = map[string]any{"approval_channels": []any{"telegram", "dashboard"}}
	got := a.ApprovalChannels("admin")
	if len(got) != 2 || got[0] != "telegram" {
		t.Errorf("expected configured channels, got %v", got)
	}

	a.Config = map[string]any{"approval_channels": []any{}}
	if got := a.ApprovalChannels("admin"); len(got) != 1 || got[0] != "admin" {
		t.Errorf("expected fallback for empty list, got %v", got)
	}
}

func TestAgent_IsApprover(t *testing.T) {
	a := &Agent{Approvers: []string{"usr_1", "usr_2"}}
	if !a.IsApprover("usr_2") {
		t.Error("expected usr_2 to be an approver")
	}
	if a.IsApprover("usr_3") {
		t.Error("did not expect usr_3 to be an approver")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Momentum Scanner":    "momentum-scanner",
		"NIFTY 50 watcher!":   "nifty-50-watcher",
		"  spaced   out  ":    "spaced-out",
		"already-sluggy":      "already-sluggy",
		"CAPS_and_underscore": "caps-and-underscore",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

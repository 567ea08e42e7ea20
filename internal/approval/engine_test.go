package approval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
)

type countingDispatcher struct {
	calls atomic.Int64
}

func (d *countingDispatcher) DispatchIntent(ctx context.Context, intentID string) error {
	d.calls.Add(1)
	return nil
}

type testEnv struct {
	engine     *Engine
	store      *MemoryStore
	intents    *intent.MemoryStore
	agents     *agent.MemoryStore
	dispatcher *countingDispatcher
	agent      *agent.Agent
	intent     *intent.TradeIntent
	request    *Request
}

func newTestEnv(t *testing.T, required int, policy string) *testEnv {
	t.Helper()
	ctx := context.Background()

	agents := agent.NewMemoryStore()
	intents := intent.NewMemoryStore()
	store := NewMemoryStore()
	dispatcher := &countingDispatcher{}

	ag := &agent.Agent{
		ID:                "agent-1",
		OwnerID:           "owner-1",
		Name:              "momentum",
		Status:            agent.StatusActive,
		ExecutionMode:     agent.ModePaper,
		ApprovalMode:      agent.ApprovalRiskBased,
		RequiredApprovals: required,
		Approvers:         []string{"alice", "bob", "carol"},
		IsAutoEnabled:     true,
		Config:            map[string]any{"timeout_policy": policy},
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := agents.Create(ctx, ag); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	expires := time.Now().UTC().Add(10 * time.Minute)
	req := &Request{
		ID:                "req-1",
		IdempotencyKey:    "key-1",
		AgentID:           ag.ID,
		RequestedBy:       ag.OwnerID,
		Channel:           ChannelDashboard,
		Status:            StatusPending,
		RequiredApprovals: required,
		TimeoutPolicy:     ParseTimeoutPolicy(policy),
		IntentPayload:     IntentSnapshot{Symbol: "INFY", Side: "BUY", Quantity: 10, OrderType: "LIMIT", Product: "CNC", Price: 1500},
		RiskScore:         60,
		ExpiresAt:         &expires,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	it := &intent.TradeIntent{
		ID:                "int-1",
		IdempotencyKey:    "ikey-1",
		AgentID:           ag.ID,
		Symbol:            "INFY",
		Exchange:          "NSE",
		Side:              intent.SideBuy,
		Quantity:          10,
		OrderType:         intent.OrderLimit,
		Product:           intent.ProductCNC,
		Price:             1500,
		Status:            intent.StatusPendingApproval,
		ApprovalRequestID: req.ID,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := intents.Create(ctx, it); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	return &testEnv{
		engine:     NewEngine(store, intents, agents, dispatcher, nil),
		store:      store,
		intents:    intents,
		agents:     agents,
		dispatcher: dispatcher,
		agent:      ag,
		intent:     it,
		request:    req,
	}
}

func TestDecideRejectVetoes(t *testing.T) {
	env := newTestEnv(t, 2, "auto_reject")
	ctx := context.Background()

	// One approval first; a later reject must still veto.
	if _, err := env.engine.Decide(ctx, "req-1", Actor{ID: "alice"}, DecisionApprove, ChannelDashboard, "", nil); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	outcome, err := env.engine.Decide(ctx, "req-1", Actor{ID: "bob"}, DecisionReject, ChannelDashboard, "too risky", nil)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !outcome.IsFinal {
		t.Fatal("reject must finalize the request")
	}
	if outcome.Request.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", outcome.Request.Status)
	}
	if outcome.Request.DecisionReason != "too risky" {
		t.Fatalf("reason = %q", outcome.Request.DecisionReason)
	}

	it, err := env.intents.Get(ctx, "int-1")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if it.Status != intent.StatusRejected {
		t.Fatalf("intent status = %s, want rejected", it.Status)
	}
	if got := env.dispatcher.calls.Load(); got != 0 {
		t.Fatalf("dispatch calls = %d, want 0", got)
	}
}

func TestDecideQuorum(t *testing.T) {
	env := newTestEnv(t, 2, "auto_reject")
	ctx := context.Background()

	outcome, err := env.engine.Decide(ctx, "req-1", Actor{ID: "alice"}, DecisionApprove, ChannelDashboard, "", nil)
	if err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if outcome.IsFinal {
		t.Fatal("one approval of two must not finalize")
	}
	if outcome.ApprovedCount != 1 {
		t.Fatalf("approved count = %d, want 1", outcome.ApprovedCount)
	}

	outcome, err = env.engine.Decide(ctx, "req-1", Actor{ID: "bob"}, DecisionApprove, ChannelDashboard, "", nil)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if !outcome.IsFinal {
		t.Fatal("quorum reached must finalize")
	}
	if outcome.Request.Status != StatusApproved {
		t.Fatalf("status = %s, want approved", outcome.Request.Status)
	}

	it, _ := env.intents.Get(ctx, "int-1")
	if it.Status != intent.StatusApproved {
		t.Fatalf("intent status = %s, want approved", it.Status)
	}
	if got := env.dispatcher.calls.Load(); got != 1 {
		t.Fatalf("dispatch calls = %d, want exactly 1", got)
	}
}

func TestDecideDuplicateVote(t *testing.T) {
	env := newTestEnv(t, 2, "auto_reject")
	ctx := context.Background()

	if _, err := env.engine.Decide(ctx, "req-1", Actor{ID: "alice"}, DecisionApprove, ChannelDashboard, "", nil); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	_, err := env.engine.Decide(ctx, "req-1", Actor{ID: "alice"}, DecisionApprove, ChannelDashboard, "", nil)
	if !errors.Is(err, ErrDuplicateVote) {
		t.Fatalf("err = %v, want ErrDuplicateVote", err)
	}
}

func TestDecidePermissionDenied(t *testing.T) {
	env := newTestEnv(t, 1, "auto_reject")
	ctx := context.Background()

	_, err := env.engine.Decide(ctx, "req-1", Actor{ID: "mallory"}, DecisionApprove, ChannelDashboard, "", nil)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	// Owner and operator are always eligible.
	if _, err := env.engine.Decide(ctx, "req-1", Actor{ID: "owner-1"}, DecisionApprove, ChannelDashboard, "", nil); err != nil {
		t.Fatalf("owner vote: %v", err)
	}
}

func TestDecideConflictWinsOverPermission(t *testing.T) {
	env := newTestEnv(t, 1, "auto_reject")
	ctx := context.Background()

	if _, err := env.engine.Decide(ctx, "req-1", Actor{ID: "alice"}, DecisionApprove, ChannelDashboard, "", nil); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Ineligible actor on a finalized request: terminal-state check runs first.
	_, err := env.engine.Decide(ctx, "req-1", Actor{ID: "mallory"}, DecisionApprove, ChannelDashboard, "", nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestDecideConcurrentSingleDispatch(t *testing.T) {
	env := newTestEnv(t, 1, "auto_reject")
	ctx := context.Background()

	actors := []string{"alice", "bob", "carol"}
	var wg sync.WaitGroup
	var conflicts atomic.Int64
	for _, id := range actors {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.engine.Decide(ctx, "req-1", Actor{ID: id}, DecisionApprove, ChannelDashboard, "", nil)
			if errors.Is(err, ErrConflict) {
				conflicts.Add(1)
			} else if err != nil {
				t.Errorf("decide(%s): %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if got := env.dispatcher.calls.Load(); got != 1 {
		t.Fatalf("dispatch calls = %d, want exactly 1", got)
	}
	if got := conflicts.Load(); got != 2 {
		t.Fatalf("conflicts = %d, want 2", got)
	}
}

func TestTimeoutAutoReject(t *testing.T) {
	env := newTestEnv(t, 1, "auto_reject")
	ctx := context.Background()

	outcome, err := env.engine.ApplyTimeoutPolicy(ctx, "req-1")
	if err != nil {
		t.Fatalf("apply timeout: %v", err)
	}
	if outcome.Action != ActionAutoRejected {
		t.Fatalf("action = %s, want auto_rejected", outcome.Action)
	}
	if outcome.Request.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", outcome.Request.Status)
	}

	decisions, _ := env.store.ListDecisions(ctx, "req-1")
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1 system decision", len(decisions))
	}
	if decisions[0].ActorID != "" {
		t.Fatalf("system decision actor = %q, want empty", decisions[0].ActorID)
	}

	it, _ := env.intents.Get(ctx, "int-1")
	if it.Status != intent.StatusRejected {
		t.Fatalf("intent status = %s, want rejected", it.Status)
	}
}

func TestTimeoutAutoPause(t *testing.T) {
	env := newTestEnv(t, 1, "auto_pause")
	ctx := context.Background()

	outcome, err := env.engine.ApplyTimeoutPolicy(ctx, "req-1")
	if err != nil {
		t.Fatalf("apply timeout: %v", err)
	}
	if outcome.Action != ActionAutoPaused {
		t.Fatalf("action = %s, want auto_paused", outcome.Action)
	}
	if outcome.Request.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", outcome.Request.Status)
	}

	ag, _ := env.agents.Get(ctx, "agent-1")
	if ag.Status != agent.StatusPaused {
		t.Fatalf("agent status = %s, want paused", ag.Status)
	}
	if ag.IsAutoEnabled {
		t.Fatal("agent auto trading must be disabled")
	}

	it, _ := env.intents.Get(ctx, "int-1")
	if it.Status != intent.StatusRejected {
		t.Fatalf("intent status = %s, want rejected", it.Status)
	}
}

func TestTimeoutEscalateThenReject(t *testing.T) {
	env := newTestEnv(t, 1, "escalate")
	ctx := context.Background()

	before := *env.request.ExpiresAt
	outcome, err := env.engine.ApplyTimeoutPolicy(ctx, "req-1")
	if err != nil {
		t.Fatalf("first timeout: %v", err)
	}
	if outcome.Action != ActionEscalated {
		t.Fatalf("action = %s, want escalated", outcome.Action)
	}
	if outcome.IsFinal {
		t.Fatal("escalation must keep the request pending")
	}
	if !outcome.Request.IsEscalated {
		t.Fatal("request must be marked escalated")
	}
	if !outcome.Request.ExpiresAt.After(before) {
		t.Fatal("escalation must extend the deadline")
	}

	// Approvers can still decide during the grace window.
	got, _ := env.store.GetRequest(ctx, "req-1")
	if got.Status != StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}

	// Second expiry of an already escalated request rejects for good.
	outcome, err = env.engine.ApplyTimeoutPolicy(ctx, "req-1")
	if err != nil {
		t.Fatalf("second timeout: %v", err)
	}
	if outcome.Action != ActionEscalationExpiredReject {
		t.Fatalf("action = %s, want escalation_expired_rejected", outcome.Action)
	}
	if outcome.Request.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", outcome.Request.Status)
	}
}

func TestTimeoutSkipsNonPending(t *testing.T) {
	env := newTestEnv(t, 1, "auto_reject")
	ctx := context.Background()

	if _, err := env.engine.Decide(ctx, "req-1", Actor{ID: "alice"}, DecisionApprove, ChannelDashboard, "", nil); err != nil {
		t.Fatalf("approve: %v", err)
	}

	outcome, err := env.engine.ApplyTimeoutPolicy(ctx, "req-1")
	if err != nil {
		t.Fatalf("apply timeout: %v", err)
	}
	if outcome.Action != ActionSkippedNonPending {
		t.Fatalf("action = %s, want skipped_non_pending", outcome.Action)
	}
	if outcome.Request.Status != StatusApproved {
		t.Fatalf("status = %s, want approved untouched", outcome.Request.Status)
	}
}

func TestCancelPendingRequest(t *testing.T) {
	env := newTestEnv(t, 1, "auto_reject")
	ctx := context.Background()

	// Non-owner approvers cannot cancel.
	if _, err := env.engine.Cancel(ctx, "req-1", Actor{ID: "alice"}, ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	req, err := env.engine.Cancel(ctx, "req-1", Actor{ID: "owner-1"}, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if req.Status != StatusCanceled {
		t.Fatalf("status = %s, want canceled", req.Status)
	}

	it, _ := env.intents.Get(ctx, "int-1")
	if it.Status != intent.StatusCanceled {
		t.Fatalf("intent status = %s, want canceled", it.Status)
	}
}

func TestParseTimeoutPolicy(t *testing.T) {
	cases := map[string]TimeoutPolicy{
		"auto_reject": PolicyAutoReject,
		"auto_pause":  PolicyAutoPause,
		"escalate":    PolicyEscalate,
		"":            PolicyAutoReject,
		"explode":     PolicyAutoReject,
	}
	for in, want := range cases {
		if got := ParseTimeoutPolicy(in); got != want {
			t.Errorf("ParseTimeoutPolicy(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSweeperProcessesOldestFirst(t *testing.T) {
	env := newTestEnv(t, 1, "auto_reject")
	ctx := context.Background()

	older := time.Now().UTC().Add(-2 * time.Hour)
	newer := time.Now().UTC().Add(-1 * time.Hour)
	for _, rc := range []struct {
		id      string
		expires time.Time
	}{{"req-old", older}, {"req-new", newer}} {
		expires := rc.expires
		req := &Request{
			ID:                rc.id,
			IdempotencyKey:    "key-" + rc.id,
			AgentID:           "agent-1",
			Channel:           ChannelDashboard,
			Status:            StatusPending,
			RequiredApprovals: 1,
			TimeoutPolicy:     PolicyAutoReject,
			ExpiresAt:         &expires,
			CreatedAt:         time.Now().UTC(),
			UpdatedAt:         time.Now().UTC(),
		}
		if err := env.store.CreateRequest(ctx, req); err != nil {
			t.Fatalf("create %s: %v", rc.id, err)
		}
	}

	expired, err := env.store.ListExpired(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expired = %d, want 2", len(expired))
	}
	if expired[0].ID != "req-old" || expired[1].ID != "req-new" {
		t.Fatalf("order = %s, %s; want req-old first", expired[0].ID, expired[1].ID)
	}

	sweeper := NewSweeper(env.engine, env.store, time.Second, discardLogger())
	sweeper.SweepOnce(ctx)

	for _, id := range []string{"req-old", "req-new"} {
		req, _ := env.store.GetRequest(ctx, id)
		if req.Status != StatusRejected {
			t.Fatalf("%s status = %s, want rejected", id, req.Status)
		}
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/approval"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: "approval.created", Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{"approval.created", "approval.approved"},
	}}

	created := &Event{Type: "approval.created"}
	approved := &Event{Type: "approval.approved"}
	vote := &Event{Type: "approval.vote"}

	if !h.shouldSend(client, created) {
		t.Error("Should receive approval.created events")
	}
	if !h.shouldSend(client, approved) {
		t.Error("Should receive approval.approved events")
	}
	if h.shouldSend(client, vote) {
		t.Error("Should NOT receive approval.vote events")
	}
}

func TestShouldSend_AgentFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		AgentIDs: []string{"agent-1"},
	}}

	matching := &Event{
		Type: "approval.created",
		Data: map[string]interface{}{"agentId": "agent-1"},
	}
	notMatching := &Event{
		Type: "approval.created",
		Data: map[string]interface{}{"agentId": "agent-2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on agentId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other agents")
	}
}

func TestShouldSend_MinRiskScoreFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinRiskScore: 50,
	}}

	risky := &Event{
		Type: "approval.created",
		Data: map[string]interface{}{"riskScore": 75.0},
	}
	tame := &Event{
		Type: "approval.created",
		Data: map[string]interface{}{"riskScore": 20.0},
	}
	unscored := &Event{
		Type: "intent.placed",
		Data: map[string]interface{}{"symbol": "INFY"},
	}

	if !h.shouldSend(client, risky) {
		t.Error("Should receive high-risk event")
	}
	if h.shouldSend(client, tame) {
		t.Error("Should NOT receive low-risk event")
	}
	if !h.shouldSend(client, unscored) {
		t.Error("MinRiskScore filter should only apply to scored events")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: "approval.created"}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		AgentIDs: []string{"agent-1"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: "approval.created",
		Data: "string data not a map",
	}

	// Agent filter can't extract an agent id from non-map data, so it rejects
	if h.shouldSend(client, event) {
		t.Error("Agent filter should reject events it cannot match against")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: "approval.created", Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      "approval.created",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"requestId": "req_1"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants finalizations
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []string{"approval.approved"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// A vote event should be filtered out
	h.Broadcast(&Event{Type: "approval.vote", Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive vote event")
	default:
		// Good - filtered out
	}

	// A finalization should be received
	h.Broadcast(&Event{Type: "approval.approved", Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive approval.approved event")
	}
}

// ---------------------------------------------------------------------------
// Publisher tests
// ---------------------------------------------------------------------------

func TestPublisher_ApprovalEvent(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	pub := NewPublisher(h)
	expires := time.Now().Add(5 * time.Minute)
	pub.ApprovalEvent("approval.created", &approval.Request{
		ID:                "req_1",
		AgentID:           "agent-1",
		Status:            approval.StatusPending,
		RiskScore:         60,
		RequiredApprovals: 2,
		ExpiresAt:         &expires,
	})

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Type != "approval.created" {
			t.Errorf("Expected approval.created, got %s", ev.Type)
		}
		data := ev.Data.(map[string]interface{})
		if data["requestId"] != "req_1" || data["agentId"] != "agent-1" {
			t.Errorf("Unexpected event data: %v", data)
		}
		if data["riskScore"].(float64) != 60 {
			t.Errorf("Expected riskScore 60, got %v", data["riskScore"])
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for approval event")
	}
}

func TestPublisher_NilSafe(t *testing.T) {
	var pub *Publisher
	// Should not panic
	pub.ApprovalEvent("approval.created", &approval.Request{ID: "req_1"})

	pub = NewPublisher(nil)
	pub.ApprovalEvent("approval.created", nil)
}

package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/approval"
)

func TestSendMessageNotConfigured(t *testing.T) {
	client := NewClient("", "")
	if err := client.SendMessage(context.Background(), "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestNotifyRequestSendsSummary(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient("bot-token", "chat-42")
	client.baseURL = server.URL

	expires := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	req := &approval.Request{
		ID:                "req_1",
		RiskScore:         60,
		RequiredApprovals: 2,
		ExpiresAt:         &expires,
		IntentPayload: approval.IntentSnapshot{
			Symbol: "INFY", Side: "BUY", Quantity: 10,
			OrderType: "LIMIT", Product: "CNC", Price: 1500,
		},
	}
	ag := &agent.Agent{ID: "agent-1", Name: "momentum"}

	notifier := NewNotifier(client)
	if err := notifier.NotifyRequest(context.Background(), req, ag); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if gotPath != "/botbot-token/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "chat-42" {
		t.Fatalf("chat_id = %v", gotBody["chat_id"])
	}
	text, _ := gotBody["text"].(string)
	for _, want := range []string{"momentum", "BUY 10 INFY", "Risk score: 60", "req_1"} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestSendMessageAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient("t", "c")
	client.baseURL = server.URL

	if err := client.SendMessage(context.Background(), "hi"); err == nil {
		t.Fatal("API error must be surfaced")
	}
}

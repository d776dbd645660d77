package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"omc/internal/config"
	"omc/internal/core"
)

type mockChannel struct {
	name     string
	sent     []Payload
	sendFunc func(ctx context.Context, payload Payload) error
	mu       sync.Mutex
}

func (m *mockChannel) Name() string {
	return m.name
}

func (m *mockChannel) Send(ctx context.Context, payload Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, payload)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, payload)
	}
	return nil
}

func (m *mockChannel) getSent() []Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Payload, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestManager_Alert(t *testing.T) {
	m := NewManager(&mockLogger{})

	ch1 := &mockChannel{name: "mock1"}
	ch2 := &mockChannel{name: "mock2"}

	m.AddChannel(ch1)
	m.AddChannel(ch2)

	m.Alert(context.Background(), core.AlertError, "Order rejected by system error",
		"System error: timeout", map[string]string{"order_id": "ord-1"})

	// Alert is async
	time.Sleep(100 * time.Millisecond)

	sent1 := ch1.getSent()
	sent2 := ch2.getSent()

	if len(sent1) != 1 {
		t.Fatalf("Expected ch1 to receive 1 alert, got %d", len(sent1))
	}
	if len(sent2) != 1 {
		t.Fatalf("Expected ch2 to receive 1 alert, got %d", len(sent2))
	}

	payload := sent1[0]
	if payload.Title != "Order rejected by system error" {
		t.Errorf("Unexpected title '%s'", payload.Title)
	}
	if payload.Level != core.AlertError {
		t.Errorf("Expected level ERROR, got %s", payload.Level)
	}
	if payload.Fields["order_id"] != "ord-1" {
		t.Errorf("Expected field order_id=ord-1, got %s", payload.Fields["order_id"])
	}
}

func TestManager_AlertWithNoChannels(t *testing.T) {
	m := NewManager(&mockLogger{})
	// Must not panic or block.
	m.Alert(context.Background(), core.AlertInfo, "noop", "nothing listens", nil)
}

func TestFromConfig(t *testing.T) {
	m := FromConfig(config.AlertsConfig{
		Enabled:          true,
		SlackWebhookURL:  "https://hooks.slack.example/T000/B000",
		TelegramBotToken: "token",
		TelegramChatID:   "chat",
	}, &mockLogger{})
	if len(m.channels) != 2 {
		t.Fatalf("Expected 2 channels, got %d", len(m.channels))
	}

	disabled := FromConfig(config.AlertsConfig{
		Enabled:         false,
		SlackWebhookURL: "https://hooks.slack.example/T000/B000",
	}, &mockLogger{})
	if len(disabled.channels) != 0 {
		t.Fatalf("Disabled config must produce no channels, got %d", len(disabled.channels))
	}
}

func TestSlackChannel_Send(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{
		Level:     core.AlertCritical,
		Title:     "Settlement failures",
		Message:   "5 consecutive settlement failures",
		Timestamp: time.Now().UTC(),
		Fields:    map[string]string{"component": "scheduler"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Slack payload is not JSON: %v", err)
	}
	if !strings.Contains(string(body), "Settlement failures") {
		t.Errorf("Payload missing alert title: %s", body)
	}
	if !strings.Contains(string(body), "[CRITICAL]") {
		t.Errorf("Payload missing level tag: %s", body)
	}
}

func TestSlackChannel_SendFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{Level: core.AlertInfo, Title: "t", Message: "m"})
	if err == nil {
		t.Fatal("Expected error on non-200 webhook response")
	}
}

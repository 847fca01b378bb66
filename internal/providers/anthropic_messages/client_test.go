package anthropic_messages

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"llmrouter/internal/providers"
)

func TestChatExtractsTextBlocks(t *testing.T) {
	var gotKey, gotPath string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022",
"content":[{"type":"text","text":"hello "},{"type":"text","text":"back"}],
"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "sk-ant-test"})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "claude-3-5-sonnet-20241022", UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "hello back" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if gotPath != "/v1/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotKey != "sk-ant-test" {
		t.Fatalf("unexpected x-api-key %q", gotKey)
	}
	if payload["max_tokens"] != float64(defaultMaxTokens) {
		t.Fatalf("unexpected max_tokens %#v", payload["max_tokens"])
	}
}

func TestChatErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Chat(context.Background(), providers.ChatRequest{Model: "claude-3-5-sonnet-20241022", UserPrompt: "hello"})
	if !errors.Is(err, providers.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

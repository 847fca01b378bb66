package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmrouter/internal/providers"
)

func TestChatSendsSingleUserTurn(t *testing.T) {
	var gotAuth, gotTitle, gotPath string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{
		Name:    "openrouter",
		BaseURL: srv.URL + "/v1/",
		APIKey:  "sk-test",
		Headers: map[string]string{"X-Title": "llmrouter", "HTTP-Referer": ""},
	})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "openai/gpt-4o", UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "hi there" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotTitle != "llmrouter" {
		t.Fatalf("unexpected X-Title %q", gotTitle)
	}
	if payload["model"] != "openai/gpt-4o" {
		t.Fatalf("unexpected model %#v", payload["model"])
	}
	msgs, ok := payload["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected exactly one message, got %#v", payload["messages"])
	}
}

func TestChatNon2xxIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "bad"})
	_, err := c.Chat(context.Background(), providers.ChatRequest{Model: "gpt-4o", UserPrompt: "hello"})
	if !errors.Is(err, providers.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "Incorrect API key") {
		t.Fatalf("error should carry status and upstream message, got %q", err.Error())
	}
}

func TestChatNoChoicesIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Chat(context.Background(), providers.ChatRequest{Model: "gpt-4o", UserPrompt: "hello"})
	if !errors.Is(err, providers.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

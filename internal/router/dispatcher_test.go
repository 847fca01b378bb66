package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"llmrouter/internal/metrics"
	"llmrouter/internal/providers"
	"llmrouter/internal/providers/registry"
	"llmrouter/internal/session"
	"llmrouter/internal/storage"
)

type fakeFeed struct {
	got []storage.Exchange
	err error
}

func (f *fakeFeed) Publish(_ context.Context, ex storage.Exchange) (string, error) {
	f.got = append(f.got, ex)
	return "1-0", f.err
}

type brokenMemory struct {
	Memory
}

func (brokenMemory) AppendExchange(context.Context, string, string, string) (storage.Exchange, error) {
	return storage.Exchange{}, errors.New("database is locked")
}

type testEnv struct {
	dispatcher *Dispatcher
	store      *storage.Store
	state      *session.State
	hits       *atomic.Int32
	feed       *fakeFeed
	metrics    *metrics.Metrics
}

func newEnv(t *testing.T, secrets map[string]string) *testEnv {
	t.Helper()
	ctx := context.Background()

	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/messages":
			_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022",
"content":[{"type":"text","text":"hi from claude"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":3}}`))
		case "/v1/chat/completions":
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o",
"choices":[{"index":0,"message":{"role":"assistant","content":"hi from gpt"},"finish_reason":"stop"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(upstream.Close)

	store, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	backend := registry.New(registry.Config{
		Secrets: secrets,
		BaseURLs: map[string]string{
			providers.OpenAI:    upstream.URL + "/v1",
			providers.Anthropic: upstream.URL,
		},
	})
	state := session.New(session.Config{Store: store, Validator: backend, Logger: zerolog.Nop()})
	if err := state.Load(ctx); err != nil {
		t.Fatalf("load session: %v", err)
	}

	feed := &fakeFeed{}
	m := metrics.New()
	d, err := New(Config{Session: state, Backend: backend, Memory: store, Feed: feed, Metrics: m, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return &testEnv{dispatcher: d, store: store, state: state, hits: &hits, feed: feed, metrics: m}
}

func TestChatStoresExchangeForCurrentProvider(t *testing.T) {
	env := newEnv(t, map[string]string{providers.Anthropic: "sk-ant"})
	ctx := context.Background()

	if _, _, err := env.dispatcher.UseProvider(ctx, providers.Anthropic); err != nil {
		t.Fatalf("use provider: %v", err)
	}
	reply, err := env.dispatcher.Chat(ctx, "hello")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "hi from claude" {
		t.Fatalf("unexpected reply %q", reply)
	}

	items, err := env.dispatcher.GetMemory(ctx, 1)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one exchange, got %d", len(items))
	}
	ex := items[0]
	if ex.Provider != providers.Anthropic || ex.Prompt != "hello" || ex.Response != "hi from claude" {
		t.Fatalf("unexpected exchange %+v", ex)
	}
	if ex.UserID != storage.DefaultUserID {
		t.Fatalf("unexpected user %q", ex.UserID)
	}
	if len(env.feed.got) != 1 || env.feed.got[0].ID != ex.ID {
		t.Fatalf("exchange not published: %+v", env.feed.got)
	}
	if got := counterValue(t, env.metrics.ExchangesStored); got != 1 {
		t.Fatalf("exchanges_stored_total = %v", got)
	}
}

func TestChatMissingSecretFailsWithoutNetwork(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	_, err := env.dispatcher.Chat(ctx, "hello")
	if !errors.Is(err, providers.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("expected no upstream calls, got %d", env.hits.Load())
	}
	items, _ := env.dispatcher.GetMemory(ctx, storage.Unbounded)
	if len(items) != 0 {
		t.Fatalf("expected no exchanges, got %d", len(items))
	}
	if got := counterValue(t, env.metrics.BackendRequests.WithLabelValues(providers.OpenAI, "error")); got != 1 {
		t.Fatalf("backend error counter = %v", got)
	}
}

func TestChatFailsWhenStoreFails(t *testing.T) {
	env := newEnv(t, map[string]string{providers.OpenAI: "sk"})
	env.dispatcher.memory = brokenMemory{Memory: env.store}

	_, err := env.dispatcher.Chat(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected store failure to fail chat")
	}
	if env.hits.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", env.hits.Load())
	}
	if len(env.feed.got) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestChatFeedFailureIsIgnored(t *testing.T) {
	env := newEnv(t, map[string]string{providers.OpenAI: "sk"})
	env.feed.err = errors.New("redis down")

	reply, err := env.dispatcher.Chat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "hi from gpt" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got := counterValue(t, env.metrics.FeedPublishFailures); got != 1 {
		t.Fatalf("feed failures = %v", got)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	env := newEnv(t, map[string]string{providers.OpenAI: "sk"})
	_, err := env.dispatcher.Chat(context.Background(), "  ")
	if !errors.Is(err, session.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("expected no upstream calls")
	}
}

func TestGetMemoryLimitsAndOrder(t *testing.T) {
	env := newEnv(t, map[string]string{providers.OpenAI: "sk"})
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		if _, err := env.dispatcher.Chat(ctx, msg); err != nil {
			t.Fatalf("chat %s: %v", msg, err)
		}
	}

	items, err := env.dispatcher.GetMemory(ctx, 2)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if len(items) != 2 || items[0].Prompt != "three" || items[1].Prompt != "two" {
		t.Fatalf("unexpected items %+v", items)
	}

	all, err := env.dispatcher.GetMemory(ctx, storage.Unbounded)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Timestamp.Before(all[i].Timestamp) {
			t.Fatalf("not newest first: %+v", all)
		}
	}

	if _, err := env.dispatcher.GetMemory(ctx, -5); !errors.Is(err, session.ErrInvalidArgument) {
		t.Fatalf("expected invalid limit, got %v", err)
	}
}

func TestClearMemoryTwice(t *testing.T) {
	env := newEnv(t, map[string]string{providers.OpenAI: "sk"})
	ctx := context.Background()
	if _, err := env.dispatcher.Chat(ctx, "hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	n, err := env.dispatcher.ClearMemory(ctx)
	if err != nil || n != 1 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	n, err = env.dispatcher.ClearMemory(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second clear: n=%d err=%v", n, err)
	}
	items, _ := env.dispatcher.GetMemory(ctx, storage.Unbounded)
	if len(items) != 0 {
		t.Fatalf("expected empty memory, got %d", len(items))
	}
}

func TestUseProviderUnknownLeavesState(t *testing.T) {
	env := newEnv(t, nil)
	_, _, err := env.dispatcher.UseProvider(context.Background(), "chatgpt")
	if !errors.Is(err, session.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if st := env.dispatcher.Status(); st.Provider != providers.OpenAI || st.Model != "gpt-4o" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestUseModel(t *testing.T) {
	env := newEnv(t, map[string]string{providers.OpenRouter: "sk-or"})
	ctx := context.Background()
	if _, _, err := env.dispatcher.UseProvider(ctx, providers.OpenRouter); err != nil {
		t.Fatalf("use provider: %v", err)
	}

	if _, _, err := env.dispatcher.UseModel(ctx, "gpt-4o"); !errors.Is(err, session.ErrInvalidArgument) {
		t.Fatalf("expected namespaced rejection, got %v", err)
	}
	provider, model, err := env.dispatcher.UseModel(ctx, " meta-llama/llama-3.1-70b-instruct ")
	if err != nil {
		t.Fatalf("use model: %v", err)
	}
	if provider != providers.OpenRouter || model != "meta-llama/llama-3.1-70b-instruct" {
		t.Fatalf("unexpected result %s %s", provider, model)
	}
	if st := env.dispatcher.Status(); st.Models[providers.OpenRouter] != model {
		t.Fatalf("status not updated: %+v", st)
	}
}

func TestUseModelMissingSecret(t *testing.T) {
	env := newEnv(t, nil)
	_, _, err := env.dispatcher.UseModel(context.Background(), "gpt-4o-mini")
	if !errors.Is(err, providers.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

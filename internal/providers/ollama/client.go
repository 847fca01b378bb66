package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	ollamaapi "github.com/ollama/ollama/api"

	"llmrouter/internal/providers"
)

const DefaultBaseURL = "http://localhost:11434"

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	api     *ollamaapi.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	return &Client{baseURL: u.String(), api: ollamaapi.NewClient(u, cfg.HTTPClient)}, nil
}

var (
	_ providers.Provider    = (*Client)(nil)
	_ providers.ModelLister = (*Client)(nil)
)

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, c.wrapError("list models", err)
	}
	out := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// EnsureModel checks the model against the live list of locally installed models.
func (c *Client) EnsureModel(ctx context.Context, model string) error {
	available, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, name := range available {
		if matchModel(name, model) {
			return nil
		}
	}
	if len(available) == 0 {
		return fmt.Errorf("%w: %q is not installed and no local models are available (pull it with `ollama pull %s`)", providers.ErrModelNotFound, model, model)
	}
	return fmt.Errorf("%w: %q is not installed. Available models: %s", providers.ErrModelNotFound, model, strings.Join(available, ", "))
}

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if err := c.EnsureModel(ctx, req.Model); err != nil {
		return providers.ChatResponse{}, err
	}

	stream := false
	var b strings.Builder
	err := c.api.Generate(ctx, &ollamaapi.GenerateRequest{
		Model:  req.Model,
		Prompt: req.UserPrompt,
		Stream: &stream,
	}, func(resp ollamaapi.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return providers.ChatResponse{}, c.wrapError("generate", err)
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return providers.ChatResponse{}, fmt.Errorf("%w: ollama returned no response text for %q", providers.ErrEmptyResponse, req.Model)
	}
	return providers.ChatResponse{Text: text}, nil
}

func (c *Client) wrapError(op string, err error) error {
	if isUnreachable(err) {
		return fmt.Errorf("%w: cannot reach ollama at %s (is it running? start it with `ollama serve`): %v", providers.ErrUpstreamUnavailable, c.baseURL, err)
	}
	var statusErr ollamaapi.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return fmt.Errorf("%w: ollama %s status %d: %s", providers.ErrUpstream, op, statusErr.StatusCode, msg)
	}
	return fmt.Errorf("%w: ollama %s: %v", providers.ErrUpstream, op, err)
}

func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func matchModel(installed, want string) bool {
	return installed == want || installed == want+":latest"
}

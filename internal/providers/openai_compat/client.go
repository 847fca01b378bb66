package openai_compat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"llmrouter/internal/providers"
)

type Config struct {
	// Name labels errors, e.g. "openai" or "openrouter".
	Name       string
	BaseURL    string
	APIKey     string
	Headers    map[string]string
	HTTPClient *http.Client
}

type Client struct {
	name   string
	client *openai.Client
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		oc.BaseURL = strings.TrimSuffix(base, "/")
	}
	oc.HTTPClient = &headerDoer{base: cfg.HTTPClient, headers: cfg.Headers}
	return &Client{name: cfg.Name, client: openai.NewClientWithConfig(oc)}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	})
	if err != nil {
		return providers.ChatResponse{}, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return providers.ChatResponse{}, fmt.Errorf("%w: %s returned no choices", providers.ErrUpstream, c.name)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return providers.ChatResponse{}, fmt.Errorf("%w: %s returned an empty message", providers.ErrUpstream, c.name)
	}
	return providers.ChatResponse{Text: text}, nil
}

func (c *Client) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s status %d: %s", providers.ErrUpstream, c.name, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return fmt.Errorf("%w: %s status %d: %s", providers.ErrUpstream, c.name, reqErr.HTTPStatusCode, msg)
	}
	return fmt.Errorf("%w: %s request failed: %v", providers.ErrUpstream, c.name, err)
}

// headerDoer adds static headers to every outgoing request.
type headerDoer struct {
	base    *http.Client
	headers map[string]string
}

func (d *headerDoer) Do(req *http.Request) (*http.Response, error) {
	for k, v := range d.headers {
		if strings.TrimSpace(v) == "" {
			continue
		}
		req.Header.Set(k, v)
	}
	return d.base.Do(req)
}

package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"llmrouter/internal/providers"
	"llmrouter/internal/providers/anthropic_messages"
	"llmrouter/internal/providers/ollama"
	"llmrouter/internal/providers/openai_compat"
)

type Config struct {
	// Secrets maps provider id to its API key.
	Secrets map[string]string
	// BaseURLs maps provider id to an endpoint override.
	BaseURLs          map[string]string
	OpenRouterSiteURL string
	OpenRouterAppName string
	HTTPClient        *http.Client
}

// Backend builds the provider variant for a descriptor and performs one call through it.
type Backend struct {
	cfg Config
}

func New(cfg Config) *Backend {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Secrets == nil {
		cfg.Secrets = map[string]string{}
	}
	if cfg.BaseURLs == nil {
		cfg.BaseURLs = map[string]string{}
	}
	return &Backend{cfg: cfg}
}

type modelChecker interface {
	EnsureModel(ctx context.Context, model string) error
}

// Send performs the provider-specific round-trip and returns the reply text.
// A missing secret fails before any network call.
func (b *Backend) Send(ctx context.Context, d providers.Descriptor, model, message string) (string, error) {
	p, err := b.Build(d)
	if err != nil {
		return "", err
	}
	resp, err := p.Chat(ctx, providers.ChatRequest{Model: model, UserPrompt: message})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// ValidateModel applies the descriptor's model rule, consulting the live
// service for live-lookup providers.
func (b *Backend) ValidateModel(ctx context.Context, d providers.Descriptor, model string) error {
	if err := b.checkSecret(d); err != nil {
		return err
	}
	if err := providers.CheckModel(d, model); err != nil {
		return err
	}
	if d.Rule.Kind != providers.RuleLiveLookup {
		return nil
	}
	p, err := b.Build(d)
	if err != nil {
		return err
	}
	checker, ok := p.(modelChecker)
	if !ok {
		return fmt.Errorf("%w: %s cannot list models", providers.ErrInvalidModel, d.ID)
	}
	return checker.EnsureModel(ctx, strings.TrimSpace(model))
}

func (b *Backend) Build(d providers.Descriptor) (providers.Provider, error) {
	if err := b.checkSecret(d); err != nil {
		return nil, err
	}
	apiKey := b.secret(d.ID)
	baseURL := b.cfg.BaseURLs[d.ID]

	switch d.Family {
	case providers.FamilyOpenAI:
		return openai_compat.New(openai_compat.Config{
			Name:       d.ID,
			BaseURL:    baseURL,
			APIKey:     apiKey,
			HTTPClient: b.cfg.HTTPClient,
		}), nil

	case providers.FamilyOpenRouter:
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return openai_compat.New(openai_compat.Config{
			Name:    d.ID,
			BaseURL: baseURL,
			APIKey:  apiKey,
			Headers: map[string]string{
				"HTTP-Referer": b.cfg.OpenRouterSiteURL,
				"X-Title":      b.cfg.OpenRouterAppName,
			},
			HTTPClient: b.cfg.HTTPClient,
		}), nil

	case providers.FamilyAnthropic:
		return anthropic_messages.New(anthropic_messages.Config{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			HTTPClient: b.cfg.HTTPClient,
		}), nil

	case providers.FamilyOllama:
		return ollama.New(ollama.Config{
			BaseURL:    baseURL,
			HTTPClient: b.cfg.HTTPClient,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported provider family for %q", providers.ErrUnknownProvider, d.ID)
	}
}

func (b *Backend) checkSecret(d providers.Descriptor) error {
	if d.RequiresSecret && b.secret(d.ID) == "" {
		return fmt.Errorf("%w: %s requires %s to be set", providers.ErrConfiguration, d.ID, d.SecretEnv)
	}
	return nil
}

func (b *Backend) secret(id string) string {
	return strings.TrimSpace(b.cfg.Secrets[id])
}

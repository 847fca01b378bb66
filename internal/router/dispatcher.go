package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmrouter/internal/metrics"
	"llmrouter/internal/providers"
	"llmrouter/internal/session"
	"llmrouter/internal/storage"
)

type Backend interface {
	Send(ctx context.Context, d providers.Descriptor, model, message string) (string, error)
}

type Memory interface {
	AppendExchange(ctx context.Context, prompt, response, provider string) (storage.Exchange, error)
	ListExchanges(ctx context.Context, limit int) ([]storage.Exchange, error)
	ClearAll(ctx context.Context) (int64, error)
}

type Session interface {
	CurrentProvider() string
	CurrentModel(id string) string
	Models() map[string]string
	SwitchProvider(ctx context.Context, id string) error
	SwitchModel(ctx context.Context, model string) (string, error)
}

// Publisher receives every stored exchange. Failures are logged only.
type Publisher interface {
	Publish(ctx context.Context, ex storage.Exchange) (string, error)
}

type Config struct {
	Session Session
	Backend Backend
	Memory  Memory
	Feed    Publisher
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Dispatcher runs the tool operations one at a time.
type Dispatcher struct {
	mu      sync.Mutex
	session Session
	backend Backend
	memory  Memory
	feed    Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type Status struct {
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	Models   map[string]string `json:"models"`
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Session == nil || cfg.Backend == nil || cfg.Memory == nil {
		return nil, errors.New("router: session, backend and memory are required")
	}
	return &Dispatcher{
		session: cfg.Session,
		backend: cfg.Backend,
		memory:  cfg.Memory,
		feed:    cfg.Feed,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "router").Logger(),
	}, nil
}

// Chat sends message to the current provider and records the exchange. A
// response is only returned once it is stored.
func (d *Dispatcher) Chat(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message is required", session.ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.session.CurrentProvider()
	desc, err := providers.Describe(id)
	if err != nil {
		return "", err
	}
	model := d.session.CurrentModel(id)

	started := time.Now()
	reply, err := d.backend.Send(ctx, desc, model, message)
	d.observeBackend(id, started, err)
	if err != nil {
		d.logger.Error().Err(err).Str("provider", id).Str("model", model).Msg("chat failed")
		return "", err
	}

	ex, err := d.memory.AppendExchange(ctx, message, reply, id)
	if err != nil {
		d.logger.Error().Err(err).Str("provider", id).Msg("store exchange failed after upstream reply")
		return "", fmt.Errorf("store exchange: %w", err)
	}
	if d.metrics != nil {
		d.metrics.ExchangesStored.Inc()
	}
	d.publish(ctx, ex)

	d.logger.Info().
		Int64("exchange_id", ex.ID).
		Str("provider", id).
		Str("model", model).
		Dur("took", time.Since(started)).
		Msg("chat completed")
	return reply, nil
}

func (d *Dispatcher) observeBackend(provider string, started time.Time, err error) {
	if d.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.metrics.BackendRequests.WithLabelValues(provider, outcome).Inc()
	d.metrics.BackendLatency.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

func (d *Dispatcher) publish(ctx context.Context, ex storage.Exchange) {
	if d.feed == nil {
		return
	}
	if _, err := d.feed.Publish(ctx, ex); err != nil {
		d.logger.Warn().Err(err).Int64("exchange_id", ex.ID).Msg("feed publish failed")
		if d.metrics != nil {
			d.metrics.FeedPublishFailures.Inc()
		}
	}
}

// GetMemory returns the newest exchanges first. limit is storage.Unbounded or
// a non-negative count.
func (d *Dispatcher) GetMemory(ctx context.Context, limit int) ([]storage.Exchange, error) {
	if limit < 0 && limit != storage.Unbounded {
		return nil, fmt.Errorf("%w: limit must be a non-negative integer", session.ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	items, err := d.memory.ListExchanges(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	return items, nil
}

func (d *Dispatcher) ClearMemory(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.memory.ClearAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear exchanges: %w", err)
	}
	d.logger.Info().Int64("removed", n).Msg("memory cleared")
	return n, nil
}

// UseProvider returns the new provider and its current model.
func (d *Dispatcher) UseProvider(ctx context.Context, id string) (string, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", fmt.Errorf("%w: provider is required", session.ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.session.SwitchProvider(ctx, id); err != nil {
		d.logFailure(err, "use_provider")
		return "", "", err
	}
	model := d.session.CurrentModel(id)
	d.logger.Info().Str("provider", id).Str("model", model).Msg("provider switched")
	return id, model, nil
}

// UseModel sets the current provider's model and returns that provider.
func (d *Dispatcher) UseModel(ctx context.Context, model string) (string, string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", "", fmt.Errorf("%w: model is required", session.ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	provider, err := d.session.SwitchModel(ctx, model)
	if err != nil {
		d.logFailure(err, "use_model")
		return "", "", err
	}
	d.logger.Info().Str("provider", provider).Str("model", model).Msg("model switched")
	return provider, model, nil
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.session.CurrentProvider()
	return Status{
		Provider: id,
		Model:    d.session.CurrentModel(id),
		Models:   d.session.Models(),
	}
}

func (d *Dispatcher) logFailure(err error, op string) {
	if errors.Is(err, session.ErrInvalidArgument) {
		d.logger.Debug().Err(err).Str("op", op).Msg("rejected")
		return
	}
	d.logger.Error().Err(err).Str("op", op).Msg("operation failed")
}

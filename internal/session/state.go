package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"llmrouter/internal/mirror"
	"llmrouter/internal/providers"
	"llmrouter/internal/storage"
)

var ErrInvalidArgument = errors.New("invalid argument")

// SettingsStore is the durable home of the current provider.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Mirror is the best-effort secondary copy of provider and model choices.
type Mirror interface {
	Enabled() bool
	Read() (mirror.Entry, error)
	SetProvider(provider string) error
	SetModel(provider, model string) error
}

type Validator interface {
	ValidateModel(ctx context.Context, d providers.Descriptor, model string) error
}

// MirrorFailureHook observes mirror write failures, e.g. for metrics.
type MirrorFailureHook func(op string, err error)

type Config struct {
	Store           SettingsStore
	Mirror          Mirror
	Validator       Validator
	Logger          zerolog.Logger
	OnMirrorFailure MirrorFailureHook
}

// State holds the current provider and the current model of every provider.
// The durable store is authoritative; the mirror is written after it and only
// ever logged on failure.
type State struct {
	mu        sync.Mutex
	store     SettingsStore
	mirror    Mirror
	validator Validator
	logger    zerolog.Logger
	onMirror  MirrorFailureHook

	provider string
	models   map[string]string
}

func New(cfg Config) *State {
	return &State{
		store:     cfg.Store,
		mirror:    cfg.Mirror,
		validator: cfg.Validator,
		logger:    cfg.Logger.With().Str("component", "session").Logger(),
		onMirror:  cfg.OnMirrorFailure,
		provider:  providers.DefaultProvider,
		models:    defaultModels(),
	}
}

func defaultModels() map[string]string {
	out := map[string]string{}
	for _, id := range providers.IDs() {
		d, _ := providers.Describe(id)
		out[id] = d.DefaultModel
	}
	return out
}

// Load picks the current provider from the mirror, then the durable setting,
// then the compiled-in default. Models always start at their defaults.
func (s *State) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.models = defaultModels()

	if id, ok := s.providerFromMirror(); ok {
		s.provider = id
		stored, err := s.store.GetSetting(ctx, storage.SettingCurrentProvider)
		if err != nil || stored != id {
			if err := s.store.SetSetting(ctx, storage.SettingCurrentProvider, id); err != nil {
				s.logger.Warn().Err(err).Str("provider", id).Msg("failed to sync durable provider with mirror")
			}
		}
		s.logger.Info().Str("provider", id).Str("source", "mirror").Msg("session loaded")
		return nil
	}

	stored, err := s.store.GetSetting(ctx, storage.SettingCurrentProvider)
	switch {
	case err == nil && providers.Valid(stored):
		s.provider = stored
		s.logger.Info().Str("provider", stored).Str("source", "store").Msg("session loaded")
		return nil
	case err == nil:
		s.logger.Warn().Str("provider", stored).Msg("stored provider is not registered, resetting to default")
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("load current provider: %w", err)
	}

	s.provider = providers.DefaultProvider
	if err := s.store.SetSetting(ctx, storage.SettingCurrentProvider, s.provider); err != nil {
		return fmt.Errorf("persist default provider: %w", err)
	}
	s.logger.Info().Str("provider", s.provider).Str("source", "default").Msg("session loaded")
	return nil
}

func (s *State) providerFromMirror() (string, bool) {
	if s.mirror == nil || !s.mirror.Enabled() {
		return "", false
	}
	entry, err := s.mirror.Read()
	if err != nil {
		s.logger.Debug().Err(err).Msg("mirror not readable")
		return "", false
	}
	if !entry.Present || entry.Provider == "" {
		return "", false
	}
	if !providers.Valid(entry.Provider) {
		s.logger.Warn().Str("provider", entry.Provider).Msg("mirror names an unregistered provider, ignoring")
		return "", false
	}
	return entry.Provider, true
}

func (s *State) CurrentProvider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

func (s *State) CurrentModel(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models[id]
}

// Models returns a copy of the per-provider model map.
func (s *State) Models() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.models))
	for k, v := range s.models {
		out[k] = v
	}
	return out
}

func (s *State) SwitchProvider(ctx context.Context, id string) error {
	if !providers.Valid(id) {
		_, err := providers.Describe(id)
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.provider
	s.provider = id
	if err := s.store.SetSetting(ctx, storage.SettingCurrentProvider, id); err != nil {
		s.provider = prev
		return fmt.Errorf("persist current provider: %w", err)
	}
	s.mirrorWrite("set_provider", func(m Mirror) error { return m.SetProvider(id) })
	return nil
}

// SwitchModel validates model against the current provider's rule and makes it
// that provider's current model.
func (s *State) SwitchModel(ctx context.Context, model string) (provider string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := providers.Describe(s.provider)
	if err != nil {
		return "", err
	}
	if err := s.validator.ValidateModel(ctx, d, model); err != nil {
		if errors.Is(err, providers.ErrConfiguration) {
			return d.ID, err
		}
		return d.ID, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	s.models[d.ID] = model
	s.mirrorWrite("set_model", func(m Mirror) error { return m.SetModel(d.ID, model) })
	return d.ID, nil
}

func (s *State) mirrorWrite(op string, write func(Mirror) error) {
	if s.mirror == nil || !s.mirror.Enabled() {
		return
	}
	if err := write(s.mirror); err != nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("mirror update failed")
		if s.onMirror != nil {
			s.onMirror(op, err)
		}
	}
}

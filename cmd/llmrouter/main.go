package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llmrouter/internal/config"
	"llmrouter/internal/feed"
	"llmrouter/internal/mcpserver"
	"llmrouter/internal/metrics"
	"llmrouter/internal/mirror"
	"llmrouter/internal/providers/registry"
	"llmrouter/internal/router"
	"llmrouter/internal/session"
	"llmrouter/internal/storage"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("version", version).
		Str("server_name", cfg.ServerName).
		Str("db_driver", cfg.DB.Driver).
		Bool("mirror_disabled", cfg.Mirror.Disabled).
		Msg("starting llmrouter")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	m := metrics.Global()

	backend := registry.New(registry.Config{
		Secrets:           cfg.Providers.Secrets,
		BaseURLs:          cfg.Providers.BaseURLs,
		OpenRouterSiteURL: cfg.Providers.OpenRouterSiteURL,
		OpenRouterAppName: cfg.Providers.OpenRouterAppName,
		HTTPClient:        &http.Client{Timeout: cfg.HTTP.ClientTimeout},
	})

	var mirrorFile session.Mirror
	if !cfg.Mirror.Disabled {
		mf := mirror.New(cfg.Mirror.Path, cfg.ServerName)
		if mf.Enabled() {
			mirrorFile = mf
			log.Info().Str("path", mf.Path()).Msg("mirror enabled")
		}
	}

	state := session.New(session.Config{
		Store:           store,
		Mirror:          mirrorFile,
		Validator:       backend,
		Logger:          log.Logger,
		OnMirrorFailure: m.MirrorFailure,
	})
	if err := state.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load session state")
	}

	var publisher router.Publisher
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, exchange feed disabled")
			_ = rdb.Close()
			rdb = nil
		} else {
			p := feed.NewStreamPublisher(rdb, cfg.Redis.FeedStream, cfg.Redis.FeedMaxLen)
			publisher = p
			log.Info().Str("stream", p.Stream()).Msg("exchange feed enabled")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	dispatcher, err := router.New(router.Config{
		Session: state,
		Backend: backend,
		Memory:  store,
		Feed:    publisher,
		Metrics: m,
		Logger:  log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dispatcher")
	}
	status := dispatcher.Status()
	log.Info().Str("provider", status.Provider).Str("model", status.Model).Msg("session ready")

	service := mcpserver.New(mcpserver.Config{
		Dispatcher: dispatcher,
		Metrics:    m,
		Logger:     log.Logger,
	})
	server := service.NewServer(cfg.ServerName, version)

	errCh := make(chan error, 2)

	var httpServer *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Metrics.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle(cfg.Metrics.MetricsPath, promhttp.Handler())
		httpServer = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics server started")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		log.Info().Msg("serving tools on stdio")
		if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("mcp server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("runtime error")
		} else {
			log.Info().Msg("client disconnected")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to stop metrics server")
		}
	}

	log.Info().Msg("stopped")
}

// setupLogger writes to stderr; stdout carries the protocol.
func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

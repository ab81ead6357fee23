// Command dmforge runs the AI dungeon master server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/dmforge/dmforge/internal/config"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/engine"
	"github.com/dmforge/dmforge/internal/observe"
	"github.com/dmforge/dmforge/internal/resilience"
	"github.com/dmforge/dmforge/internal/savegame"
	"github.com/dmforge/dmforge/internal/server"
	"github.com/dmforge/dmforge/internal/session"
	"github.com/dmforge/dmforge/pkg/provider/llm"
	"github.com/dmforge/dmforge/pkg/provider/llm/anyllm"
	"github.com/dmforge/dmforge/pkg/provider/llm/openai"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dmforge: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dmforge starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── LLM backends ──────────────────────────────────────────────────────────
	guard, err := buildGuard(cfg)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return 1
	}

	// ── Game subsystems ───────────────────────────────────────────────────────
	catalog, err := content.NewCatalog(cfg.Game.ContentDir)
	if err != nil {
		slog.Error("failed to load scenarios", "err", err)
		return 1
	}
	slog.Info("scenarios loaded", "ids", strings.Join(catalog.IDs(), ", "))

	saves, err := savegame.NewStore(cfg.Game.SaveDir)
	if err != nil {
		slog.Error("failed to open save store", "err", err)
		return 1
	}

	sessions := session.NewManager(cfg.Game.SessionTimeout.Std(), logger)
	sessions.StartReaper(cfg.Game.ReaperInterval.Std())
	defer sessions.Close()

	eng := engine.New(guard, saves, logger)

	srv := server.New(server.Options{
		Sessions:    sessions,
		Engine:      eng,
		Catalog:     catalog,
		Saves:       saves,
		Metrics:     metrics,
		Logger:      logger,
		TurnTimeout: cfg.LLM.TurnTimeout.Std(),
		Seed:        cfg.Game.Seed,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads the config file, falling back to defaults when the default
// path does not exist. A path the user set explicitly must exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && path == "config.yaml" {
		// Defaults still pass through env overrides and validation.
		return config.LoadFromReader(strings.NewReader(""))
	}
	return nil, err
}

// buildGuard constructs the primary LLM backend and an optional fallback,
// each behind its own circuit breaker.
func buildGuard(cfg *config.Config) (*resilience.Guard, error) {
	primary, err := buildProvider(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.APIKey)
	if err != nil {
		return nil, fmt.Errorf("primary %q: %w", cfg.LLM.Provider, err)
	}
	guard := resilience.NewGuard(primary, cfg.LLM.Provider, resilience.BreakerConfig{})

	if cfg.LLM.Fallback != "" {
		model := cfg.LLM.FallbackModel
		if model == "" {
			model = cfg.LLM.Model
		}
		fallback, err := buildProvider(cfg.LLM.Fallback, model, cfg.LLM.APIKey)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", cfg.LLM.Fallback, err)
		}
		guard.AddFallback(cfg.LLM.Fallback, fallback)
		slog.Info("fallback backend configured", "provider", cfg.LLM.Fallback, "model", model)
	}
	return guard, nil
}

func buildProvider(name, model, apiKey string) (llm.Provider, error) {
	switch name {
	case "openai":
		p, err := openai.New(apiKey, model)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "anthropic":
		var opts []anyllmlib.Option
		if apiKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(apiKey))
		}
		p, err := anyllm.NewAnthropic(model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "ollama":
		p, err := anyllm.NewOllama(model)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/agent/providers"
	"github.com/vantagesec/vantage/internal/auth"
	"github.com/vantagesec/vantage/internal/catalog"
	"github.com/vantagesec/vantage/internal/config"
	"github.com/vantagesec/vantage/internal/executors"
	"github.com/vantagesec/vantage/internal/moderation"
	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/internal/pipeline"
	"github.com/vantagesec/vantage/internal/ratelimit"
	"github.com/vantagesec/vantage/internal/reconcile"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/internal/search"
	"github.com/vantagesec/vantage/internal/server"
	"github.com/vantagesec/vantage/internal/store"
	"github.com/vantagesec/vantage/internal/tokens"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info(ctx, "starting vantage", "version", version, "commit", commit)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	tracer := observability.NewTracer("vantage")

	st, err := store.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	prompts, err := config.NewPromptStore(cfg.Prompts.OverrideDir, logger)
	if err != nil {
		return fmt.Errorf("prompt store: %w", err)
	}
	defer prompts.Close()
	cat := catalog.New(prompts)

	providerSet, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	counter, err := tokens.NewCounter()
	if err != nil {
		return fmt.Errorf("token counter: %w", err)
	}

	var classifier moderation.Classifier = moderation.Disabled{}
	if cfg.Moderation.Enabled {
		key := cfg.Moderation.APIKey
		if key == "" {
			key = cfg.LLM.OpenAI.APIKey
		}
		classifier = moderation.NewOpenAIClassifier(key, logger)
	}

	sandboxes := sandbox.NewManager(
		sandbox.NewClient(cfg.Sandbox.BaseURL, cfg.Sandbox.APIKey, cfg.Sandbox.Template, logger),
		cfg.Sandbox.Timeout, logger, metrics,
	)
	if err := sandboxes.StartReaper(); err != nil {
		return fmt.Errorf("sandbox reaper: %w", err)
	}
	defer sandboxes.Close(context.Background())

	searcher := search.NewClient(cfg.Search.BaseURL, cfg.Search.APIKey, cfg.Search.CountryCode, logger)

	titleSpec, err := cat.Lookup(cfg.LLM.TitleModel)
	if err != nil {
		return fmt.Errorf("title model: %w", err)
	}
	titleProvider, ok := providerSet[titleSpec.Provider]
	if !ok {
		titleProvider = primaryProvider(providerSet)
	}

	deps := server.Deps{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
		Store:      st,
		Reconciler: reconcile.New(st, logger),
		Pipeline: &pipeline.Pipeline{
			Counter:    counter,
			Classifier: classifier,
			Loader:     pipeline.NewHTTPLoader(),
			Logger:     logger,
		},
		Catalog:   cat,
		Providers: providerSet,
		Limiter:   ratelimit.NewLimiter(cfg.RateLimit),
		Auth:      auth.NewService(auth.Config{JWTSecret: cfg.Server.JWTSecret, TokenExpiry: 24 * time.Hour}),
		Sandboxes: sandboxes,
		Truncator: agent.NewTruncator(counter),
		Searcher:  searcher,
		Browser: &executors.Browser{
			Provider: primaryProvider(providerSet),
			Default:  executors.NewProxyFetcher(cfg.Browse.ProxyURL, cfg.Browse.APIKey),
			Stealth:  executors.NewChromeFetcher(cfg.Browse.StealthDebugURL),
			Logger:   logger,
		},
		Titles: &executors.TitleGenerator{
			Provider: titleProvider,
			Model:    titleSpec.ProviderModel,
			Logger:   logger,
		},
		Registry: registry,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.New(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info(ctx, "shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildProviders(cfg *config.Config) (map[catalog.ProviderKind]agent.LLMProvider, error) {
	set := make(map[catalog.ProviderKind]agent.LLMProvider)
	if cfg.LLM.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		set[catalog.ProviderAnthropic] = p
	}
	if cfg.LLM.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		set[catalog.ProviderOpenAI] = p
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no LLM provider configured")
	}
	return set, nil
}

func primaryProvider(set map[catalog.ProviderKind]agent.LLMProvider) agent.LLMProvider {
	if p, ok := set[catalog.ProviderAnthropic]; ok {
		return p
	}
	for _, p := range set {
		return p
	}
	return nil
}

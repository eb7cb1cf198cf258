package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/san4s204/AI-ASSISTANT-main/internal/calendar"
	"github.com/san4s204/AI-ASSISTANT-main/internal/config"
	"github.com/san4s204/AI-ASSISTANT-main/internal/confirm"
	"github.com/san4s204/AI-ASSISTANT-main/internal/llm"
	"github.com/san4s204/AI-ASSISTANT-main/internal/observability"
	"github.com/san4s204/AI-ASSISTANT-main/internal/ratelimit"
	"github.com/san4s204/AI-ASSISTANT-main/internal/registry"
	"github.com/san4s204/AI-ASSISTANT-main/internal/storage"
	"github.com/san4s204/AI-ASSISTANT-main/internal/telegram"
	"github.com/san4s204/AI-ASSISTANT-main/internal/wallet"
	"github.com/san4s204/AI-ASSISTANT-main/internal/worker"
	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant platform",
		Long: `Start the platform with all registered tenant bots.

The server will:
1. Load configuration from the specified YAML file
2. Open the SQLite database and run migrations
3. Connect rate-limit counters (Redis, or in-memory when disabled)
4. Start one Telegram worker per owner with a bot token
5. Start the pending-confirmation sweeper
6. Serve Prometheus metrics when enabled

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  assistant serve

  # Start with custom config
  assistant serve --config /etc/assistant/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "assistant.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: "json"})
	logger = logger.With("component", "serve")

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	owners, err := storage.NewOwners(db)
	if err != nil {
		return err
	}
	wlt, err := wallet.New(db)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	var counters ratelimit.Counters
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		rc := ratelimit.NewRedisCounters(client)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		counters = rc
		logger.Info("rate-limit counters on redis", "addr", cfg.Redis.Addr)
	} else {
		counters = ratelimit.NewMemoryCounters()
		logger.Info("rate-limit counters in memory")
	}

	plans := ratelimit.PlanResolverFunc(owners.Plan)
	gate := ratelimit.NewGate(ratelimit.GateConfig{
		Counters: counters,
		Plans:    plans,
		RPM:      cfg.Limits.RPM,
		RPD:      cfg.Limits.RPD,
		AdminIDs: cfg.Telegram.AdminIDs,
		Logger:   logger,
	})

	llmClient, err := llm.NewOpenRouter(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return err
	}

	loc := cfg.DefaultLocation()
	flow := confirm.NewFlow(confirm.FlowConfig{
		Calendar:        calendar.Unconfigured{Location: loc},
		TTL:             cfg.Calendar.ConfirmTTL,
		DefaultLocation: loc,
		Logger:          logger,
	})

	sweeper := confirm.NewSweeper(flow.Store(), cfg.Calendar.SweepInterval, logger)
	sweeper.OnSweep = func(removed int) { metrics.PendingSweeps.Add(float64(removed)) }
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithCountObserver(func(count int) {
			metrics.ActiveWorkers.Set(float64(count))
		}),
	)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server listening", "addr", cfg.Metrics.Addr)
	}

	active, err := owners.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}
	for _, owner := range active {
		if err := startWorker(ctx, reg, owner, cfg, gate, wlt, plans, llmClient, flow, metrics, logger); err != nil {
			logger.Error("worker start failed", "owner_id", owner.ID, "error", err)
		}
	}
	logger.Info("platform started", "workers", len(reg.Active()))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutting down")
	stopped := reg.Shutdown()
	logger.Info("workers stopped", "count", stopped)
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func startWorker(
	ctx context.Context,
	reg *registry.Registry,
	owner models.Owner,
	cfg *config.Config,
	gate *ratelimit.Gate,
	wlt *wallet.Wallet,
	plans ratelimit.PlanResolver,
	llmClient llm.Client,
	flow *confirm.Flow,
	metrics *observability.Metrics,
	logger *slog.Logger,
) error {
	transport, err := telegram.New(telegram.Config{Token: owner.BotToken, Logger: logger})
	if err != nil {
		return err
	}
	w, err := worker.New(worker.Config{
		Owner:         owner,
		Transport:     transport,
		Gate:          gate,
		Wallet:        wlt,
		Plans:         plans,
		MonthlyTokens: cfg.Limits.MonthlyTokens,
		LLM:           llmClient,
		Flow:          flow,
		Location:      cfg.DefaultLocation(),
		HistoryDepth:  cfg.LLM.HistoryDepth,
		Metrics:       metrics,
		Logger:        logger,
		Model:         cfg.LLM.Model,
	})
	if err != nil {
		return err
	}
	return reg.Start(ctx, registry.Handle{
		Credential: owner.BotToken,
		OwnerID:    owner.ID,
		SourceID:   owner.KnowledgeSourceID,
	}, w.Run)
}

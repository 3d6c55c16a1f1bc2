package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/api"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/assembly"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/notification"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/report"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/tableau"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/transform"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/websocket"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const queueName = "report-generation"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:   "report-server",
		Short: "Asynchronous Tableau report export service",
		Long: `report-server accepts report requests over HTTP, queues them durably
in Redis, fetches the source data from Tableau, assembles a slide
presentation, and emails the rendered artifact to the requester.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, configDir)
		},
	}

	root.AddCommand(newVersionCmd())
	root.PersistentFlags().StringVar(&configDir, "config-dir", os.Getenv("CONFIG_DIR"),
		"Directory with the use-case manifest files (empty uses the embedded defaults)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("report-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, configDir string) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting report server",
		zap.String("version", version),
		zap.Int("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("redis", cfg.RedisAddr()),
		zap.Int("concurrency", cfg.QueueConcurrency),
	)

	registry, err := config.LoadRegistry(configDir)
	if err != nil {
		return fmt.Errorf("failed to load manifests: %w", err)
	}
	logger.Info("manifests loaded", zap.Strings("use_cases", registry.UseCases()))

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.RedisAddr(), err)
	}

	q := queue.New(rdb, queue.Options{
		Name:        queueName,
		MaxAttempts: cfg.QueueAttempts,
	}, logger)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	q.RegisterMetrics(promReg)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub()
	go hub.Run(hubCtx)
	websocket.BridgeQueue(q, hub)

	// Report pipeline.
	transformer := transform.New(registry, logger)
	fetcher := tableau.NewClient(cfg.RemoteBaseURL, cfg.Production(), logger)
	engine := assembly.New(registry, logger)
	mailer := notification.NewClient(notification.Config{
		APIURL:       cfg.NotificationAPIURL,
		GatewayToken: cfg.APIGatewayToken,
		From:         cfg.EmailFrom,
		TeamTag:      cfg.EmailTeamTag,
		ProductTag:   cfg.EmailProductTag,
	}, logger)

	var renderer report.Renderer
	if cfg.RendererURL != "" {
		renderer = report.NewHTTPRenderer(cfg.RendererURL)
	} else {
		logger.Warn("RENDERER_URL not set, using the JSON debug renderer")
		renderer = report.JSONRenderer{}
	}

	processor := report.NewProcessor(registry, transformer, fetcher, engine, renderer, mailer,
		cfg.QueueConcurrency, logger)

	wrk, err := worker.New(q, processor, worker.Options{
		Concurrency: cfg.QueueConcurrency,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	wrk.Start()

	router := api.NewRouter(api.RouterConfig{
		Queue:    q,
		Registry: registry,
		Worker:   wrk,
		Hub:      hub,
		Metrics:  promReg,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	// Shutdown order: stop accepting HTTP, drain the worker, then tear
	// down the hub and the Redis client (deferred).
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}

	if err := wrk.Stop(); err != nil {
		// In-flight jobs exceeded the drain window; exit non-zero so the
		// supervisor notices. Stalled detection will recover the leases.
		return err
	}

	stopHub()
	logger.Info("shutdown complete")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

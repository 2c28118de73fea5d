package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	larksdk "github.com/larksuite/oapi-sdk-go/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/Veraticus/qrelay/internal/agent"
	"github.com/Veraticus/qrelay/internal/command"
	"github.com/Veraticus/qrelay/internal/config"
	"github.com/Veraticus/qrelay/internal/conversation"
	"github.com/Veraticus/qrelay/internal/delivery"
	"github.com/Veraticus/qrelay/internal/intent"
	larkbot "github.com/Veraticus/qrelay/internal/lark"
	"github.com/Veraticus/qrelay/internal/metrics"
	"github.com/Veraticus/qrelay/internal/qchat"
	"github.com/Veraticus/qrelay/internal/relay"
)

const (
	// readHeaderTimeout bounds how long a client may take to send headers.
	readHeaderTimeout = 10 * time.Second
	// versionCheckTimeout bounds the startup check of the agent executable.
	versionCheckTimeout = 10 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Lark webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
				logger.Debug(fmt.Sprintf(format, args...))
			}))
			defer undo()
			if err != nil {
				logger.Warn("failed to set GOMAXPROCS", slog.Any("error", err))
			}

			return runServe(cmd.Context(), cfg, logger, opts.debug)
		},
	}
}

// components holds everything serve starts and later stops.
type components struct {
	cleanup *conversation.CleanupService
	pool    *relay.Pool
	server  *http.Server

	serveErr chan error
	wg       sync.WaitGroup
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, debug bool) error {
	checkAgentVersion(ctx, cfg.Agent, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := initializeComponents(cfg, registry, logger, debug)
	if err != nil {
		return err
	}
	if err := startComponents(ctx, c, logger); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-c.serveErr:
		logger.Error("http server failed", slog.Any("error", serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := shutdown(shutdownCtx, c, logger); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

func initializeComponents(cfg *config.Config, registry *prometheus.Registry, logger *slog.Logger, debug bool) (*components, error) {
	m := metrics.MustNewMetrics(registry)

	history := conversation.NewHistory(
		conversation.WithExpiry(cfg.History.Expiry),
		conversation.WithMaxTurns(cfg.History.MaxTurns),
		conversation.WithMaxUsers(cfg.History.MaxUsers),
		conversation.WithLogger(logger),
	)
	cleanup := conversation.NewCleanupServiceWithInterval(history, cfg.History.CleanupInterval).
		OnStats(func(users, _ int) { m.SetHistoryUsers(users) })

	apps, err := cfg.Apps()
	if err != nil {
		return nil, err
	}
	sink := delivery.Observed(
		delivery.NewLarkSink(apps, logger, larkOptions(cfg.Lark)...),
		func(_ delivery.Unit, err error) { m.ObserveDelivery(err) },
	)

	runner, err := newRunner(cfg, sink, history, m, logger)
	if err != nil {
		return nil, err
	}

	pool, err := relay.NewPool(relay.PoolConfig{
		Workers:   cfg.Pool.Workers,
		QueueSize: cfg.Pool.QueueSize,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	handler, err := newHandler(cfg, history, sink, runner, pool, m, logger)
	if err != nil {
		return nil, err
	}

	webhook, err := larkbot.NewWebhook(larkbot.WebhookConfig{
		VerificationToken: cfg.Lark.VerificationToken,
		EncryptKey:        cfg.Lark.EncryptKey,
	}, handler, sink, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	return &components{
		cleanup: cleanup,
		pool:    pool,
		server: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           newRouter(webhook, registry, pool, logger, debug),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		serveErr: make(chan error, 1),
	}, nil
}

// newRunner builds the agent runner shared by serve and ask.
func newRunner(cfg *config.Config, sink delivery.Sink, history conversation.Store, m *metrics.Metrics, logger *slog.Logger) (*agent.Runner, error) {
	launcher := qchat.NewCommandLauncher(qchat.Config{
		Command: cfg.Agent.Command,
		Args:    cfg.Agent.Args,
		Dir:     cfg.Agent.WorkDir,
	}, logger)

	prompts := agent.DefaultPromptBuilder()
	if cfg.Prompt.Instruction != "" {
		prompts.Instruction = cfg.Prompt.Instruction
	}
	if cfg.Prompt.HistoryPreamble != "" {
		prompts.HistoryPreamble = cfg.Prompt.HistoryPreamble
	}
	if cfg.Prompt.HistoryQuestion != "" {
		prompts.HistoryQuestion = cfg.Prompt.HistoryQuestion
	}

	runner, err := agent.NewRunner(launcher, sink, history,
		agent.WithPromptBuilder(prompts),
		agent.WithConfig(agent.Config{
			RunTimeout:      cfg.Agent.RunTimeout,
			ExitWaitTimeout: cfg.Agent.ExitWaitTimeout,
			MaxBatchLines:   cfg.Agent.MaxBatchLines,
			FlushInterval:   cfg.Agent.FlushInterval,
		}),
		agent.WithMetrics(m),
		agent.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent runner: %w", err)
	}
	return runner, nil
}

// newHandler wires the orchestrator and, when enabled, the intent gate.
func newHandler(
	cfg *config.Config,
	history conversation.Store,
	sink delivery.Sink,
	runner relay.AgentRunner,
	pool relay.Submitter,
	m *metrics.Metrics,
	logger *slog.Logger,
) (relay.Handler, error) {
	opts := []relay.OrchestratorOption{
		relay.WithMetrics(m),
		relay.WithLogger(logger),
	}
	if cfg.RateLimit.Interval > 0 {
		opts = append(opts, relay.WithRateLimiter(
			relay.NewRateLimiter(cfg.RateLimit.Interval, cfg.RateLimit.Burst, cfg.History.MaxUsers)))
	}

	orchestrator, err := relay.NewOrchestrator(history, sink, runner, pool, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	if !cfg.Intent.Enabled {
		return orchestrator, nil
	}

	classifier, err := intent.NewAnthropicClassifier(intent.AnthropicConfig{
		APIKey:     cfg.Intent.APIKey,
		BaseURL:    cfg.Intent.BaseURL,
		Model:      cfg.Intent.Model,
		MaxRetries: cfg.Intent.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create intent classifier: %w", err)
	}
	gated, err := relay.NewGatedOrchestrator(orchestrator, classifier, relay.DefaultGateMessages())
	if err != nil {
		return nil, fmt.Errorf("failed to create intent gate: %w", err)
	}
	return gated, nil
}

func larkOptions(cfg config.LarkConfig) []larksdk.ClientOptionFunc {
	var opts []larksdk.ClientOptionFunc
	if cfg.RequestTimeout > 0 {
		opts = append(opts, larksdk.WithReqTimeout(cfg.RequestTimeout))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, larksdk.WithOpenBaseUrl(cfg.BaseURL))
	}
	return opts
}

func startComponents(ctx context.Context, c *components, logger *slog.Logger) error {
	// Runs in flight when the signal arrives are drained by shutdown, not canceled.
	background := context.WithoutCancel(ctx)

	if err := c.pool.Start(background); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := c.cleanup.Start(background); err != nil {
		return fmt.Errorf("failed to start history cleanup: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Info("listening", slog.String("addr", c.server.Addr))
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.serveErr <- err
		}
	}()
	return nil
}

func shutdown(ctx context.Context, c *components, logger *slog.Logger) error {
	logger.Info("shutting down")

	var result *multierror.Error
	if err := c.server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}
	if err := c.pool.Stop(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("worker pool: %w", err))
	}
	c.cleanup.Stop()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err()))
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// checkAgentVersion logs whether the agent executable runs at all. A failure
// is not fatal; every run reports its own launch error.
func checkAgentVersion(ctx context.Context, cfg config.AgentConfig, logger *slog.Logger) {
	out, err := command.NewCommand(cfg.Command, "--version").
		WithContext(ctx).
		WithDir(cfg.WorkDir).
		WithTimeout(versionCheckTimeout).
		Run()
	if err != nil {
		logger.Warn("agent executable is not runnable",
			slog.String("command", cfg.Command),
			slog.Any("error", err))
		return
	}
	logger.Info("agent executable found",
		slog.String("command", cfg.Command),
		slog.String("version", strings.TrimSpace(out)))
}

// poolStats is the part of the pool the health endpoint reports.
type poolStats interface {
	Inflight() int
	Queued() int
}

// newRouter builds the HTTP routes.
func newRouter(webhook http.Handler, gatherer prometheus.Gatherer, pool poolStats, logger *slog.Logger, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	engine.POST("/webhook", gin.WrapH(webhook))
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"inflight": pool.Inflight(),
			"queued":   pool.Queued(),
		})
	})
	return engine
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogAttrs(c.Request.Context(), slog.LevelDebug, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/devrev/tierbot/internal/admin"
	"github.com/devrev/tierbot/internal/catalog"
	"github.com/devrev/tierbot/internal/config"
	"github.com/devrev/tierbot/internal/dispatch"
	"github.com/devrev/tierbot/internal/health"
	"github.com/devrev/tierbot/internal/journal"
	"github.com/devrev/tierbot/internal/liveness"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/server"
	"github.com/devrev/tierbot/internal/telegram"
	"github.com/devrev/tierbot/internal/transport"
	"github.com/devrev/tierbot/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			logger, err := buildLogger(cfg.Logging, opts.verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg, logger); err != nil {
				logger.Error("Bot stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

// serve wires every component and blocks until ctx is cancelled
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	st, err := openStore(ctx, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("failed to open entitlement store: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := st.Flush(flushCtx); err != nil {
			logger.Error("Final flush failed", zap.Error(err))
		}
		st.Close()
	}()

	dedup, err := openDedup(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open dedup backend: %w", err)
	}
	defer dedup.Close()

	// A nil *journal.Journal must not reach the handler as a non-nil interface
	var audit admin.Journal
	if cfg.Journal.Enabled {
		j, err := journal.Open(&journal.Config{Path: cfg.Journal.Path, SyncWrites: cfg.Storage.SyncWrites}, logger)
		if err != nil {
			return fmt.Errorf("failed to open admin journal: %w", err)
		}
		defer j.Close()
		audit = j
	}

	client, err := telegram.NewClient(&telegram.Config{
		Token:           cfg.Bot.Token,
		RequestTimeout:  cfg.Transport.RequestTimeout,
		LongPollTimeout: cfg.Transport.LongPollTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to reach the Bot API: %w", err)
	}
	defer client.Close()

	engine := dispatch.NewEngine(&dispatch.Config{AdminHandle: cfg.Bot.AdminHandle}, cat, st, logger, m)
	adminHandler := admin.NewHandler(&admin.Config{AdminHandle: cfg.Bot.AdminHandle}, st, cat, audit, logger, m)
	sender := transport.NewSender(client, &transport.SenderConfig{
		Attempts: cfg.Transport.SendRetries,
		Backoff:  cfg.Transport.SendBackoff,
	}, logger, m)
	router := transport.NewRouter(&transport.RouterConfig{
		Mode:           cfg.Transport.Mode,
		RequestTimeout: cfg.Transport.RequestTimeout,
	}, engine, adminHandler, dedup, sender, logger, m)

	healthCfg := &health.HealthCheckConfig{Mode: cfg.Transport.Mode}
	if cfg.Storage.Backend == config.BackendFile {
		healthCfg.DataDir = filepath.Dir(cfg.Storage.Path)
	}
	checker := health.NewHealthChecker(healthCfg, st, logger)

	var pool *workerpool.WorkerPool
	if cfg.Transport.Mode == config.ModePush {
		pool = workerpool.NewWorkerPool(&workerpool.Config{
			Name:       "webhook",
			MaxWorkers: cfg.Transport.Workers,
			QueueSize:  cfg.Transport.QueueSize,
			Logger:     logger,
			Metrics:    m,
		})
		if err := client.SetWebhook(ctx, cfg.WebhookURL(), cfg.Transport.WebhookSecret); err != nil {
			pool.Stop(time.Second)
			return fmt.Errorf("failed to register webhook: %w", err)
		}
	}

	srv := server.NewServer(&server.Config{
		Addr:            cfg.ListenAddr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		WebhookSecret:   cfg.Transport.WebhookSecret,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsPath:     cfg.Metrics.Path,
		RateLimit:       cfg.Transport.RateLimit,
		RateBurst:       cfg.Transport.RateBurst,
	}, client, router, pool, checker, reg, logger, m)

	logger.Info("Starting bot",
		zap.String("username", client.Username()),
		zap.String("mode", cfg.Transport.Mode),
		zap.String("addr", cfg.ListenAddr()),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("dedup", cfg.Dedup.Backend),
		zap.String("catalog_version", cat.Version),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return checker.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		checker.SetDraining()
		return nil
	})

	if cfg.Liveness.Enabled {
		loop := liveness.NewLoop(&liveness.Config{
			PublicURL: cfg.Bot.PublicURL,
			Interval:  cfg.Liveness.Interval,
			Timeout:   cfg.Liveness.Timeout,
		}, nil, logger, m)
		if loop.Enabled() {
			g.Go(func() error { return loop.Run(gctx) })
		}
	}

	if cfg.Transport.Mode == config.ModePull {
		poller := transport.NewPoller(client, router, &transport.PollerConfig{
			Timeout: cfg.Transport.LongPollTimeout,
		}, logger)
		g.Go(func() error { return poller.Run(gctx) })
	}

	err = g.Wait()

	if pool != nil {
		if stopErr := pool.Stop(cfg.Server.ShutdownTimeout); stopErr != nil {
			logger.Warn("Worker pool did not drain in time", zap.Error(stopErr))
		}
	}

	logger.Info("Bot stopped")
	return err
}

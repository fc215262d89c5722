// Package liveness pings the bot's own public URL on a schedule so hosts
// that idle inactive services keep the process awake.
package liveness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devrev/tierbot/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Prober issues one probe request
type Prober interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds self-ping configuration
type Config struct {
	// PublicURL is probed at its root. Empty disables the loop.
	PublicURL string
	Interval  time.Duration
	Timeout   time.Duration
}

// Loop runs the self-ping schedule
type Loop struct {
	config  *Config
	prober  Prober
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLoop creates a self-ping loop. prober may be nil for http.DefaultClient.
func NewLoop(cfg *Config, prober Prober, logger *zap.Logger, m *metrics.Metrics) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 300 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if prober == nil {
		prober = http.DefaultClient
	}
	return &Loop{
		config:  cfg,
		prober:  prober,
		logger:  logger,
		metrics: m,
	}
}

// Enabled reports whether there is a URL to probe
func (l *Loop) Enabled() bool {
	return l.config.PublicURL != ""
}

// Run probes on schedule until ctx is cancelled. A failed probe is logged
// and counted; it never stops the loop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.Enabled() {
		l.logger.Info("Liveness probe disabled, no public URL configured")
		return nil
	}

	c := cron.New(cron.WithLogger(cronLogger{l.logger}))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", l.config.Interval), func() {
		l.Probe(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule liveness probe: %w", err)
	}

	l.logger.Info("Liveness probe started",
		zap.String("url", l.target()),
		zap.Duration("interval", l.config.Interval))

	c.Start()
	<-ctx.Done()

	// Wait for a probe in flight; it is bounded by the probe timeout
	<-c.Stop().Done()
	l.logger.Info("Liveness probe stopped")
	return nil
}

// Probe issues one GET to the public root
func (l *Loop) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	start := time.Now()
	err := l.probe(ctx)
	if err != nil {
		l.metrics.RecordLivenessProbe("failure")
		l.logger.Warn("Liveness probe failed",
			zap.String("url", l.target()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}

	l.metrics.RecordLivenessProbe("success")
	l.logger.Debug("Liveness probe succeeded",
		zap.String("url", l.target()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (l *Loop) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.target(), nil)
	if err != nil {
		return err
	}

	resp, err := l.prober.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (l *Loop) target() string {
	return strings.TrimRight(l.config.PublicURL, "/") + "/"
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

package transport

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PollerConfig holds long-poll configuration
type PollerConfig struct {
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Poller pulls updates in batches and processes each batch in order
type Poller struct {
	provider Provider
	router   *Router
	config   *PollerConfig
	logger   *zap.Logger

	offset int64

	// after is replaced in tests
	after func(d time.Duration) <-chan time.Time
}

// NewPoller creates a long-poll loop
func NewPoller(p Provider, router *Router, cfg *PollerConfig, logger *zap.Logger) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Poller{
		provider: p,
		router:   router,
		config:   cfg,
		logger:   logger,
		after:    time.After,
	}
}

// Offset returns the next update id the poller will ask for
func (p *Poller) Offset() int64 {
	return p.offset
}

// Run polls until ctx is cancelled. A registered webhook would make the
// provider refuse long polls, so it is removed first.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.provider.DeleteWebhook(ctx); err != nil {
		p.logger.Warn("Failed to remove webhook before polling", zap.Error(err))
	}

	p.logger.Info("Long polling started", zap.Duration("timeout", p.config.Timeout))

	backoff := p.config.InitialBackoff
	for {
		if ctx.Err() != nil {
			p.logger.Info("Long polling stopped", zap.Int64("offset", p.offset))
			return nil
		}

		updates, err := p.provider.FetchUpdates(ctx, p.offset, p.config.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("Failed to fetch updates",
				zap.Int64("offset", p.offset),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-ctx.Done():
			case <-p.after(backoff):
			}
			backoff *= 2
			if backoff > p.config.MaxBackoff {
				backoff = p.config.MaxBackoff
			}
			continue
		}
		backoff = p.config.InitialBackoff

		for _, u := range updates {
			p.router.HandleUpdate(ctx, u)
			if u.ID >= p.offset {
				p.offset = u.ID + 1
			}
		}
	}
}

package transport

import (
	"context"
	"time"

	boterrors "github.com/devrev/tierbot/internal/errors"
	"github.com/devrev/tierbot/internal/metrics"
	"go.uber.org/zap"
)

// SenderConfig holds outbound retry configuration
type SenderConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Sender delivers replies with bounded retries. A reply that still fails
// is logged and counted; there is no channel to tell the user about it.
type Sender struct {
	provider Provider
	config   *SenderConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// after is replaced in tests
	after func(d time.Duration) <-chan time.Time
}

// NewSender creates a retrying sender
func NewSender(p Provider, cfg *SenderConfig, logger *zap.Logger, m *metrics.Metrics) *Sender {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Sender{
		provider: p,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		after:    time.After,
	}
}

// Deliver sends or edits a message. A permanently failed edit falls back
// to sending a new message.
func (s *Sender) Deliver(ctx context.Context, out Outbound) error {
	kind := "send"
	if out.EditMessageID > 0 {
		kind = "edit"
	}

	err := s.retry(ctx, kind, func(ctx context.Context) error {
		return s.provider.Send(ctx, out)
	})
	if err != nil && out.EditMessageID > 0 && IsPermanent(err) {
		s.logger.Info("Edit rejected, sending a new message instead",
			zap.Int64("chat_id", out.ChatID),
			zap.Error(err))
		out.EditMessageID = 0
		err = s.retry(ctx, "send", func(ctx context.Context) error {
			return s.provider.Send(ctx, out)
		})
	}
	return err
}

// Answer acknowledges a button press, optionally with a toast
func (s *Sender) Answer(ctx context.Context, callbackID, text string) error {
	return s.retry(ctx, "answer", func(ctx context.Context) error {
		return s.provider.AnswerCallback(ctx, callbackID, text)
	})
}

func (s *Sender) retry(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := s.config.Backoff

	for attempt := 1; attempt <= s.config.Attempts; attempt++ {
		s.metrics.RecordSendAttempt(kind)

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || attempt == s.config.Attempts {
			break
		}

		wait := backoff
		if ra := retryAfter(err); ra > 0 {
			wait = ra
		}

		s.logger.Warn("Transient provider failure, retrying",
			zap.String("kind", kind),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			s.metrics.RecordSendFailure(kind)
			return boterrors.DeliveryFailed(attempt, ctx.Err())
		case <-s.after(wait):
		}

		backoff *= 2
		if backoff > s.config.MaxBackoff {
			backoff = s.config.MaxBackoff
		}
	}

	s.metrics.RecordSendFailure(kind)
	return boterrors.DeliveryFailed(s.config.Attempts, lastErr)
}

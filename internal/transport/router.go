package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/tierbot/internal/admin"
	"github.com/devrev/tierbot/internal/catalog"
	"github.com/devrev/tierbot/internal/dispatch"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/model"
	"github.com/devrev/tierbot/internal/store"
	"go.uber.org/zap"
)

// CommandVerify is the one user command answered outside the menu graph.
// /start, /help and plain text all open the main menu.
const CommandVerify = "verify"

const fallbackFailureText = "❌ Something went wrong, please try again."

// RouterConfig holds router configuration
type RouterConfig struct {
	// Mode is the inbound delivery mode, used only for metrics labels
	Mode           string
	RequestTimeout time.Duration
}

// Router is the single entry point for inbound events in both modes
type Router struct {
	config  *RouterConfig
	engine  *dispatch.Engine
	admin   *admin.Handler
	dedup   store.UpdateDeduplicator
	sender  *Sender
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRouter creates a router. dedup may be nil.
func NewRouter(
	cfg *RouterConfig,
	engine *dispatch.Engine,
	adminHandler *admin.Handler,
	dedup store.UpdateDeduplicator,
	sender *Sender,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Router{
		config:  cfg,
		engine:  engine,
		admin:   adminHandler,
		dedup:   dedup,
		sender:  sender,
		logger:  logger,
		metrics: m,
	}
}

// HandleUpdate normalizes and processes one provider update
func (r *Router) HandleUpdate(ctx context.Context, u Update) {
	ev, ok := Normalize(u)
	if !ok {
		r.metrics.RecordUpdate("ignored", r.config.Mode)
		return
	}

	kind := "message"
	if ev.IsCallback() {
		kind = "callback"
	}
	r.metrics.RecordUpdate(kind, r.config.Mode)

	if err := r.Process(ctx, ev); err != nil {
		r.logger.Warn("Failed to process update",
			zap.Int64("update_id", ev.UpdateID),
			zap.Int64("user_id", int64(ev.UserID)),
			zap.Error(err))
	}
}

// reply is a routed response before it is shaped for the provider
type reply struct {
	text    string
	options []model.ActionOption
	notice  string
}

// Process routes one event and delivers the reply within the request
// deadline. A request that misses its deadline gets a generic failure.
func (r *Router) Process(ctx context.Context, ev model.InboundEvent) error {
	if r.dedup != nil && ev.UpdateID > 0 {
		seen, err := r.dedup.Seen(ctx, ev.UpdateID)
		if err != nil {
			// Processing twice beats dropping the update
			r.logger.Warn("Dedup check failed", zap.Int64("update_id", ev.UpdateID), zap.Error(err))
		} else if seen {
			r.metrics.RecordDuplicate()
			r.logger.Debug("Dropping redelivered update", zap.Int64("update_id", ev.UpdateID))
			return nil
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		done <- r.route(reqCtx, ev)
	}()

	var rep reply
	select {
	case rep = <-done:
	case <-reqCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.metrics.RecordRequestTimeout()
		r.logger.Error("Request exceeded its deadline",
			zap.Int64("update_id", ev.UpdateID),
			zap.Int64("user_id", int64(ev.UserID)),
			zap.Duration("timeout", r.config.RequestTimeout))

		rep = reply{text: fallbackFailureText, notice: fallbackFailureText}

		// The request context is spent; the failure reply gets its own
		var sendCancel context.CancelFunc
		reqCtx, sendCancel = context.WithTimeout(context.WithoutCancel(ctx), r.config.RequestTimeout)
		defer sendCancel()
	}

	return r.deliver(reqCtx, ev, rep)
}

// route decides the reply for an event
func (r *Router) route(ctx context.Context, ev model.InboundEvent) (rep reply) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while routing event",
				zap.Int64("update_id", ev.UpdateID),
				zap.Any("panic", rec))
			rep = reply{text: fallbackFailureText, notice: fallbackFailureText}
		}
	}()

	req := dispatch.Request{
		UserID:      ev.UserID,
		ActionToken: ev.ActionToken,
		DisplayName: ev.DisplayName,
		Handle:      ev.Handle,
	}

	switch {
	case ev.IsCallback():
		out := r.engine.Handle(ctx, req)
		return reply{text: out.Text, options: out.Options, notice: out.Notice}

	case ev.IsAdminCommand:
		res := r.admin.Execute(ctx, admin.Command{
			CallerHandle: ev.Handle,
			CallerID:     ev.UserID,
			Name:         ev.Command,
			Args:         ev.Args,
		})
		return reply{text: res.Text}

	case ev.Command == CommandVerify:
		return r.message(ctx, catalog.MessageVerify, req)

	default:
		// /start, /help and any other text land on the main menu
		out := r.engine.Welcome(ctx, req)
		return reply{text: out.Text, options: out.Options, notice: out.Notice}
	}
}

func (r *Router) message(ctx context.Context, key catalog.MessageKey, req dispatch.Request) reply {
	text, err := r.engine.Message(ctx, key, req)
	if err != nil {
		r.logger.Error("Failed to render message", zap.String("key", string(key)), zap.Error(err))
		return reply{text: fallbackFailureText, notice: fallbackFailureText}
	}
	return reply{text: text, options: r.engine.MainMenuOptions(ctx, req.UserID)}
}

// deliver shapes the reply for the provider. Button presses edit the
// originating message and are always answered.
func (r *Router) deliver(ctx context.Context, ev model.InboundEvent, rep reply) error {
	out := Outbound{
		ChatID:  ev.ChatID,
		Text:    rep.text,
		Options: rep.options,
	}

	var errs []error
	if ev.IsCallback() {
		out.EditMessageID = ev.MessageID
		if err := r.sender.Answer(ctx, ev.CallbackID, rep.notice); err != nil {
			errs = append(errs, fmt.Errorf("answer callback: %w", err))
		}
	}

	if err := r.sender.Deliver(ctx, out); err != nil {
		errs = append(errs, fmt.Errorf("deliver reply: %w", err))
	}

	return errors.Join(errs...)
}

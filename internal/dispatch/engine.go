// Package dispatch maps an action token to the next rendered menu view.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/tierbot/internal/catalog"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/model"
	"github.com/devrev/tierbot/internal/store"
	"go.uber.org/zap"
)

// Reserved tokens that always land on the root node
const (
	TokenStart    = "start"
	TokenHelp     = "help"
	TokenBackMain = "back_main"
)

// Request is one navigation step
type Request struct {
	UserID      model.UserID
	ActionToken string
	DisplayName string
	Handle      string
}

// Config holds engine configuration
type Config struct {
	AdminHandle string
}

// Engine resolves requests against the catalog. It holds no per-user state;
// the only input besides the request is the entitlement snapshot.
type Engine struct {
	config  *Config
	catalog *catalog.Catalog
	store   store.EntitlementStore
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a dispatch engine
func NewEngine(cfg *Config, cat *catalog.Catalog, st store.EntitlementStore, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		config:  cfg,
		catalog: cat,
		store:   st,
		logger:  logger,
		metrics: m,
	}
}

// Welcome renders the main menu
func (e *Engine) Welcome(ctx context.Context, req Request) model.RenderInstruction {
	req.ActionToken = ""
	return e.Handle(ctx, req)
}

// Handle resolves the request's token and renders the resulting view.
// It never returns an error: failures become a generic retry notice.
func (e *Engine) Handle(ctx context.Context, req Request) (out model.RenderInstruction) {
	start := time.Now()
	tier := model.TierNone

	defer func() {
		if r := recover(); r != nil {
			out = e.failure(req, tier, fmt.Errorf("panic: %v", r))
		}
	}()

	tier = e.store.GetTier(ctx, req.UserID)
	target := e.resolveTarget(req.ActionToken)

	node, err := e.catalog.Resolve(target)
	if err != nil {
		// The catalog validated every edge at load, so this is a bug
		return e.failure(req, tier, err)
	}

	rc := e.context(req, tier)

	if !tier.Allows(node.RequiredTier) {
		e.metrics.RecordGatedView(node.RequiredTier.String())
		e.logger.Debug("Gated node requested",
			zap.Int64("user_id", int64(req.UserID)),
			zap.String("node", node.ID),
			zap.String("tier", tier.String()),
			zap.String("required", node.RequiredTier.String()))

		node = e.catalog.Upsell()
		rc.Required = e.requiredFor(target)
	}

	text, err := node.Render(tier, rc)
	if err != nil {
		return e.failure(req, tier, err)
	}

	e.metrics.RecordDispatch(node.ID, time.Since(start).Seconds())

	return model.RenderInstruction{
		NodeID:  node.ID,
		Text:    text,
		Options: node.Options(tier),
	}
}

// Message renders a catalog-wide text for the requesting user
func (e *Engine) Message(ctx context.Context, key catalog.MessageKey, req Request) (string, error) {
	tier := e.store.GetTier(ctx, req.UserID)
	return e.catalog.Message(key, e.context(req, tier))
}

// MainMenuOptions returns the root node's options for the user
func (e *Engine) MainMenuOptions(ctx context.Context, userID model.UserID) []model.ActionOption {
	return e.catalog.Root().Options(e.store.GetTier(ctx, userID))
}

// resolveTarget maps a token to a node id. Empty, reserved, stale and
// unknown tokens all fall back to the root node.
func (e *Engine) resolveTarget(token string) string {
	root := e.catalog.Root().ID

	switch token {
	case "", TokenStart, TokenHelp, TokenBackMain:
		return root
	}

	if target, ok := e.catalog.Edge(token); ok {
		return target
	}

	e.logger.Debug("Unknown action token, showing main menu", zap.String("token", token))
	return root
}

func (e *Engine) requiredFor(nodeID string) string {
	node, err := e.catalog.Resolve(nodeID)
	if err != nil {
		return ""
	}
	return node.RequiredTier.DisplayName()
}

func (e *Engine) context(req Request, tier model.Tier) catalog.RenderContext {
	rc := e.catalog.NewContext(tier)
	rc.UserID = req.UserID
	rc.DisplayName = req.DisplayName
	if rc.DisplayName == "" {
		rc.DisplayName = "there"
	}
	rc.Handle = req.Handle
	rc.AdminHandle = e.config.AdminHandle
	return rc
}

// failure builds the generic retry view for a request that could not render
func (e *Engine) failure(req Request, tier model.Tier, cause error) model.RenderInstruction {
	e.metrics.RecordRenderFailure()
	e.logger.Error("Failed to render view",
		zap.Int64("user_id", int64(req.UserID)),
		zap.String("token", req.ActionToken),
		zap.String("tier", tier.String()),
		zap.Error(cause))

	text, err := e.catalog.Message(catalog.MessageError, e.catalog.NewContext(tier))
	if err != nil {
		text = "Something went wrong, please try again."
	}

	return model.RenderInstruction{
		NodeID:  "",
		Text:    text,
		Options: []model.ActionOption{{Token: TokenBackMain, Label: "🏠 Main Menu"}},
		Notice:  text,
	}
}

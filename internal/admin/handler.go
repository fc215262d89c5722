// Package admin implements the privileged entitlement commands.
package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/devrev/tierbot/internal/catalog"
	"github.com/devrev/tierbot/internal/config"
	boterrors "github.com/devrev/tierbot/internal/errors"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/model"
	"github.com/devrev/tierbot/internal/store"
	"go.uber.org/zap"
)

// Canonical command names
const (
	CommandGrant  = "grant"
	CommandRevoke = "revoke"
	CommandList   = "list"
	CommandWhois  = "whois"
)

// aliases maps every accepted spelling to its canonical command
var aliases = map[string]string{
	CommandGrant:    CommandGrant,
	"addpremium":    CommandGrant,
	CommandRevoke:   CommandRevoke,
	"removepremium": CommandRevoke,
	CommandList:     CommandList,
	"listpremium":   CommandList,
	CommandWhois:    CommandWhois,
	"tierof":        CommandWhois,
}

const (
	usageGrant  = "Usage: /addpremium <user_id> <basic|advanced>"
	usageRevoke = "Usage: /removepremium <user_id>"
	usageList   = "Usage: /listpremium [basic|advanced]"
	usageWhois  = "Usage: /tierof <user_id>"
	usageAll    = "Admin commands:\n" + usageGrant + "\n" + usageRevoke + "\n" + usageList + "\n" + usageWhois

	textPersistFailed = "❌ Failed to save the change. Nothing was modified, please try again."
)

// Journal records successful mutations
type Journal interface {
	Append(ctx context.Context, entry model.JournalEntry) (model.JournalEntry, error)
}

// Command is one parsed admin command
type Command struct {
	CallerHandle string
	CallerID     model.UserID
	Name         string
	Args         []string
}

// Result is the reply to an admin command
type Result struct {
	Text    string
	Mutated bool
}

// Config holds admin handler configuration
type Config struct {
	// AdminHandle is the only handle allowed to run commands. Empty
	// rejects everyone.
	AdminHandle string
}

// Handler executes admin commands against the entitlement store
type Handler struct {
	config  *Config
	store   store.EntitlementStore
	catalog *catalog.Catalog
	journal Journal
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHandler creates an admin handler. journal may be nil.
func NewHandler(cfg *Config, st store.EntitlementStore, cat *catalog.Catalog, journal Journal, logger *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		config:  &Config{AdminHandle: config.NormalizeHandle(cfg.AdminHandle)},
		store:   st,
		catalog: cat,
		journal: journal,
		logger:  logger,
		metrics: m,
	}
}

// IsAdminCommand reports whether name (with or without a leading slash) is
// one of the admin command spellings
func IsAdminCommand(name string) bool {
	_, ok := aliases[strings.ToLower(strings.TrimPrefix(name, "/"))]
	return ok
}

// Authorized reports whether handle belongs to the configured admin
func (h *Handler) Authorized(handle string) bool {
	if h.config.AdminHandle == "" {
		return false
	}
	return config.NormalizeHandle(handle) == h.config.AdminHandle
}

// Execute runs cmd. Errors never escape: every outcome is a reply text.
func (h *Handler) Execute(ctx context.Context, cmd Command) Result {
	name := strings.ToLower(strings.TrimPrefix(cmd.Name, "/"))
	canonical, known := aliases[name]

	if !h.Authorized(cmd.CallerHandle) {
		h.metrics.RecordAdminCommand("rejected", "unauthorized")
		h.logger.Warn("Rejected admin command",
			zap.Int64("caller_id", int64(cmd.CallerID)),
			zap.String("command", name),
			zap.Error(boterrors.Unauthorized(cmd.CallerHandle)))
		return Result{Text: h.unauthorizedText(cmd)}
	}

	if !known {
		h.metrics.RecordAdminCommand("unknown", "usage")
		h.logger.Info("Admin sent an unknown command", zap.Error(boterrors.UnknownCommand(name)))
		return Result{Text: usageAll}
	}

	var res Result
	var outcome string
	switch canonical {
	case CommandGrant:
		res, outcome = h.grant(ctx, cmd)
	case CommandRevoke:
		res, outcome = h.revoke(ctx, cmd)
	case CommandList:
		res, outcome = h.list(ctx, cmd)
	case CommandWhois:
		res, outcome = h.whois(ctx, cmd)
	}

	h.metrics.RecordAdminCommand(canonical, outcome)
	return res
}

func (h *Handler) grant(ctx context.Context, cmd Command) (Result, string) {
	if len(cmd.Args) != 2 {
		return Result{Text: usageGrant}, "usage"
	}
	userID, err := parseUserID(cmd.Args[0])
	if err != nil {
		return Result{Text: "❌ Invalid user id.\n" + usageGrant}, "usage"
	}
	tier, err := model.ParseGrantableTier(cmd.Args[1])
	if err != nil {
		return Result{Text: "❌ Unknown tier.\n" + usageGrant}, "usage"
	}

	prev, existed := h.store.Get(ctx, userID)
	if existed && prev.Tier == tier {
		return Result{Text: fmt.Sprintf("ℹ️ User %d already has %s.", userID, tier.DisplayName())}, "noop"
	}

	if _, err := h.store.Grant(ctx, userID, tier); err != nil {
		h.logger.Error("Failed to grant entitlement",
			zap.Int64("user_id", int64(userID)),
			zap.String("tier", tier.String()),
			zap.Error(err))
		return Result{Text: failureText(err)}, "failed"
	}

	entry := model.JournalEntry{
		Operation: model.JournalOperationGrant,
		UserID:    userID,
		Tier:      tier.String(),
		Actor:     config.NormalizeHandle(cmd.CallerHandle),
	}
	if existed {
		entry.Previous = prev.Tier.String()
	}
	h.audit(ctx, entry)

	h.logger.Info("Granted entitlement",
		zap.Int64("user_id", int64(userID)),
		zap.String("tier", tier.String()))

	text := fmt.Sprintf("✅ User %d now has %s.", userID, tier.DisplayName())
	if existed {
		text = fmt.Sprintf("✅ User %d moved from %s to %s.", userID, prev.Tier.DisplayName(), tier.DisplayName())
	}
	return Result{Text: text, Mutated: true}, "ok"
}

func (h *Handler) revoke(ctx context.Context, cmd Command) (Result, string) {
	if len(cmd.Args) != 1 {
		return Result{Text: usageRevoke}, "usage"
	}
	userID, err := parseUserID(cmd.Args[0])
	if err != nil {
		return Result{Text: "❌ Invalid user id.\n" + usageRevoke}, "usage"
	}

	prev, _ := h.store.Get(ctx, userID)

	existed, err := h.store.Revoke(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to revoke entitlement",
			zap.Int64("user_id", int64(userID)),
			zap.Error(err))
		return Result{Text: failureText(err)}, "failed"
	}
	if !existed {
		return Result{Text: fmt.Sprintf("ℹ️ User %d has no entitlement.", userID)}, "noop"
	}

	h.audit(ctx, model.JournalEntry{
		Operation: model.JournalOperationRevoke,
		UserID:    userID,
		Previous:  prev.Tier.String(),
		Actor:     config.NormalizeHandle(cmd.CallerHandle),
	})

	h.logger.Info("Revoked entitlement", zap.Int64("user_id", int64(userID)))

	return Result{Text: fmt.Sprintf("✅ User %d removed from %s.", userID, prev.Tier.DisplayName()), Mutated: true}, "ok"
}

func (h *Handler) list(ctx context.Context, cmd Command) (Result, string) {
	tiers := model.GrantableTiers
	switch len(cmd.Args) {
	case 0:
	case 1:
		tier, err := model.ParseGrantableTier(cmd.Args[0])
		if err != nil {
			return Result{Text: "❌ Unknown tier.\n" + usageList}, "usage"
		}
		tiers = []model.Tier{tier}
	default:
		return Result{Text: usageList}, "usage"
	}

	var b strings.Builder
	b.WriteString("📋 ENTITLEMENTS\n")
	total := 0
	for _, tier := range tiers {
		ids := h.store.List(ctx, tier)
		total += len(ids)

		fmt.Fprintf(&b, "\n%s (%d):\n", tier.DisplayName(), len(ids))
		if len(ids) == 0 {
			b.WriteString("• none\n")
		}
		for _, id := range ids {
			fmt.Fprintf(&b, "• %d\n", id)
		}
	}

	if total == 0 {
		return Result{Text: "📋 No entitlements."}, "ok"
	}
	return Result{Text: strings.TrimRight(b.String(), "\n")}, "ok"
}

func (h *Handler) whois(ctx context.Context, cmd Command) (Result, string) {
	if len(cmd.Args) != 1 {
		return Result{Text: usageWhois}, "usage"
	}
	userID, err := parseUserID(cmd.Args[0])
	if err != nil {
		return Result{Text: "❌ Invalid user id.\n" + usageWhois}, "usage"
	}

	rec, ok := h.store.Get(ctx, userID)
	if !ok {
		return Result{Text: fmt.Sprintf("👤 User %d: %s", userID, model.TierNone.DisplayName())}, "ok"
	}
	return Result{Text: fmt.Sprintf("👤 User %d: %s since %s", userID, rec.Tier.DisplayName(), rec.GrantedAt.Format("2006-01-02 15:04 MST"))}, "ok"
}

// audit appends to the journal; a journal failure never undoes a mutation
func (h *Handler) audit(ctx context.Context, entry model.JournalEntry) {
	if h.journal == nil {
		return
	}
	if _, err := h.journal.Append(ctx, entry); err != nil {
		h.logger.Error("Failed to append admin journal entry",
			zap.String("operation", string(entry.Operation)),
			zap.Int64("user_id", int64(entry.UserID)),
			zap.Error(err))
	}
}

func (h *Handler) unauthorizedText(cmd Command) string {
	if h.catalog != nil {
		rc := h.catalog.NewContext(model.TierNone)
		rc.UserID = cmd.CallerID
		rc.Handle = cmd.CallerHandle
		if text, err := h.catalog.Message(catalog.MessageUnauthorized, rc); err == nil {
			return text
		}
	}
	return "⛔ This command is not available."
}

func failureText(err error) string {
	if boterrors.Is(err, boterrors.ErrCodeStorageWriteFailed) {
		return textPersistFailed
	}
	return "❌ Command failed: " + err.Error()
}

func parseUserID(s string) (model.UserID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("user id must be positive")
	}
	return model.UserID(id), nil
}

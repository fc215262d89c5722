package store

import (
	"context"
	"time"

	"github.com/devrev/tierbot/internal/model"
)

// EntitlementStore is the durable mapping from user to tier. It is the only
// component allowed to mutate entitlement records; everything else reads.
type EntitlementStore interface {
	// GetTier returns TierNone when no record exists. It never fails.
	GetTier(ctx context.Context, userID model.UserID) model.Tier
	Get(ctx context.Context, userID model.UserID) (model.EntitlementRecord, bool)

	// Grant upserts the user's tier and persists before returning. Granting
	// the tier the user already holds is a no-op.
	Grant(ctx context.Context, userID model.UserID, tier model.Tier) (model.EntitlementRecord, error)

	// Revoke removes any record and reports whether one existed
	Revoke(ctx context.Context, userID model.UserID) (bool, error)

	// List returns the members of tier in insertion order
	List(ctx context.Context, tier model.Tier) []model.UserID
	Snapshot(ctx context.Context) map[model.UserID]model.EntitlementRecord

	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// UpdateDeduplicator remembers provider update ids so a redelivered update
// is processed at most once within the TTL.
type UpdateDeduplicator interface {
	// Seen marks id as seen and reports whether it had been seen before
	Seen(ctx context.Context, updateID int64) (bool, error)
	Close() error
}

// DedupConfig holds settings shared by the dedup backends
type DedupConfig struct {
	TTL        time.Duration
	MaxEntries int
	KeyPrefix  string
}

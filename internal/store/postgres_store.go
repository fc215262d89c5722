package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	boterrors "github.com/devrev/tierbot/internal/errors"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const createEntitlementsTable = `
	CREATE TABLE IF NOT EXISTS entitlements (
		user_id    BIGINT PRIMARY KEY,
		tier       SMALLINT NOT NULL,
		granted_at TIMESTAMPTZ NOT NULL,
		seq        BIGSERIAL
	)
`

// PostgresStoreConfig holds postgres store configuration
type PostgresStoreConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// PostgresEntitlementStore implements EntitlementStore on PostgreSQL.
// Every statement commits before returning, so several bot instances can
// share one database.
type PostgresEntitlementStore struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPostgresEntitlementStore connects and ensures the schema exists
func NewPostgresEntitlementStore(ctx context.Context, cfg *PostgresStoreConfig, logger *zap.Logger, m *metrics.Metrics) (*PostgresEntitlementStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createEntitlementsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create entitlements table: %w", err)
	}

	s := &PostgresEntitlementStore{
		pool:    pool,
		logger:  logger,
		metrics: m,
	}
	s.updateGauges(ctx)

	return s, nil
}

// GetTier returns the user's tier. Query failures are logged and read as
// TierNone so a database outage only hides gated content.
func (s *PostgresEntitlementStore) GetTier(ctx context.Context, userID model.UserID) model.Tier {
	rec, _ := s.Get(ctx, userID)
	return rec.Tier
}

// Get returns the user's record
func (s *PostgresEntitlementStore) Get(ctx context.Context, userID model.UserID) (model.EntitlementRecord, bool) {
	query := `SELECT tier, granted_at FROM entitlements WHERE user_id = $1`

	rec := model.EntitlementRecord{UserID: userID}
	var tier int16
	err := s.pool.QueryRow(ctx, query, int64(userID)).Scan(&tier, &rec.GrantedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.EntitlementRecord{UserID: userID}, false
	}
	if err != nil {
		s.logger.Error("Failed to read entitlement",
			zap.Int64("user_id", int64(userID)),
			zap.Error(err))
		return model.EntitlementRecord{UserID: userID}, false
	}

	rec.Tier = model.Tier(tier)
	return rec, true
}

// Grant upserts the user's tier. Changing tier moves the user to the end of
// the new tier's list; re-granting the same tier changes nothing.
func (s *PostgresEntitlementStore) Grant(ctx context.Context, userID model.UserID, tier model.Tier) (model.EntitlementRecord, error) {
	if err := validateGrant(userID, tier); err != nil {
		return model.EntitlementRecord{}, err
	}

	query := `
		INSERT INTO entitlements (user_id, tier, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
		    granted_at = EXCLUDED.granted_at,
		    seq = nextval(pg_get_serial_sequence('entitlements', 'seq'))
		WHERE entitlements.tier <> EXCLUDED.tier
	`

	start := time.Now()
	grantedAt := time.Now().UTC().Truncate(time.Second)
	_, err := s.pool.Exec(ctx, query, int64(userID), int16(tier), grantedAt)
	s.metrics.RecordFlush(time.Since(start).Seconds(), err)
	if err != nil {
		return model.EntitlementRecord{}, boterrors.StorageWriteFailed("postgres:entitlements", err)
	}

	s.updateGauges(ctx)

	rec, ok := s.Get(ctx, userID)
	if !ok {
		return model.EntitlementRecord{UserID: userID, Tier: tier, GrantedAt: grantedAt}, nil
	}
	return rec, nil
}

// Revoke deletes the user's record
func (s *PostgresEntitlementStore) Revoke(ctx context.Context, userID model.UserID) (bool, error) {
	query := `DELETE FROM entitlements WHERE user_id = $1`

	start := time.Now()
	result, err := s.pool.Exec(ctx, query, int64(userID))
	s.metrics.RecordFlush(time.Since(start).Seconds(), err)
	if err != nil {
		return false, boterrors.StorageWriteFailed("postgres:entitlements", err)
	}

	s.updateGauges(ctx)

	return result.RowsAffected() > 0, nil
}

// List returns tier members ordered by grant sequence
func (s *PostgresEntitlementStore) List(ctx context.Context, tier model.Tier) []model.UserID {
	query := `SELECT user_id FROM entitlements WHERE tier = $1 ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, int16(tier))
	if err != nil {
		s.logger.Error("Failed to list entitlements", zap.String("tier", tier.String()), zap.Error(err))
		return nil
	}
	defer rows.Close()

	var ids []model.UserID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			s.logger.Error("Failed to scan entitlement", zap.Error(err))
			return nil
		}
		ids = append(ids, model.UserID(id))
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("Failed to iterate entitlements", zap.Error(err))
		return nil
	}

	return ids
}

// Snapshot returns every record
func (s *PostgresEntitlementStore) Snapshot(ctx context.Context) map[model.UserID]model.EntitlementRecord {
	query := `SELECT user_id, tier, granted_at FROM entitlements`

	out := make(map[model.UserID]model.EntitlementRecord)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		s.logger.Error("Failed to snapshot entitlements", zap.Error(err))
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			tier int16
			rec  model.EntitlementRecord
		)
		if err := rows.Scan(&id, &tier, &rec.GrantedAt); err != nil {
			s.logger.Error("Failed to scan entitlement", zap.Error(err))
			return out
		}
		rec.UserID = model.UserID(id)
		rec.Tier = model.Tier(tier)
		out[rec.UserID] = rec
	}

	return out
}

// Flush checks the connection; every statement is already committed
func (s *PostgresEntitlementStore) Flush(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return boterrors.StorageWriteFailed("postgres:entitlements", err)
	}
	return nil
}

// Ping checks the connection
func (s *PostgresEntitlementStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresEntitlementStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresEntitlementStore) updateGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}

	query := `SELECT tier, COUNT(*) FROM entitlements GROUP BY tier`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return
	}
	defer rows.Close()

	counts := make(map[model.Tier]int)
	for rows.Next() {
		var tier int16
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return
		}
		counts[model.Tier(tier)] = n
	}
	for _, tier := range model.GrantableTiers {
		s.metrics.UpdateEntitlements(tier.String(), counts[tier])
	}
}

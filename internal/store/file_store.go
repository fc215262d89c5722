package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	boterrors "github.com/devrev/tierbot/internal/errors"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/model"
	"github.com/devrev/tierbot/internal/util"
	"go.uber.org/zap"
)

const fileFormatVersion = 1

// FileStoreConfig holds file store configuration
type FileStoreConfig struct {
	Path string

	// SyncWrites fsyncs the document and its directory on every write.
	// When false the rename is still atomic but a crash may lose the
	// most recent mutations.
	SyncWrites bool
}

// fileDocument is the persisted layout
type fileDocument struct {
	Version   int                       `json:"version"`
	Tiers     map[string][]model.UserID `json:"tiers"`
	GrantedAt map[string]time.Time      `json:"granted_at"`

	// Checksum covers the canonical encoding of documentBody. A document
	// without one (hand-written) is accepted as is.
	Checksum *uint32 `json:"checksum,omitempty"`
}

type documentBody struct {
	Tiers     map[string][]model.UserID `json:"tiers"`
	GrantedAt map[string]time.Time      `json:"granted_at"`
}

// FileEntitlementStore keeps entitlements in memory and persists them as a
// single JSON document. A single process owns the file.
type FileEntitlementStore struct {
	config  *FileStoreConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu           sync.RWMutex
	state        *membership
	lastFlushErr error

	now func() time.Time
}

// NewFileEntitlementStore loads the store from disk. A missing or corrupt
// file never fails construction; the store starts empty instead.
func NewFileEntitlementStore(cfg *FileStoreConfig, logger *zap.Logger, m *metrics.Metrics) (*FileEntitlementStore, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, boterrors.InvalidArgument("entitlement store path is required", nil)
	}

	s := &FileEntitlementStore{
		config:  cfg,
		logger:  logger,
		metrics: m,
		state:   newMembership(),
		now:     time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		// Writes will fail and surface to the admin; reads still work.
		logger.Warn("Failed to create entitlement directory",
			zap.String("path", cfg.Path),
			zap.Error(err))
	}

	s.state = s.load()
	s.updateGauges()

	return s, nil
}

// load reads the document from disk, quarantining it when unusable
func (s *FileEntitlementStore) load() *membership {
	path := s.config.Path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.logger.Info("No entitlement file found, starting empty", zap.String("path", path))
		return newMembership()
	}
	if err != nil {
		s.recover(boterrors.StorageReadFailed(path, err))
		return newMembership()
	}

	state, err := decodeDocument(data)
	if err != nil {
		s.recover(err)
		return newMembership()
	}

	s.logger.Info("Loaded entitlements",
		zap.String("path", path),
		zap.Int("basic", len(state.order[model.TierBasic])),
		zap.Int("advanced", len(state.order[model.TierAdvanced])))

	return state
}

// recover moves an unusable file aside so the next flush starts clean
func (s *FileEntitlementStore) recover(cause error) {
	path := s.config.Path
	aside := fmt.Sprintf("%s.corrupt-%d", path, s.now().Unix())

	s.metrics.RecordLoadRecovery()
	s.logger.Warn("Entitlement file is unusable, starting empty",
		zap.String("path", path),
		zap.String("moved_to", aside),
		zap.Error(cause))

	if err := os.Rename(path, aside); err != nil {
		s.logger.Warn("Failed to move corrupt entitlement file aside",
			zap.String("path", path),
			zap.Error(err))
	}
}

// decodeDocument validates and converts a persisted document
func decodeDocument(data []byte) (*membership, error) {
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, boterrors.CorruptedData("entitlement file is not valid JSON", err)
	}

	if doc.Version != fileFormatVersion {
		return nil, boterrors.CorruptedData(fmt.Sprintf("unsupported entitlement file version %d", doc.Version), nil)
	}

	if doc.Checksum != nil {
		sum, err := util.CanonicalChecksum(documentBody{Tiers: doc.Tiers, GrantedAt: doc.GrantedAt})
		if err != nil {
			return nil, boterrors.CorruptedData("failed to checksum entitlement file", err)
		}
		if sum != *doc.Checksum {
			return nil, boterrors.ChecksumMismatch(*doc.Checksum, sum)
		}
	}

	state := newMembership()

	// Lowest tier first so a user listed twice ends in the highest tier
	for _, tier := range model.GrantableTiers {
		for _, id := range doc.Tiers[tier.String()] {
			if id <= 0 {
				return nil, boterrors.CorruptedData(fmt.Sprintf("invalid user id %d", id), nil)
			}
			if prev, ok := state.records[id]; ok && prev.Tier >= tier {
				continue
			}
			state.set(model.EntitlementRecord{
				UserID:    id,
				Tier:      tier,
				GrantedAt: doc.GrantedAt[strconv.FormatInt(int64(id), 10)],
			})
		}
	}

	for name := range doc.Tiers {
		tier, err := model.ParseGrantableTier(name)
		if err != nil || tier.String() != name {
			return nil, boterrors.CorruptedData(fmt.Sprintf("unknown tier %q in entitlement file", name), err)
		}
	}

	return state, nil
}

// encodeDocument produces the persisted form of state
func encodeDocument(state *membership) ([]byte, error) {
	body := documentBody{
		Tiers:     make(map[string][]model.UserID, len(model.GrantableTiers)),
		GrantedAt: make(map[string]time.Time, len(state.records)),
	}
	for _, tier := range model.GrantableTiers {
		body.Tiers[tier.String()] = state.members(tier)
	}
	for id, rec := range state.records {
		body.GrantedAt[strconv.FormatInt(int64(id), 10)] = rec.GrantedAt
	}

	sum, err := util.CanonicalChecksum(body)
	if err != nil {
		return nil, err
	}

	doc := fileDocument{
		Version:   fileFormatVersion,
		Tiers:     body.Tiers,
		GrantedAt: body.GrantedAt,
		Checksum:  &sum,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// GetTier returns the user's tier, TierNone when absent
func (s *FileEntitlementStore) GetTier(ctx context.Context, userID model.UserID) model.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.state.records[userID]; ok {
		return rec.Tier
	}
	return model.TierNone
}

// Get returns the user's record
func (s *FileEntitlementStore) Get(ctx context.Context, userID model.UserID) (model.EntitlementRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.state.records[userID]
	return rec, ok
}

// Grant sets the user's tier. The change is visible only after it has been
// written; a failed write leaves the previous state in place.
func (s *FileEntitlementStore) Grant(ctx context.Context, userID model.UserID, tier model.Tier) (model.EntitlementRecord, error) {
	if err := validateGrant(userID, tier); err != nil {
		return model.EntitlementRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.state.records[userID]; ok && prev.Tier == tier {
		return prev, nil
	}

	rec := model.EntitlementRecord{
		UserID:    userID,
		Tier:      tier,
		GrantedAt: s.now().UTC().Truncate(time.Second),
	}

	next := s.state.clone()
	next.set(rec)

	if err := s.persist(next); err != nil {
		return model.EntitlementRecord{}, err
	}

	s.state = next
	s.updateGauges()

	return rec, nil
}

// Revoke removes the user's record
func (s *FileEntitlementStore) Revoke(ctx context.Context, userID model.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.records[userID]; !ok {
		return false, nil
	}

	next := s.state.clone()
	next.remove(userID)

	if err := s.persist(next); err != nil {
		return false, err
	}

	s.state = next
	s.updateGauges()

	return true, nil
}

// List returns tier members in insertion order
func (s *FileEntitlementStore) List(ctx context.Context, tier model.Tier) []model.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.members(tier)
}

// Snapshot returns a copy of every record
func (s *FileEntitlementStore) Snapshot(ctx context.Context) map[model.UserID]model.EntitlementRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.snapshot()
}

// Flush rewrites the document from the current state
func (s *FileEntitlementStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.persist(s.state)
}

// Ping reports whether the document can be written. After a failed write
// it rewrites the committed state, so a recovered disk clears the error.
func (s *FileEntitlementStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	failed := s.lastFlushErr != nil
	s.mu.RUnlock()
	if !failed {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFlushErr == nil {
		return nil
	}
	return s.persist(s.state)
}

// Close is a no-op; every mutation is already on disk
func (s *FileEntitlementStore) Close() error {
	return nil
}

// persist writes state to disk. Caller must hold the write lock.
func (s *FileEntitlementStore) persist(state *membership) error {
	start := time.Now()

	err := s.write(state)
	s.lastFlushErr = err
	s.metrics.RecordFlush(time.Since(start).Seconds(), err)

	if err != nil {
		s.logger.Error("Failed to persist entitlements",
			zap.String("path", s.config.Path),
			zap.Error(err))
	}
	return err
}

func (s *FileEntitlementStore) write(state *membership) error {
	data, err := encodeDocument(state)
	if err != nil {
		return boterrors.StorageWriteFailed(s.config.Path, err)
	}
	if err := writeFileAtomic(s.config.Path, data, s.config.SyncWrites); err != nil {
		return boterrors.StorageWriteFailed(s.config.Path, err)
	}
	return nil
}

func (s *FileEntitlementStore) updateGauges() {
	for _, tier := range model.GrantableTiers {
		s.metrics.UpdateEntitlements(tier.String(), len(s.state.order[tier]))
	}
}

// writeFileAtomic replaces path with data via a temp file and rename
func writeFileAtomic(path string, data []byte, sync bool) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return cause
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("failed to write temp file: %w", err))
	}
	if sync {
		if err := tmp.Sync(); err != nil {
			return cleanup(fmt.Errorf("failed to sync temp file: %w", err))
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace entitlement file: %w", err)
	}

	if sync {
		return syncDir(dir)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

func validateGrant(userID model.UserID, tier model.Tier) error {
	if userID <= 0 {
		return boterrors.InvalidArgument(fmt.Sprintf("invalid user id %d", userID), nil)
	}
	if tier == model.TierNone || !tier.Valid() {
		return boterrors.InvalidArgument(fmt.Sprintf("tier %q cannot be granted", tier), nil)
	}
	return nil
}

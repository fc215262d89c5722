package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	boterrors "github.com/devrev/tierbot/internal/errors"
	"github.com/devrev/tierbot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFileStore(t *testing.T, path string) *FileEntitlementStore {
	t.Helper()
	s, err := NewFileEntitlementStore(&FileStoreConfig{Path: path, SyncWrites: true}, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data", "entitlements.json")
}

func TestFileStore_GrantThenRevoke(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t, storePath(t))

	for _, tier := range model.GrantableTiers {
		id := model.UserID(100 + int64(tier))

		assert.Equal(t, model.TierNone, s.GetTier(ctx, id))

		rec, err := s.Grant(ctx, id, tier)
		require.NoError(t, err)
		assert.Equal(t, tier, rec.Tier)
		assert.Equal(t, tier, s.GetTier(ctx, id))

		existed, err := s.Revoke(ctx, id)
		require.NoError(t, err)
		assert.True(t, existed)
		assert.Equal(t, model.TierNone, s.GetTier(ctx, id))
	}
}

func TestFileStore_RevokeAbsentIsIdempotent(t *testing.T) {
	s := newTestFileStore(t, storePath(t))

	existed, err := s.Revoke(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestFileStore_RegrantMovesBetweenTiers(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		t1, t2 model.Tier
	}{
		{"upgrade", model.TierBasic, model.TierAdvanced},
		{"downgrade", model.TierAdvanced, model.TierBasic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestFileStore(t, storePath(t))

			_, err := s.Grant(ctx, 7, tt.t1)
			require.NoError(t, err)
			_, err = s.Grant(ctx, 7, tt.t2)
			require.NoError(t, err)

			assert.Equal(t, tt.t2, s.GetTier(ctx, 7))
			assert.Equal(t, []model.UserID{7}, s.List(ctx, tt.t2))
			assert.Empty(t, s.List(ctx, tt.t1))
		})
	}
}

func TestFileStore_SameTierGrantIsNoop(t *testing.T) {
	ctx := context.Background()
	path := storePath(t)
	s := newTestFileStore(t, path)

	first, err := s.Grant(ctx, 5, model.TierBasic)
	require.NoError(t, err)

	// Removing the file proves the second grant does not rewrite it
	require.NoError(t, os.Remove(path))

	second, err := s.Grant(ctx, 5, model.TierBasic)
	require.NoError(t, err)
	assert.Equal(t, first.GrantedAt, second.GrantedAt)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_GrantRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t, storePath(t))

	_, err := s.Grant(ctx, 1, model.TierNone)
	assert.Equal(t, boterrors.ErrCodeInvalidArgument, boterrors.GetCode(err))

	_, err = s.Grant(ctx, 0, model.TierBasic)
	assert.Equal(t, boterrors.ErrCodeInvalidArgument, boterrors.GetCode(err))
}

func TestFileStore_PersistReloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := storePath(t)
	s := newTestFileStore(t, path)

	ops := []struct {
		grant bool
		id    model.UserID
		tier  model.Tier
	}{
		{true, 1, model.TierBasic},
		{true, 2, model.TierAdvanced},
		{true, 3, model.TierBasic},
		{false, 1, model.TierNone},
		{true, 4, model.TierAdvanced},
		{true, 3, model.TierAdvanced},
		{true, 1, model.TierBasic},
		{false, 99, model.TierNone},
	}
	for _, op := range ops {
		if op.grant {
			_, err := s.Grant(ctx, op.id, op.tier)
			require.NoError(t, err)
		} else {
			_, err := s.Revoke(ctx, op.id)
			require.NoError(t, err)
		}
	}
	require.NoError(t, s.Flush(ctx))

	reloaded := newTestFileStore(t, path)

	assert.Equal(t, s.Snapshot(ctx), reloaded.Snapshot(ctx))
	for _, tier := range model.GrantableTiers {
		assert.Equal(t, s.List(ctx, tier), reloaded.List(ctx, tier))
	}
	assert.Equal(t, []model.UserID{2, 4, 3}, reloaded.List(ctx, model.TierAdvanced))
	assert.Equal(t, []model.UserID{1}, reloaded.List(ctx, model.TierBasic))
}

func TestFileStore_ConcurrentGrantsLoseNothing(t *testing.T) {
	ctx := context.Background()
	path := storePath(t)
	s := newTestFileStore(t, path)

	const n = 40
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id model.UserID) {
			defer wg.Done()
			tier := model.TierBasic
			if id%2 == 0 {
				tier = model.TierAdvanced
			}
			_, err := s.Grant(ctx, id, tier)
			assert.NoError(t, err)
		}(model.UserID(i))
	}
	wg.Wait()

	assert.Len(t, s.Snapshot(ctx), n)
	assert.Len(t, s.List(ctx, model.TierBasic), n/2)
	assert.Len(t, s.List(ctx, model.TierAdvanced), n/2)

	reloaded := newTestFileStore(t, path)
	assert.Len(t, reloaded.Snapshot(ctx), n)
}

func TestFileStore_CorruptFileStartsEmpty(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{{{ definitely not json"},
		{"wrong version", `{"version": 9, "tiers": {}}`},
		{"bad checksum", `{"version": 1, "tiers": {"basic": [1]}, "granted_at": {}, "checksum": 1}`},
		{"unknown tier", `{"version": 1, "tiers": {"gold": [1]}}`},
		{"negative id", `{"version": 1, "tiers": {"basic": [-4]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := storePath(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			s := newTestFileStore(t, path)
			assert.Empty(t, s.Snapshot(ctx))

			aside, err := filepath.Glob(path + ".corrupt-*")
			require.NoError(t, err)
			assert.Len(t, aside, 1, "corrupt file is moved aside")

			_, err = s.Grant(ctx, 12345, model.TierBasic)
			require.NoError(t, err)

			reloaded := newTestFileStore(t, path)
			assert.Equal(t, model.TierBasic, reloaded.GetTier(ctx, 12345))
		})
	}
}

func TestFileStore_HandWrittenFileHighestTierWins(t *testing.T) {
	ctx := context.Background()
	path := storePath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := `{"version": 1, "tiers": {"basic": [1, 2], "advanced": [2, 3]}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := newTestFileStore(t, path)

	assert.Equal(t, model.TierBasic, s.GetTier(ctx, 1))
	assert.Equal(t, model.TierAdvanced, s.GetTier(ctx, 2))
	assert.Equal(t, model.TierAdvanced, s.GetTier(ctx, 3))
	assert.Equal(t, []model.UserID{1}, s.List(ctx, model.TierBasic))
	assert.Equal(t, []model.UserID{2, 3}, s.List(ctx, model.TierAdvanced))
}

func TestFileStore_FailedFlushRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	path := filepath.Join(dataDir, "entitlements.json")
	s := newTestFileStore(t, path)

	_, err := s.Grant(ctx, 1, model.TierBasic)
	require.NoError(t, err)

	// Replace the data directory with a regular file so writes fail
	require.NoError(t, os.RemoveAll(dataDir))
	require.NoError(t, os.WriteFile(dataDir, []byte("blocker"), 0o644))

	_, err = s.Grant(ctx, 2, model.TierAdvanced)
	require.Error(t, err)
	assert.Equal(t, boterrors.ErrCodeStorageWriteFailed, boterrors.GetCode(err))
	assert.Equal(t, model.TierNone, s.GetTier(ctx, 2))

	_, err = s.Grant(ctx, 1, model.TierAdvanced)
	require.Error(t, err)
	assert.Equal(t, model.TierBasic, s.GetTier(ctx, 1))

	existed, err := s.Revoke(ctx, 1)
	require.Error(t, err)
	assert.False(t, existed)
	assert.Equal(t, model.TierBasic, s.GetTier(ctx, 1))

	assert.Error(t, s.Ping(ctx))
	assert.Error(t, s.Flush(ctx))
}

func TestFileStore_PingRecoversAfterDiskHeals(t *testing.T) {
	ctx := context.Background()
	dataDir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dataDir, "entitlements.json")
	s := newTestFileStore(t, path)

	_, err := s.Grant(ctx, 1, model.TierBasic)
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, os.RemoveAll(dataDir))
	require.NoError(t, os.WriteFile(dataDir, []byte("blocker"), 0o644))

	_, err = s.Grant(ctx, 2, model.TierAdvanced)
	require.Error(t, err)
	assert.Error(t, s.Ping(ctx), "still broken")

	// The disk comes back without any further admin mutation
	require.NoError(t, os.Remove(dataDir))
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	require.NoError(t, s.Ping(ctx))

	reloaded := newTestFileStore(t, path)
	assert.Equal(t, model.TierBasic, reloaded.GetTier(ctx, 1), "ping rewrites the committed state")
	assert.Equal(t, model.TierNone, reloaded.GetTier(ctx, 2))
}

func TestFileStore_DocumentLayout(t *testing.T) {
	ctx := context.Background()
	path := storePath(t)
	s := newTestFileStore(t, path)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	_, err := s.Grant(ctx, 10, model.TierBasic)
	require.NoError(t, err)
	_, err = s.Grant(ctx, 20, model.TierAdvanced)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc fileDocument
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, []model.UserID{10}, doc.Tiers["basic"])
	assert.Equal(t, []model.UserID{20}, doc.Tiers["advanced"])
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), doc.GrantedAt["10"])
	require.NotNil(t, doc.Checksum)
}

func TestFileStore_BestEffortModeStillPersists(t *testing.T) {
	ctx := context.Background()
	path := storePath(t)
	s, err := NewFileEntitlementStore(&FileStoreConfig{Path: path, SyncWrites: false}, zap.NewNop(), nil)
	require.NoError(t, err)

	_, err = s.Grant(ctx, 3, model.TierAdvanced)
	require.NoError(t, err)

	reloaded := newTestFileStore(t, path)
	assert.Equal(t, model.TierAdvanced, reloaded.GetTier(ctx, 3))
}

func TestNewFileEntitlementStore_RequiresPath(t *testing.T) {
	_, err := NewFileEntitlementStore(&FileStoreConfig{}, zap.NewNop(), nil)
	assert.Error(t, err)
}

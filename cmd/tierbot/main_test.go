package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devrev/tierbot/internal/config"
	"github.com/devrev/tierbot/internal/journal"
	"github.com/devrev/tierbot/internal/model"
	"github.com/devrev/tierbot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type fixture struct {
	dir        string
	configPath string
	storePath  string
	journal    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	f := &fixture{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		storePath:  filepath.Join(dir, "data", "entitlements.json"),
		journal:    filepath.Join(dir, "data", "admin-journal.log"),
	}

	cfg := fmt.Sprintf("storage:\n  path: %q\njournal:\n  path: %q\n", f.storePath, f.journal)
	require.NoError(t, os.WriteFile(f.configPath, []byte(cfg), 0o644))
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", f.configPath}, args...))

	err := root.Execute()
	return out.String(), err
}

func TestCatalogCheck_Default(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "catalog", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "OK:")
	assert.Contains(t, out, "nodes")
}

func TestCatalogCheck_File(t *testing.T) {
	f := newFixture(t)

	path := filepath.Join(f.dir, "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "v-test"
root: main
upsell: upsell
error_text: "error"
verify_text: "verify"
unauthorized_text: "nope"
nodes:
  - id: main
    text: "main"
    actions:
      - { token: go, label: Go, target: gated }
  - id: gated
    required_tier: basic
    text: "gated"
  - id: upsell
    text: "upsell"
`), 0o644))

	out, err := f.run(t, "catalog", "check", path)
	require.NoError(t, err)
	assert.Equal(t, "catalog v-test OK: 3 nodes, 1 tokens\n", out)
}

func TestCatalogCheck_Invalid(t *testing.T) {
	f := newFixture(t)

	path := filepath.Join(f.dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: x\nroot: missing\n"), 0o644))

	_, err := f.run(t, "catalog", "check", path)
	assert.Error(t, err)
}

func TestEntitlementsList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := store.NewFileEntitlementStore(&store.FileStoreConfig{Path: f.storePath}, zap.NewNop(), nil)
	require.NoError(t, err)
	_, err = st.Grant(ctx, 111, model.TierBasic)
	require.NoError(t, err)
	_, err = st.Grant(ctx, 222, model.TierAdvanced)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := f.run(t, "entitlements", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "USER"))
	assert.True(t, strings.HasPrefix(lines[1], "222"), "higher tiers are listed first")
	assert.Contains(t, lines[1], "advanced")
	assert.True(t, strings.HasPrefix(lines[2], "111"))

	out, err = f.run(t, "entitlements", "list", "premium")
	require.NoError(t, err)
	assert.Contains(t, out, "111")
	assert.NotContains(t, out, "222")

	_, err = f.run(t, "entitlements", "list", "gold")
	assert.Error(t, err)
}

func TestEntitlementsList_Empty(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "entitlements", "list")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"), "header only")
}

func TestJournalTail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j, err := journal.Open(&journal.Config{Path: f.journal}, zap.NewNop())
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := j.Append(ctx, model.JournalEntry{
			Operation: model.JournalOperationGrant,
			UserID:    model.UserID(i),
			Tier:      "basic",
			Actor:     "boss",
		})
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	out, err := f.run(t, "journal", "tail", "-n", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	users := make([]string, 0, 2)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		require.Len(t, fields, 6)
		assert.Equal(t, "grant", fields[1])
		assert.Equal(t, "boss", fields[5])
		users = append(users, fields[2])
	}
	assert.Equal(t, []string{"2", "3"}, users)
}

func TestJournalTail_Missing(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "journal", "tail")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "TIME"))
}

func TestBuildLogger(t *testing.T) {
	logger, err := buildLogger(config.LoggingConfig{Level: "warn", Format: "json"}, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = buildLogger(config.LoggingConfig{Level: "warn", Format: "console"}, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = buildLogger(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

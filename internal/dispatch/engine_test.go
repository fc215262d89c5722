package dispatch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devrev/tierbot/internal/catalog"
	"github.com/devrev/tierbot/internal/model"
	"github.com/devrev/tierbot/internal/store"
	"github.com/devrev/tierbot/internal/store/mocks"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) (*Engine, *store.FileEntitlementStore) {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)

	st, err := store.NewFileEntitlementStore(&store.FileStoreConfig{
		Path:       filepath.Join(t.TempDir(), "entitlements.json"),
		SyncWrites: true,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	return NewEngine(&Config{AdminHandle: "flexxerone"}, cat, st, zap.NewNop(), nil), st
}

func TestHandle_UnknownTokenShowsMainMenu(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)

	_, err := st.Grant(ctx, 2, model.TierBasic)
	require.NoError(t, err)
	_, err = st.Grant(ctx, 3, model.TierAdvanced)
	require.NoError(t, err)

	tokens := append(engine.catalog.Tokens(), "", "start", "help", "definitely_unknown", "old_token_from_v0")

	for _, user := range []model.UserID{1, 2, 3} {
		want := engine.Welcome(ctx, Request{UserID: user, DisplayName: "Ana"})
		require.Equal(t, "main", want.NodeID)

		for _, prior := range tokens {
			// A previous navigation step must not influence the next one
			engine.Handle(ctx, Request{UserID: user, ActionToken: prior, DisplayName: "Ana"})

			got := engine.Handle(ctx, Request{UserID: user, ActionToken: "unknown_" + prior, DisplayName: "Ana"})
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("user %d after %q: main menu mismatch (-want +got):\n%s", user, prior, diff)
			}
		}
	}
}

func TestHandle_GatedContentNeverLeaks(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)

	_, err := st.Grant(ctx, 2, model.TierBasic)
	require.NoError(t, err)

	advanced, err := engine.catalog.Resolve("advanced_content")
	require.NoError(t, err)
	gatedText, err := advanced.Render(model.TierAdvanced, engine.catalog.NewContext(model.TierAdvanced))
	require.NoError(t, err)

	for _, user := range []model.UserID{1, 2} {
		out := engine.Handle(ctx, Request{UserID: user, ActionToken: "advanced_content", DisplayName: "Ana"})

		assert.Equal(t, "upsell", out.NodeID)
		assert.NotContains(t, out.Text, "FULL PREMIUM CONTENT")
		assert.NotEqual(t, gatedText, out.Text)
		assert.Contains(t, out.Text, model.TierAdvanced.DisplayName())
	}
}

func TestHandle_TierProgressionScenario(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	const user = model.UserID(12345)

	welcome := engine.Handle(ctx, Request{UserID: user, ActionToken: "start", DisplayName: "Sam"})
	assert.Equal(t, "main", welcome.NodeID)
	assert.Contains(t, welcome.Text, "Free")
	assert.Contains(t, welcome.Text, "Sam")
	assert.NotEmpty(t, welcome.Options)

	gated := engine.Handle(ctx, Request{UserID: user, ActionToken: "basic_content"})
	assert.Equal(t, "upsell", gated.NodeID)

	_, err := st.Grant(ctx, user, model.TierBasic)
	require.NoError(t, err)

	content := engine.Handle(ctx, Request{UserID: user, ActionToken: "basic_content"})
	assert.Equal(t, "basic_content", content.NodeID)
	assert.Contains(t, content.Text, "PREMIUM CONTENT")

	_, err = st.Revoke(ctx, user)
	require.NoError(t, err)

	again := engine.Handle(ctx, Request{UserID: user, ActionToken: "basic_content"})
	assert.Equal(t, "upsell", again.NodeID)
	assert.NotContains(t, again.Text, "PREMIUM CONTENT")
}

func TestHandle_Deterministic(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	req := Request{UserID: 5, ActionToken: "my_account", DisplayName: "Ana"}
	first := engine.Handle(ctx, req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.Handle(ctx, req))
	}
}

func TestHandle_OptionsFollowTier(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)

	_, err := st.Grant(ctx, 9, model.TierAdvanced)
	require.NoError(t, err)

	free := engine.Welcome(ctx, Request{UserID: 8})
	paid := engine.Welcome(ctx, Request{UserID: 9})

	tokens := func(opts []model.ActionOption) []string {
		out := make([]string, 0, len(opts))
		for _, o := range opts {
			out = append(out, o.Token)
		}
		return out
	}

	assert.Contains(t, tokens(free.Options), "pricing_tiers")
	assert.NotContains(t, tokens(free.Options), "advanced_content")
	assert.NotContains(t, tokens(paid.Options), "pricing_tiers")
	assert.Contains(t, tokens(paid.Options), "advanced_content")
}

const fragileCatalog = `
version: "fragile"
root: main
upsell: upsell
error_text: "please retry"
verify_text: "verify"
unauthorized_text: "nope"
nodes:
  - id: main
    text: "{{ if eq .DisplayName \"boom\" }}{{ index .Features 99 }}{{ end }}main"
  - id: upsell
    text: "upsell"
`

func TestHandle_RenderErrorIsRequestLocal(t *testing.T) {
	ctx := context.Background()

	cat, err := catalog.Parse([]byte(fragileCatalog))
	require.NoError(t, err)

	st := &mocks.MockEntitlementStore{}
	st.On("GetTier", mock.Anything, model.UserID(1)).Return(model.TierNone)

	engine := NewEngine(&Config{}, cat, st, zap.NewNop(), nil)

	out := engine.Handle(ctx, Request{UserID: 1, DisplayName: "boom"})
	assert.Equal(t, "please retry", out.Text)
	assert.Equal(t, "please retry", out.Notice)
	assert.Equal(t, []model.ActionOption{{Token: TokenBackMain, Label: "🏠 Main Menu"}}, out.Options)

	// The next request from anyone renders normally
	ok := engine.Handle(ctx, Request{UserID: 1, DisplayName: "Ana"})
	assert.Equal(t, "main", ok.Text)
	assert.Empty(t, ok.Notice)
}

func TestHandle_PanicIsRecovered(t *testing.T) {
	ctx := context.Background()

	cat, err := catalog.Default()
	require.NoError(t, err)

	st := &mocks.MockEntitlementStore{}
	st.On("GetTier", mock.Anything, model.UserID(1)).Run(func(args mock.Arguments) {
		panic("store exploded")
	}).Return(model.TierNone)

	engine := NewEngine(&Config{}, cat, st, zap.NewNop(), nil)

	var out model.RenderInstruction
	require.NotPanics(t, func() {
		out = engine.Handle(ctx, Request{UserID: 1})
	})
	assert.NotEmpty(t, out.Notice)
	assert.Equal(t, TokenBackMain, out.Options[0].Token)
}

func TestMessage_UsesAdminHandle(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	text, err := engine.Message(ctx, catalog.MessageVerify, Request{UserID: 77})
	require.NoError(t, err)
	assert.Contains(t, text, "@flexxerone")
	assert.Contains(t, text, "77")
}

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devrev/tierbot/internal/admin"
	"github.com/devrev/tierbot/internal/catalog"
	"github.com/devrev/tierbot/internal/dispatch"
	"github.com/devrev/tierbot/internal/health"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/store"
	"github.com/devrev/tierbot/internal/transport"
	"github.com/devrev/tierbot/internal/transport/mocks"
	"github.com/devrev/tierbot/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "s3cr3t"
	validBody  = `{"update_id":1}`
)

type serverFixture struct {
	server   *Server
	provider *mocks.MockProvider
	pool     *workerpool.WorkerPool

	mu   sync.Mutex
	sent []transport.Outbound
}

func (f *serverFixture) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newServerFixture(t *testing.T, push bool, rateLimit float64) *serverFixture {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)

	dataDir := t.TempDir()
	st, err := store.NewFileEntitlementStore(&store.FileStoreConfig{
		Path:       filepath.Join(dataDir, "entitlements.json"),
		SyncWrites: true,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	f := &serverFixture{provider: &mocks.MockProvider{}}
	f.provider.On("ParseUpdate", []byte(validBody)).Return(transport.Update{
		ID: 1,
		Message: &transport.Message{
			ID:     1,
			ChatID: 42,
			From:   &transport.User{ID: 42, FirstName: "Ana"},
			Text:   "/start",
		},
	}, nil)
	f.provider.On("ParseUpdate", mock.Anything).Return(transport.Update{}, errors.New("unexpected end of JSON input"))
	f.provider.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sent = append(f.sent, args.Get(1).(transport.Outbound))
	}).Return(nil)

	engine := dispatch.NewEngine(&dispatch.Config{}, cat, st, zap.NewNop(), m)
	adminHandler := admin.NewHandler(&admin.Config{}, st, cat, nil, zap.NewNop(), m)
	sender := transport.NewSender(f.provider, &transport.SenderConfig{Attempts: 1}, zap.NewNop(), m)
	bot := transport.NewRouter(&transport.RouterConfig{Mode: "push", RequestTimeout: time.Second},
		engine, adminHandler, nil, sender, zap.NewNop(), m)

	if push {
		f.pool = workerpool.NewWorkerPool(&workerpool.Config{Name: "webhook", MaxWorkers: 2, QueueSize: 4})
		t.Cleanup(func() { f.pool.Stop(time.Second) })
	}

	checker := health.NewHealthChecker(&health.HealthCheckConfig{DataDir: dataDir, Mode: "push"}, st, zap.NewNop())
	checker.RunChecks(context.Background())

	f.server = NewServer(&Config{
		WebhookSecret:  testSecret,
		MetricsEnabled: true,
		RateLimit:      rateLimit,
		RateBurst:      1,
	}, f.provider, bot, f.pool, checker, reg, zap.NewNop(), m)

	return f
}

func (f *serverFixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRootAndProbes(t *testing.T) {
	f := newServerFixture(t, false, 0)

	rec := f.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/ready", "", nil).Code)

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tierbot_")
}

func TestWebhookNotRegisteredInPullMode(t *testing.T) {
	f := newServerFixture(t, false, 0)

	rec := f.do(http.MethodPost, "/webhook/"+testSecret, validBody, map[string]string{SecretHeader: testSecret})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookRejectsBadSecrets(t *testing.T) {
	f := newServerFixture(t, true, 0)

	rec := f.do(http.MethodPost, "/webhook/wrong", validBody, map[string]string{SecretHeader: testSecret})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/webhook/"+testSecret, validBody, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/webhook/"+testSecret, validBody, map[string]string{SecretHeader: "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, f.pool.Stop(time.Second))
	assert.Zero(t, f.sentCount())
}

func TestWebhookAcknowledgesGarbage(t *testing.T) {
	f := newServerFixture(t, true, 0)

	for _, body := range []string{"", "not json", `{"update_id":`} {
		rec := f.do(http.MethodPost, "/webhook/"+testSecret, body, map[string]string{SecretHeader: testSecret})
		assert.Equal(t, http.StatusOK, rec.Code, "body %q", body)
	}

	require.NoError(t, f.pool.Stop(time.Second))
	assert.Zero(t, f.sentCount())
}

func TestWebhookProcessesUpdate(t *testing.T) {
	f := newServerFixture(t, true, 0)

	rec := f.do(http.MethodPost, "/webhook/"+testSecret, validBody, map[string]string{SecretHeader: testSecret})
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.pool.Stop(time.Second))
	require.Equal(t, 1, f.sentCount())
	assert.Equal(t, int64(42), f.sent[0].ChatID)
	assert.Contains(t, f.sent[0].Text, "Welcome, Ana")
}

func TestWebhookFullQueueDoesNotBlockAck(t *testing.T) {
	f := newServerFixture(t, true, 0)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocker := workerpool.Task{ID: "blocker", Fn: func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}}

	// Occupy both workers, then every queue slot
	require.True(t, f.pool.TrySubmit(blocker))
	require.True(t, f.pool.TrySubmit(blocker))
	<-started
	<-started
	for i := 0; i < 4; i++ {
		require.True(t, f.pool.TrySubmit(workerpool.Task{ID: "queued", Fn: func(ctx context.Context) error {
			<-release
			return nil
		}}))
	}

	begin := time.Now()
	rec := f.do(http.MethodPost, "/webhook/"+testSecret, validBody, map[string]string{SecretHeader: testSecret})
	elapsed := time.Since(begin)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Less(t, elapsed, 500*time.Millisecond)

	close(release)
	require.NoError(t, f.pool.Stop(time.Second))
	assert.Zero(t, f.sentCount(), "a rejected update must not be processed")
	assert.Equal(t, uint64(1), f.pool.Stats().RejectedTasks)
}

func TestWebhookAfterShutdownAsksForRedelivery(t *testing.T) {
	f := newServerFixture(t, true, 0)
	require.NoError(t, f.pool.Stop(time.Second))

	rec := f.do(http.MethodPost, "/webhook/"+testSecret, validBody, map[string]string{SecretHeader: testSecret})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookRateLimit(t *testing.T) {
	f := newServerFixture(t, true, 0.001)

	headers := map[string]string{SecretHeader: testSecret}
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/webhook/"+testSecret, validBody, headers).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/webhook/"+testSecret, validBody, headers).Code)

	// Probes are never rate limited
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/", "", nil).Code)
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newServerFixture(t, false, 0)
	f.server.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

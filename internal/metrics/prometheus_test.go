package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.RecordAdminCommand("grant", "ok")
	m.RecordAdminCommand("grant", "ok")
	m.RecordGatedView("advanced")
	m.UpdateEntitlements("basic", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AdminCommandsTotal.WithLabelValues("grant", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatedViewsTotal.WithLabelValues("advanced")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EntitlementsByTier.WithLabelValues("basic")))

	// A second registry gets independent collectors
	other := NewMetrics(prometheus.NewRegistry())
	assert.Equal(t, 0.0, testutil.ToFloat64(other.AdminCommandsTotal.WithLabelValues("grant", "ok")))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUpdate("message", "pull")
		m.RecordDuplicate()
		m.RecordDispatch("root", 0.01)
		m.RecordRenderFailure()
		m.RecordFlush(0.1, nil)
		m.RecordSendAttempt("send")
		m.RecordSendFailure("send")
		m.RecordLivenessProbe("ok")
		m.UpdateWorkerQueue(4)
	})
}

func TestRecordFlush_CountsFailures(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordFlush(0.01, nil)
	m.RecordFlush(0.02, assert.AnError)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreFlushesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreFlushFailures))
}

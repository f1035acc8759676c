package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Enqueued("widgets", "create")
	m.Executed("widgets", true)
	m.Executed("widgets", false)
	m.Executed("widgets", false)
	m.StorageFailure("offline_actions", "write")
	m.Downloaded(true)
	m.QueueSize(3, 1)
	m.Online(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsEnqueued.WithLabelValues("widgets", "create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionExecutions.WithLabelValues("widgets", ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActionExecutions.WithLabelValues("widgets", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageFailures.WithLabelValues("offline_actions", "write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotDownloads.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueuePending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NetworkOnline))

	m.Online(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NetworkOnline))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Enqueued("widgets", "create")
		m.Executed("widgets", true)
		m.StorageFailure("k", "read")
		m.Downloaded(false)
		m.QueueSize(1, 1)
		m.Online(true)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}

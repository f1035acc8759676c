// Package metrics holds the prometheus collectors of the offline subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "offsync"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing,
// so components can be constructed without telemetry.
type Metrics struct {
	ActionsEnqueued   *prometheus.CounterVec
	ActionExecutions  *prometheus.CounterVec
	StorageFailures   *prometheus.CounterVec
	SnapshotDownloads *prometheus.CounterVec
	QueuePending      prometheus.Gauge
	QueueFailed       prometheus.Gauge
	NetworkOnline     prometheus.Gauge
}

// New registers all collectors in reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActionsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_enqueued_total",
				Help:      "Total number of actions added to the offline queue",
			},
			[]string{"resource", "kind"},
		),
		ActionExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_executions_total",
				Help:      "Total number of action execution attempts by result",
			},
			[]string{"resource", "result"},
		),
		StorageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_failures_total",
				Help:      "Persistent store failures; each one means best-effort persistence was lost",
			},
			[]string{"key", "op"},
		),
		SnapshotDownloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_downloads_total",
				Help:      "Total number of snapshot downloads by result",
			},
			[]string{"result"},
		),
		QueuePending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Actions waiting for execution",
		}),
		QueueFailed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_failed",
			Help:      "Actions that exhausted their retries",
		}),
		NetworkOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the network monitor reports online",
		}),
	}
}

func (m *Metrics) Enqueued(resource, kind string) {
	if m == nil {
		return
	}
	m.ActionsEnqueued.WithLabelValues(resource, kind).Inc()
}

func (m *Metrics) Executed(resource string, ok bool) {
	if m == nil {
		return
	}
	m.ActionExecutions.WithLabelValues(resource, result(ok)).Inc()
}

func (m *Metrics) StorageFailure(key, op string) {
	if m == nil {
		return
	}
	m.StorageFailures.WithLabelValues(key, op).Inc()
}

func (m *Metrics) Downloaded(ok bool) {
	if m == nil {
		return
	}
	m.SnapshotDownloads.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) QueueSize(pending, failed int) {
	if m == nil {
		return
	}
	m.QueuePending.Set(float64(pending))
	m.QueueFailed.Set(float64(failed))
}

func (m *Metrics) Online(online bool) {
	if m == nil {
		return
	}
	if online {
		m.NetworkOnline.Set(1)
	} else {
		m.NetworkOnline.Set(0)
	}
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

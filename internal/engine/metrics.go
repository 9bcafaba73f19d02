package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

// Metrics are the Prometheus collectors maintained by the engine
type Metrics struct {
	ExecutionsStarted  *prometheus.CounterVec
	ExecutionsFinished *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	NodesFinished      *prometheus.CounterVec
	NodeDuration       *prometheus.HistogramVec
	NodeRetries        *prometheus.CounterVec
	NodesInFlight      prometheus.Gauge
	PersistFailures    *prometheus.CounterVec
}

const metricsNamespace = "ghostflow"

// NewMetrics registers the engine collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ExecutionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_started_total",
			Help:      "Flow executions started",
		}, []string{"flow_id"}),
		ExecutionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_finished_total",
			Help:      "Flow executions reaching a terminal status",
		}, []string{"flow_id", "status"}),
		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of flow executions",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"flow_id", "status"}),
		NodesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "node_executions_total",
			Help:      "Node executions reaching a terminal status",
		}, []string{"node_type", "status"}),
		NodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "node_attempt_duration_seconds",
			Help:      "Wall time of individual node attempts",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"node_type"}),
		NodeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "node_retries_total",
			Help:      "Node attempts scheduled for retry",
		}, []string{"node_type"}),
		NodesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "nodes_in_flight",
			Help:      "Node attempts currently executing",
		}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persistence_failures_total",
			Help:      "Store calls that failed after all retries",
		}, []string{"op"}),
	}
}

func (m *Metrics) executionFinished(ex *api.FlowExecution, d time.Duration) {
	flowID := string(ex.FlowID)
	status := string(ex.Status)
	m.ExecutionsFinished.WithLabelValues(flowID, status).Inc()
	m.ExecutionDuration.WithLabelValues(flowID, status).Observe(d.Seconds())
}

func (m *Metrics) nodeFinished(n *api.NodeExecution) {
	m.NodesFinished.WithLabelValues(n.NodeType, string(n.Status)).Inc()
}

// Package metrics exposes the Prometheus collectors tracked across the
// ingestion coordinator, state machine, and scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster/control-plane gauges.
	NamespacesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestify_namespaces_total",
			Help: "Total number of namespaces known to the state machine.",
		},
	)

	ExecutorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestify_executors_total",
			Help: "Total number of live executors by extractor name.",
		},
		[]string{"extractor"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestify_tasks_total",
			Help: "Total number of tasks by outcome.",
		},
		[]string{"outcome"},
	)

	// Raft gauges.
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestify_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower).",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestify_raft_peers_total",
			Help: "Total number of Raft peers in the cluster.",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestify_raft_applied_index",
			Help: "Last applied Raft log index.",
		},
	)

	// RPC metrics.
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestify_rpc_requests_total",
			Help: "Total number of coordinator RPC requests by method and status.",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestify_rpc_request_duration_seconds",
			Help:    "Coordinator RPC request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Raft operation latency.
	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestify_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics.
	SchedulingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestify_scheduling_cycle_duration_seconds",
			Help:    "Time taken for a scheduler reconciliation cycle in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestify_tasks_scheduled_total",
			Help: "Total number of tasks created by the scheduler.",
		},
	)

	TasksReassigned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestify_tasks_reassigned_total",
			Help: "Total number of tasks reassigned after executor eviction.",
		},
	)

	// Ingestion coordinator metrics.
	ContentIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestify_content_ingested_total",
			Help: "Total number of content rows ingested by source.",
		},
		[]string{"source"},
	)

	BlobBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestify_blob_bytes_written_total",
			Help: "Total bytes written to the blob store.",
		},
	)

	VectorEmbeddingsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestify_vector_embeddings_written_total",
			Help: "Total number of embedding vectors written, by index table.",
		},
		[]string{"table"},
	)

	MetadataRowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestify_metadata_rows_written_total",
			Help: "Total number of attribute rows written, by index table.",
		},
		[]string{"table"},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestify_ingest_duration_seconds",
			Help:    "Time taken to process one ingestion coordinator write request.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		NamespacesTotal,
		ExecutorsTotal,
		TasksTotal,
		RaftLeader,
		RaftPeers,
		RaftAppliedIndex,
		RPCRequestsTotal,
		RPCRequestDuration,
		RaftApplyDuration,
		SchedulingCycleDuration,
		TasksScheduled,
		TasksReassigned,
		ContentIngestedTotal,
		BlobBytesWritten,
		VectorEmbeddingsWritten,
		MetadataRowsWritten,
		IngestDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for an in-flight operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HeadVersion is the sidecar's current monotonic version.
	HeadVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tandem_head_version",
			Help: "Current monotonic head version held by the sidecar",
		},
	)

	// CASMisses counts updateOpHeads calls that returned ok=false.
	CASMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_cas_misses_total",
			Help: "Total updateOpHeads calls that reported a CAS miss",
		},
	)

	// CASRetries observes how many CAS misses a single client-side retry
	// loop absorbed before succeeding.
	CASRetries = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tandem_cas_retries",
			Help:    "Number of CAS misses observed before updateOpHeads succeeded",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	// RPCLatency observes per-method RPC handling latency on the server.
	RPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tandem_rpc_latency_seconds",
			Help:    "RPC handling latency by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// InFlightRequests is the current number of frames the client has
	// dispatched but not yet received a reply for.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tandem_rpc_inflight_requests",
			Help: "Number of in-flight RPC calls on the client's connection",
		},
	)

	// WatchersActive is the number of registered head watchers.
	WatchersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tandem_watchers_active",
			Help: "Number of currently registered head watchers",
		},
	)

	// ObjectsWritten counts putObject calls by kind.
	ObjectsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_objects_written_total",
			Help: "Total objects accepted by putObject, by kind",
		},
		[]string{"kind"},
	)

	// OperationsWritten counts putOperation calls.
	OperationsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_operations_written_total",
			Help: "Total operations accepted by putOperation",
		},
	)

	// ViewsWritten counts putView calls.
	ViewsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_views_written_total",
			Help: "Total views accepted by putView",
		},
	)
)

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	prometheus.MustRegister(
		HeadVersion,
		CASMisses,
		CASRetries,
		RPCLatency,
		InFlightRequests,
		WatchersActive,
		ObjectsWritten,
		OperationsWritten,
		ViewsWritten,
	)
}

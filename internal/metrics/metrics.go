package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the proof engine publishes. Metrics live in a
// dedicated registry so embedding applications keep their default registry
// clean.
type Collector struct {
	registry *prometheus.Registry

	proofRequests *prometheus.CounterVec
	proofDuration *prometheus.HistogramVec

	rpcCalls   *prometheus.CounterVec
	rpcRetries prometheus.Counter

	batchSplits      prometheus.Counter
	placeholderUsers prometheus.Counter

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		proofRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voteproofs",
			Name:      "requests_total",
			Help:      "Public operations by kind, protocol and outcome.",
		}, []string{"op", "protocol", "outcome"}),
		proofDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voteproofs",
			Name:      "request_duration_seconds",
			Help:      "Latency of public operations.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voteproofs",
			Name:      "rpc_calls_total",
			Help:      "JSON-RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		rpcRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voteproofs",
			Name:      "rpc_retries_total",
			Help:      "Timed retries of transient RPC failures.",
		}),
		batchSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voteproofs",
			Name:      "batch_splits_total",
			Help:      "Structural splits of reverting multicall batches.",
		}),
		placeholderUsers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voteproofs",
			Name:      "placeholder_users_total",
			Help:      "Users whose size-1 read still reverted and were zero-filled.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voteproofs",
			Name:      "cache_hits_total",
			Help:      "Orchestrator cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voteproofs",
			Name:      "cache_misses_total",
			Help:      "Orchestrator cache misses.",
		}),
	}

	reg.MustRegister(
		c.proofRequests, c.proofDuration,
		c.rpcCalls, c.rpcRetries,
		c.batchSplits, c.placeholderUsers,
		c.cacheHits, c.cacheMisses,
	)
	return c
}

// ObserveRequest records one public operation.
func (c *Collector) ObserveRequest(op, protocol, outcome string, d time.Duration) {
	c.proofRequests.WithLabelValues(op, protocol, outcome).Inc()
	c.proofDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveRPC records one JSON-RPC call.
func (c *Collector) ObserveRPC(method, outcome string) {
	c.rpcCalls.WithLabelValues(method, outcome).Inc()
}

// RPCRetry records one timed retry.
func (c *Collector) RPCRetry() { c.rpcRetries.Inc() }

// BatchSplit records one structural batch split.
func (c *Collector) BatchSplit() { c.batchSplits.Inc() }

// PlaceholderUser records a user zero-filled after a persistent revert.
func (c *Collector) PlaceholderUser() { c.placeholderUsers.Inc() }

// CacheHit records an orchestrator cache hit.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss records an orchestrator cache miss.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

// Registry exposes the underlying registry for embedding and tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns the prometheus exposition handler for this registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

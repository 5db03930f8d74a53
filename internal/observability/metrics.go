package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace is the global prefix for all metrics (bifrost_...).
const namespace = "bifrost"

// lowLatencyBuckets gives 1ms resolution where it matters: the evaluation
// path targets sub-50ms, so the standard buckets (starting at 5ms) are too
// coarse.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// EVALUATION
	// -------------------------------------------------------------------------

	// EvalDuration measures end-to-end evaluation latency.
	// Metric: bifrost_engine_eval_seconds
	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "eval_seconds",
		Help:      "End-to-end flag evaluation latency",
		Buckets:   lowLatencyBuckets,
	})

	// EvalTotal counts evaluation decisions by reason.
	// Metric: bifrost_engine_decisions_total
	EvalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "decisions_total",
		Help:      "Total evaluation decisions by reason",
	}, []string{"reason"})

	// DegradedDecisions counts decisions served from stale data because the
	// authoritative store was unavailable within budget.
	DegradedDecisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "degraded_decisions_total",
		Help:      "Total decisions served in degraded mode",
	})

	// CompileTotal counts rule compilations by status (ok, error).
	CompileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rule_compilations_total",
		Help:      "Total targeting rule compilations by status",
	}, []string{"status"})

	// PredicateOverBudget counts conditions that exceeded their bound and
	// were treated as false.
	PredicateOverBudget = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "predicate_over_budget_total",
		Help:      "Total predicate evaluations that exceeded their time/size bound",
	})

	// -------------------------------------------------------------------------
	// CACHE HIERARCHY
	// -------------------------------------------------------------------------

	// CacheHits counts lookups satisfied by a cache tier (l1, l2). The
	// per-tier hit ratio is hits{tier} / (hits{tier} + misses{tier}).
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Config lookups satisfied by a cache tier, by tier",
	}, []string{"tier"})

	// CacheMisses counts lookups a cache tier could not satisfy (l1, l2).
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Config lookups not satisfied by a cache tier, by tier",
	}, []string{"tier"})

	// StoreReads counts reads answered by the authoritative store after
	// missing both cache tiers. Not a cache hit; tracked separately so the
	// tier ratios stay meaningful.
	StoreReads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "authoritative_reads_total",
		Help:      "Config reads served by the authoritative store",
	})

	// CacheEvictions counts L1 entries removed by capacity pressure or
	// explicit invalidation.
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l1_evictions_total",
		Help:      "Total L1 entries evicted",
	})

	// CacheInvalidations counts invalidation notifications applied.
	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Total cache invalidation events applied",
	})

	// StaleServes counts explicit stale-allowed reads during degradation.
	StaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "stale_serves_total",
		Help:      "Total configs served past TTL in degraded mode",
	})

	// CacheItems tracks the current L1 entry count.
	CacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l1_items_count",
		Help:      "Current number of entries in the L1 cache",
	})

	// -------------------------------------------------------------------------
	// EXPOSURE EVENTS
	// -------------------------------------------------------------------------

	// ExposureQueueDepth tracks the current exposure queue backlog.
	ExposureQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "queue_depth",
		Help:      "Current number of exposure events waiting to be emitted",
	})

	// ExposureDropped counts events dropped because the queue was full.
	ExposureDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total exposure events dropped due to a full queue",
	})

	// ExposureEmitted counts events handed to the sink by status.
	ExposureEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Total exposure events emitted, by status",
	}, []string{"status"})

	// -------------------------------------------------------------------------
	// EDGE API (HTTP)
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures edge request latency.
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle edge HTTP requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "path"})

	// HTTPReqTotal counts edge requests by status code.
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "http_requests_total",
		Help:      "Total edge HTTP requests",
	}, []string{"method", "path", "code"})
)

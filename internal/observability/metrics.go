package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal tracks submissions accepted per route and outcome.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_submissions_total",
		Help: "Total workflow submissions processed, by route and outcome",
	}, []string{"route", "outcome"}) // outcome: queued, failed, unknown_route

	// StatusLookups tracks getSubmissionStatus calls by where the answer came from.
	StatusLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_status_lookups_total",
		Help: "Status lookups served, by source layer",
	}, []string{"source"}) // source: cache, store, refresh, not_found

	// RefreshAttempts tracks refresh-path entries by result.
	RefreshAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_refresh_attempts_total",
		Help: "Refresh-path executions, by result",
	}, []string{"result"}) // result: updated, unchanged, lease_lost, driver_unavailable, driver_not_found

	// DriverCallDuration tracks endpoint driver call latency.
	DriverCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_driver_call_duration_seconds",
		Help:    "Endpoint driver call latency, by kind and operation",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
	}, []string{"kind", "op"})

	// DiffApplyConflicts tracks version conflicts seen by the selective updater.
	DiffApplyConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_diff_apply_conflicts_total",
		Help: "Version conflicts detected while applying diffs",
	})

	// DiffApplySuccess tracks successful selective updates.
	DiffApplySuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_diff_apply_success_total",
		Help: "Diffs successfully applied to the submission store",
	})

	// PollerTickDuration tracks the duration of one full poller sweep.
	PollerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "router_poller_tick_duration_seconds",
		Help:    "Duration of one status poller sweep over stale submissions",
		Buckets: prometheus.DefBuckets,
	})

	// PollerStaleSubmissions tracks how many submissions each sweep found stale.
	PollerStaleSubmissions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_poller_stale_submissions",
		Help: "Stale in-flight submissions found by the last poller sweep",
	})

	// CallbacksTotal tracks inbound endpoint callbacks by result.
	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_callbacks_total",
		Help: "Inbound endpoint callbacks, by route and result",
	}, []string{"route", "result"}) // result: applied, rejected, stale

	// RedisLatency tracks cache/lease operation roundtrip latency.
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "router_redis_roundtrip_latency_seconds",
		Help:    "Redis operation latency (cache and refresh-lease health)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// RouteReloads tracks configuration reloads by result.
	RouteReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_route_reloads_total",
		Help: "Route configuration reload attempts, by result",
	}, []string{"result"}) // result: ok, invalid

	// RoutesLoaded tracks the size of the current route table.
	RoutesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_routes_loaded",
		Help: "Number of routes in the active configuration snapshot",
	})

	// StreamClients tracks connected WebSocket status-stream clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_stream_clients",
		Help: "Currently connected status-stream WebSocket clients",
	})

	// APIRateLimited tracks API requests rejected by the storm-protection limiter.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_api_rate_limited_total",
		Help: "API requests rejected by rate limiter (storm protection)",
	}, []string{"endpoint"})
)

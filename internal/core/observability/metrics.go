package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metricSet struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	upstreamLatencySeconds     *prometheus.HistogramVec
	selectionsTotal            *prometheus.CounterVec
	sliceLoadsTotal            *prometheus.CounterVec
	cacheOpsTotal              *prometheus.CounterVec
	overlayLayers              prometheus.Gauge
	activeViews                prometheus.Gauge
	eventsDropped              prometheus.Counter
	refreshTotal               *prometheus.CounterVec
}

var (
	mu      sync.RWMutex
	current *metricSet
)

func init() {
	Init(prometheus.DefaultRegisterer, true)
}

// Init (re)creates the metric families. With enabled=false the collectors
// still work but are not registered anywhere.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		reg = nil
	}
	f := promauto.With(reg)

	ms := &metricSet{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"method", "route", "status"},
		),
		upstreamLatencySeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_latency_seconds",
				Help:    "Latency of upstream calls in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"upstream"},
		),
		selectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "selection_requests_total",
				Help: "Selection requests by outcome (ok, network, protocol, decode, configuration).",
			},
			[]string{"outcome", "method"},
		),
		sliceLoadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "view_slice_loads_total",
				Help: "Workspace and candidate slice loads by outcome.",
			},
			[]string{"slice", "outcome"},
		),
		cacheOpsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_op_total",
				Help: "Cache operations by op and result.",
			},
			[]string{"op", "result"},
		),
		overlayLayers: f.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_layers",
			Help: "Overlay layers currently held across all views.",
		}),
		activeViews: f.NewGauge(prometheus.GaugeOpts{
			Name: "map_views_active",
			Help: "Mounted map views.",
		}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "selection_events_dropped_total",
			Help: "Selection events dropped because the publish queue was full.",
		}),
		refreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_events_total",
				Help: "Refresh events by kind and outcome (applied, stale, invalid, decode_error, error).",
			},
			[]string{"kind", "outcome"},
		),
	}

	mu.Lock()
	current = ms
	mu.Unlock()
}

func get() *metricSet {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	m := get()
	st := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	get().upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncSelection(outcome, method string) {
	if method == "" {
		method = "unknown"
	}
	get().selectionsTotal.WithLabelValues(outcome, method).Inc()
}

func IncSliceLoad(slice string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "unavailable"
	}
	get().sliceLoadsTotal.WithLabelValues(slice, outcome).Inc()
}

func ObserveCacheOp(op string, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	get().cacheOpsTotal.WithLabelValues(op, res).Inc()
}

func IncCacheResult(hit bool) {
	res := "miss"
	if hit {
		res = "hit"
	}
	get().cacheOpsTotal.WithLabelValues("get", res).Inc()
}

func AddOverlayLayers(delta int) {
	get().overlayLayers.Add(float64(delta))
}

func AddActiveViews(delta int) {
	get().activeViews.Add(float64(delta))
}

func IncEventsDropped() {
	get().eventsDropped.Inc()
}

func IncRefresh(kind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	get().refreshTotal.WithLabelValues(kind, outcome).Inc()
}

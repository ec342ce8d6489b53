package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tazhate/weathercal/internal/domain"
)

// Manager owns the metrics of one process.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	// Sync runs
	runsTotal       *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	runDuration     prometheus.Histogram
	lastSuccessUnix prometheus.Gauge
	lastRunSlots    prometheus.Gauge

	// Errors outside the per-event results
	fetchErrors prometheus.Counter
	pruneErrors prometheus.Counter
	prunedTotal prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "weathercal",
		subsystem:        "sync",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.runsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_total",
		Help:      "Sync runs by final status",
	}, []string{"status"})

	m.eventsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_total",
		Help:      "Forecast slots by outcome (created, updated, failed, dropped)",
	}, []string{"outcome"})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a sync run",
		Buckets:   m.histogramBuckets,
	})

	m.lastSuccessUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that wrote every slot",
	})

	m.lastRunSlots = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_run_slots",
		Help:      "Forecast slots seen by the last run",
	})

	m.fetchErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_errors_total",
		Help:      "Runs aborted because the forecast could not be fetched",
	})

	m.pruneErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "prune_errors_total",
		Help:      "Failed retention list or delete calls",
	})

	m.prunedTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pruned_events_total",
		Help:      "Expired weather events deleted from the calendar",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
}

// ObserveRun records a finished run.
func (m *Manager) ObserveRun(run *domain.Run) {
	m.runsTotal.WithLabelValues(string(run.Status)).Inc()
	m.eventsTotal.WithLabelValues(string(domain.OutcomeCreated)).Add(float64(run.Created))
	m.eventsTotal.WithLabelValues(string(domain.OutcomeUpdated)).Add(float64(run.Updated))
	m.eventsTotal.WithLabelValues(string(domain.OutcomeFailed)).Add(float64(run.Failed))
	m.eventsTotal.WithLabelValues(string(domain.OutcomeDropped)).Add(float64(run.Dropped))
	m.prunedTotal.Add(float64(run.Pruned))
	m.runDuration.Observe(run.Duration().Seconds())
	m.lastRunSlots.Set(float64(run.Slots))
	if run.Status == domain.RunSucceeded {
		m.lastSuccessUnix.Set(float64(run.FinishedAt.Unix()))
	}
}

// ObserveFetchError counts a weather API failure.
func (m *Manager) ObserveFetchError() {
	m.fetchErrors.Inc()
}

// ObservePruneError counts a failed retention call.
func (m *Manager) ObservePruneError() {
	m.pruneErrors.Inc()
}

// ObserveHTTPRequest records one served request.
func (m *Manager) ObserveHTTPRequest(route, method string, status int, took time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

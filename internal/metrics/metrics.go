package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dispatchrelay"

// Metrics groups the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections     *prometheus.GaugeVec
	sweepEvictions  prometheus.Counter
	offersSent      prometheus.Counter
	accepts         *prometheus.CounterVec
	locationUpdates prometheus.Counter
	statusUpdates   *prometheus.CounterVec
	routeRequests   *prometheus.CounterVec
	pushAttempts    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_connections",
			Help:      "Authenticated socket sessions by role.",
		}, []string{"role"}),
		sweepEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_sweep_evictions_total",
			Help:      "Sessions closed by the liveness sweep.",
		}),
		offersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_offers_sent_total",
			Help:      "Delivery offers sent to partners.",
		}),
		accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_accepts_total",
			Help:      "Accept-assignment attempts by outcome.",
		}, []string{"outcome"}),
		locationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_location_updates_total",
			Help:      "Location pings recorded.",
		}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_status_updates_total",
			Help:      "Delivery status transitions applied.",
		}, []string{"status"}),
		routeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      "Route provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		pushAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_attempts_total",
			Help:      "Push gateway attempts by outcome.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		m.connections,
		m.sweepEvictions,
		m.offersSent,
		m.accepts,
		m.locationUpdates,
		m.statusUpdates,
		m.routeRequests,
		m.pushAttempts,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened(role string) {
	if m != nil {
		m.connections.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) ConnectionClosed(role string) {
	if m != nil {
		m.connections.WithLabelValues(role).Dec()
	}
}

func (m *Metrics) SweepEviction() {
	if m != nil {
		m.sweepEvictions.Inc()
	}
}

func (m *Metrics) OffersSent(n int) {
	if m != nil {
		m.offersSent.Add(float64(n))
	}
}

func (m *Metrics) Accept(outcome string) {
	if m != nil {
		m.accepts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) LocationUpdate() {
	if m != nil {
		m.locationUpdates.Inc()
	}
}

func (m *Metrics) StatusUpdate(status string) {
	if m != nil {
		m.statusUpdates.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) RouteRequest(provider, outcome string) {
	if m != nil {
		m.routeRequests.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) PushAttempt(outcome string) {
	if m != nil {
		m.pushAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveHTTP(method string, status int, seconds float64) {
	if m != nil {
		m.httpDuration.WithLabelValues(method, http.StatusText(status)).Observe(seconds)
	}
}

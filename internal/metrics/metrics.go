package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	LinesTotal          *prometheus.CounterVec
	EventsDroppedTotal  *prometheus.CounterVec
	AlertsTotal         *prometheus.CounterVec
	PersistErrorsTotal  prometheus.Counter
	NotificationsTotal  *prometheus.CounterVec
	GeoLookupsTotal     *prometheus.CounterVec
	ForwardErrorsTotal  *prometheus.CounterVec
	LineDurationSeconds prometheus.Histogram
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewMetricsWith(registry, registry)
}

func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: gatherer,
		LinesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socwatch_lines_total",
			Help: "Log lines read per stream",
		}, []string{"stream"}),
		EventsDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socwatch_events_dropped_total",
			Help: "Lines that did not produce an alert, by reason",
		}, []string{"reason"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socwatch_alerts_total",
			Help: "Alerts persisted, by attack type",
		}, []string{"attack_type"}),
		PersistErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "socwatch_alert_persist_errors_total",
			Help: "Alerts that could not be persisted",
		}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socwatch_notifications_total",
			Help: "Notification attempts, by result",
		}, []string{"result"}),
		GeoLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socwatch_geo_lookups_total",
			Help: "Geolocation lookups, by result",
		}, []string{"result"}),
		ForwardErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socwatch_forward_errors_total",
			Help: "Alert forwarding failures, by sink",
		}, []string{"sink"}),
		LineDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "socwatch_line_duration_seconds",
			Help:    "Time spent processing one log line",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncLine(stream string) {
	if m != nil {
		m.LinesTotal.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.EventsDroppedTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncAlert(attackType string) {
	if m != nil {
		m.AlertsTotal.WithLabelValues(attackType).Inc()
	}
}

func (m *Metrics) IncPersistError() {
	if m != nil {
		m.PersistErrorsTotal.Inc()
	}
}

func (m *Metrics) IncNotification(result string) {
	if m != nil {
		m.NotificationsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncGeoLookup(result string) {
	if m != nil {
		m.GeoLookupsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncForwardError(sink string) {
	if m != nil {
		m.ForwardErrorsTotal.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) ObserveLine(start time.Time) {
	if m != nil {
		m.LineDurationSeconds.Observe(time.Since(start).Seconds())
	}
}

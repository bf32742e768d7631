package collector

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "tracer_collector"

// Metrics holds every Prometheus series the collector exports about its
// own operation, in the style of api/prometheus.Exporter: a flat struct of
// *prometheus.Desc-shaped collectors registered once at startup.
type Metrics struct {
	ingestRequestsTotal   *prometheus.CounterVec
	ingestRejectedTotal   *prometheus.CounterVec
	ingestBytesTotal      prometheus.Counter
	connectedInstances    prometheus.GaugeFunc
	alertsEvaluatedTotal  prometheus.Counter
	notificationsTotal    *prometheus.CounterVec
	notificationDuration  prometheus.Histogram
	janitorSweepsTotal    prometheus.Counter
	janitorDeletedTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers the collector's metrics against reg.
// registry supplies the live instance count for the connectedInstances gauge.
func NewMetrics(reg *prometheus.Registry, registry *Registry) *Metrics {
	m := &Metrics{
		ingestRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_requests_total",
			Help:      "Number of instance snapshot updates received, by outcome.",
		}, []string{"outcome"}),
		ingestRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_rejected_total",
			Help:      "Number of snapshot updates rejected, by reason.",
		}, []string{"reason"}),
		ingestBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_bytes_total",
			Help:      "Total bytes of accepted snapshots, as counted by the byte budget.",
		}),
		alertsEvaluatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_evaluated_total",
			Help:      "Number of alert evaluation passes run.",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Number of notification delivery attempts, by channel kind and outcome.",
		}, []string{"kind", "outcome"}),
		notificationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "notification_duration_seconds",
			Help:      "Time spent sending a notification to a channel.",
			Buckets:   prometheus.DefBuckets,
		}),
		janitorSweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "janitor_sweeps_total",
			Help:      "Number of retention sweeps run by the janitor.",
		}),
		janitorDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "janitor_deleted_total",
			Help:      "Rows deleted by the janitor, by kind.",
		}, []string{"kind"}),
	}
	m.connectedInstances = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "connected_instances",
		Help:      "Number of instances currently connected across all services.",
	}, func() float64 {
		total := 0
		for _, svc := range registry.Services() {
			total += registry.InstanceCount(svc)
		}
		return float64(total)
	})

	reg.MustRegister(
		m.ingestRequestsTotal,
		m.ingestRejectedTotal,
		m.ingestBytesTotal,
		m.connectedInstances,
		m.alertsEvaluatedTotal,
		m.notificationsTotal,
		m.notificationDuration,
		m.janitorSweepsTotal,
		m.janitorDeletedTotal,
	)
	return m
}

// Handler exposes the registered metrics on the standard /metrics scrape path.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveIngestAccepted(bytes int) {
	m.ingestRequestsTotal.WithLabelValues("accepted").Inc()
	m.ingestBytesTotal.Add(float64(bytes))
}

func (m *Metrics) ObserveIngestRejected(reason string) {
	m.ingestRequestsTotal.WithLabelValues("rejected").Inc()
	m.ingestRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveAlertsEvaluated() {
	m.alertsEvaluatedTotal.Inc()
}

func (m *Metrics) ObserveNotification(kind, outcome string, seconds float64) {
	m.notificationsTotal.WithLabelValues(kind, outcome).Inc()
	m.notificationDuration.Observe(seconds)
}

func (m *Metrics) ObserveJanitorSweep() {
	m.janitorSweepsTotal.Inc()
}

func (m *Metrics) ObserveJanitorDeleted(kind string) {
	m.janitorDeletedTotal.WithLabelValues(kind).Inc()
}

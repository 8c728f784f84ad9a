package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
)

const namespace = "licensor"

// SettingsStore is the interface the metrics package needs from the config
// store to keep a stable instance label across restarts.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Collector owns a private Prometheus registry with the engine's operation
// metrics and the license population gauges.
type Collector struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	conflicts    *prometheus.CounterVec
	auditDropped *prometheus.CounterVec

	licenses  *prometheus.GaugeVec
	editions  *prometheus.GaugeVec
	binding   *prometheus.GaugeVec
	expiring  *prometheus.GaugeVec
	refreshed prometheus.Gauge
}

var _ license.Observer = (*Collector)(nil)

// New creates a Collector. instanceID, when non-empty, is attached to every
// series as a constant label.
func New(instanceID string) *Collector {
	var constLabels prometheus.Labels
	if instanceID != "" {
		constLabels = prometheus.Labels{"instance_id": instanceID}
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "operations_total",
			Help:        "License operations by outcome status.",
			ConstLabels: constLabels,
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "operation_duration_seconds",
			Help:        "License operation latency.",
			ConstLabels: constLabels,
			Buckets:     []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cas_conflicts_total",
			Help:        "Conditional writes rejected because the revision moved.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		auditDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "audit_dropped_total",
			Help:        "Usage log entries that were not delivered.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		licenses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "licenses",
			Help:        "Licenses by derived status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		editions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "licenses_by_edition",
			Help:        "Licenses by edition.",
			ConstLabels: constLabels,
		}, []string{"edition"}),
		binding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "licenses_bound",
			Help:        "Licenses by hardware binding.",
			ConstLabels: constLabels,
		}, []string{"bound"}),
		expiring: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "licenses_expiring",
			Help:        "Active licenses expiring within the window.",
			ConstLabels: constLabels,
		}, []string{"window"}),
		refreshed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "statistics_refreshed_timestamp_seconds",
			Help:        "Unix time of the last successful gauge refresh.",
			ConstLabels: constLabels,
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.operations, c.duration, c.conflicts, c.auditDropped,
		c.licenses, c.editions, c.binding, c.expiring, c.refreshed,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveOperation implements license.Observer.
func (c *Collector) ObserveOperation(op license.Operation, status license.Status, elapsed time.Duration) {
	c.operations.WithLabelValues(string(op), string(status)).Inc()
	c.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// ObserveConflict implements license.Observer.
func (c *Collector) ObserveConflict(op license.Operation) {
	c.conflicts.WithLabelValues(string(op)).Inc()
}

// AuditDropped counts an undelivered usage log entry. It matches the
// signature audit.WithDropHook expects.
func (c *Collector) AuditDropped(reason string) {
	c.auditDropped.WithLabelValues(reason).Inc()
}

// SetStatistics overwrites the population gauges from a snapshot.
func (c *Collector) SetStatistics(st model.Statistics, at time.Time) {
	c.licenses.WithLabelValues(string(model.LicenseActive)).Set(float64(st.Active))
	c.licenses.WithLabelValues(string(model.LicenseExpired)).Set(float64(st.Expired))
	c.licenses.WithLabelValues(string(model.LicenseRevoked)).Set(float64(st.Revoked))
	for e, n := range st.ByEdition {
		c.editions.WithLabelValues(string(e)).Set(float64(n))
	}
	c.binding.WithLabelValues("true").Set(float64(st.Bound))
	c.binding.WithLabelValues("false").Set(float64(st.Unbound))
	c.expiring.WithLabelValues("7d").Set(float64(st.ExpiringIn7d))
	c.expiring.WithLabelValues("30d").Set(float64(st.ExpiringIn30d))
	c.refreshed.Set(float64(at.Unix()))
}

// ResolveInstanceID loads or generates a persistent instance ID.
func ResolveInstanceID(ctx context.Context, store SettingsStore) string {
	if store != nil {
		id, err := store.GetSetting(ctx, "instance_id")
		if err == nil && id != "" {
			return id
		}
	}

	id := uuid.New().String()

	if store != nil {
		_ = store.SetSetting(ctx, "instance_id", id)
	}
	return id
}

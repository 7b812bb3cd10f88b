package kpi

import (
	"net/http"

	"github.com/denismitr/voltha/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter mirrors the last collected PM values as gauges
type PrometheusExporter struct {
	registry    *prometheus.Registry
	values      *prometheus.GaugeVec
	collections *prometheus.CounterVec
}

func NewPrometheusExporter(namespace string) *PrometheusExporter {
	e := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		values: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "onu_pm_value",
				Help:      "Last collected value of an ONU performance metric",
			},
			[]string{"device_id", "group", "metric", "intf_id"},
		),
		collections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "onu_pm_collections_total",
				Help:      "Total number of collected ONU metric groups",
			},
			[]string{"device_id", "group"},
		),
	}

	e.registry.MustRegister(e.values, e.collections)
	return e
}

func (e *PrometheusExporter) Registry() *prometheus.Registry { return e.registry }

func (e *PrometheusExporter) Observe(metrics []*events.MetricInformation) {
	for _, mi := range metrics {
		md := mi.Metadata
		intfID := md.Context["intf_id"]

		e.collections.WithLabelValues(md.DeviceID, md.Title).Inc()
		for name, v := range mi.Metrics {
			e.values.WithLabelValues(md.DeviceID, md.Title, name, intfID).Set(float64(v))
		}
	}
}

// Handler serves the registry in the Prometheus text format
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Package metrics defines the Prometheus collectors exported at /metrics.
// All observe helpers are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ingestion"

// Metrics groups every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	DataPoints    *prometheus.CounterVec
	ActiveDevices prometheus.Gauge
	BusMessages   *prometheus.CounterVec
	Alerts        *prometheus.CounterVec
	MQTTMessages  *prometheus.CounterVec
	MQTTInflight  prometheus.Gauge
}

// New registers all collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		DataPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_points_processed_total",
			Help:      "Total data points forwarded to the bus",
		}, []string{"source", "device_type"}),
		ActiveDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_devices_count",
			Help:      "Number of devices seen in the last five minutes",
		}),
		BusMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_produced_total",
			Help:      "Total messages produced to the bus",
		}, []string{"topic", "status"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Total alert events raised by the evaluator",
		}, []string{"severity"}),
		MQTTMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_total",
			Help:      "Total MQTT messages received, by type and outcome",
		}, []string{"type", "outcome"}),
		MQTTInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_inflight_dispatches",
			Help:      "MQTT messages currently being processed",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.DataPoints,
		m.ActiveDevices,
		m.BusMessages,
		m.Alerts,
		m.MQTTMessages,
		m.MQTTInflight,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}

	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObservePublish(topic string, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.BusMessages.WithLabelValues(topic, status).Inc()
}

func (m *Metrics) AddDataPoints(source, deviceType string, n int) {
	if m == nil {
		return
	}

	if deviceType == "" {
		deviceType = "unknown"
	}

	m.DataPoints.WithLabelValues(source, deviceType).Add(float64(n))
}

func (m *Metrics) AddAlert(severity string) {
	if m == nil {
		return
	}

	m.Alerts.WithLabelValues(severity).Inc()
}

func (m *Metrics) SetActiveDevices(n int64) {
	if m == nil {
		return
	}

	m.ActiveDevices.Set(float64(n))
}

func (m *Metrics) ObserveMQTTMessage(msgType, outcome string) {
	if m == nil {
		return
	}

	m.MQTTMessages.WithLabelValues(msgType, outcome).Inc()
}

func (m *Metrics) MQTTDispatchStarted() {
	if m == nil {
		return
	}

	m.MQTTInflight.Inc()
}

func (m *Metrics) MQTTDispatchDone() {
	if m == nil {
		return
	}

	m.MQTTInflight.Dec()
}

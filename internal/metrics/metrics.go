// Package metrics exposes bridge counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leafspy"

// Request results.
const (
	ResultOK           = "ok"
	ResultUnauthorized = "unauthorized"
	ResultDecodeError  = "decode_error"
	ResultError        = "error"
)

// Metrics holds the collectors of one bridge instance on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	newDevices      prometheus.Counter
	entitiesCreated *prometheus.CounterVec
	entitiesUpdated *prometheus.CounterVec
	transformFails  *prometheus.CounterVec
	hostFails       *prometheus.CounterVec
	lastMessage     *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_requests_total",
				Help:      "Webhook requests by result",
			},
			[]string{"result"},
		),
		newDevices: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "new_devices_total",
				Help:      "Vehicles seen for the first time",
			},
		),
		entitiesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_created_total",
				Help:      "Entities created from live messages",
			},
			[]string{"platform"},
		),
		entitiesUpdated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_updated_total",
				Help:      "Entity state updates from live messages",
			},
			[]string{"platform"},
		),
		transformFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transform_failures_total",
				Help:      "Values skipped because their transform failed",
			},
			[]string{"platform", "key"},
		),
		hostFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_write_failures_total",
				Help:      "Entity writes the host did not accept",
			},
			[]string{"platform", "key"},
		),
		lastMessage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_message_timestamp_seconds",
				Help:      "Unix time of the last accepted message per device",
			},
			[]string{"device"},
		),
	}

	m.registry.MustRegister(m.requests)
	m.registry.MustRegister(m.newDevices)
	m.registry.MustRegister(m.entitiesCreated)
	m.registry.MustRegister(m.entitiesUpdated)
	m.registry.MustRegister(m.transformFails)
	m.registry.MustRegister(m.hostFails)
	m.registry.MustRegister(m.lastMessage)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Request counts one webhook request.
func (m *Metrics) Request(result string) { m.requests.WithLabelValues(result).Inc() }

// NewDevice counts a first-seen vehicle.
func (m *Metrics) NewDevice() { m.newDevices.Inc() }

// MessageAccepted records the time of the last message for device.
func (m *Metrics) MessageAccepted(device string, at time.Time) {
	m.lastMessage.WithLabelValues(device).Set(float64(at.Unix()))
}

func (m *Metrics) EntityCreated(platform string) { m.entitiesCreated.WithLabelValues(platform).Inc() }

func (m *Metrics) EntityUpdated(platform string) { m.entitiesUpdated.WithLabelValues(platform).Inc() }

func (m *Metrics) TransformFailed(platform, key string) {
	m.transformFails.WithLabelValues(platform, key).Inc()
}

func (m *Metrics) HostWriteFailed(platform, key string) {
	m.hostFails.WithLabelValues(platform, key).Inc()
}

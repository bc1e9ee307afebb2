// Package metrics exposes the bridge's operational counters and gauges for
// Prometheus scraping via /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simfan_telemetry_samples_total",
			Help: "Total number of OutGauge samples received",
		},
	)

	TelemetryTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simfan_telemetry_timeouts_total",
			Help: "Total number of telemetry read timeouts (game idle)",
		},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simfan_telemetry_decode_errors_total",
			Help: "Total number of malformed OutGauge frames",
		},
	)

	CommandsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simfan_commands_dispatched_total",
			Help: "Total number of fan commands delivered to the device",
		},
	)

	CommandsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simfan_commands_suppressed_total",
			Help: "Total number of samples whose fan value was suppressed by the rate limiter",
		},
	)

	TransportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simfan_transport_failures_total",
			Help: "Total number of failed device commands",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simfan_device_reconnects_total",
			Help: "Total number of successful device reconnects",
		},
	)

	VehicleSpeedKMH = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simfan_vehicle_speed_kmh",
			Help: "Most recent vehicle speed in km/h",
		},
	)

	FanSpeed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simfan_fan_speed_percent",
			Help: "Most recent computed fan duty percentage",
		},
	)

	CompensationValue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simfan_rate_compensation_value",
			Help: "Most recent signed rate-compensation delta applied to the base fan speed",
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DevicesRegistered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tvlink_devices_registered_total",
			Help: "Devices registered since process start.",
		},
	)

	PairRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvlink_pair_redemptions_total",
			Help: "Pairing code redemptions by result.",
		},
		[]string{"result"},
	)

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvlink_commands_total",
			Help: "Dispatched commands by outcome.",
		},
		[]string{"status"},
	)

	Acks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvlink_acks_total",
			Help: "Command acknowledgments by whether they matched a pending command.",
		},
		[]string{"matched"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvlink_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		},
		[]string{"route", "method", "code"},
	)

	AckWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvlink_ack_wait_seconds",
			Help:    "Time spent waiting for a device acknowledgment.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(DevicesRegistered, PairRedemptions, Commands, Acks, HTTPRequests, AckWait)
}

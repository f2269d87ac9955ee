// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// APIRequestsTotal counts feed requests by command and outcome.
	// outcome: success, http, parse, permission, not_ready, api, rejected, transport
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teslafi_api_requests_total",
			Help: "Total number of TeslaFi feed requests.",
		},
		[]string{"command", "outcome"},
	)

	// APIRequestLatency records feed round trip time.
	APIRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teslafi_api_request_latency_seconds",
			Help:    "Latency of TeslaFi feed requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// PollsTotal counts coordinator refreshes per entry. result: success/failed
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teslafi_polls_total",
			Help: "Total number of vehicle state refreshes.",
		},
		[]string{"entry", "result"},
	)

	// NextPollSeconds is the interval chosen by the last scheduling decision.
	NextPollSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teslafi_next_poll_seconds",
			Help: "Delay until the next scheduled refresh.",
		},
		[]string{"entry"},
	)

	// ChargeSessionsTotal counts detected charge session starts.
	ChargeSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teslafi_charge_sessions_total",
			Help: "Total number of charge sessions detected.",
		},
		[]string{"entry"},
	)

	// PendingEntities is the number of entities awaiting confirmation of a
	// commanded state.
	PendingEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teslafi_pending_entities",
			Help: "Entities waiting for the vehicle to confirm a command.",
		},
		[]string{"platform"},
	)

	// MQTTCommandsTotal counts command topic messages.
	// result: success, failed, ignored
	MQTTCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teslafi_mqtt_commands_total",
			Help: "Total number of commands received over MQTT.",
		},
		[]string{"platform", "result"},
	)

	// HTTPRequestsTotal counts API requests by route and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teslafi_http_requests_total",
			Help: "Total number of HTTP API requests.",
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestLatency)
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(NextPollSeconds)
	prometheus.MustRegister(ChargeSessionsTotal)
	prometheus.MustRegister(PendingEntities)
	prometheus.MustRegister(MQTTCommandsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Package metrics holds the Prometheus collectors shared by the bus, the
// context store, the subprocess protocol and the monitor server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Bus metrics
	EnvelopesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbus_envelopes_sent_total",
			Help: "Envelopes appended to a mailbox",
		},
		[]string{"type"},
	)

	EnvelopesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbus_envelopes_rejected_total",
			Help: "Envelopes the bus refused to deliver",
		},
		[]string{"reason"}, // "recipient_not_found" or "mailbox_full"
	)

	ReceiveTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbus_receive_timeouts_total",
			Help: "Receives that returned no message",
		},
	)

	// Context store metrics
	ContextsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbus_contexts_created_total",
			Help: "Context bundles created",
		},
	)

	ContextsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbus_contexts_evicted_total",
			Help: "Context bundles removed by the TTL sweep",
		},
	)

	// Protocol metrics
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentbus_mcp_request_duration_seconds",
			Help:    "Protocol client request latency including queueing on the request lock",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbus_mcp_requests_total",
			Help: "Protocol client requests by outcome",
		},
		[]string{"outcome"}, // "ok", "error_response", "timeout", "cancelled", "write_failure", "exited"
	)

	StaleResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbus_mcp_stale_responses_total",
			Help: "Responses discarded because their id did not match the pending request",
		},
	)

	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbus_mcp_commands_handled_total",
			Help: "Protocol server commands by result",
		},
		[]string{"cmd", "ok"},
	)

	// Monitor server metrics
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentbus_monitor_ws_clients",
			Help: "Connected envelope stream clients",
		},
	)

	WSDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbus_monitor_ws_dropped_total",
			Help: "Envelopes not streamed because a client fell behind",
		},
	)
)

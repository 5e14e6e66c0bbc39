// Package bridgemetrics instruments Provider/Gateway state with Prometheus,
// the client-side analogue of a relay's own promauto gauges and counters
// for active connections and messages transferred.
package bridgemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveProviders counts Provider instances currently in the Connected state.
	ActiveProviders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridgesdk_active_providers",
		Help: "Number of bridgesdk Providers currently connected.",
	})

	// ReconnectsTotal counts every reconnect attempt triggered by a watchdog
	// or error handler.
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridgesdk_reconnects_total",
		Help: "Total number of reconnects triggered by the heartbeat watchdog or gateway error handler.",
	})

	// MessagesSentTotal counts successful Provider.send calls.
	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridgesdk_messages_sent_total",
		Help: "Total number of messages successfully POSTed to the relay.",
	})

	// MessagesReceivedTotal counts non-heartbeat frames delivered to the user listener.
	MessagesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridgesdk_messages_received_total",
		Help: "Total number of non-heartbeat SSE frames delivered to the user listener.",
	})

	// DecodeFailuresTotal counts frames that failed to parse or decrypt.
	DecodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridgesdk_decode_failures_total",
		Help: "Total number of incoming frames that failed to parse or decrypt.",
	})
)

// Package telemetry exposes client-side counters on the default prometheus
// registry; binaries that want them scraped mount promhttp.Handler().
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamEvents counts decoded stream events by canonical type.
	StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrachat_stream_events_total",
		Help: "Decoded event-stream frames by event type.",
	}, []string{"type"})

	// StreamDiscards counts frames carrying no recognizable envelope.
	StreamDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrachat_stream_discarded_frames_total",
		Help: "Frames dropped because neither envelope shape matched.",
	})

	// Reconnects counts socket reconnect attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrachat_stream_reconnects_total",
		Help: "Reconnect attempts after abnormal socket closure.",
	})

	// Sends counts message send attempts by outcome.
	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrachat_sends_total",
		Help: "Chat message send attempts by outcome.",
	}, []string{"outcome"})

	// TokenRefreshes counts credential refresh operations actually issued.
	TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrachat_token_refreshes_total",
		Help: "Credential refresh operations performed.",
	})
)

// Package metrics exposes the bridge's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteSessions tracks currently connected remote sessions.
	RemoteSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ucbridge_remote_sessions",
		Help: "Number of connected remote sessions",
	})

	// EntityEventsForwarded counts state changes translated and broadcast.
	EntityEventsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ucbridge_entity_events_forwarded_total",
		Help: "Home Assistant state changes forwarded to remotes",
	})

	// ServiceCalls counts call_service requests by domain and service.
	ServiceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ucbridge_service_calls_total",
		Help: "Service calls sent to Home Assistant",
	}, []string{"domain", "service"})

	// ReconnectAttempts counts Home Assistant reconnection attempts.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ucbridge_ha_reconnect_attempts_total",
		Help: "Reconnection attempts to Home Assistant",
	})

	// AssistAudioChunks counts voice audio chunks forwarded upstream.
	AssistAudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ucbridge_assist_audio_chunks_total",
		Help: "Assist pipeline audio chunks forwarded to Home Assistant",
	})
)

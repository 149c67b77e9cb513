package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	openConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perpatame_ws_connections",
		Help: "Open websocket connections per channel",
	}, []string{"channel"})

	closedConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpatame_ws_disconnects_total",
		Help: "Closed websocket connections by channel and reason",
	}, []string{"channel", "reason"})

	// Broadcast metrics
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpatame_events_published_total",
		Help: "Moderation events published by type and origin",
	}, []string{"type", "origin"})

	messagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpatame_ws_messages_enqueued_total",
		Help: "Messages enqueued to connection send buffers per channel",
	}, []string{"channel"})

	// Moderation metrics
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpatame_submissions_total",
		Help: "Story submissions by outcome",
	}, []string{"outcome"})

	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpatame_decisions_total",
		Help: "Moderation decisions by action and outcome",
	}, []string{"action", "outcome"})

	// Gateway metrics
	gatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpatame_gateway_latency_seconds",
		Help:    "External gateway call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	}, []string{"gateway", "status"})
)

// Disconnect reasons.
const (
	ReasonClientClosed = "client_closed"
	ReasonBackpressure = "backpressure"
	ReasonLiveness     = "liveness_timeout"
	ReasonShutdown     = "shutdown"
)

// ConnectionOpened records a connection attached to channel.
func ConnectionOpened(channel string) {
	openConnections.WithLabelValues(channel).Inc()
}

// ConnectionClosed records a connection removed from channel.
func ConnectionClosed(channel, reason string) {
	openConnections.WithLabelValues(channel).Dec()
	closedConnections.WithLabelValues(channel, reason).Inc()
}

// EventPublished records a moderation event fanned out locally.
func EventPublished(eventType, origin string) {
	eventsPublished.WithLabelValues(eventType, origin).Inc()
}

// MessagesEnqueued records n messages handed to send buffers on channel.
func MessagesEnqueued(channel string, n int) {
	if n > 0 {
		messagesDelivered.WithLabelValues(channel).Add(float64(n))
	}
}

// Submission records a submission outcome.
func Submission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// Decision records a moderation decision outcome.
func Decision(action, outcome string) {
	decisions.WithLabelValues(action, outcome).Inc()
}

// ObserveGateway records the latency of an external gateway call.
func ObserveGateway(gateway, status string, d time.Duration) {
	gatewayLatency.WithLabelValues(gateway, status).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

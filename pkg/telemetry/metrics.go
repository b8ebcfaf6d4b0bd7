// Package telemetry exposes prometheus collectors for the relay. Scrape
// them from /metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks currently registered identities.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whisperchat_active_sessions",
		Help: "Number of live websocket sessions.",
	})

	// HandshakeFailures counts rejected handshakes.
	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisperchat_handshake_failures_total",
		Help: "Handshakes rejected for missing or invalid credentials.",
	})

	// MessagesRelayed counts messages enqueued to a live recipient.
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisperchat_messages_relayed_total",
		Help: "Messages relayed to a connected recipient.",
	})

	// MessagesDropped counts best-effort enqueues that were dropped.
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisperchat_messages_dropped_total",
		Help: "Outbound payloads dropped due to a full or orphaned queue.",
	})

	// MalformedFrames counts inbound frames without a delimiter.
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisperchat_malformed_frames_total",
		Help: "Inbound frames silently dropped for missing the recipient delimiter.",
	})

	// HistoryReplays counts completed history replays.
	HistoryReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisperchat_history_replays_total",
		Help: "History replays streamed to connecting clients.",
	})

	// StatusTransitions counts bulk delivery-status advances by edge.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whisperchat_status_transitions_total",
		Help: "Message rows advanced through the delivery lifecycle.",
	}, []string{"from", "to"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whisperchat_http_request_duration_seconds",
		Help:    "HTTP request latency by path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"})
)

// Middleware instruments plain HTTP endpoints. Websocket upgrades are
// excluded: their duration is the connection lifetime, not a request
// latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		next.ServeHTTP(w, r)
		httpDuration.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())
	})
}

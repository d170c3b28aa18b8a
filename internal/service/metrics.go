package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/session"
)

// Metrics holds the Prometheus metrics of the gateway service.
// A nil *Metrics records nothing.
type Metrics struct {
	TranslationsTotal     *prometheus.CounterVec
	UpstreamDuration      *prometheus.HistogramVec
	HandshakesTotal       *prometheus.CounterVec
	HandshakeDuration     prometheus.Histogram
	SessionInvalidations  prometheus.Counter
	SessionReplaysTotal   prometheus.Counter
	SkippedStreamMessages prometheus.Counter
}

// NewMetrics creates and registers the gateway metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		TranslationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "translations_total",
				Help:      "Total JSON-RPC calls translated, by method and outcome",
			},
			[]string{"method", "outcome"}, // outcome=ok/timeout/transport/protocol/session_invalid/internal
		),
		UpstreamDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcp_bridge",
				Name:      "upstream_duration_seconds",
				Help:      "Time from receiving a call to having its translated response",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		HandshakesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "session_handshakes_total",
				Help:      "Total upstream initialize handshakes, by result",
			},
			[]string{"result"}, // result=ok/rejected/error
		),
		HandshakeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mcp_bridge",
				Name:      "session_handshake_duration_seconds",
				Help:      "Upstream handshake duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SessionInvalidations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "session_invalidations_total",
				Help:      "Total upstream sessions dropped after the upstream rejected them",
			},
		),
		SessionReplaysTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "session_replays_total",
				Help:      "Total calls replayed on a fresh session",
			},
		),
		SkippedStreamMessages: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "skipped_stream_messages_total",
				Help:      "Stream messages that were not the response to the call (server requests, notifications, unparseable frames)",
			},
		),
	}
}

// HandshakeCompleted implements session.Observer.
func (m *Metrics) HandshakeCompleted(d time.Duration, err error) {
	if m == nil {
		return
	}
	var rejected *session.RejectedError
	result := "ok"
	switch {
	case errors.As(err, &rejected):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	m.HandshakesTotal.WithLabelValues(result).Inc()
	m.HandshakeDuration.Observe(d.Seconds())
}

// SessionInvalidated implements session.Observer.
func (m *Metrics) SessionInvalidated() {
	if m == nil {
		return
	}
	m.SessionInvalidations.Inc()
}

func (m *Metrics) observeTranslation(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TranslationsTotal.WithLabelValues(method, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) replayed() {
	if m == nil {
		return
	}
	m.SessionReplaysTotal.Inc()
}

func (m *Metrics) skipped() {
	if m == nil {
		return
	}
	m.SkippedStreamMessages.Inc()
}

var _ session.Observer = (*Metrics)(nil)

// Package telemetry holds the Prometheus metrics shared across components.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	MessagesTotal         *prometheus.CounterVec
	MessagesDropped       *prometheus.CounterVec
	RenderFallbacks       *prometheus.CounterVec
	Transitions           *prometheus.CounterVec
	ConnectionState       *prometheus.GaugeVec
	HistoryWriteFailures  prometheus.Counter
	HistorySize           prometheus.Gauge
	Viewers               prometheus.Gauge
	TranscriptsUploaded   prometheus.Counter
	TranscriptUploadFails prometheus.Counter
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmux_messages_total", Help: "Canonical messages published"}, []string{"platform"})
		MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmux_messages_dropped_total", Help: "Raw events that could not be normalized"}, []string{"platform"})
		RenderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmux_render_fallbacks_total", Help: "Renders that fell back past the structured tier"}, []string{"tier"})
		Transitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmux_transitions_total", Help: "Accepted connection state transitions"}, []string{"platform", "to"})
		ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "chatmux_connection_state", Help: "Connection state per platform (0=disconnected 1=connecting 2=connected 3=disconnecting)"}, []string{"platform"})
		HistoryWriteFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmux_history_write_failures_total", Help: "History persistence failures"})
		HistorySize = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmux_history_size", Help: "Messages currently retained in history"})
		Viewers = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmux_viewers", Help: "Connected viewer sockets"})
		TranscriptsUploaded = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmux_transcripts_uploaded_total", Help: "Transcript files uploaded"})
		TranscriptUploadFails = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmux_transcript_upload_failures_total", Help: "Transcript files that exhausted upload retries"})
	})
}

// IncCounter adds one to c if metrics are initialized.
func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncVec adds one to the labelled counter if metrics are initialized.
func IncVec(v *prometheus.CounterVec, labels ...string) {
	if v != nil {
		v.WithLabelValues(labels...).Inc()
	}
}

// SetGauge sets g if metrics are initialized.
func SetGauge(g prometheus.Gauge, value float64) {
	if g != nil {
		g.Set(value)
	}
}

// SetGaugeVec sets the labelled gauge if metrics are initialized.
func SetGaugeVec(v *prometheus.GaugeVec, value float64, labels ...string) {
	if v != nil {
		v.WithLabelValues(labels...).Set(value)
	}
}

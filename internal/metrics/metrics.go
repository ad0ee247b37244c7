package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline counters. Registered once at package init; cheap enough to bump
// from the per-session hot path.
var (
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_frames_decoded_total",
		Help: "Inbound audio frames successfully decoded.",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_decode_errors_total",
		Help: "Inbound audio frames dropped due to decode errors.",
	})
	TurnsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_turns_flushed_total",
		Help: "Utterances flushed to recognition after turn-end.",
	})
	TurnsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_turns_discarded_total",
		Help: "Utterances discarded below the minimum frame floor.",
	})
	Aborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_aborts_total",
		Help: "Barge-in or explicit abort events.",
	})
	FragmentsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_fragments_sent_total",
		Help: "Speech fragments delivered to clients.",
	})
	FragmentsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_fragments_filtered_total",
		Help: "Speech fragments dropped at the consumer boundary after an abort.",
	})
	RecognitionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicegate_recognition_seconds",
		Help:    "Wall time for the combined STT+voiceprint recognition step.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicegate_sessions_active",
		Help: "Currently connected sessions.",
	})
)

// Handler returns the prometheus scrape handler for the admin mux.
func Handler() http.Handler { return promhttp.Handler() }

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bridge.
// Observe helpers are nil-safe so components can run without metrics in tests.
type Metrics struct {
	CurrentMode       prometheus.Gauge
	ModeTransitions   *prometheus.CounterVec
	TranscriptEvents  *prometheus.CounterVec
	MicFrames         *prometheus.CounterVec
	Dispatches        *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	TurnLatency       prometheus.Histogram
	FirstAudioLatency prometheus.Histogram
	TTSSegments       *prometheus.CounterVec
	PlaybackBlocks    *prometheus.CounterVec
	PlaybackBuffered  prometheus.Gauge
	PlaybackStates    *prometheus.CounterVec
	BrowserClients    prometheus.Gauge
	WSMessages        *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec

	stages *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		CurrentMode: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_mode",
			Help:      "Current session mode (0=off, 1=detect, 2=active).",
		}),
		ModeTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_transitions_total",
			Help:      "Session mode transitions by source and destination mode.",
		}, []string{"from", "to"}),
		TranscriptEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_events_total",
			Help:      "Transcript events by finalization outcome.",
		}, []string{"kind"}),
		MicFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mic_frames_total",
			Help:      "Captured audio frames by gate result.",
		}, []string{"source", "result"}),
		Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Utterances sent to the external sink by result.",
		}, []string{"result"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool name and result.",
		}, []string{"tool", "result"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Wall time of one conversation turn in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from queued assistant text to its first synthesized audio in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		TTSSegments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_segments_total",
			Help:      "Synthesized text segments by result.",
		}, []string{"result"}),
		PlaybackBlocks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_blocks_total",
			Help:      "Blocks pushed to the output device by kind.",
		}, []string{"kind"}),
		PlaybackBuffered: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_buffered_samples",
			Help:      "Samples waiting in the playback queue.",
		}),
		PlaybackStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_state_changes_total",
			Help:      "Playback start/stop notifications.",
		}, []string{"state"}),
		BrowserClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_clients",
			Help:      "Connected browser websocket clients.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		stages: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveMode(from, to string, value int) {
	if m == nil {
		return
	}
	m.ModeTransitions.WithLabelValues(from, to).Inc()
	m.CurrentMode.Set(float64(value))
}

func (m *Metrics) ObserveTranscript(kind string) {
	if m == nil {
		return
	}
	m.TranscriptEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveMicFrame(source, result string) {
	if m == nil {
		return
	}
	m.MicFrames.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ObserveDispatch(result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe("turn_total", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe("text_to_first_audio", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTTSSegment(result string) {
	if m == nil {
		return
	}
	m.TTSSegments.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePlaybackBlock(kind string, buffered int) {
	if m == nil {
		return
	}
	m.PlaybackBlocks.WithLabelValues(kind).Inc()
	m.PlaybackBuffered.Set(float64(buffered))
}

func (m *Metrics) ObservePlaybackState(state string) {
	if m == nil {
		return
	}
	m.PlaybackStates.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

// ObserveStage records a latency sample for the rolling stage window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

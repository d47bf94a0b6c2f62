// Package metrics provides Prometheus collectors for the clip recorder
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Playback results
const (
	PlaybackOK       = "ok"
	PlaybackNotFound = "not_found"
	PlaybackFailed   = "failed"
)

// RecorderMetrics contains Prometheus metrics for the recording lifecycle.
// A nil *RecorderMetrics is valid and records nothing.
type RecorderMetrics struct {
	recordingsStarted   prometheus.Counter
	recordingsFinalized prometheus.Counter
	recordingsDiscarded prometheus.Counter
	captureErrors       *prometheus.CounterVec
	playback            *prometheus.CounterVec
	recordingActive     prometheus.Gauge

	collectors []prometheus.Collector
}

// NewRecorderMetrics creates the recorder metrics and registers them with reg.
func NewRecorderMetrics(reg prometheus.Registerer) (*RecorderMetrics, error) {
	m := &RecorderMetrics{}
	m.initMetrics()
	for _, c := range m.collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *RecorderMetrics) initMetrics() {
	m.recordingsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipstage_recordings_started_total",
		Help: "Total number of recordings started",
	})
	m.recordingsFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipstage_recordings_finalized_total",
		Help: "Total number of staged recordings committed to storage",
	})
	m.recordingsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipstage_recordings_discarded_total",
		Help: "Total number of staged recordings discarded",
	})
	m.captureErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipstage_capture_errors_total",
			Help: "Total number of capture failures by reason",
		},
		[]string{"reason"},
	)
	m.playback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipstage_playback_total",
			Help: "Total number of playback requests by result",
		},
		[]string{"result"},
	)
	m.recordingActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipstage_recording_active",
		Help: "1 while a capture is running",
	})

	m.collectors = []prometheus.Collector{
		m.recordingsStarted,
		m.recordingsFinalized,
		m.recordingsDiscarded,
		m.captureErrors,
		m.playback,
		m.recordingActive,
	}
}

// RecordingStarted counts a started capture and marks the recorder active.
func (m *RecorderMetrics) RecordingStarted() {
	if m == nil {
		return
	}
	m.recordingsStarted.Inc()
	m.recordingActive.Set(1)
}

// RecordingStopped clears the active flag.
func (m *RecorderMetrics) RecordingStopped() {
	if m == nil {
		return
	}
	m.recordingActive.Set(0)
}

func (m *RecorderMetrics) RecordingFinalized() {
	if m == nil {
		return
	}
	m.recordingsFinalized.Inc()
}

func (m *RecorderMetrics) RecordingDiscarded() {
	if m == nil {
		return
	}
	m.recordingsDiscarded.Inc()
}

// CaptureError counts a capture failure. reason is a short label such as
// "busy" or "not_found".
func (m *RecorderMetrics) CaptureError(reason string) {
	if m == nil {
		return
	}
	m.captureErrors.WithLabelValues(reason).Inc()
}

// Playback counts a playback request with one of the Playback* results.
func (m *RecorderMetrics) Playback(result string) {
	if m == nil {
		return
	}
	m.playback.WithLabelValues(result).Inc()
}

package manager

import (
	"log/slog"
	"time"

	"github.com/audiolibrelab/clipstage/internal/audio"
	"github.com/audiolibrelab/clipstage/internal/metrics"
)

// Option configures a Manager
type Option func(*Manager)

// WithBackend injects an audio backend, bypassing selection. The caller
// keeps ownership: Cleanup does not close it.
func WithBackend(b audio.Backend) Option {
	return func(m *Manager) { m.backend = b }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(rm *metrics.RecorderMetrics) Option {
	return func(m *Manager) { m.metrics = rm }
}

// WithTempDir stages recordings in dir instead of a private temp directory.
// The directory is not removed by Cleanup.
func WithTempDir(dir string) Option {
	return func(m *Manager) { m.tempDir = dir }
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/clipstage/internal/metrics"
)

// PlayAudio plays identifier on the configured output device. An
// identifier naming an existing file is played as a file; anything else is
// treated as a button ID. Missing recordings and playback failures return
// false without an error. Only a malformed identifier is an error.
func (m *Manager) PlayAudio(ctx context.Context, identifier string) (bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false, fmt.Errorf("%w: empty identifier", ErrInvalidArgument)
	}
	if fileExists(identifier) {
		return m.PlayFile(ctx, identifier), nil
	}
	return m.PlayButton(ctx, identifier), nil
}

// PlayButton plays the recording bound to id.
func (m *Manager) PlayButton(ctx context.Context, id string) bool {
	rec, ok := m.RecordingInfo(id)
	if !ok {
		m.logger.Debug("no recording for button", "button_id", id)
		m.metrics.Playback(metrics.PlaybackNotFound)
		return false
	}
	if !fileExists(rec.Path) {
		m.logger.Warn("recording file missing", "button_id", id, "path", rec.Path)
		m.metrics.Playback(metrics.PlaybackNotFound)
		return false
	}
	return m.play(ctx, rec.Path)
}

// PlayFile plays the WAV file at path.
func (m *Manager) PlayFile(ctx context.Context, path string) bool {
	if !fileExists(path) {
		m.logger.Debug("audio file not found", "path", path)
		m.metrics.Playback(metrics.PlaybackNotFound)
		return false
	}
	return m.play(ctx, path)
}

func (m *Manager) play(ctx context.Context, path string) bool {
	device := m.cfg.OutputDevice()
	m.logger.Debug("playing", "path", path, "device", device)
	if err := m.backend.Play(ctx, path, device); err != nil {
		if ctx.Err() != nil {
			m.logger.Debug("playback interrupted", "path", path)
		} else {
			m.logger.Warn("playback failed", "path", path, "error", err)
		}
		m.metrics.Playback(metrics.PlaybackFailed)
		return false
	}
	m.metrics.Playback(metrics.PlaybackOK)
	return true
}

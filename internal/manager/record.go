package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/clipstage/internal/audio"
	"github.com/audiolibrelab/clipstage/internal/codec"
)

// recording tracks one capture from device open until it is staged.
type recording struct {
	staging  *Staging
	capture  *audio.Capture
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	result   *Staging
	err      error
}

func (r *recording) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// RecordToTemp captures audio for buttonID until ctx is cancelled, the
// configured maximum duration elapses, StopRecording is called or the device
// ends the stream. The result is staged, not committed.
func (m *Manager) RecordToTemp(ctx context.Context, buttonID, hint string) (*Staging, error) {
	rec, err := m.beginRecording(buttonID, hint)
	if err != nil {
		return nil, err
	}
	m.run(ctx, rec)
	if rec.err != nil {
		return nil, rec.err
	}
	st := *rec.result
	return &st, nil
}

// RecordThreaded starts a capture for buttonID and returns once the device
// is open. The capture runs until StopRecording, the maximum duration or the
// end of the device stream.
func (m *Manager) RecordThreaded(buttonID, hint string) error {
	rec, err := m.beginRecording(buttonID, hint)
	if err != nil {
		return err
	}
	go m.run(context.Background(), rec)
	return nil
}

// StopRecording ends the active capture and returns its staging record. With
// no capture running it is a no-op returning the record already staged, if
// any.
func (m *Manager) StopRecording() (*Staging, error) {
	m.mu.Lock()
	rec := m.active
	if rec == nil {
		var st *Staging
		if m.staged != nil {
			cp := *m.staged
			st = &cp
		}
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	m.logger.Debug("stop requested", "button_id", rec.staging.ButtonID)
	rec.requestStop()
	<-rec.done
	if rec.err != nil {
		return nil, rec.err
	}
	st := *rec.result
	return &st, nil
}

// beginRecording moves IDLE to RECORDING and opens the capture device. The
// state is claimed before the device is opened so a concurrent call fails
// with ErrRecordingActive instead of opening the device twice.
func (m *Manager) beginRecording(buttonID, hint string) (*recording, error) {
	buttonID = strings.TrimSpace(buttonID)
	if buttonID == "" {
		return nil, fmt.Errorf("%w: button id must not be empty", ErrInvalidArgument)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: manager is closed", ErrStateConflict)
	}
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", ErrRecordingActive, state)
	}
	id := uuid.NewString()
	rec := &recording{
		staging: &Staging{
			ID:              id,
			ButtonID:        buttonID,
			MessageTypeHint: hint,
			TempPath:        filepath.Join(m.tempDir, fmt.Sprintf("%s_%s.wav", cleanFileName(buttonID), id[:8])),
			SampleRate:      m.cfg.Audio.SampleRate,
			Channels:        m.cfg.Audio.Channels,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.state = StateRecording
	m.active = rec
	m.mu.Unlock()

	capCfg := audio.CaptureConfig{
		SampleRate: m.cfg.Audio.SampleRate,
		Channels:   m.cfg.Audio.Channels,
		PeriodSize: m.cfg.Audio.PeriodSize,
		Device:     m.cfg.InputDevice(),
	}
	m.logger.Debug("opening capture device", "button_id", buttonID, "device", capCfg.Device)
	capture, err := m.backend.StartCapture(capCfg, m.emitLevel)
	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.active = nil
		m.mu.Unlock()
		rec.err = err
		close(rec.done)
		m.metrics.CaptureError(captureErrorReason(err))
		return nil, m.fail("start recording", err)
	}

	rec.capture = capture
	rec.staging.StartedAt = capture.StartedAt()
	m.metrics.RecordingStarted()
	m.clearLastError()
	m.logger.Info("recording started", "button_id", buttonID, "hint", hint)
	return rec, nil
}

// run waits for a stop condition, stops the capture and stages the audio.
// It always closes rec.done.
func (m *Manager) run(ctx context.Context, rec *recording) {
	defer close(rec.done)

	var limit <-chan time.Time
	if maxDur := m.cfg.Audio.MaxDuration; maxDur > 0 {
		timer := time.NewTimer(maxDur)
		defer timer.Stop()
		limit = timer.C
	}

	select {
	case <-ctx.Done():
		m.logger.Debug("recording context done", "button_id", rec.staging.ButtonID)
	case <-rec.stop:
	case <-limit:
		m.logger.Warn("maximum recording duration reached", "button_id", rec.staging.ButtonID, "max_duration", m.cfg.Audio.MaxDuration)
	case <-rec.capture.Done():
		m.logger.Debug("capture stream ended", "button_id", rec.staging.ButtonID)
	}

	rec.result, rec.err = m.stage(rec)
}

// stage stops the device, writes the captured PCM to the temp file and
// moves RECORDING to STAGED. On failure the state returns to IDLE and no
// staging record exists.
func (m *Manager) stage(rec *recording) (*Staging, error) {
	data, capErr := m.backend.StopCapture(rec.capture)
	m.metrics.RecordingStopped()

	reset := func() {
		m.mu.Lock()
		m.state = StateIdle
		m.active = nil
		m.mu.Unlock()
	}

	if capErr != nil && !errors.Is(capErr, audio.ErrCaptureStopped) {
		m.metrics.CaptureError(captureErrorReason(capErr))
		m.logger.Warn("capture reported an error", "button_id", rec.staging.ButtonID, "error", capErr, "bytes", len(data))
		if len(data) == 0 {
			reset()
			return nil, m.fail("record", capErr)
		}
	}

	// Keep whole frames only.
	frameBytes := 2 * rec.staging.Channels
	data = data[:len(data)-len(data)%frameBytes]

	info := codec.Info{
		SampleRate: rec.staging.SampleRate,
		Channels:   rec.staging.Channels,
		Format:     codec.FormatPCM,
		Frames:     len(data) / frameBytes,
	}
	if err := codec.WriteWAV(rec.staging.TempPath, info, codec.BytesToSamples(data)); err != nil {
		_ = removeIfExists(rec.staging.TempPath)
		reset()
		return nil, m.fail("record", ioError("write staged audio", err))
	}

	st := *rec.staging
	st.Duration = info.Duration()

	m.mu.Lock()
	m.state = StateStaged
	m.active = nil
	m.staged = &st
	m.mu.Unlock()

	m.logger.Info("recording staged",
		"button_id", st.ButtonID,
		"duration", st.Duration,
		"temp_path", st.TempPath)
	return &st, nil
}

// Discard drops a staged recording. Committed metadata is untouched.
func (m *Manager) Discard(st *Staging) error {
	if st == nil {
		return fmt.Errorf("%w: nil staging record", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCurrent(st); err != nil {
		return err
	}
	if err := removeIfExists(m.staged.TempPath); err != nil {
		m.logger.Warn("failed to remove staged audio", "path", m.staged.TempPath, "error", err)
	}
	m.logger.Info("staged recording discarded", "button_id", st.ButtonID)
	m.staged = nil
	m.state = StateIdle
	m.metrics.RecordingDiscarded()
	m.clearLastError()
	return nil
}

// checkCurrent requires st to be the manager's staged record. Callers hold mu.
func (m *Manager) checkCurrent(st *Staging) error {
	if m.state != StateStaged || m.staged == nil || m.staged.ID != st.ID {
		return fmt.Errorf("%w: %s (state %s)", ErrStaleStaging, st.ID, m.state)
	}
	return nil
}

func captureErrorReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrDeviceBusy):
		return "busy"
	case errors.Is(err, audio.ErrDeviceNotFound):
		return "not_found"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "unavailable"
	case errors.Is(err, audio.ErrBackendUnavailable):
		return "backend"
	default:
		return "other"
	}
}

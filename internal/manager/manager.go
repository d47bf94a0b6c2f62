// Package manager implements the staged recording lifecycle: capture to a
// temp file, then finalize into storage or discard.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/audiolibrelab/clipstage/internal/audio"
	"github.com/audiolibrelab/clipstage/internal/codec"
	"github.com/audiolibrelab/clipstage/internal/config"
	"github.com/audiolibrelab/clipstage/internal/metadata"
	"github.com/audiolibrelab/clipstage/internal/metrics"
)

const defaultDeviceTTL = 30 * time.Second

// State is the lifecycle position of a Manager.
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StateStaged    State = "STAGED"
)

// Staging describes a completed capture waiting for Finalize or Discard.
type Staging struct {
	ID              string    `json:"id"`
	ButtonID        string    `json:"button_id"`
	MessageTypeHint string    `json:"message_type_hint,omitempty"`
	TempPath        string    `json:"temp_path"`
	StartedAt       time.Time `json:"started_at"`
	Duration        float64   `json:"duration"`
	SampleRate      int       `json:"sample_rate"`
	Channels        int       `json:"channels"`
}

// Manager owns one message type's storage directory, metadata file and
// audio backend. All methods are safe for concurrent use.
type Manager struct {
	cfg         *config.Config
	format      codec.Format
	backend     audio.Backend
	ownsBackend bool
	devices     *audio.DeviceCache
	store       *metadata.Store
	metrics     *metrics.RecorderMetrics
	logger      *slog.Logger
	tempDir     string
	ownsTempDir bool
	now         func() time.Time

	// mu guards the lifecycle state and the committed index.
	mu      sync.Mutex
	state   State
	records metadata.Records
	active  *recording
	staged  *Staging
	closed  bool

	levelMu sync.RWMutex
	levelFn audio.LevelFunc

	lastError      string
	lastErrorMutex sync.RWMutex
}

// New builds a Manager for cfg. A nil cfg uses config.Default(). Corrupt
// metadata is not fatal: it is backed up, logged and replaced by an empty
// index.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		format:    cfg.Audio.CodecFormat(),
		state:     StateIdle,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "manager", "scope", cfg.MessageType)

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, ioError("create storage directory", err)
	}

	if m.tempDir == "" {
		dir, err := os.MkdirTemp("", "clipstage-*")
		if err != nil {
			return nil, ioError("create temp directory", err)
		}
		m.tempDir = dir
		m.ownsTempDir = true
	} else if err := os.MkdirAll(m.tempDir, 0o755); err != nil {
		return nil, ioError("create temp directory", err)
	}

	m.store = metadata.NewStore(cfg.MetadataFile, cfg.MessageType, cfg.BackupRetention, m.logger)
	records, err := m.store.Load()
	switch {
	case errors.Is(err, metadata.ErrCorruptMetadata):
		m.logger.Warn("metadata unreadable, starting with an empty index", "path", cfg.MetadataFile, "error", err)
		m.setLastError(fmt.Sprintf("Metadata was corrupt and has been reset: %v", err))
	case err != nil:
		m.removeOwnedTempDir()
		return nil, ioError("load metadata", err)
	}
	m.records = records

	if m.backend == nil {
		backend, err := audio.Select(cfg.Audio.BackendType(), m.logger)
		if err != nil {
			m.removeOwnedTempDir()
			return nil, err
		}
		m.backend = backend
		m.ownsBackend = true
	}
	m.devices = audio.NewDeviceCache(m.backend, defaultDeviceTTL)

	m.logger.Debug("manager ready",
		"backend", m.backend.Type(),
		"storage_dir", cfg.StorageDir,
		"metadata_file", cfg.MetadataFile,
		"recordings", len(records))
	return m, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// Backend returns the audio backend in use.
func (m *Manager) Backend() audio.Backend {
	return m.backend
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRecording reports whether a capture is in progress.
func (m *Manager) IsRecording() bool {
	return m.State() == StateRecording
}

// Staged returns a copy of the staging record awaiting a decision, or nil.
func (m *Manager) Staged() *Staging {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged == nil {
		return nil
	}
	st := *m.staged
	return &st
}

// RecordingInfo returns the committed recording for id.
func (m *Manager) RecordingInfo(id string) (metadata.Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// ListRecordings returns every committed recording in button order.
func (m *Manager) ListRecordings() []metadata.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.Sorted()
}

// Newest returns the most recently updated recording.
func (m *Manager) Newest() (metadata.Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.Newest()
}

// ListByType returns the recordings tagged with messageType. Metadata
// migrated from the flat legacy layout may mix several types in one file.
func (m *Manager) ListByType(messageType string) []metadata.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.ByType(messageType)
}

// NewestOfType returns the most recently updated recording tagged with
// messageType.
func (m *Manager) NewestOfType(messageType string) (metadata.Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.NewestOfType(messageType)
}

// Devices lists capture and playback devices, cached for a short TTL.
func (m *Manager) Devices() ([]audio.Device, error) {
	return m.devices.Devices()
}

// ValidateInput checks the configured capture device against the backend.
func (m *Manager) ValidateInput() error {
	return m.devices.Validate(m.cfg.InputDevice())
}

// SetSoundLevelCallback installs fn to receive input levels in [0, 1] while
// recording. nil removes it. A replacement takes effect mid-capture.
func (m *Manager) SetSoundLevelCallback(fn audio.LevelFunc) {
	m.levelMu.Lock()
	defer m.levelMu.Unlock()
	m.levelFn = fn
}

func (m *Manager) emitLevel(level float64) {
	m.levelMu.RLock()
	fn := m.levelFn
	m.levelMu.RUnlock()
	if fn != nil {
		fn(level)
	}
}

// Cleanup stops any capture, discards staged audio, flushes metadata and
// releases the backend. It is safe to call more than once.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	// No capture may start once closing begins.
	m.closed = true
	rec := m.active
	m.mu.Unlock()

	if rec != nil {
		rec.requestStop()
		<-rec.done
	}

	var errs []error

	m.mu.Lock()
	if m.staged != nil {
		if err := removeIfExists(m.staged.TempPath); err != nil {
			errs = append(errs, ioError("remove staged audio", err))
		}
		m.logger.Info("discarded staged recording on cleanup", "button_id", m.staged.ButtonID)
		m.staged = nil
		m.state = StateIdle
		m.metrics.RecordingDiscarded()
	}
	if err := m.store.Save(m.records); err != nil {
		errs = append(errs, ioError("save metadata", err))
	}
	m.mu.Unlock()

	if m.ownsBackend {
		if err := m.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.removeOwnedTempDir()

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Error("cleanup failed", "error", err)
	} else {
		m.logger.Debug("cleanup completed")
	}
	return err
}

func (m *Manager) removeOwnedTempDir() {
	if !m.ownsTempDir {
		return
	}
	if err := os.RemoveAll(m.tempDir); err != nil {
		m.logger.Warn("failed to remove temp directory", "path", m.tempDir, "error", err)
	}
}

// LastError returns the last failure message, cleared by the next
// successful lifecycle operation.
func (m *Manager) LastError() string {
	m.lastErrorMutex.RLock()
	defer m.lastErrorMutex.RUnlock()
	return m.lastError
}

func (m *Manager) setLastError(msg string) {
	m.lastErrorMutex.Lock()
	defer m.lastErrorMutex.Unlock()
	m.lastError = msg
}

func (m *Manager) clearLastError() {
	m.lastErrorMutex.Lock()
	defer m.lastErrorMutex.Unlock()
	m.lastError = ""
}

// fail records err as the last error and returns it unchanged.
func (m *Manager) fail(op string, err error) error {
	m.setLastError(fmt.Sprintf("%s: %v", op, err))
	m.logger.Error(op+" failed", "error", err)
	return err
}

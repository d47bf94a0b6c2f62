package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendAuto     BackendType = "auto"
	BackendALSA     BackendType = "alsa"
	BackendPortable BackendType = "portable"
	BackendMock     BackendType = "mock"
)

var (
	// ErrDeviceUnavailable is the root of every device open failure.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrDeviceBusy        = fmt.Errorf("%w: device busy", ErrDeviceUnavailable)
	ErrDeviceNotFound    = fmt.Errorf("%w: device not found", ErrDeviceUnavailable)

	// ErrBackendUnavailable is returned when an explicitly requested backend
	// cannot run on this host.
	ErrBackendUnavailable = errors.New("audio backend unavailable")

	// ErrCaptureStopped is returned when a capture buffer is claimed twice.
	ErrCaptureStopped = errors.New("capture already stopped")
)

// ParseBackendType maps a configuration value onto a BackendType.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "alsa":
		return BackendALSA, nil
	case "portable", "sounddevice", "malgo":
		return BackendPortable, nil
	case "mock":
		return BackendMock, nil
	default:
		return "", fmt.Errorf("unknown audio backend %q (valid: auto, alsa, portable, mock)", s)
	}
}

// CaptureConfig describes the stream a backend should open.
type CaptureConfig struct {
	SampleRate int
	Channels   int
	PeriodSize int // frames per read
	Device     string
}

// PeriodBytes returns the size of one period of S16LE audio.
func (c CaptureConfig) PeriodBytes() int {
	return c.PeriodSize * c.Channels * 2
}

func (c CaptureConfig) validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 || c.PeriodSize <= 0 {
		return fmt.Errorf("invalid capture config: rate=%d channels=%d period=%d", c.SampleRate, c.Channels, c.PeriodSize)
	}
	return nil
}

// Direction tells whether a device records or plays.
type Direction string

const (
	DirectionCapture  Direction = "capture"
	DirectionPlayback Direction = "playback"
)

// Device is one entry of a backend's device listing.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	IsDefault bool      `json:"is_default"`
}

// Backend defines the interface for audio backend implementations
type Backend interface {
	// Type reports the backend variant.
	Type() BackendType

	// IsAvailable probes the host. It must be cheap and never panic.
	IsAvailable() bool

	// StartCapture opens the device and starts the capture goroutine. Open
	// failures surface here, not later.
	StartCapture(cfg CaptureConfig, level LevelFunc) (*Capture, error)

	// StopCapture stops c and returns the captured S16LE interleaved PCM.
	StopCapture(c *Capture) ([]byte, error)

	// Play renders the WAV file at path on the given output device and
	// blocks until playback ends or ctx is cancelled.
	Play(ctx context.Context, path, device string) error

	// QueryDevices lists capture and playback devices.
	QueryDevices() ([]Device, error)

	// ValidateDevice checks that a device identifier is usable.
	ValidateDevice(device string) error

	// Close releases backend resources.
	Close() error
}

// New constructs the named backend variant without probing it.
func New(t BackendType, logger *slog.Logger) (Backend, error) {
	switch t {
	case BackendALSA:
		return NewALSABackend(logger), nil
	case BackendPortable:
		return NewPortableBackend(logger), nil
	case BackendMock:
		return NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("cannot construct backend %q", t)
	}
}

// Select returns a usable backend. BackendAuto probes ALSA (only when the
// host advertises sound cards), then the portable backend, then falls back to
// the mock. An explicit type fails with ErrBackendUnavailable when the host
// cannot run it.
func Select(t BackendType, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if t != BackendAuto {
		b, err := New(t, logger)
		if err != nil {
			return nil, err
		}
		if !b.IsAvailable() {
			b.Close()
			return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, t)
		}
		logger.Debug("Audio backend selected", "backend", t)
		return b, nil
	}

	candidates := []func() Backend{
		func() Backend {
			if !hostHasALSA() {
				return nil
			}
			return NewALSABackend(logger)
		},
		func() Backend { return NewPortableBackend(logger) },
	}
	for _, candidate := range candidates {
		b := candidate()
		if b == nil {
			continue
		}
		if b.IsAvailable() {
			logger.Debug("Audio backend selected", "backend", b.Type())
			return b, nil
		}
		logger.Debug("Audio backend not available", "backend", b.Type())
		b.Close()
	}

	logger.Warn("No audio hardware backend available, using mock backend")
	return NewMockBackend(), nil
}

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"
)

// MockBackend synthesises audio without hardware. It paces periods in real
// time so capture behaves like a device.
type MockBackend struct {
	toneHz     float64
	amplitude  float64
	frameLimit int
	openErr    error
	playErr    error
	devices    []Device

	mu     sync.Mutex
	played []PlayCall
	opened int
}

// PlayCall records one Play request served by the mock.
type PlayCall struct {
	Path   string
	Device string
}

// MockOption configures a MockBackend
type MockOption func(*MockBackend)

// WithTone makes the mock produce a sine tone instead of silence.
// amplitude is relative to full scale.
func WithTone(hz, amplitude float64) MockOption {
	return func(m *MockBackend) {
		m.toneHz = hz
		m.amplitude = amplitude
	}
}

// WithFrameLimit ends the stream after n frames, as if the device ran dry.
func WithFrameLimit(n int) MockOption {
	return func(m *MockBackend) { m.frameLimit = n }
}

// WithOpenError makes StartCapture fail with err.
func WithOpenError(err error) MockOption {
	return func(m *MockBackend) { m.openErr = err }
}

// WithPlayError makes Play fail with err for readable files.
func WithPlayError(err error) MockOption {
	return func(m *MockBackend) { m.playErr = err }
}

// NewMockBackend creates a mock backend
func NewMockBackend(opts ...MockOption) *MockBackend {
	m := &MockBackend{
		devices: []Device{
			{ID: "mock-in", Name: "Mock Input", Direction: DirectionCapture, IsDefault: true},
			{ID: "mock-out", Name: "Mock Output", Direction: DirectionPlayback, IsDefault: true},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) Type() BackendType { return BackendMock }

func (m *MockBackend) IsAvailable() bool { return true }

// SetOpenError changes the error returned by later StartCapture calls.
func (m *MockBackend) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

func (m *MockBackend) StartCapture(cfg CaptureConfig, level LevelFunc) (*Capture, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	openErr := m.openErr
	if openErr == nil {
		m.opened++
	}
	m.mu.Unlock()
	if openErr != nil {
		return nil, openErr
	}

	src := &mockSource{
		cfg:       cfg,
		toneHz:    m.toneHz,
		amplitude: m.amplitude,
		remaining: m.frameLimit,
		limited:   m.frameLimit > 0,
		interrupt: make(chan struct{}),
	}
	return startCapture(cfg, src, level, nil), nil
}

func (m *MockBackend) StopCapture(c *Capture) ([]byte, error) {
	return c.Stop()
}

// Play accepts any readable file and records the call.
func (m *MockBackend) Play(ctx context.Context, path, device string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot play %s: %w", path, err)
	}
	f.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.playErr != nil {
		return m.playErr
	}

	m.mu.Lock()
	m.played = append(m.played, PlayCall{Path: path, Device: device})
	m.mu.Unlock()
	return nil
}

// Played returns the Play calls served so far.
func (m *MockBackend) Played() []PlayCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PlayCall(nil), m.played...)
}

// Opened returns how many captures were started.
func (m *MockBackend) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MockBackend) QueryDevices() ([]Device, error) {
	return append([]Device(nil), m.devices...), nil
}

func (m *MockBackend) ValidateDevice(device string) error {
	if device == "" || device == "default" {
		return nil
	}
	for _, d := range m.devices {
		if d.ID == device {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
}

func (m *MockBackend) Close() error { return nil }

type mockSource struct {
	cfg       CaptureConfig
	toneHz    float64
	amplitude float64
	remaining int
	limited   bool
	frame     int

	interrupt chan struct{}
	once      sync.Once
}

func (s *mockSource) Read(p []byte) (int, error) {
	frames := len(p) / (2 * s.cfg.Channels)
	if s.limited {
		if s.remaining <= 0 {
			return 0, io.EOF
		}
		frames = min(frames, s.remaining)
	}

	wait := time.Duration(frames) * time.Second / time.Duration(s.cfg.SampleRate)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-s.interrupt:
		return 0, io.EOF
	case <-timer.C:
	}

	for i := 0; i < frames; i++ {
		var v int16
		if s.toneHz > 0 {
			phase := 2 * math.Pi * s.toneHz * float64(s.frame) / float64(s.cfg.SampleRate)
			v = int16(s.amplitude * 32767 * math.Sin(phase))
		}
		for ch := 0; ch < s.cfg.Channels; ch++ {
			binary.LittleEndian.PutUint16(p[2*(i*s.cfg.Channels+ch):], uint16(v))
		}
		s.frame++
	}
	if s.limited {
		s.remaining -= frames
	}
	return frames * 2 * s.cfg.Channels, nil
}

func (s *mockSource) Interrupt() {
	s.once.Do(func() { close(s.interrupt) })
}

func (s *mockSource) Close() error { return nil }

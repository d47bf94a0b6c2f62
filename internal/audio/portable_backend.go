package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/audiolibrelab/clipstage/internal/codec"
)

// periods of slack between the device callback and the capture loop
const ringPeriods = 32

var errDeviceStopped = errors.New("audio device stopped unexpectedly")

// PortableBackend captures and plays through miniaudio, which picks the
// native API of the host (ALSA, PulseAudio, CoreAudio, WASAPI).
type PortableBackend struct {
	logger *slog.Logger

	once      sync.Once
	available bool
}

// NewPortableBackend creates a new malgo based backend
func NewPortableBackend(logger *slog.Logger) *PortableBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortableBackend{logger: logger.With("backend", string(BackendPortable))}
}

var _ Backend = (*PortableBackend)(nil)

func (b *PortableBackend) Type() BackendType { return BackendPortable }

func (b *PortableBackend) initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		b.logger.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: context init failed: %v", ErrDeviceUnavailable, err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// IsAvailable reports whether miniaudio initialises and sees a capture
// device. The probe runs once.
func (b *PortableBackend) IsAvailable() bool {
	b.once.Do(func() {
		ctx, err := b.initContext()
		if err != nil {
			b.logger.Debug("Portable backend unavailable", "error", err)
			return
		}
		defer freeContext(ctx)

		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			b.logger.Debug("Portable backend cannot enumerate devices", "error", err)
			return
		}
		b.available = len(infos) > 0
	})
	return b.available
}

// parseDeviceIndex resolves a portable device identifier: empty or
// "default" selects the system default, otherwise an index into the
// enumerated devices.
func parseDeviceIndex(device string, count int) (index int, useDefault bool, err error) {
	device = strings.TrimSpace(device)
	if device == "" || strings.EqualFold(device, "default") {
		return -1, true, nil
	}
	n, err := strconv.Atoi(device)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q is not a device index", ErrDeviceNotFound, device)
	}
	if n < 0 || n >= count {
		return 0, false, fmt.Errorf("%w: device index %d out of range (%d devices)", ErrDeviceNotFound, n, count)
	}
	return n, false, nil
}

// classifyDeviceError maps miniaudio failures onto device errors.
func classifyDeviceError(device string, err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "busy"):
		return fmt.Errorf("%w: %s: %v", ErrDeviceBusy, device, err)
	case strings.Contains(lower, "not found"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "no device"):
		return fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, device, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device, err)
	}
}

func (b *PortableBackend) StartCapture(cfg CaptureConfig, level LevelFunc) (*Capture, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, err := b.initContext()
	if err != nil {
		return nil, err
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		freeContext(ctx)
		return nil, classifyDeviceError(cfg.Device, err)
	}
	idx, useDefault, err := parseDeviceIndex(cfg.Device, len(infos))
	if err != nil {
		freeContext(ctx)
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.PeriodSize)
	deviceConfig.Alsa.NoMMap = 1
	name := "default"
	if !useDefault {
		deviceConfig.Capture.DeviceID = infos[idx].ID.Pointer()
		name = infos[idx].Name()
	}

	src := &ringSource{
		rb:        ringbuffer.New(cfg.PeriodBytes() * ringPeriods),
		ready:     make(chan struct{}, 1),
		interrupt: make(chan struct{}),
		stopped:   make(chan struct{}),
		ctx:       ctx,
		logger:    b.logger,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			src.write(input)
		},
		Stop: src.deviceStopped,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, classifyDeviceError(name, err)
	}
	src.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return nil, classifyDeviceError(name, err)
	}

	b.logger.Info("Portable capture started", "device", name, "rate", cfg.SampleRate, "channels", cfg.Channels)
	return startCapture(cfg, src, level, nil), nil
}

func (b *PortableBackend) StopCapture(c *Capture) ([]byte, error) {
	return c.Stop()
}

// Play decodes the clip and feeds it to a playback device until drained.
func (b *PortableBackend) Play(ctx context.Context, path, device string) error {
	info, samples, err := codec.ReadWAV(path)
	if err != nil {
		return fmt.Errorf("cannot play %s: %w", path, err)
	}

	mctx, err := b.initContext()
	if err != nil {
		return err
	}
	defer freeContext(mctx)

	infos, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return classifyDeviceError(device, err)
	}
	idx, useDefault, err := parseDeviceIndex(device, len(infos))
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(info.Channels)
	deviceConfig.SampleRate = uint32(info.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if !useDefault {
		deviceConfig.Playback.DeviceID = infos[idx].ID.Pointer()
	}

	pcm := bytes.NewReader(codec.SamplesToBytes(samples))
	drained := make(chan struct{})
	var drainOnce sync.Once
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			n, _ := io.ReadFull(pcm, output)
			clear(output[n:])
			if n < len(output) {
				drainOnce.Do(func() { close(drained) })
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return classifyDeviceError(device, err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return classifyDeviceError(device, err)
	}

	b.logger.Debug("Playing", "path", path, "duration", info.Duration())
	select {
	case <-drained:
	case <-ctx.Done():
		_ = dev.Stop()
		return ctx.Err()
	}
	return dev.Stop()
}

func (b *PortableBackend) QueryDevices() ([]Device, error) {
	ctx, err := b.initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	var devices []Device
	for _, probe := range []struct {
		kind malgo.DeviceType
		dir  Direction
	}{
		{malgo.Capture, DirectionCapture},
		{malgo.Playback, DirectionPlayback},
	} {
		infos, err := ctx.Devices(probe.kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s devices: %w", probe.dir, err)
		}
		for i := range infos {
			// miniaudio's null device
			if strings.Contains(infos[i].Name(), "Discard all samples") {
				continue
			}
			devices = append(devices, Device{
				ID:        strconv.Itoa(i),
				Name:      infos[i].Name(),
				Direction: probe.dir,
				IsDefault: infos[i].IsDefault != 0,
			})
		}
	}
	return devices, nil
}

func (b *PortableBackend) ValidateDevice(device string) error {
	ctx, err := b.initContext()
	if err != nil {
		return err
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return classifyDeviceError(device, err)
	}
	_, _, err = parseDeviceIndex(device, len(infos))
	return err
}

func (b *PortableBackend) Close() error { return nil }

// ringSource buffers callback audio for the capture loop.
type ringSource struct {
	rb     *ringbuffer.RingBuffer
	ready  chan struct{}
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	logger *slog.Logger

	interrupt     chan struct{}
	interruptOnce sync.Once
	stopped       chan struct{}
	stopOnce      sync.Once
	closeOnce     sync.Once

	mu      sync.Mutex
	dropped int
}

// write runs on the miniaudio thread.
func (s *ringSource) write(p []byte) {
	if _, err := s.rb.Write(p); err != nil {
		s.mu.Lock()
		s.dropped += len(p)
		s.mu.Unlock()
	}
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *ringSource) deviceStopped() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *ringSource) Read(p []byte) (int, error) {
	for {
		n, err := s.rb.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}

		select {
		case <-s.interrupt:
			return 0, io.EOF
		case <-s.stopped:
			if s.rb.Length() > 0 {
				continue
			}
			return 0, errDeviceStopped
		case <-s.ready:
		}
	}
}

func (s *ringSource) Interrupt() {
	s.interruptOnce.Do(func() { close(s.interrupt) })
}

func (s *ringSource) Close() error {
	s.closeOnce.Do(func() {
		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
		}
		freeContext(s.ctx)

		s.mu.Lock()
		dropped := s.dropped
		s.mu.Unlock()
		if dropped > 0 {
			s.logger.Warn("Capture buffer overflow, audio dropped", "bytes", dropped)
		}
	})
	return nil
}

package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/clipstage/internal/codec"
)

var asoundCardsPath = "/proc/asound/cards"

const (
	alsaOpenTimeout = 3 * time.Second
	alsaStopTimeout = 5 * time.Second
)

// hostHasALSA reports whether the kernel lists at least one sound card.
func hostHasALSA() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	data, err := os.ReadFile(asoundCardsPath)
	if err != nil {
		return false
	}
	return cardsListed(string(data))
}

// ALSABackend drives ALSA devices through the arecord and aplay tools.
type ALSABackend struct {
	arecord string
	aplay   string
	logger  *slog.Logger
}

// NewALSABackend creates a new ALSA backend
func NewALSABackend(logger *slog.Logger) *ALSABackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ALSABackend{
		arecord: "arecord",
		aplay:   "aplay",
		logger:  logger.With("backend", string(BackendALSA)),
	}
}

var _ Backend = (*ALSABackend)(nil)

func (b *ALSABackend) Type() BackendType { return BackendALSA }

func (b *ALSABackend) IsAvailable() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	for _, tool := range []string{b.arecord, b.aplay} {
		if _, err := exec.LookPath(tool); err != nil {
			b.logger.Debug("ALSA tool not found", "tool", tool)
			return false
		}
	}
	return hostHasALSA()
}

// StartCapture runs arecord and reads the first period before returning, so
// a busy or missing device fails here.
func (b *ALSABackend) StartCapture(cfg CaptureConfig, level LevelFunc) (*Capture, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dev, err := parseALSADevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-q",
		"-D", dev.Name,
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
		"--period-size=" + strconv.Itoa(cfg.PeriodSize),
	}
	b.logger.Debug("Starting arecord", "command", b.arecord+" "+strings.Join(args, " "), "exclusive", dev.Exclusive())

	cmd := exec.Command(b.arecord, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start arecord: %v", ErrDeviceUnavailable, err)
	}

	src := &processSource{cmd: cmd, stdout: stdout, stderr: stderr, device: dev.Name, logger: b.logger}
	first := make([]byte, cfg.PeriodBytes())
	n, err := src.readFirst(first, alsaOpenTimeout)
	if err != nil {
		src.kill()
		openErr := classifyALSAError(dev.Name, stderr.String())
		b.logger.Debug("arecord failed to open device", "device", dev.Name, "error", openErr)
		return nil, openErr
	}

	b.logger.Info("ALSA capture started", "device", dev.Name, "rate", cfg.SampleRate, "channels", cfg.Channels)
	return startCapture(cfg, src, level, first[:n]), nil
}

func (b *ALSABackend) StopCapture(c *Capture) ([]byte, error) {
	return c.Stop()
}

// Play decodes the clip to PCM and streams it to aplay, which keeps A-law
// and µ-law files playable on any device.
func (b *ALSABackend) Play(ctx context.Context, path, device string) error {
	info, samples, err := codec.ReadWAV(path)
	if err != nil {
		return fmt.Errorf("cannot play %s: %w", path, err)
	}
	dev, err := parseALSADevice(device)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, b.aplay,
		"-q",
		"-D", dev.Name,
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(info.SampleRate),
		"-c", strconv.Itoa(info.Channels),
	)
	cmd.Stdin = bytes.NewReader(codec.SamplesToBytes(samples))
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	b.logger.Debug("Playing", "path", path, "device", dev.Name, "duration", info.Duration())
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classifyALSAError(dev.Name, stderr.String())
	}
	return nil
}

func (b *ALSABackend) QueryDevices() ([]Device, error) {
	devices := []Device{
		{ID: "default", Name: "Default capture device", Direction: DirectionCapture, IsDefault: true},
		{ID: "default", Name: "Default playback device", Direction: DirectionPlayback, IsDefault: true},
	}

	var errs []error
	for _, probe := range []struct {
		tool string
		dir  Direction
	}{
		{b.arecord, DirectionCapture},
		{b.aplay, DirectionPlayback},
	} {
		output, err := exec.Command(probe.tool, "-l").Output()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list %s devices: %w", probe.dir, err))
			continue
		}
		devices = append(devices, parseALSAList(string(output), probe.dir)...)
	}
	if len(errs) == 2 {
		return nil, errors.Join(errs...)
	}
	return devices, nil
}

// ValidateDevice checks the device syntax and, for numbered cards, that the
// card is present.
func (b *ALSABackend) ValidateDevice(device string) error {
	dev, err := parseALSADevice(device)
	if err != nil {
		return err
	}
	if _, err := strconv.Atoi(dev.Card); err != nil {
		return nil
	}

	devices, err := b.QueryDevices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	prefix := "hw:" + dev.Card + ","
	for _, d := range devices {
		if strings.HasPrefix(d.ID, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: no ALSA card %s", ErrDeviceNotFound, dev.Card)
}

func (b *ALSABackend) Close() error { return nil }

// processSource reads raw PCM from a running arecord process.
type processSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *lockedBuffer
	device string
	logger *slog.Logger

	mu          sync.Mutex
	interrupted bool
}

func (s *processSource) readFirst(p []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := io.ReadFull(s.stdout, p)
		ch <- result{n, err}
	}()

	select {
	case r := <-ch:
		return r.n, r.err
	case <-time.After(timeout):
		s.cmd.Process.Kill()
		r := <-ch
		if r.err == nil {
			return r.n, nil
		}
		return 0, fmt.Errorf("timed out opening %s", s.device)
	}
}

func (s *processSource) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Interrupt sends SIGINT so arecord flushes and closes its output.
func (s *processSource) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interrupted || s.cmd.Process == nil {
		return
	}
	s.interrupted = true

	s.logger.Debug("Sending SIGINT to arecord process")
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		s.logger.Debug("Failed to send interrupt to arecord, killing", "error", err)
		s.cmd.Process.Kill()
	}
}

// Close waits for arecord to exit, killing it after a timeout. An exit that
// was not caused by Interrupt is reported as a device error.
func (s *processSource) Close() error {
	done := make(chan error, 1)
	go func() {
		done <- s.cmd.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(alsaStopTimeout):
		s.logger.Warn("arecord did not exit within timeout, force killing")
		s.cmd.Process.Kill()
		<-done
		return nil
	}

	s.mu.Lock()
	interrupted := s.interrupted
	s.mu.Unlock()

	if err == nil || interrupted {
		return nil
	}
	s.logger.Debug("arecord exited unexpectedly", "error", err, "stderr", s.stderr.String())
	return classifyALSAError(s.device, s.stderr.String())
}

func (s *processSource) kill() {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
}

// lockedBuffer collects process diagnostics written from exec's copier.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

package audio

import (
	"errors"
	"io"
	"sync"
	"time"
)

// captureSource is the device side of a capture: a stream of S16LE periods.
type captureSource interface {
	// Read blocks for up to one period of audio. io.EOF ends the stream.
	Read(p []byte) (int, error)
	// Interrupt unblocks a pending Read; later reads return io.EOF.
	Interrupt()
	// Close releases the device once the loop has exited.
	Close() error
}

// Capture is a running recording. The capture goroutine is its only writer;
// the buffer is handed over once through Stop.
type Capture struct {
	cfg       CaptureConfig
	src       captureSource
	startedAt time.Time

	stopCh chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	buf     []byte
	err     error
	stopped bool
}

// startCapture launches the shared capture loop over src. first holds audio
// read synchronously while opening the device.
func startCapture(cfg CaptureConfig, src captureSource, level LevelFunc, first []byte) *Capture {
	c := &Capture{
		cfg:       cfg,
		src:       src,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		buf:       append([]byte(nil), first...),
	}
	go c.run(level, len(first) > 0)
	return c
}

func (c *Capture) run(level LevelFunc, meterFirst bool) {
	defer close(c.done)

	if meterFirst && level != nil {
		c.mu.Lock()
		lvl := Level(c.buf)
		c.mu.Unlock()
		level(lvl)
	}

	period := make([]byte, c.cfg.PeriodBytes())
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, err := c.src.Read(period)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, period[:n]...)
			c.mu.Unlock()
			if level != nil {
				level(Level(period[:n]))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.stopRequested() {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}
	}
}

func (c *Capture) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// Config returns the stream parameters of the capture.
func (c *Capture) Config() CaptureConfig {
	return c.cfg
}

// StartedAt returns when the device was opened.
func (c *Capture) StartedAt() time.Time {
	return c.startedAt
}

// Done is closed when the capture loop exits, either after Stop or on its
// own because the device failed or ran dry.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Err returns the device error that ended the loop, if any.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop cancels the loop, waits for it to exit and returns the captured
// audio. Audio read before a device failure is returned together with the
// error. A second call returns ErrCaptureStopped.
func (c *Capture) Stop() ([]byte, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrCaptureStopped
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCh)
	c.src.Interrupt()
	<-c.done
	closeErr := c.src.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.buf
	c.buf = nil
	if c.err != nil {
		return buf, c.err
	}
	return buf, closeErr
}

// Package seriallink owns the serial link to the sensor radio: opening the
// port, clearing stale input and reading one newline terminated frame within
// a bounded window.
package seriallink

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/sensorbridge/internal/monitoring"
	"github.com/banshee-data/sensorbridge/internal/timeutil"
)

// Terminator ends a frame.
const Terminator byte = '\n'

// Defaults for Config fields left at zero.
const (
	DefaultReadWindow    = 3 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultMaxFrameBytes = 256
)

// Config describes which link to open and how long a frame may take.
type Config struct {
	// Path is the character device, e.g. /dev/ttyUSB0.
	Path    string
	Options PortOptions

	// ReadWindow bounds a single ReadFrame call.
	ReadWindow time.Duration
	// PollInterval bounds each individual Read on the port so the window
	// and context are re-checked regularly.
	PollInterval time.Duration
	// SettleDelay is waited after opening before the input buffer is
	// cleared. USB serial adapters emit garbage for a moment after open.
	SettleDelay time.Duration
	// MaxFrameBytes caps a frame that never sees a terminator.
	MaxFrameBytes int
}

func (c Config) withDefaults() Config {
	if c.ReadWindow <= 0 {
		c.ReadWindow = DefaultReadWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return c
}

// Reader opens links and reads frames from them. It holds no link state of
// its own; the caller owns every Port it returns.
type Reader struct {
	cfg   Config
	open  Opener
	clock timeutil.Clock
}

// NewReader returns a Reader using open to create ports. A nil clock uses
// the wall clock.
func NewReader(cfg Config, open Opener, clock timeutil.Clock) *Reader {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Reader{cfg: cfg.withDefaults(), open: open, clock: clock}
}

// Config returns the effective configuration with defaults applied.
func (r *Reader) Config() Config {
	return r.cfg
}

// Open opens the link and discards any input that arrived before this read
// cycle. Failures are wrapped in ErrLinkUnavailable. A context error is
// returned unwrapped when cancellation interrupts the settle delay.
func (r *Reader) Open(ctx context.Context) (Port, error) {
	port, err := r.open(r.cfg.Path, r.cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrLinkUnavailable, r.cfg.Path, describeOpenError(err))
	}

	if err := timeutil.Sleep(ctx, r.clock, r.cfg.SettleDelay); err != nil {
		port.Close()
		return nil, err
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: %s: reset input buffer: %v", ErrLinkUnavailable, r.cfg.Path, err)
	}

	monitoring.Debugf("[seriallink] opened %s at %s", r.cfg.Path, r.cfg.Options)
	return port, nil
}

// ReadFrame reads one byte at a time until the terminator arrives, the frame
// reaches MaxFrameBytes or the read window elapses. The frame gathered so
// far is always returned, even alongside an error; a window that expires
// without a terminator is not an error. I/O failures are wrapped in
// ErrLinkFault.
func (r *Reader) ReadFrame(ctx context.Context, port Port) (RawFrame, error) {
	deadline := r.clock.Now().Add(r.cfg.ReadWindow)
	frame := make(RawFrame, 0, 64)
	buf := make([]byte, 1)

	for {
		if err := ctx.Err(); err != nil {
			return frame, err
		}
		remaining := deadline.Sub(r.clock.Now())
		if remaining <= 0 {
			monitoring.Debugf("[seriallink] read window expired with %d bytes", len(frame))
			return frame, nil
		}

		if err := port.SetReadTimeout(min(r.cfg.PollInterval, remaining)); err != nil {
			return frame, fmt.Errorf("%w: set read timeout: %v", ErrLinkFault, err)
		}

		n, err := port.Read(buf)
		if n > 0 {
			frame = append(frame, buf[0])
			if buf[0] == Terminator || len(frame) >= r.cfg.MaxFrameBytes {
				return frame, nil
			}
		}
		if err != nil {
			return frame, fmt.Errorf("%w: read: %v", ErrLinkFault, err)
		}
	}
}

package seriallink

import (
	"io"
	"time"
)

// Port defines the minimal interface the frame reader needs from a serial
// link. go.bug.st/serial.Port satisfies it; tests substitute TestablePort.
type Port interface {
	io.Reader
	io.Closer

	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error

	// SetReadTimeout bounds how long a single Read may block. A Read that
	// times out returns 0, nil.
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens a serial link at path with the given options. It is injected
// into the Reader so tests and dev mode can supply their own ports.
type Opener func(path string, opts PortOptions) (Port, error)

// RawFrame is the byte sequence captured during one read window.
type RawFrame []byte

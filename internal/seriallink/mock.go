package seriallink

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/sensorbridge/internal/timeutil"
)

// ErrPortClosed is returned by TestablePort once Close has been called.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort implements Port with configurable behaviour for testing.
// It provides fine-grained control over the bytes a link delivers, read and
// reset errors, and how idle reads consume time.
type TestablePort struct {
	mu sync.Mutex

	// Stale holds bytes that arrived before the link was opened. They are
	// returned by Read unless ResetInputBuffer discards them first.
	Stale []byte

	// Data holds bytes delivered after the input buffer was reset.
	Data []byte

	// Clock, when set, is advanced by the current read timeout on every
	// read that finds no data. Otherwise idle reads sleep for real.
	Clock *timeutil.MockClock

	// ReadError is returned by Read once Data is exhausted.
	ReadError error

	// ResetError is returned by ResetInputBuffer if set.
	ResetError error

	// CloseError is returned by Close if set.
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ResetCalls records the number of ResetInputBuffer calls
	ResetCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration
}

// NewTestablePort creates a TestablePort delivering data after open.
func NewTestablePort(data []byte) *TestablePort {
	return &TestablePort{Data: data}
}

// Read returns the next byte(s) from Stale then Data. With nothing left it
// returns ReadError if set, otherwise it waits out the read timeout and
// returns 0, nil like a real port does.
func (t *TestablePort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	t.ReadCalls++

	if t.Closed {
		t.mu.Unlock()
		return 0, ErrPortClosed
	}

	if len(t.Stale) > 0 {
		n = copy(p, t.Stale)
		t.Stale = t.Stale[n:]
		t.mu.Unlock()
		return n, nil
	}
	if len(t.Data) > 0 {
		n = copy(p, t.Data)
		t.Data = t.Data[n:]
		t.mu.Unlock()
		return n, nil
	}
	if t.ReadError != nil {
		err = t.ReadError
		t.mu.Unlock()
		return 0, err
	}

	timeout := t.ReadTimeout
	clock := t.Clock
	t.mu.Unlock()

	if clock != nil {
		clock.Advance(timeout)
	} else {
		time.Sleep(timeout)
	}
	return 0, nil
}

// ResetInputBuffer discards Stale.
func (t *TestablePort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ResetCalls++
	if t.ResetError != nil {
		return t.ResetError
	}
	t.Stale = nil
	return nil
}

// SetReadTimeout records the timeout used for idle reads.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// IsClosed reports whether Close was called.
func (t *TestablePort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockOpener hands out scripted results, one per Open call.
type MockOpener struct {
	mu sync.Mutex

	// Steps are consumed in order by Open.
	Steps []OpenStep

	// OnExhausted is called when Open runs out of steps. Tests use it to
	// cancel the supervisor once a scenario has played out.
	OnExhausted func()

	// OpenCalls records the path of every Open call.
	OpenCalls []string

	// Ports records every port handed out, in order.
	Ports []*TestablePort
}

// OpenStep is the result of a single MockOpener.Open call.
type OpenStep struct {
	Port *TestablePort
	Err  error
}

// ErrNoScriptedPort is returned once MockOpener has no steps left.
var ErrNoScriptedPort = errors.New("no scripted port")

// NewMockOpener creates a MockOpener with the given steps.
func NewMockOpener(steps ...OpenStep) *MockOpener {
	return &MockOpener{Steps: steps}
}

// Open implements Opener.
func (m *MockOpener) Open(path string, opts PortOptions) (Port, error) {
	m.mu.Lock()
	m.OpenCalls = append(m.OpenCalls, path)
	if len(m.Steps) == 0 {
		hook := m.OnExhausted
		m.mu.Unlock()
		if hook != nil {
			hook()
		}
		return nil, ErrNoScriptedPort
	}
	step := m.Steps[0]
	m.Steps = m.Steps[1:]
	if step.Err == nil {
		m.Ports = append(m.Ports, step.Port)
	}
	m.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	return step.Port, nil
}

// Calls returns the number of Open calls made so far.
func (m *MockOpener) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

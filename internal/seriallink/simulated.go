package seriallink

import (
	"sync"
	"time"
)

// DefaultSimulatedLines is the fixture stream used by -dev. It mixes good
// readings with the failure shapes seen on real radios.
var DefaultSimulatedLines = []string{
	"23.5,61.2\n",
	"23.6,61.0\n",
	"\x00\x00\x00\x00\x00\x00\x00\x00\x00\n",
	"23.6,60.8\n",
	"T=23.7\n",
	"23.7,60.9\n",
}

// NewSimulatedOpener returns an Opener whose ports emit lines in rotation,
// one every interval, starting from where the previous port left off.
func NewSimulatedOpener(lines []string, interval time.Duration) Opener {
	if len(lines) == 0 {
		lines = DefaultSimulatedLines
	}
	var mu sync.Mutex
	next := 0
	return func(path string, opts PortOptions) (Port, error) {
		mu.Lock()
		line := lines[next%len(lines)]
		next++
		mu.Unlock()
		return &simulatedPort{
			line:  []byte(line),
			ready: time.Now().Add(interval),
		}, nil
	}
}

// simulatedPort delivers a single line once its ready time has passed.
type simulatedPort struct {
	mu      sync.Mutex
	line    []byte
	ready   time.Time
	timeout time.Duration
	closed  bool
}

func (p *simulatedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	wait := time.Until(p.ready)
	timeout := p.timeout
	p.mu.Unlock()

	if wait > 0 {
		if timeout > 0 && wait > timeout {
			time.Sleep(timeout)
			return 0, nil
		}
		time.Sleep(wait)
	}

	p.mu.Lock()
	if len(p.line) == 0 {
		p.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	n := copy(b, p.line)
	p.line = p.line[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *simulatedPort) ResetInputBuffer() error { return nil }

func (p *simulatedPort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = timeout
	return nil
}

func (p *simulatedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

package publish

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sensorbridge/internal/monitoring"
	"github.com/banshee-data/sensorbridge/internal/record"
)

// ErrQueueFull is returned by Async.Publish when a record had to be dropped.
var ErrQueueFull = errors.New("publish queue full")

// ErrClosed is returned by Async.Publish after Close.
var ErrClosed = errors.New("publisher closed")

const (
	defaultQueueSize      = 16
	defaultPublishTimeout = 5 * time.Second
	defaultDrainTimeout   = 2 * time.Second
)

// AsyncStats counts what happened to submitted records.
type AsyncStats struct {
	Submitted uint64 `json:"submitted"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

// Async forwards records to an inner Sink from a single worker goroutine.
// Publish never blocks: when the queue is full the record is dropped.
type Async struct {
	inner Sink
	queue chan record.Record
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	publishTimeout time.Duration
	drainTimeout   time.Duration

	submitted atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewAsync starts a worker publishing to inner. A non-positive size uses a
// small default queue.
func NewAsync(inner Sink, size int) *Async {
	if size <= 0 {
		size = defaultQueueSize
	}
	a := &Async{
		inner:          inner,
		queue:          make(chan record.Record, size),
		done:           make(chan struct{}),
		publishTimeout: defaultPublishTimeout,
		drainTimeout:   defaultDrainTimeout,
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.publishTimeout)
		err := a.inner.Publish(ctx, rec)
		cancel()
		if err != nil {
			a.failed.Add(1)
			monitoring.Logf("[publish] failed to publish %+v: %v", rec, err)
			continue
		}
		a.published.Add(1)
	}
}

// Publish queues rec for the worker. It returns ErrQueueFull if the record
// was dropped and ErrClosed after Close.
func (a *Async) Publish(_ context.Context, rec record.Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- rec:
		a.submitted.Add(1)
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting records, gives the worker a bounded time to drain
// the queue and closes the inner sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(a.drainTimeout):
		monitoring.Logf("[publish] gave up draining %d queued records", len(a.queue))
	}
	return a.inner.Close()
}

// Stats returns the current counters.
func (a *Async) Stats() AsyncStats {
	return AsyncStats{
		Submitted: a.submitted.Load(),
		Published: a.published.Load(),
		Failed:    a.failed.Load(),
		Dropped:   a.dropped.Load(),
		Queued:    len(a.queue),
	}
}

// Package supervisor drives the serial ingestion pipeline.
//
// Each cycle opens the link, reads a single frame, sanitizes and parses it,
// hands an accepted reading to the publish sink and closes the link again.
// Any rejection closes the handle and pauses before the next cycle, so a
// desynchronised radio always gets a fresh handle. Failures outside the
// known taxonomy escalate to a supervised restart of the whole pipeline,
// which discards all State and starts again from a closed link.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/sensorbridge/internal/monitoring"
	"github.com/banshee-data/sensorbridge/internal/publish"
	"github.com/banshee-data/sensorbridge/internal/record"
	"github.com/banshee-data/sensorbridge/internal/seriallink"
	"github.com/banshee-data/sensorbridge/internal/timeutil"
	"github.com/banshee-data/sensorbridge/internal/watchdog"
)

// FrameSource opens links and reads frames from them. *seriallink.Reader
// implements it.
type FrameSource interface {
	Open(ctx context.Context) (seriallink.Port, error)
	ReadFrame(ctx context.Context, port seriallink.Port) (seriallink.RawFrame, error)
}

// Config holds the timing policy. Zero durations mean no pause.
type Config struct {
	// OpenBackoff is waited after the link could not be opened.
	OpenBackoff time.Duration
	// RejectPause is waited after any rejected frame.
	RejectPause time.Duration
	// CycleInterval is waited after an accepted frame.
	CycleInterval time.Duration
	// RestartBackoff is waited before a supervised pipeline restart.
	RestartBackoff time.Duration
	// StaleTimeout is the watchdog window; zero uses watchdog.DefaultTimeout.
	StaleTimeout time.Duration
	// MaxRestarts bounds consecutive restarts without an accepted reading.
	// Zero means unlimited.
	MaxRestarts int
	// HeartbeatEvery logs a liveness line every N accepted readings.
	HeartbeatEvery uint64
}

// DefaultConfig returns the timing used by the deployed bridge.
func DefaultConfig() Config {
	return Config{
		OpenBackoff:    5 * time.Second,
		RejectPause:    2 * time.Second,
		CycleInterval:  2 * time.Second,
		RestartBackoff: 5 * time.Second,
		StaleTimeout:   watchdog.DefaultTimeout,
		HeartbeatEvery: 10,
	}
}

// Supervisor owns the serial link and the ingestion state machine. Run must
// be called from a single goroutine; every other method is safe to call
// concurrently.
type Supervisor struct {
	cfg     Config
	source  FrameSource
	sink    publish.Sink
	clock   timeutil.Clock
	metrics *Metrics

	restartCh chan struct{}

	// owned by the Run goroutine
	state    State
	watchdog *watchdog.Watchdog
	port     seriallink.Port
	restarts int

	mu       sync.RWMutex
	status   Status
	readings *readingWindow

	events *fanout
}

// Option configures optional Supervisor collaborators.
type Option func(*Supervisor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock timeutil.Clock) Option {
	return func(s *Supervisor) { s.clock = clock }
}

// WithMetrics records cycle outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// New creates a Supervisor reading from source and publishing to sink.
func New(cfg Config, source FrameSource, sink publish.Sink, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		source:    source,
		sink:      sink,
		clock:     timeutil.RealClock{},
		restartCh: make(chan struct{}, 1),
		readings:  newReadingWindow(defaultWindowSize),
		events:    newFanout(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset("init")
	return s
}

// Restart asks the Run goroutine to discard its state and start over from a
// closed link. The request is honoured at the next cycle boundary; repeated
// requests before then collapse into one.
func (s *Supervisor) Restart() {
	select {
	case s.restartCh <- struct{}{}:
	default:
	}
}

// Run drives cycles until ctx is done, returning nil, or until MaxRestarts
// consecutive restarts, returning an error wrapping ErrRestartLimit. The
// link is closed on every exit path.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.events.closeAll()
	defer s.closeLink()

	monitoring.Logf("[supervisor] starting ingestion (stale timeout %v)", s.watchdog.Timeout())
	for {
		if ctx.Err() != nil {
			monitoring.Logf("[supervisor] stopping: %v", ctx.Err())
			return nil
		}

		select {
		case <-s.restartCh:
			s.restart("restart requested")
		default:
		}

		err := s.safeCycle(ctx)
		if ctx.Err() != nil {
			monitoring.Logf("[supervisor] stopping: %v", ctx.Err())
			return nil
		}
		if err == nil {
			continue
		}

		s.closeLink()
		s.setLink(LinkFaulted)
		s.restarts++
		s.metrics.restarted()
		s.publishEvent(Event{Kind: EventRestart, Reason: ReasonUnclassified, Detail: err.Error()})
		if s.cfg.MaxRestarts > 0 && s.restarts >= s.cfg.MaxRestarts {
			monitoring.Logf("[supervisor] unexpected error: %v; giving up after %d restarts", err, s.restarts)
			return fmt.Errorf("%w: %d consecutive restarts, last error: %v", ErrRestartLimit, s.restarts, err)
		}

		monitoring.Logf("[supervisor] unexpected error: %v; restarting pipeline in %v", err, s.cfg.RestartBackoff)
		if err := timeutil.Sleep(ctx, s.clock, s.cfg.RestartBackoff); err != nil {
			return nil
		}
		s.restart("unclassified failure")
	}
}

// safeCycle runs one cycle, converting a panic into an unclassified error.
func (s *Supervisor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in ingestion cycle: %v", r)
		}
	}()
	return s.runCycle(ctx)
}

// runCycle performs Disconnected → Connecting → Reading → Accepted|Rejected
// → Disconnected. It returns nil for every outcome the supervisor handles
// itself, a context error on cancellation, and anything else for escalation.
func (s *Supervisor) runCycle(ctx context.Context) error {
	s.state.Cycles++
	s.metrics.cycle()
	s.setPhase(PhaseConnecting)

	port, err := s.source.Open(ctx)
	if err != nil {
		if isCancellation(err) {
			return err
		}
		if Classify(err) != ReasonLinkUnavailable {
			return err
		}
		s.state.ConsecutiveOpenFailures++
		s.setLink(LinkFaulted)
		s.recordRejection(ReasonLinkUnavailable, err, nil)
		monitoring.Logf("[supervisor] %v; retrying in %v (attempt %d)", err, s.cfg.OpenBackoff, s.state.ConsecutiveOpenFailures)
		s.setPhase(PhaseDisconnected)
		return timeutil.Sleep(ctx, s.clock, s.cfg.OpenBackoff)
	}
	s.state.ConsecutiveOpenFailures = 0
	s.port = port
	s.setLink(LinkOpen)
	defer s.closeLink()

	s.setPhase(PhaseReading)
	raw, err := s.source.ReadFrame(ctx, port)
	if err != nil {
		return err
	}
	monitoring.Debugf("[supervisor] raw frame %q", []byte(raw))

	rec, err := s.evaluate(raw)
	if err != nil {
		reason := Classify(err)
		if !reason.Recoverable() {
			return err
		}
		s.closeLink()
		s.recordRejection(reason, err, raw)
		monitoring.Logf("[supervisor] rejected frame (%s): %v; resetting link", reason, err)
		if reason == ReasonStale {
			s.watchdog.Rearm()
		}
		s.setPhase(PhaseDisconnected)
		return timeutil.Sleep(ctx, s.clock, s.cfg.RejectPause)
	}

	s.accept(ctx, rec)
	s.closeLink()
	s.setPhase(PhaseDisconnected)
	return timeutil.Sleep(ctx, s.clock, s.cfg.CycleInterval)
}

// evaluate applies the checks in the order the radio firmware's failure
// modes were diagnosed: corrupt medium first, then a silent link, then the
// message itself.
func (s *Supervisor) evaluate(raw seriallink.RawFrame) (record.Record, error) {
	line, cleanErr := record.Clean(raw)
	if errors.Is(cleanErr, record.ErrNullDominated) {
		return record.Record{}, fmt.Errorf("%w: %.0f%% of %d bytes", cleanErr, 100*record.NullRatio(raw), len(raw))
	}
	if s.watchdog.Stale() {
		return record.Record{}, fmt.Errorf("%w: last reading %v ago", ErrStale, s.watchdog.Since().Round(time.Millisecond))
	}
	if cleanErr != nil {
		return record.Record{}, cleanErr
	}
	if line == "" {
		return record.Record{}, fmt.Errorf("%w: no numeric characters in %d bytes", record.ErrEmpty, len(raw))
	}
	return record.Parse(line)
}

func (s *Supervisor) accept(ctx context.Context, rec record.Record) {
	now := s.clock.Now()
	s.watchdog.Feed()
	s.restarts = 0
	s.state.Accepted++
	s.state.ConsecutiveRejections = 0
	s.state.LastAcceptedAt = now
	s.state.LastRecord = &rec

	if err := s.sink.Publish(ctx, rec); err != nil {
		monitoring.Logf("[supervisor] publish of %+v not queued: %v", rec, err)
		s.metrics.publishFailed()
	}
	s.metrics.accepted(rec)

	s.mu.Lock()
	s.status.MessageCount++
	count := s.status.MessageCount
	s.readings.add(rec)
	s.mu.Unlock()

	s.setPhase(PhaseAccepted)
	s.publishEvent(Event{Kind: EventAccepted, Record: &rec})
	monitoring.Logf("[supervisor] [message %d] accepted temperature=%.2f humidity=%.2f", count, rec.Temperature, rec.Humidity)
	if s.cfg.HeartbeatEvery > 0 && count%s.cfg.HeartbeatEvery == 0 {
		monitoring.Logf("[supervisor] [message %d] still running, %d cycles this generation", count, s.state.Cycles)
	}
}

func (s *Supervisor) recordRejection(reason Reason, err error, raw seriallink.RawFrame) {
	s.state.ConsecutiveRejections++
	s.state.Rejections[reason.String()]++
	rej := &Rejection{Reason: reason, Detail: err.Error(), Raw: string(raw), At: s.clock.Now()}
	s.state.LastRejection = rej
	s.metrics.rejected(reason)
	s.setPhase(PhaseRejected)
	s.publishEvent(Event{Kind: EventRejected, Reason: reason, Detail: rej.Detail, Raw: rej.Raw})
}

// closeLink closes the current handle, if any. It is safe to call repeatedly.
func (s *Supervisor) closeLink() {
	if s.port == nil {
		return
	}
	if err := s.port.Close(); err != nil {
		monitoring.Logf("[supervisor] closing serial link: %v", err)
	}
	s.port = nil
	s.setLink(LinkClosed)
	monitoring.Debugf("[supervisor] serial link closed")
}

// restart discards all per-generation state. The consecutive restart count
// survives so a crash loop can still hit MaxRestarts.
func (s *Supervisor) restart(why string) {
	s.closeLink()
	s.reset(why)
	s.mu.Lock()
	s.status.Restarts++
	s.mu.Unlock()
}

func (s *Supervisor) reset(why string) {
	now := s.clock.Now()
	s.state = newState(s.state.Generation+1, now)
	s.watchdog = watchdog.New(s.clock, s.cfg.StaleTimeout)
	s.setPhase(PhaseDisconnected)
	if why != "init" {
		monitoring.Logf("[supervisor] pipeline reset (%s), generation %d", why, s.state.Generation)
	}
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Phase = p
	s.status.State = s.state.clone()
	s.status.ConsecutiveRestarts = s.restarts
}

func (s *Supervisor) setLink(l LinkState) {
	s.mu.Lock()
	s.status.Link = l
	s.mu.Unlock()
	s.metrics.link(l)
}

// Status returns a copy of the supervisor's current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.State = s.status.State.clone()
	return st
}

// Summary returns statistics over the most recent accepted readings.
func (s *Supervisor) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readings.summary()
}

// Subscribe returns a channel of supervisor events. Slow subscribers miss
// events rather than stalling ingestion.
func (s *Supervisor) Subscribe() (string, <-chan Event) {
	return s.events.subscribe()
}

// Unsubscribe closes and removes a subscription.
func (s *Supervisor) Unsubscribe(id string) {
	s.events.unsubscribe(id)
}

func (s *Supervisor) publishEvent(e Event) {
	e.Time = s.clock.Now()
	e.Generation = s.state.Generation
	s.events.broadcast(e)
}

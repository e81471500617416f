// Package throttle bounds how often the expensive URL apply operation runs.
//
// A Scheduler keeps at least MinInterval × RateLimitFactor between flushes.
// The flush callback reports whether it applied anything; a flush that found
// nothing to do does not count towards the interval. The first Schedule call after an idle period arms a single timer; every
// further call while that timer is pending is absorbed, which is what turns a
// burst of writes into one flush:
//
//	s := throttle.New(flushQueue,
//	    throttle.WithMinInterval(50*time.Millisecond),
//	    throttle.WithRateLimitFactor(2),
//	)
//	defer s.Close()
//
//	q.Enqueue(...)
//	s.Schedule()
package throttle

import (
	"sync"
	"time"

	"github.com/vango-dev/urlsync/internal/clock"
)

// DefaultMinInterval is the host navigation interval assumed when none is
// configured.
const DefaultMinInterval = 50 * time.Millisecond

// State is the scheduler's position in the per-batch lifecycle.
type State int

const (
	// Idle means no flush is scheduled.
	Idle State = iota

	// Scheduled means a timer is armed for the open batch.
	Scheduled

	// Flushing means the flush callback is running. Schedule calls made now
	// belong to the next batch.
	Flushing

	// Closed means the scheduler was torn down.
	Closed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Flushing:
		return "flushing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	clock       clock.Clock
	minInterval time.Duration
	factor      float64
	onSchedule  func(delay time.Duration)
}

// WithClock sets the time source. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(cfg *config) {
		cfg.clock = c
	}
}

// WithMinInterval sets the host's minimum navigation interval.
// Default: DefaultMinInterval.
func WithMinInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.minInterval = d
	}
}

// WithRateLimitFactor sets the safety multiplier applied to the minimum
// interval. Values <= 0 mean 1.
func WithRateLimitFactor(f float64) Option {
	return func(cfg *config) {
		cfg.factor = f
	}
}

// WithScheduleHook registers fn to be called each time a timer is armed,
// with the delay chosen.
func WithScheduleHook(fn func(delay time.Duration)) Option {
	return func(cfg *config) {
		cfg.onSchedule = fn
	}
}

// Scheduler decides when a queued batch is flushed.
// It is safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	flush    func() bool
	hook     func(time.Duration)

	state    State
	timer    clock.Timer
	last     time.Time
	hasLast  bool
	fired    uint64
	absorbed uint64

	// gen identifies the most recent fire, so an older flush that finishes
	// late does not reset the state of a newer one.
	gen uint64
}

// New creates a scheduler that calls flush when a batch is due. flush
// returns false when there was nothing to apply.
func New(flush func() bool, opts ...Option) *Scheduler {
	cfg := config{
		clock:       clock.Real(),
		minInterval: DefaultMinInterval,
		factor:      1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.factor <= 0 {
		cfg.factor = 1
	}
	if cfg.minInterval < 0 {
		cfg.minInterval = 0
	}

	return &Scheduler{
		clock:    cfg.clock,
		interval: time.Duration(float64(cfg.minInterval) * cfg.factor),
		flush:    flush,
		hook:     cfg.onSchedule,
	}
}

// Interval returns the enforced gap between flushes.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Schedule arms the flush timer for the open batch. It returns false when
// the call was absorbed by an already armed timer or the scheduler is closed.
func (s *Scheduler) Schedule() bool {
	s.mu.Lock()
	if s.state == Closed || s.state == Scheduled {
		if s.state == Scheduled {
			s.absorbed++
		}
		s.mu.Unlock()
		return false
	}

	var delay time.Duration
	if s.hasLast {
		delay = s.last.Add(s.interval).Sub(s.clock.Now())
		if delay < 0 {
			delay = 0
		}
	}
	s.state = Scheduled
	s.timer = s.clock.AfterFunc(delay, s.fire)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(delay)
	}
	return true
}

// fire runs on the timer. The flush time is recorded when the flush is
// issued, not when the host finishes applying it, and rolled back if the
// flush turned out to be empty.
func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.state != Scheduled {
		s.mu.Unlock()
		return
	}
	s.state = Flushing
	s.timer = nil
	prevLast, prevHasLast := s.last, s.hasLast
	issued := s.clock.Now()
	s.last = issued
	s.hasLast = true
	s.fired++
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	did := false
	defer func() {
		s.mu.Lock()
		if !did && s.gen == gen && s.last.Equal(issued) {
			s.last, s.hasLast = prevLast, prevHasLast
			s.fired--
		}
		if s.state == Flushing && s.gen == gen {
			s.state = Idle
		}
		s.mu.Unlock()
	}()
	did = s.flush()
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastFlush returns the time the most recent flush was issued, and false if
// none has happened yet.
func (s *Scheduler) LastFlush() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Stats reports how many flushes applied work and how many Schedule calls
// were absorbed into an armed timer.
func (s *Scheduler) Stats() (fired, absorbed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired, s.absorbed
}

// Close cancels any armed timer. Pending work is not flushed. Close is
// idempotent; Schedule is a no-op afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = Closed
}

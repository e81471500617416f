// Package urlsync keeps in-memory UI state in sync with a URL query string.
//
// Independent callers write query keys through a Syncer. Writes made within
// one scheduling window are coalesced into a single URL change, and every
// reader sees the new values immediately, before the host router applies them:
//
//	s := urlsync.Mount(adapter.NewMemory("https://app.example/search"))
//	defer s.Unmount()
//
//	s.Set("q", "gophers", queue.Options{Shallow: true})
//	s.Set("page", "1", queue.Options{History: adapter.Push})
//	s.Get("q") // "gophers", true, visible before the flush
//
// One Syncer exists per adapter mount. It owns the update queue and the rate
// limiter, so separate mounts never share timers or pending writes.
//
// # Consistency
//
//   - Last write wins per key within a batch.
//   - Function updaters see every earlier write of the open batch.
//   - Push dominates replace; a batch is shallow only if every write was.
//   - Flushes are at least minInterval × RateLimitFactor apart.
//
// # Accepted losses
//
// Writes still queued when Unmount is called are dropped. Unmount never
// blocks to flush them. A router navigation that fails after the URL was
// updated locally is reported by the adapter; the optimistic values are not
// rolled back and stay tagged snapshot.Navigating.
package urlsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/urlsync/pkg/adapter"
	"github.com/vango-dev/urlsync/pkg/queue"
	"github.com/vango-dev/urlsync/pkg/snapshot"
	"github.com/vango-dev/urlsync/pkg/telemetry"
	"github.com/vango-dev/urlsync/pkg/throttle"
)

// Syncer batches query-string writes for one adapter mount.
// It is safe for concurrent use.
type Syncer struct {
	mu      sync.Mutex
	adapter adapter.Adapter
	queue   *queue.Queue
	sched   *throttle.Scheduler
	cfg     config
	logger  *slog.Logger

	// inflight is the target of a flush whose UpdateURL call has not
	// returned yet. Reads and writes layer over it instead of the adapter's
	// snapshot so the optimistic view never steps backwards.
	inflight    *snapshot.Snapshot
	inflightGen uint64

	subs      map[uint64]func(snapshot.Snapshot)
	nextSub   uint64
	stopWatch func()
	unmounted bool
}

// Mount creates a Syncer bound to a. It panics if a is nil; use MountE to get
// an error instead.
func Mount(a adapter.Adapter, opts ...Option) *Syncer {
	s, err := MountE(a, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// MountE creates a Syncer bound to a.
func MountE(a adapter.Adapter, opts ...Option) (*Syncer, error) {
	if a == nil {
		return nil, ErrNilAdapter
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Syncer{
		adapter: a,
		queue:   queue.New(),
		cfg:     cfg,
		logger:  cfg.logger.With("component", "urlsync"),
		subs:    make(map[uint64]func(snapshot.Snapshot)),
	}
	s.sched = throttle.New(s.flush,
		throttle.WithClock(cfg.clock),
		throttle.WithMinInterval(cfg.minInterval),
		throttle.WithRateLimitFactor(a.RateLimitFactor()),
		throttle.WithScheduleHook(func(d time.Duration) {
			cfg.metrics.RecordScheduleDelay(d.Seconds())
		}),
	)

	if w, ok := a.(adapter.Watcher); ok {
		s.stopWatch = w.Watch(s.onExternalChange)
	}
	cfg.metrics.Mounted(1)
	s.logger.Debug("mounted", "interval", s.sched.Interval())
	return s, nil
}

// base returns the snapshot the open batch is layered over. Caller holds mu.
func (s *Syncer) base() snapshot.Snapshot {
	if s.inflight != nil {
		return *s.inflight
	}
	return s.adapter.SearchParams()
}

// Enqueue records a write for key and schedules a flush. The optimistic view
// is updated before Enqueue returns. An updater that returns an error aborts
// only this write; the error is returned wrapped in *UpdateError. An updater
// must not call back into the Syncer.
func (s *Syncer) Enqueue(key string, u queue.Updater, opts queue.Options) error {
	view, subs, err := s.enqueue(key, u, opts)
	if err != nil {
		return err
	}
	s.cfg.metrics.RecordWrite(opts.History.String())
	s.notify(subs, view)
	s.sched.Schedule()
	return nil
}

func (s *Syncer) enqueue(key string, u queue.Updater, opts queue.Options) (snapshot.Snapshot, []func(snapshot.Snapshot), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unmounted {
		return snapshot.Snapshot{}, nil, &UpdateError{Key: key, Op: opEnqueue, Err: ErrUnmounted}
	}

	base := s.base()
	if _, err := s.queue.Enqueue(base, key, u, opts); err != nil {
		if key == "" {
			return snapshot.Snapshot{}, nil, &UpdateError{Key: key, Op: opEnqueue, Err: err}
		}
		s.cfg.metrics.RecordUpdaterError()
		s.logger.Debug("updater failed", "key", key, "error", err)
		return snapshot.Snapshot{}, nil, &UpdateError{Key: key, Op: opResolve, Err: err}
	}
	return s.queue.View(base), s.subscribers(), nil
}

// EnqueueGroup records one write per key, all derived by a single call to fn
// under the Syncer's lock. Concurrent writers cannot interleave between the
// read and the write, so updates to related keys compose like Update does
// for one key. fn must not call back into the Syncer.
func (s *Syncer) EnqueueGroup(keys []string, fn queue.GroupFunc, opts queue.Options) error {
	view, subs, err := s.enqueueGroup(keys, fn, opts)
	if err != nil {
		return err
	}
	for range keys {
		s.cfg.metrics.RecordWrite(opts.History.String())
	}
	s.notify(subs, view)
	s.sched.Schedule()
	return nil
}

func (s *Syncer) enqueueGroup(keys []string, fn queue.GroupFunc, opts queue.Options) (snapshot.Snapshot, []func(snapshot.Snapshot), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	label := strings.Join(keys, ",")
	if s.unmounted {
		return snapshot.Snapshot{}, nil, &UpdateError{Key: label, Op: opEnqueue, Err: ErrUnmounted}
	}

	base := s.base()
	if _, err := s.queue.EnqueueGroup(base, keys, fn, opts); err != nil {
		if errors.Is(err, queue.ErrEmptyKey) {
			return snapshot.Snapshot{}, nil, &UpdateError{Key: label, Op: opEnqueue, Err: err}
		}
		s.cfg.metrics.RecordUpdaterError()
		s.logger.Debug("group updater failed", "keys", keys, "error", err)
		return snapshot.Snapshot{}, nil, &UpdateError{Key: label, Op: opResolve, Err: err}
	}
	return s.queue.View(base), s.subscribers(), nil
}

// Set writes a literal value for key.
func (s *Syncer) Set(key, value string, opts queue.Options) error {
	return s.Enqueue(key, queue.Set(value), opts)
}

// Delete removes key from the URL.
func (s *Syncer) Delete(key string, opts queue.Options) error {
	return s.Enqueue(key, queue.Delete(), opts)
}

// Update derives the next value of key from its latest value.
func (s *Syncer) Update(key string, fn queue.UpdateFunc, opts queue.Options) error {
	return s.Enqueue(key, queue.Func(fn), opts)
}

// Snapshot returns the optimistic view: the adapter's snapshot (or the
// target of a flush in progress) overlaid with queued writes.
func (s *Syncer) Snapshot() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.View(s.base())
}

// Get returns the optimistic value of key.
func (s *Syncer) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Get(s.base(), key)
}

// Pending returns the number of writes in the open batch.
func (s *Syncer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// State returns the rate limiter's lifecycle state.
func (s *Syncer) State() throttle.State {
	return s.sched.State()
}

// Interval returns the enforced minimum gap between flushes.
func (s *Syncer) Interval() time.Duration {
	return s.sched.Interval()
}

// Subscribe registers fn to receive the optimistic snapshot after every
// write, flush and external URL change. fn runs outside the Syncer's lock and
// may call back into it. The returned function unsubscribes.
func (s *Syncer) Subscribe(fn func(snapshot.Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unmounted {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// subscribers returns a copy of the subscriber list. Caller holds mu.
func (s *Syncer) subscribers() []func(snapshot.Snapshot) {
	if len(s.subs) == 0 {
		return nil
	}
	out := make([]func(snapshot.Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func (s *Syncer) notify(subs []func(snapshot.Snapshot), view snapshot.Snapshot) {
	for _, fn := range subs {
		fn(view)
	}
}

// flush is the scheduler callback: drain the open batch and hand it to the
// adapter. The adapter is called without holding mu, so writes it triggers
// land in the next batch. It reports false when the queue was already empty,
// which happens when a Schedule call races an in-progress flush.
func (s *Syncer) flush() bool {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return false
	}
	patch, opts, ok := s.queue.Drain()
	if !ok {
		s.mu.Unlock()
		return false
	}
	state := snapshot.Navigating
	if opts.Shallow {
		state = snapshot.Confirmed
	}
	target := s.base().Apply(patch.Changes, state)
	s.inflight = &target
	s.inflightGen++
	gen := s.inflightGen
	a := s.adapter
	s.mu.Unlock()

	id := s.cfg.newID()
	keys := patch.Keys()
	_, span := telemetry.StartFlush(context.Background(), s.cfg.tracer, telemetry.FlushAttrs{
		BatchID: id,
		Batch:   patch.Batch,
		Keys:    keys,
		Writes:  patch.Writes,
		History: opts.History.String(),
		Shallow: opts.Shallow,
		Scroll:  opts.Scroll,
	})
	err := a.UpdateURL(target, opts)
	telemetry.EndFlush(span, err)

	if err != nil {
		s.cfg.metrics.RecordApplyError()
		s.logger.Error("apply failed",
			"batch", id,
			"keys", keys,
			"error", err,
		)
	} else {
		s.cfg.metrics.RecordFlush(opts.History.String(), opts.Shallow, len(keys), patch.Writes)
		s.logger.Debug("flushed",
			"batch", id,
			"keys", keys,
			"writes", patch.Writes,
			"history", opts.History.String(),
			"shallow", opts.Shallow,
			"scroll", opts.Scroll,
			"search", target.Encode(),
		)
	}

	s.mu.Lock()
	if s.inflightGen == gen {
		s.inflight = nil
	}
	if s.unmounted {
		s.mu.Unlock()
		return true
	}
	view := s.queue.View(s.base())
	subs := s.subscribers()
	s.mu.Unlock()

	s.notify(subs, view)
	return true
}

// onExternalChange is called by a Watcher adapter when the URL changed
// outside the engine (e.g. back/forward navigation).
func (s *Syncer) onExternalChange(snapshot.Snapshot) {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return
	}
	view := s.queue.View(s.base())
	subs := s.subscribers()
	s.mu.Unlock()

	s.logger.Debug("external url change", "search", view.Encode())
	s.notify(subs, view)
}

// Unmount tears the Syncer down. A scheduled flush is cancelled and queued
// writes are dropped without being applied. In-flight adapter calls are not
// cancelled. Unmount is idempotent and never blocks on the adapter.
func (s *Syncer) Unmount() {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return
	}
	s.unmounted = true
	s.sched.Close()
	dropped := s.queue.Discard()
	stop := s.stopWatch
	s.stopWatch = nil
	s.subs = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.cfg.metrics.RecordDropped(dropped)
	s.cfg.metrics.Mounted(-1)
	if dropped > 0 {
		s.logger.Debug("unmounted with queued writes", "dropped", dropped)
	} else {
		s.logger.Debug("unmounted")
	}
}

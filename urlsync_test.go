package urlsync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/urlsync/internal/clock"
	"github.com/vango-dev/urlsync/internal/idgen"
	"github.com/vango-dev/urlsync/pkg/adapter"
	"github.com/vango-dev/urlsync/pkg/queue"
	"github.com/vango-dev/urlsync/pkg/snapshot"
	"github.com/vango-dev/urlsync/pkg/telemetry"
	"github.com/vango-dev/urlsync/pkg/throttle"
)

var epoch = time.Unix(1_700_000_000, 0)

// recordingAdapter captures every UpdateURL call with the manual clock time.
type recordingAdapter struct {
	mu      sync.Mutex
	clock   *clock.Manual
	current snapshot.Snapshot
	factor  float64
	calls   []call
	err     error
	onApply func()
}

type call struct {
	at     time.Duration
	search string
	opts   adapter.UpdateOptions
}

func (a *recordingAdapter) SearchParams() snapshot.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *recordingAdapter) UpdateURL(s snapshot.Snapshot, opts adapter.UpdateOptions) error {
	a.mu.Lock()
	a.calls = append(a.calls, call{at: a.clock.Now().Sub(epoch), search: s.Encode(), opts: opts})
	err := a.err
	if err == nil {
		a.current = s
	}
	hook := a.onApply
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (a *recordingAdapter) RateLimitFactor() float64 { return a.factor }

func (a *recordingAdapter) Calls() []call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]call, len(a.calls))
	copy(out, a.calls)
	return out
}

func setup(t *testing.T, raw string, factor float64, opts ...Option) (*Syncer, *recordingAdapter, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(epoch)
	a := &recordingAdapter{clock: c, current: snapshot.MustParse(raw), factor: factor}
	opts = append([]Option{WithClock(c), WithMinInterval(50 * time.Millisecond), WithIDGenerator(idgen.Sequential("b"))}, opts...)
	s := Mount(a, opts...)
	t.Cleanup(s.Unmount)
	return s, a, c
}

func increment(prev *string) (*string, error) {
	n := 0
	if prev != nil {
		var err error
		if n, err = strconv.Atoi(*prev); err != nil {
			return nil, err
		}
	}
	return snapshot.Ptr(strconv.Itoa(n + 1)), nil
}

var shallow = queue.Options{Shallow: true}

func TestMountNilAdapter(t *testing.T) {
	if _, err := MountE(nil); !errors.Is(err, ErrNilAdapter) {
		t.Errorf("got %v, want ErrNilAdapter", err)
	}
}

func TestOptimisticReadBeforeFlush(t *testing.T) {
	s, a, _ := setup(t, "", 1)

	s.Set("q", "gophers", shallow)

	if v, ok := s.Get("q"); !ok || v != "gophers" {
		t.Errorf("Get: got %q %v", v, ok)
	}
	if s.Snapshot().State("q") != snapshot.Queued {
		t.Errorf("state: %v", s.Snapshot().State("q"))
	}
	if len(a.Calls()) != 0 {
		t.Error("adapter should not be called before the timer fires")
	}
	if s.Pending() != 1 || s.State() != throttle.Scheduled {
		t.Errorf("Pending=%d State=%v", s.Pending(), s.State())
	}
}

func TestBatchIsCoalescedIntoOneFlush(t *testing.T) {
	s, a, c := setup(t, "keep=1", 1)

	s.Set("a", "1", queue.Options{Shallow: true})
	s.Set("b", "x", queue.Options{Shallow: true, History: adapter.Push})
	s.Set("a", "2", queue.Options{Shallow: true, Scroll: true})
	c.Advance(0)

	calls := a.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls: got %d, want 1", len(calls))
	}
	if calls[0].search != "keep=1&a=2&b=x" {
		t.Errorf("search: got %q", calls[0].search)
	}
	want := adapter.UpdateOptions{History: adapter.Push, Scroll: true, Shallow: true}
	if calls[0].opts != want {
		t.Errorf("opts: got %+v, want %+v", calls[0].opts, want)
	}
	if s.Pending() != 0 {
		t.Error("queue should be empty after flush")
	}
}

func TestNonShallowWriteForcesNavigation(t *testing.T) {
	s, a, c := setup(t, "", 1)

	s.Set("a", "1", queue.Options{Shallow: true})
	s.Set("b", "1", queue.Options{Shallow: false})
	c.Advance(0)

	calls := a.Calls()
	if calls[0].opts.Shallow {
		t.Error("batch with one deep write must not be shallow")
	}
	cur := a.SearchParams()
	if cur.State("a") != snapshot.Navigating || cur.State("b") != snapshot.Navigating {
		t.Errorf("states: a=%v b=%v", cur.State("a"), cur.State("b"))
	}
}

func TestSequentialFunctionUpdaters(t *testing.T) {
	s, a, c := setup(t, "count=0", 1)

	s.Update("count", increment, shallow)
	s.Update("count", increment, shallow)

	if v, _ := s.Get("count"); v != "2" {
		t.Errorf("optimistic: got %q, want 2", v)
	}
	c.Advance(0)
	if got := a.Calls()[0].search; got != "count=2" {
		t.Errorf("flushed: got %q", got)
	}
}

func TestUpdaterErrorPropagates(t *testing.T) {
	s, a, c := setup(t, "n=1", 1)

	s.Set("other", "x", shallow)
	err := s.Update("n", func(*string) (*string, error) {
		return nil, errors.New("boom")
	}, shallow)

	if err == nil || !IsUpdaterError(err) {
		t.Fatalf("got %v, want updater error", err)
	}
	var ue *UpdateError
	if !errors.As(err, &ue) || ue.Key != "n" {
		t.Errorf("UpdateError: %+v", ue)
	}

	c.Advance(0)
	if got := a.Calls()[0].search; got != "n=1&other=x" {
		t.Errorf("batch corrupted: %q", got)
	}
}

func TestDeleteOmitsKey(t *testing.T) {
	s, a, c := setup(t, "", 1)

	s.Set("counter", "5", shallow)
	s.Delete("counter", shallow)
	c.Advance(0)

	if got := a.Calls()[0].search; got != "" {
		t.Errorf("search: got %q, want empty", got)
	}
	if s.Snapshot().Has("counter") {
		t.Error("counter should be absent")
	}
}

func TestUnmountDropsQueuedWrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, a, c := setup(t, "", 1, WithMetrics(telemetry.NewMetrics(telemetry.WithRegistry(reg))))

	s.Set("foo", "1", shallow)
	s.Unmount()
	s.Unmount()
	c.Advance(time.Second)

	if len(a.Calls()) != 0 {
		t.Errorf("foo reached the URL: %+v", a.Calls())
	}
	if err := s.Set("foo", "2", shallow); !errors.Is(err, ErrUnmounted) {
		t.Errorf("Set after Unmount: got %v", err)
	}
	if c.Pending() != 0 {
		t.Errorf("timers left: %d", c.Pending())
	}
}

func TestRateLimitFactorExample(t *testing.T) {
	s, a, c := setup(t, "", 2)
	if s.Interval() != 100*time.Millisecond {
		t.Fatalf("Interval: %v", s.Interval())
	}

	s.Set("a", "1", shallow)
	c.Advance(0) // flush at t=0

	c.Advance(10 * time.Millisecond)
	s.Set("a", "2", shallow)
	c.Advance(time.Second)

	calls := a.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls: %d", len(calls))
	}
	if calls[1].at != 100*time.Millisecond {
		t.Errorf("second flush at %v, want 100ms", calls[1].at)
	}
}

func TestNoTwoFlushesWithinInterval(t *testing.T) {
	s, a, c := setup(t, "", 2)

	for i := 0; i < 500; i++ {
		s.Set("tick", strconv.Itoa(i), shallow)
		c.Advance(time.Millisecond)
	}
	c.Advance(time.Second)

	calls := a.Calls()
	if len(calls) < 3 {
		t.Fatalf("expected several flushes, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].at - calls[i-1].at; gap < s.Interval() {
			t.Errorf("flush %d only %v after previous", i, gap)
		}
	}
	if last := calls[len(calls)-1].search; last != "tick=499" {
		t.Errorf("last flush: %q, want tick=499", last)
	}
}

func TestReentrantEnqueueGoesToNextBatch(t *testing.T) {
	s, a, c := setup(t, "", 1)

	once := true
	a.onApply = func() {
		if once {
			once = false
			if err := s.Set("late", "1", shallow); err != nil {
				t.Errorf("re-entrant Set: %v", err)
			}
			if v, _ := s.Get("a"); v != "1" {
				t.Errorf("inflight value invisible during apply: %q", v)
			}
		}
	}

	s.Set("a", "1", shallow)
	c.Advance(0)

	calls := a.Calls()
	if len(calls) != 1 || calls[0].search != "a=1" {
		t.Fatalf("first batch: %+v", calls)
	}
	if s.Pending() != 1 {
		t.Fatalf("late write should be queued for the next batch, pending=%d", s.Pending())
	}

	c.Advance(50 * time.Millisecond)
	calls = a.Calls()
	if len(calls) != 2 || calls[1].search != "a=1&late=1" {
		t.Fatalf("second batch: %+v", calls)
	}
}

func TestEmptyFlushDoesNotDelayNextBatch(t *testing.T) {
	s, a, c := setup(t, "", 2)

	// A timer that finds the queue already drained, as when Schedule runs
	// after a concurrent flush took the write.
	s.sched.Schedule()
	c.Advance(0)
	if len(a.Calls()) != 0 {
		t.Fatalf("empty queue must not reach the adapter: %+v", a.Calls())
	}
	if _, ok := s.sched.LastFlush(); ok {
		t.Error("empty flush should not count towards the interval")
	}

	c.Advance(10 * time.Millisecond)
	s.Set("a", "1", shallow)
	c.Advance(0)

	calls := a.Calls()
	if len(calls) != 1 || calls[0].at != 10*time.Millisecond {
		t.Fatalf("flushes: %+v, want one at 10ms", calls)
	}
}

func TestEnqueueGroupIsOneResolution(t *testing.T) {
	s, a, c := setup(t, "from=3&to=7", 1)

	swap := func(prev []*string) ([]*string, error) {
		return []*string{prev[1], prev[0]}, nil
	}
	if err := s.EnqueueGroup([]string{"from", "to"}, swap, shallow); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Get("from"); v != "7" {
		t.Errorf("optimistic from: %q", v)
	}
	c.Advance(0)
	if calls := a.Calls(); len(calls) != 1 || calls[0].search != "from=7&to=3" {
		t.Fatalf("calls: %+v", calls)
	}

	err := s.EnqueueGroup([]string{"from", ""}, swap, shallow)
	var ue *UpdateError
	if !errors.As(err, &ue) || !errors.Is(err, queue.ErrEmptyKey) || IsUpdaterError(err) {
		t.Errorf("empty key: %v", err)
	}

	s.Unmount()
	if err := s.EnqueueGroup([]string{"from"}, swap, shallow); !errors.Is(err, ErrUnmounted) {
		t.Errorf("after Unmount: %v", err)
	}
}

func TestApplyErrorIsNotRetried(t *testing.T) {
	s, a, c := setup(t, "a=0", 1)
	a.err = errors.New("history quota exceeded")

	s.Set("a", "1", shallow)
	c.Advance(time.Second)

	if len(a.Calls()) != 1 {
		t.Errorf("calls: got %d, want 1 (no retry)", len(a.Calls()))
	}
	if v, _ := s.Get("a"); v != "0" {
		t.Errorf("after failed apply the view follows the adapter, got %q", v)
	}
}

func TestSubscribe(t *testing.T) {
	s, _, c := setup(t, "", 1)

	var seen []string
	unsubscribe := s.Subscribe(func(v snapshot.Snapshot) {
		seen = append(seen, v.Encode()+"|"+v.State("a").String())
	})

	s.Set("a", "1", shallow)
	c.Advance(0)
	unsubscribe()
	s.Set("a", "2", shallow)

	want := []string{"a=1|queued", "a=1|confirmed"}
	if len(seen) != len(want) {
		t.Fatalf("seen: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d]: got %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestExternalChangeNotifiesSubscribers(t *testing.T) {
	c := clock.NewManual(epoch)
	m, err := adapter.NewMemory("/p?a=1", adapter.WithMemoryClock(c))
	if err != nil {
		t.Fatal(err)
	}
	s := Mount(m, WithClock(c))
	defer s.Unmount()

	s.Set("a", "2", queue.Options{History: adapter.Push, Shallow: true})
	c.Advance(0)

	var seen []string
	s.Subscribe(func(v snapshot.Snapshot) { seen = append(seen, v.Encode()) })
	m.Back()

	if len(seen) != 1 || seen[0] != "a=1" {
		t.Errorf("seen: %v", seen)
	}
	if v, _ := s.Get("a"); v != "1" {
		t.Errorf("Get after Back: %q", v)
	}
}

func TestMemoryAdapterEndToEnd(t *testing.T) {
	c := clock.NewManual(epoch)
	navigated := make(chan string, 4)
	m, err := adapter.NewMemory("https://example.com/list",
		adapter.WithMemoryClock(c),
		adapter.WithRateLimitFactor(2),
		adapter.WithNavigator(adapter.NavigatorFunc(func(_ context.Context, url string) error {
			navigated <- url
			return nil
		})),
	)
	if err != nil {
		t.Fatal(err)
	}
	s := Mount(m, WithClock(c))
	defer s.Unmount()

	s.Set("page", "2", queue.Options{History: adapter.Push})
	s.Set("sort", "desc", queue.Options{Shallow: true, Scroll: true})
	c.Advance(0)
	m.Wait()

	if got := <-navigated; got != "https://example.com/list?page=2&sort=desc" {
		t.Errorf("navigated to %q", got)
	}
	if got := m.URL(); got != "https://example.com/list?page=2&sort=desc" {
		t.Errorf("URL: %q", got)
	}
	if m.Scrolls() != 1 {
		t.Errorf("Scrolls: %d", m.Scrolls())
	}
	if pending := s.Snapshot().Pending(); len(pending) != 0 {
		t.Errorf("pending after navigation: %v", pending)
	}
	if m.History().Len() != 2 {
		t.Errorf("history length: %d", m.History().Len())
	}
}

func TestParallelSyncersAreIndependent(t *testing.T) {
	s1, a1, c1 := setup(t, "", 1)
	s2, a2, _ := setup(t, "", 1)

	s1.Set("x", "1", shallow)
	s2.Set("x", "2", shallow)
	c1.Advance(0)

	if len(a1.Calls()) != 1 || len(a2.Calls()) != 0 {
		t.Errorf("calls: a1=%d a2=%d", len(a1.Calls()), len(a2.Calls()))
	}
	if v, _ := s2.Get("x"); v != "2" {
		t.Errorf("s2 x=%q", v)
	}
}

func TestConcurrentWriters(t *testing.T) {
	s, a, c := setup(t, "n=0", 1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("n", increment, shallow)
		}()
	}
	wg.Wait()
	c.Advance(0)

	if got := a.Calls()[0].search; got != "n=50" {
		t.Errorf("got %q, want n=50 (no lost updates)", got)
	}
}

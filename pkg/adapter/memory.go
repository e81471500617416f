package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-dev/urlsync/internal/clock"
	"github.com/vango-dev/urlsync/pkg/snapshot"
)

// ErrClosed is returned by UpdateURL after the adapter was closed.
var ErrClosed = errors.New("adapter: closed")

// Navigator performs the router-level navigation that follows a non-shallow
// update, such as a server round trip re-rendering the page.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, url string) error

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, url string) error {
	return f(ctx, url)
}

// MemoryOption configures a Memory adapter.
type MemoryOption func(*Memory)

// WithRateLimitFactor sets the factor reported by RateLimitFactor.
// Default: DefaultRateLimitFactor.
func WithRateLimitFactor(f float64) MemoryOption {
	return func(m *Memory) {
		m.factor = f
	}
}

// WithNavigator sets the navigator used for non-shallow updates. Without a
// navigator, non-shallow updates are confirmed immediately.
func WithNavigator(n Navigator) MemoryOption {
	return func(m *Memory) {
		m.nav = n
	}
}

// WithNavigationErrorHandler is called when an asynchronous navigation fails.
func WithNavigationErrorHandler(fn func(url string, err error)) MemoryOption {
	return func(m *Memory) {
		m.onNavErr = fn
	}
}

// WithHistoryCapacity bounds the history stack. Default: 100.
func WithHistoryCapacity(n int) MemoryOption {
	return func(m *Memory) {
		m.history = NewHistory(n)
	}
}

// WithMemoryClock sets the clock used to timestamp history entries.
func WithMemoryClock(c clock.Clock) MemoryOption {
	return func(m *Memory) {
		m.clock = c
	}
}

// WithMemoryLogger sets the adapter's logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) {
		m.logger = l
	}
}

// Memory is an in-process host: it keeps the address bar, a history stack
// and a scroll counter, and runs router navigations on a Navigator.
//
// UpdateURL follows the same three steps a browser binding does:
//  1. record the URL in history and swap the snapshot synchronously,
//  2. reset scroll when asked,
//  3. for non-shallow batches, navigate asynchronously and confirm the keys
//     once the navigation succeeds.
type Memory struct {
	mu       sync.RWMutex
	base     string
	current  snapshot.Snapshot
	history  *History
	factor   float64
	nav      Navigator
	onNavErr func(url string, err error)
	clock    clock.Clock
	logger   *slog.Logger
	scrolls  int
	updates  int
	closed   bool

	watchers  map[uint64]func(snapshot.Snapshot)
	nextWatch uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemory creates a Memory adapter whose address bar starts at rawURL.
func NewMemory(rawURL string, opts ...MemoryOption) (*Memory, error) {
	base, query, _ := strings.Cut(rawURL, "?")
	query, _, _ = strings.Cut(query, "#")
	current, err := snapshot.Parse(query)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		base:     base,
		current:  current,
		factor:   DefaultRateLimitFactor,
		clock:    clock.Real(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		watchers: make(map[uint64]func(snapshot.Snapshot)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.history == nil {
		m.history = NewHistory(100)
	}
	m.history.Record(snapshot.RenderURL(base, current), Push, m.clock.Now())
	return m, nil
}

// SearchParams returns the current snapshot.
func (m *Memory) SearchParams() snapshot.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// RateLimitFactor returns the configured factor.
func (m *Memory) RateLimitFactor() float64 {
	return m.factor
}

// URL returns the full current URL.
func (m *Memory) URL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot.RenderURL(m.base, m.current)
}

// History returns the history stack.
func (m *Memory) History() *History {
	return m.history
}

// Scrolls returns how many scroll resets were performed.
func (m *Memory) Scrolls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scrolls
}

// Updates returns how many times UpdateURL applied a batch.
func (m *Memory) Updates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}

// UpdateURL applies search. The local URL and snapshot change before
// UpdateURL returns; navigation for non-shallow batches runs in the
// background.
func (m *Memory) UpdateURL(search snapshot.Snapshot, opts UpdateOptions) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	url := snapshot.RenderURL(m.base, search)
	entry := m.history.Record(url, opts.History, m.clock.Now())
	m.updates++
	if opts.Scroll {
		m.scrolls++
	}

	navigate := !opts.Shallow && m.nav != nil
	switch {
	case navigate:
		m.current = search
	case m.nav == nil:
		// Without a router nothing can be left navigating.
		m.current = search.Confirm()
	default:
		// A shallow batch settles its own keys only. Keys of an earlier
		// non-shallow batch wait for their navigation.
		m.current = search.Settle()
	}
	if navigate {
		m.wg.Add(1)
	}
	ctx := m.ctx
	nav := m.nav
	m.mu.Unlock()

	m.logger.Debug("url updated",
		"url", url,
		"seq", entry.Seq,
		"history", opts.History.String(),
		"shallow", opts.Shallow,
		"scroll", opts.Scroll,
	)

	if navigate {
		go m.navigate(ctx, nav, url, search)
	}
	return nil
}

func (m *Memory) navigate(ctx context.Context, nav Navigator, url string, search snapshot.Snapshot) {
	defer m.wg.Done()

	err := nav.Navigate(ctx, url)
	if ctx.Err() != nil {
		// Closed while navigating; the result is ignored.
		return
	}
	if err != nil {
		m.logger.Warn("navigation failed", "url", url, "error", err)
		m.mu.RLock()
		handler := m.onNavErr
		m.mu.RUnlock()
		if handler != nil {
			handler(url, err)
		}
		return
	}

	m.mu.Lock()
	var confirm []string
	for _, key := range search.Pending() {
		want, _ := search.Get(key)
		if got, ok := m.current.Get(key); ok && got == want {
			confirm = append(confirm, key)
		}
	}
	if len(confirm) > 0 {
		m.current = m.current.Confirm(confirm...)
	}
	m.mu.Unlock()
}

// Back pops the newest history entry and restores the previous URL, as a
// browser does on popstate. Watchers are notified with the new snapshot.
func (m *Memory) Back() (snapshot.Snapshot, bool) {
	entry, ok := m.history.Back()
	if !ok {
		return m.SearchParams(), false
	}
	_, query, _ := strings.Cut(entry.URL, "?")
	query, _, _ = strings.Cut(query, "#")
	s, err := snapshot.Parse(query)
	if err != nil {
		m.logger.Warn("unparseable history entry", "url", entry.URL, "error", err)
		return m.SearchParams(), false
	}

	m.mu.Lock()
	m.current = s
	watchers := make([]func(snapshot.Snapshot), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(s)
	}
	return s, true
}

// Watch registers fn for external URL changes.
func (m *Memory) Watch(fn func(snapshot.Snapshot)) (stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWatch++
	id := m.nextWatch
	m.watchers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Wait blocks until every navigation started so far has finished.
func (m *Memory) Wait() {
	m.wg.Wait()
}

// Close cancels in-flight navigations; their results are ignored.
// Further UpdateURL calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cancel()
	return nil
}

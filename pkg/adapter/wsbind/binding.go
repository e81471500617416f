// Package wsbind binds the sync engine to a browser over a websocket.
//
// The server owns the query string and the browser mirrors it: every flushed
// batch becomes a "url" message, which the client applies with
// history.pushState or replaceState. Non-shallow updates stay Navigating until
// the client acknowledges the router navigation. Back/forward navigation is
// reported with "popstate", and client-side writes arrive as "set" intents.
package wsbind

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/urlsync/pkg/adapter"
	"github.com/vango-dev/urlsync/pkg/snapshot"
)

// DefaultRateLimitFactor slows flushes down for browsers, which throttle
// history API calls.
const DefaultRateLimitFactor = adapter.DefaultRateLimitFactor

// ErrClosed is returned by UpdateURL once the connection is gone.
var ErrClosed = errors.New("wsbind: connection closed")

// BindingOption configures a Binding.
type BindingOption func(*Binding)

// WithRateLimitFactor overrides DefaultRateLimitFactor.
func WithRateLimitFactor(f float64) BindingOption {
	return func(b *Binding) {
		b.factor = f
	}
}

// WithWriteTimeout bounds each websocket write. Default: 10s.
func WithWriteTimeout(d time.Duration) BindingOption {
	return func(b *Binding) {
		b.writeTimeout = d
	}
}

// WithNavigationErrorHandler is called when the client reports a failed
// navigation.
func WithNavigationErrorHandler(fn func(url string, err error)) BindingOption {
	return func(b *Binding) {
		b.onNavErr = fn
	}
}

// WithBindingLogger sets the logger.
func WithBindingLogger(l *slog.Logger) BindingOption {
	return func(b *Binding) {
		b.logger = l
	}
}

// Binding is an adapter.Adapter for one connected browser tab.
type Binding struct {
	id   string
	conn *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu        sync.Mutex
	base      string
	current   snapshot.Snapshot
	seq       uint64
	inflight  map[uint64]snapshot.Snapshot
	factor    float64
	onNavErr  func(url string, err error)
	onIntent  func(Intent) error
	watchers  map[uint64]func(snapshot.Snapshot)
	nextWatch uint64
	closed    bool

	logger *slog.Logger
	done   chan struct{}
}

// NewBinding wraps conn. rawURL is the page URL the client reported when it
// connected.
func NewBinding(id string, conn *websocket.Conn, rawURL string, opts ...BindingOption) (*Binding, error) {
	base, query, _ := strings.Cut(rawURL, "?")
	query, _, _ = strings.Cut(query, "#")
	current, err := snapshot.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("wsbind: initial url: %w", err)
	}
	b := &Binding{
		id:           id,
		conn:         conn,
		writeTimeout: 10 * time.Second,
		base:         base,
		current:      current,
		inflight:     make(map[uint64]snapshot.Snapshot),
		factor:       DefaultRateLimitFactor,
		watchers:     make(map[uint64]func(snapshot.Snapshot)),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("binding", id)
	return b, nil
}

// ID returns the binding's identifier.
func (b *Binding) ID() string {
	return b.id
}

// SearchParams returns the server's view of the client's query string.
func (b *Binding) SearchParams() snapshot.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// URL returns the client's current URL.
func (b *Binding) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshot.RenderURL(b.base, b.current)
}

// RateLimitFactor returns the configured factor.
func (b *Binding) RateLimitFactor() float64 {
	return b.factor
}

// OnIntent sets the handler for client "set" messages. Typically this is a
// Syncer's Enqueue.
func (b *Binding) OnIntent(fn func(Intent) error) {
	b.mu.Lock()
	b.onIntent = fn
	b.mu.Unlock()
}

// Done is closed when the connection ends.
func (b *Binding) Done() <-chan struct{} {
	return b.done
}

// UpdateURL sends search to the client. If the write fails the local
// snapshot is restored and the error returned.
func (b *Binding) UpdateURL(search snapshot.Snapshot, opts adapter.UpdateOptions) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	prev := b.current
	b.seq++
	seq := b.seq
	if opts.Shallow {
		// Earlier non-shallow keys stay Navigating until acknowledged.
		b.current = search.Settle()
	} else {
		b.current = search
		b.inflight[seq] = search
	}
	url := snapshot.RenderURL(b.base, search)
	b.mu.Unlock()

	err := b.write(Message{
		Type:    TypeURL,
		Seq:     seq,
		URL:     url,
		History: opts.History.String(),
		Scroll:  opts.Scroll,
		Shallow: opts.Shallow,
	})
	if err != nil {
		b.mu.Lock()
		delete(b.inflight, seq)
		if b.seq == seq {
			b.current = prev
		}
		b.mu.Unlock()
		return fmt.Errorf("wsbind: send url: %w", err)
	}
	return nil
}

func (b *Binding) write(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// Watch registers fn for popstate changes.
func (b *Binding) Watch(fn func(snapshot.Snapshot)) (stop func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextWatch++
	id := b.nextWatch
	b.watchers[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// ReadLoop processes client messages until the connection closes. It
// blocks, and closes the binding on return.
func (b *Binding) ReadLoop() {
	defer b.Close()

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				b.logger.Error("read error", "error", err)
			}
			return
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			b.logger.Warn("invalid message", "error", err)
			continue
		}

		switch m.Type {
		case TypePopState:
			b.handlePopState(m)
		case TypeAck:
			b.handleAck(m)
		case TypeSet:
			b.handleSet(m)
		default:
			b.logger.Warn("unknown message type", "type", m.Type)
		}
	}
}

func (b *Binding) handlePopState(m Message) {
	s, err := snapshot.Parse(m.Search)
	if err != nil {
		b.logger.Warn("invalid popstate search", "search", m.Search, "error", err)
		return
	}

	b.mu.Lock()
	b.current = s
	// Navigations for URLs the user left are moot.
	clear(b.inflight)
	watchers := make([]func(snapshot.Snapshot), 0, len(b.watchers))
	for _, fn := range b.watchers {
		watchers = append(watchers, fn)
	}
	b.mu.Unlock()

	for _, fn := range watchers {
		fn(s)
	}
}

func (b *Binding) handleAck(m Message) {
	b.mu.Lock()
	search, ok := b.inflight[m.Seq]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.inflight, m.Seq)

	if !m.OK {
		handler := b.onNavErr
		url := snapshot.RenderURL(b.base, search)
		b.mu.Unlock()

		err := errors.New(m.Error)
		b.logger.Warn("navigation failed", "url", url, "seq", m.Seq, "error", err)
		if handler != nil {
			handler(url, err)
		}
		return
	}

	var confirm []string
	for _, key := range search.Pending() {
		want, _ := search.Get(key)
		if got, ok := b.current.Get(key); ok && got == want {
			confirm = append(confirm, key)
		}
	}
	if len(confirm) > 0 {
		b.current = b.current.Confirm(confirm...)
	}
	b.mu.Unlock()
}

func (b *Binding) handleSet(m Message) {
	b.mu.Lock()
	handler := b.onIntent
	b.mu.Unlock()
	if handler == nil {
		b.logger.Warn("set intent without handler", "key", m.Key)
		return
	}
	if err := handler(intentFromMessage(m)); err != nil {
		b.logger.Warn("set intent rejected", "key", m.Key, "error", err)
	}
}

// Close sends a close frame and releases the connection. Idempotent.
func (b *Binding) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	clear(b.inflight)
	b.mu.Unlock()

	b.writeMu.Lock()
	b.conn.SetWriteDeadline(time.Now().Add(time.Second))
	b.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	b.writeMu.Unlock()

	close(b.done)
	return b.conn.Close()
}

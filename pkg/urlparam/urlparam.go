// Package urlparam binds typed values to URL query keys.
//
// A Param reads its value from the optimistic snapshot of a Store (normally
// a *urlsync.Syncer) and writes through the store's update queue, so several
// params changed in the same tick end up in one URL update:
//
//	page := urlparam.New(syncer, "page", urlparam.Int(), 1, urlparam.Push)
//	query := urlparam.New(syncer, "q", urlparam.String(), "", urlparam.ClearOnDefault)
//	tags := urlparam.New(syncer, "tags", urlparam.Comma(urlparam.String()), nil)
//
//	query.Set("gophers")
//	page.Update(func(p int) int { return p + 1 })
//
// Malformed values never escape a read: Get falls back to the default and
// logs the parse error.
package urlparam

import (
	"io"
	"log/slog"
	"reflect"

	"github.com/vango-dev/urlsync/pkg/adapter"
	"github.com/vango-dev/urlsync/pkg/queue"
)

// Store is the part of the sync engine a Param needs.
type Store interface {
	Get(key string) (string, bool)
	Enqueue(key string, u queue.Updater, opts queue.Options) error
}

// Option configures a Param.
type Option interface {
	apply(*paramConfig)
}

type paramConfig struct {
	opts           queue.Options
	clearOnDefault bool
	logger         *slog.Logger
}

// History options as values (not functions).
var (
	// Push creates a new history entry on every write.
	Push Option = historyOption{mode: adapter.Push}

	// Replace updates the URL without creating a history entry (default).
	Replace Option = historyOption{mode: adapter.Replace}

	// Scroll resets the scroll position after the URL changes.
	Scroll Option = scrollOption{}

	// ClearOnDefault removes the key from the URL when the value equals the
	// default.
	ClearOnDefault Option = clearOnDefaultOption{}
)

type historyOption struct {
	mode adapter.HistoryMode
}

func (o historyOption) apply(c *paramConfig) {
	c.opts.History = o.mode
}

type scrollOption struct{}

func (scrollOption) apply(c *paramConfig) {
	c.opts.Scroll = true
}

type clearOnDefaultOption struct{}

func (clearOnDefaultOption) apply(c *paramConfig) {
	c.clearOnDefault = true
}

type shallowOption bool

func (o shallowOption) apply(c *paramConfig) {
	c.opts.Shallow = bool(o)
}

// Shallow controls whether writes skip the router-level navigation.
// Default: true.
func Shallow(shallow bool) Option {
	return shallowOption(shallow)
}

type loggerOption struct {
	l *slog.Logger
}

func (o loggerOption) apply(c *paramConfig) {
	c.logger = o.l
}

// WithLogger sets where parse failures are logged. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return loggerOption{l: l}
}

func newParamConfig(opts []Option) paramConfig {
	cfg := paramConfig{
		opts:   queue.Options{History: adapter.Replace, Shallow: true},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return cfg
}

// Param is a typed view of one query key.
type Param[T any] struct {
	store    Store
	key      string
	codec    Codec[T]
	defaults T
	config   paramConfig
}

// New binds key in store to a typed value. A nil codec means Reflect[T]().
func New[T any](store Store, key string, codec Codec[T], defaultValue T, opts ...Option) *Param[T] {
	if codec == nil {
		codec = Reflect[T]()
	}
	return &Param[T]{
		store:    store,
		key:      key,
		codec:    codec,
		defaults: defaultValue,
		config:   newParamConfig(opts),
	}
}

// Key returns the query key.
func (p *Param[T]) Key() string {
	return p.key
}

// Default returns the default value.
func (p *Param[T]) Default() T {
	return p.defaults
}

// Raw returns the raw optimistic query value.
func (p *Param[T]) Raw() (string, bool) {
	return p.store.Get(p.key)
}

// Get returns the current value, or the default when the key is absent or
// malformed.
func (p *Param[T]) Get() T {
	raw, ok := p.store.Get(p.key)
	if !ok {
		return p.defaults
	}
	return p.decode(&raw)
}

// decode parses raw, falling back to the default.
func (p *Param[T]) decode(raw *string) T {
	if raw == nil {
		return p.defaults
	}
	v, err := p.codec.Parse(*raw)
	if err != nil {
		p.config.logger.Warn("invalid query value, using default",
			"key", p.key,
			"value", *raw,
			"error", err,
		)
		return p.defaults
	}
	return v
}

// encode serializes v, returning nil when the key should be removed.
func (p *Param[T]) encode(v T) *string {
	if p.config.clearOnDefault && reflect.DeepEqual(v, p.defaults) {
		return nil
	}
	s := p.codec.Serialize(v)
	return &s
}

// Set writes value.
func (p *Param[T]) Set(value T) error {
	return p.store.Enqueue(p.key, queue.Value(p.encode(value)), p.config.opts)
}

// Update derives the next value from the latest one, including writes made
// earlier in the same batch.
func (p *Param[T]) Update(fn func(T) T) error {
	return p.UpdateE(func(v T) (T, error) { return fn(v), nil })
}

// UpdateE is like Update but fn may fail; the error is returned and the
// write is dropped.
func (p *Param[T]) UpdateE(fn func(T) (T, error)) error {
	return p.store.Enqueue(p.key, queue.Func(func(prev *string) (*string, error) {
		next, err := fn(p.decode(prev))
		if err != nil {
			return nil, err
		}
		return p.encode(next), nil
	}), p.config.opts)
}

// Remove deletes the key from the URL. Get then returns the default.
func (p *Param[T]) Remove() error {
	return p.store.Enqueue(p.key, queue.Delete(), p.config.opts)
}

// Reset is an alias for Remove.
func (p *Param[T]) Reset() error {
	return p.Remove()
}

// IsSet reports whether the key is present in the URL.
func (p *Param[T]) IsSet() bool {
	_, ok := p.store.Get(p.key)
	return ok
}

package urlparam

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/vango-dev/urlsync/pkg/queue"
)

// GroupStore is a Store that can write several keys atomically.
// *urlsync.Syncer implements it.
type GroupStore interface {
	Store
	EnqueueGroup(keys []string, fn queue.GroupFunc, opts queue.Options) error
}

// Flat binds the exported scalar fields of a struct to their own query keys:
//
//	type Filters struct {
//	    Category string `url:"cat"`
//	    SortBy   string `url:"sort"`
//	    Page     int
//	    Internal string `url:"-"`
//	}
//	// ?cat=tech&sort=date&page=2
//
// Keys come from the url tag, or the lowercased field name. Zero fields are
// removed from the URL. A Set writes every field in the same batch, so the
// URL never shows a half-applied struct.
type Flat[T any] struct {
	store    GroupStore
	fields   []flatField
	defaults T
	config   paramConfig
}

type flatField struct {
	index int
	key   string
}

// NewFlat binds the fields of T. It panics if T is not a struct, since that
// is a programming error.
func NewFlat[T any](store GroupStore, defaultValue T, opts ...Option) *Flat[T] {
	t := reflect.TypeOf(defaultValue)
	if t == nil || t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("urlparam: NewFlat requires a struct type, got %v", t))
	}
	f := &Flat[T]{
		store:    store,
		defaults: defaultValue,
		config:   newParamConfig(opts),
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := field.Tag.Get("url")
		if key == "" {
			key = strings.ToLower(field.Name)
		}
		if key == "-" {
			continue
		}
		f.fields = append(f.fields, flatField{index: i, key: key})
	}
	return f
}

// Keys returns the bound query keys in field order.
func (f *Flat[T]) Keys() []string {
	keys := make([]string, len(f.fields))
	for i, field := range f.fields {
		keys[i] = field.key
	}
	return keys
}

// Get assembles the struct from the current URL. Missing or malformed fields
// keep their default.
func (f *Flat[T]) Get() T {
	raw := make([]*string, len(f.fields))
	for i, field := range f.fields {
		if v, ok := f.store.Get(field.key); ok {
			raw[i] = &v
		}
	}
	return f.decode(raw)
}

// decode builds a T from raw values aligned with f.fields.
func (f *Flat[T]) decode(raw []*string) T {
	result := f.defaults
	v := reflect.ValueOf(&result).Elem()
	for i, field := range f.fields {
		if raw[i] == nil {
			continue
		}
		fv := v.Field(field.index)
		prev := reflect.New(fv.Type()).Elem()
		prev.Set(fv)
		if err := setFieldValue(fv, *raw[i]); err != nil {
			f.config.logger.Warn("invalid query value, using default",
				"key", field.key,
				"value", *raw[i],
				"error", err,
			)
			fv.Set(prev)
		}
	}
	return result
}

// encode returns one raw value per field. Zero fields are nil.
func (f *Flat[T]) encode(value T) []*string {
	v := reflect.ValueOf(value)
	out := make([]*string, len(f.fields))
	for i, field := range f.fields {
		fv := v.Field(field.index)
		if fv.IsZero() {
			continue
		}
		s := formatValue(fv)
		out[i] = &s
	}
	return out
}

// Set writes every bound field in one group. Zero fields are deleted.
func (f *Flat[T]) Set(value T) error {
	next := f.encode(value)
	return f.store.EnqueueGroup(f.Keys(), func([]*string) ([]*string, error) {
		return next, nil
	}, f.config.opts)
}

// Update applies fn to the latest struct and writes the result. The read
// and the write happen as one group, so concurrent Updates, and Param
// updates of the same keys, compose instead of overwriting each other.
func (f *Flat[T]) Update(fn func(T) T) error {
	return f.store.EnqueueGroup(f.Keys(), func(prev []*string) ([]*string, error) {
		return f.encode(fn(f.decode(prev))), nil
	}, f.config.opts)
}

// Reset removes every bound key.
func (f *Flat[T]) Reset() error {
	return f.store.EnqueueGroup(f.Keys(), func(prev []*string) ([]*string, error) {
		return make([]*string, len(prev)), nil
	}, f.config.opts)
}

package queue

import (
	"github.com/vango-dev/urlsync/pkg/adapter"
)

// Updater computes the next raw value of a key.
//
// Use Set for a literal value, Delete to remove the key, or Func to derive
// the value from the current one.
type Updater interface {
	resolve(prev *string) (*string, error)
}

// Set returns an Updater that writes a literal value.
func Set(v string) Updater {
	return literal{v: &v}
}

// Delete returns an Updater that removes the key from the URL.
func Delete() Updater {
	return literal{}
}

// Value returns an Updater that writes *v, or removes the key when v is nil.
func Value(v *string) Updater {
	if v == nil {
		return literal{}
	}
	cp := *v
	return literal{v: &cp}
}

type literal struct {
	v *string
}

func (l literal) resolve(*string) (*string, error) {
	return l.v, nil
}

// UpdateFunc derives a new value from the previous one. prev is nil when the
// key is absent; returning nil removes the key.
type UpdateFunc func(prev *string) (*string, error)

// Func returns an Updater that evaluates fn against the latest value of the
// key, including values written earlier in the same batch.
func Func(fn UpdateFunc) Updater {
	return fn
}

func (fn UpdateFunc) resolve(prev *string) (*string, error) {
	return fn(prev)
}

// GroupFunc derives new values for several keys at once. prev[i] is the
// latest value of the i-th key; the result must have the same length, and a
// nil entry removes that key.
type GroupFunc func(prev []*string) ([]*string, error)

// Options are the per-write flush preferences.
type Options struct {
	// History requests a push or replace history entry.
	History adapter.HistoryMode

	// Scroll requests a scroll reset after the update.
	Scroll bool

	// Shallow requests that no router-level navigation happens.
	Shallow bool
}

// Aggregate folds per-write options into batch options: push dominates
// replace, scroll is OR-ed and shallow is AND-ed.
func Aggregate(opts []Options) adapter.UpdateOptions {
	out := adapter.UpdateOptions{History: adapter.Replace, Shallow: true}
	for _, o := range opts {
		if o.History == adapter.Push {
			out.History = adapter.Push
		}
		out.Scroll = out.Scroll || o.Scroll
		out.Shallow = out.Shallow && o.Shallow
	}
	return out
}

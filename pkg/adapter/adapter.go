// Package adapter defines the boundary between the update engine and the host
// router that actually changes the URL.
//
// An Adapter exposes the current query snapshot, applies a fully resolved
// snapshot with UpdateURL, and advertises a rate limit factor describing how
// much headroom its host navigation API needs.
//
// The package also ships Memory, a host simulation with a history stack and an
// asynchronous navigator, used by tests and by the replay tool.
package adapter

import (
	"github.com/vango-dev/urlsync/pkg/snapshot"
)

// DefaultRateLimitFactor is the headroom browser hosts need: history API
// calls are throttled, so flushes run at half the host's nominal rate.
const DefaultRateLimitFactor = 2.0

// HistoryMode determines how a URL update is recorded in history.
type HistoryMode int

const (
	// Replace replaces the current history entry (no back button spam).
	Replace HistoryMode = iota

	// Push adds a new history entry.
	Push
)

// String returns "push" or "replace".
func (m HistoryMode) String() string {
	if m == Push {
		return "push"
	}
	return "replace"
}

// ParseHistoryMode converts "push" or "replace" to a HistoryMode.
// Anything else is Replace.
func ParseHistoryMode(s string) HistoryMode {
	if s == "push" {
		return Push
	}
	return Replace
}

// UpdateOptions controls how a batch is applied.
type UpdateOptions struct {
	// History is Push if any write in the batch asked for Push.
	History HistoryMode

	// Scroll resets the scroll position to the top after the update.
	Scroll bool

	// Shallow skips the router-level navigation. Only true when every write
	// in the batch asked for it.
	Shallow bool
}

// Adapter is the contract every host-router binding implements.
type Adapter interface {
	// SearchParams returns the adapter's current (optimistic) snapshot.
	SearchParams() snapshot.Snapshot

	// UpdateURL applies search as the new query string. The local URL must be
	// updated before UpdateURL returns; any router-level navigation may run
	// asynchronously. The returned error covers synchronous failures only.
	UpdateURL(search snapshot.Snapshot, opts UpdateOptions) error

	// RateLimitFactor multiplies the minimum flush interval.
	RateLimitFactor() float64
}

// Watcher is implemented by adapters whose URL can change from outside the
// engine, e.g. on back/forward navigation.
type Watcher interface {
	// Watch registers fn to be called with the new snapshot after an
	// external change. The returned function stops watching.
	Watch(fn func(snapshot.Snapshot)) (stop func())
}

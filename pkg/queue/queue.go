// Package queue accumulates per-key URL writes from independent callers and
// folds them into one coalesced patch per flush.
//
// Writes are resolved as they arrive: a function updater sees the value
// produced by every earlier write in the open batch, exactly as if the calls
// had been applied to the URL one after another. The open batch therefore
// acts as a working snapshot layered over the adapter's snapshot, and Drain
// hands the final value of each key to the scheduler.
//
// A Queue is not safe for concurrent use. The owning engine serializes
// access, and updater functions must not call back into that engine.
package queue

import (
	"errors"
	"fmt"

	"github.com/vango-dev/urlsync/pkg/adapter"
	"github.com/vango-dev/urlsync/pkg/snapshot"
)

// ErrEmptyKey is returned when a write names no key.
var ErrEmptyKey = errors.New("queue: empty key")

// ErrGroupSize is returned when a GroupFunc returns a different number of
// values than it was given.
var ErrGroupSize = errors.New("queue: group result size mismatch")

// Write is one pending request in the open batch.
type Write struct {
	// Seq is the arrival order within the queue's lifetime.
	Seq uint64

	// Key is the query key being written.
	Key string

	// Value is the resolved value; nil removes the key.
	Value *string

	// Options are the caller's flush preferences.
	Options Options
}

// Patch is the coalesced result of a batch: one change per key, in the order
// keys were first written, carrying the last value written.
type Patch struct {
	// Batch is the sequence number of the drained batch, starting at 1.
	Batch uint64

	// Changes holds one entry per key.
	Changes []snapshot.Change

	// Writes is the number of writes folded into Changes.
	Writes int
}

// Keys returns the keys touched by the patch.
func (p Patch) Keys() []string {
	keys := make([]string, len(p.Changes))
	for i, c := range p.Changes {
		keys[i] = c.Key
	}
	return keys
}

// Empty reports whether the patch holds no changes.
func (p Patch) Empty() bool {
	return len(p.Changes) == 0
}

// Queue holds the open batch.
type Queue struct {
	writes  []Write
	overlay map[string]*string
	seq     uint64
	batches uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{overlay: make(map[string]*string)}
}

// Enqueue resolves u against the latest value of key and appends the write to
// the open batch. base is the snapshot the open batch is layered over.
//
// If the updater fails the error is returned and the queue is left exactly as
// it was. Enqueue never blocks. It returns the resolved value.
func (q *Queue) Enqueue(base snapshot.Snapshot, key string, u Updater, opts Options) (*string, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if u == nil {
		u = Delete()
	}

	next, err := u.resolve(q.current(base, key))
	if err != nil {
		return nil, fmt.Errorf("queue: updater for %q: %w", key, err)
	}
	if next != nil {
		v := *next
		next = &v
	}

	q.seq++
	q.writes = append(q.writes, Write{
		Seq:     q.seq,
		Key:     key,
		Value:   next,
		Options: opts,
	})
	q.overlay[key] = next
	return next, nil
}

// EnqueueGroup resolves fn against the latest values of keys and appends one
// write per key. fn sees all keys at once, so a caller that holds the
// queue's lock gets an atomic read-modify-write across them. On error the
// queue is left unchanged.
func (q *Queue) EnqueueGroup(base snapshot.Snapshot, keys []string, fn GroupFunc, opts Options) ([]*string, error) {
	prev := make([]*string, len(keys))
	for i, key := range keys {
		if key == "" {
			return nil, ErrEmptyKey
		}
		prev[i] = q.current(base, key)
	}

	next, err := fn(prev)
	if err != nil {
		return nil, fmt.Errorf("queue: group updater for %v: %w", keys, err)
	}
	if len(next) != len(keys) {
		return nil, fmt.Errorf("queue: group updater for %v: %w", keys, ErrGroupSize)
	}
	out := make([]*string, len(keys))
	for i, key := range keys {
		// Literal values cannot fail.
		out[i], _ = q.Enqueue(base, key, Value(next[i]), opts)
	}
	return out, nil
}

// current returns the working value of key: the last value written in the
// open batch, or the base snapshot's value.
func (q *Queue) current(base snapshot.Snapshot, key string) *string {
	if v, ok := q.overlay[key]; ok {
		if v == nil {
			return nil
		}
		cp := *v
		return &cp
	}
	return base.Lookup(key)
}

// Get returns the working value of key against base.
func (q *Queue) Get(base snapshot.Snapshot, key string) (string, bool) {
	v := q.current(base, key)
	if v == nil {
		return "", false
	}
	return *v, true
}

// View returns base overlaid with the open batch. Keys written in the batch
// are tagged snapshot.Queued.
func (q *Queue) View(base snapshot.Snapshot) snapshot.Snapshot {
	if len(q.writes) == 0 {
		return base
	}
	return base.Apply(q.fold(), snapshot.Queued)
}

// fold collapses the writes into one change per key, keeping first-write
// order and last-write value.
func (q *Queue) fold() []snapshot.Change {
	pos := make(map[string]int, len(q.overlay))
	changes := make([]snapshot.Change, 0, len(q.overlay))
	for _, w := range q.writes {
		if i, ok := pos[w.Key]; ok {
			changes[i].Value = w.Value
			continue
		}
		pos[w.Key] = len(changes)
		changes = append(changes, snapshot.Change{Key: w.Key, Value: w.Value})
	}
	return changes
}

// Drain folds the open batch into a Patch and aggregated UpdateOptions and
// starts a new, empty batch. ok is false when there was nothing to drain.
func (q *Queue) Drain() (p Patch, opts adapter.UpdateOptions, ok bool) {
	if len(q.writes) == 0 {
		return Patch{}, adapter.UpdateOptions{}, false
	}

	all := make([]Options, len(q.writes))
	for i, w := range q.writes {
		all[i] = w.Options
	}

	q.batches++
	p = Patch{
		Batch:   q.batches,
		Changes: q.fold(),
		Writes:  len(q.writes),
	}
	opts = Aggregate(all)
	q.reset()
	return p, opts, true
}

// Discard drops the open batch and returns the number of writes lost.
func (q *Queue) Discard() int {
	n := len(q.writes)
	q.reset()
	return n
}

func (q *Queue) reset() {
	q.writes = nil
	q.overlay = make(map[string]*string)
}

// Len returns the number of writes in the open batch.
func (q *Queue) Len() int {
	return len(q.writes)
}

// Empty reports whether the open batch holds no writes.
func (q *Queue) Empty() bool {
	return len(q.writes) == 0
}

// Keys returns the distinct keys written in the open batch, in first-write
// order.
func (q *Queue) Keys() []string {
	changes := q.fold()
	keys := make([]string, len(changes))
	for i, c := range changes {
		keys[i] = c.Key
	}
	return keys
}

// Writes returns a copy of the open batch in arrival order.
func (q *Queue) Writes() []Write {
	out := make([]Write, len(q.writes))
	copy(out, q.writes)
	return out
}

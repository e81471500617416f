// Package snapshot provides the immutable read model of a URL query string.
//
// A Snapshot is an ordered mapping from query key to a single string value.
// Each entry carries a State tag so optimistic values can be told apart from
// values the host router has confirmed:
//
//	s, _ := snapshot.Parse("?page=2&q=go")
//	s = s.With("page", snapshot.Ptr("3"), snapshot.Queued)
//	s.Get("page")   // "3", true
//	s.State("page") // snapshot.Queued
//	s.Encode()      // "page=3&q=go"
//
// Snapshots are never mutated after construction. Every operation that
// changes content returns a new Snapshot, so a reader holding one can never
// observe a partial update.
package snapshot

import (
	"net/url"
	"strings"
)

// State tags the reconciliation status of a single key.
type State uint8

const (
	// Confirmed means no outstanding work exists for the key.
	Confirmed State = iota

	// Queued means the value was written by a caller and is visible
	// optimistically, but has not been flushed to the URL yet.
	Queued

	// Navigating means the value is in the address bar, but the router-level
	// navigation that follows a non-shallow update has not completed.
	Navigating
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Queued:
		return "queued"
	case Navigating:
		return "navigating"
	default:
		return "unknown"
	}
}

// Entry is one key of a snapshot.
type Entry struct {
	Key   string
	Value string
	State State
}

// Snapshot is an immutable, ordered view of query parameters.
// The zero value is an empty snapshot.
type Snapshot struct {
	entries []Entry
	index   map[string]int
}

// Empty returns a snapshot with no keys.
func Empty() Snapshot {
	return Snapshot{}
}

// Ptr returns a pointer to v. Handy for building patch values.
func Ptr(v string) *string {
	return &v
}

// Parse builds a Confirmed snapshot from a raw query string. A leading '?' is
// ignored. When a key appears more than once the first occurrence wins.
func Parse(raw string) (Snapshot, error) {
	raw = strings.TrimPrefix(raw, "?")
	b := newBuilder(0)
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return Snapshot{}, err
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return Snapshot{}, err
		}
		if _, exists := b.index[key]; exists {
			continue
		}
		b.set(Entry{Key: key, Value: val})
	}
	return b.build(), nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(raw string) Snapshot {
	s, err := Parse(raw)
	if err != nil {
		panic("snapshot: " + err.Error())
	}
	return s
}

// FromValues builds a Confirmed snapshot from url.Values. Keys are ordered as
// url.Values.Encode orders them (sorted), and the first value of each key is
// used.
func FromValues(v url.Values) Snapshot {
	s, _ := Parse(v.Encode())
	return s
}

// Len returns the number of keys.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Get returns the value for key and whether it is present.
func (s Snapshot) Get(key string) (string, bool) {
	i, ok := s.index[key]
	if !ok {
		return "", false
	}
	return s.entries[i].Value, true
}

// Lookup returns a pointer to a copy of the value for key, or nil if absent.
func (s Snapshot) Lookup(key string) *string {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	return &v
}

// Has reports whether key is present.
func (s Snapshot) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// State returns the reconciliation state of key. Absent keys are Confirmed.
func (s Snapshot) State(key string) State {
	i, ok := s.index[key]
	if !ok {
		return Confirmed
	}
	return s.entries[i].State
}

// Keys returns the keys in order.
func (s Snapshot) Keys() []string {
	keys := make([]string, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the entries in order.
func (s Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Pending returns the keys whose state is not Confirmed.
func (s Snapshot) Pending() []string {
	var keys []string
	for _, e := range s.entries {
		if e.State != Confirmed {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// With returns a copy of s where key is set to *value with the given state.
// A nil value removes the key. Existing keys keep their position; new keys
// are appended.
func (s Snapshot) With(key string, value *string, state State) Snapshot {
	b := s.builder()
	if value == nil {
		b.remove(key)
	} else {
		b.set(Entry{Key: key, Value: *value, State: state})
	}
	return b.build()
}

// Change is a single key mutation. A nil Value removes the key.
type Change struct {
	Key   string
	Value *string
}

// Apply returns a copy of s with every change applied in order. Keys that
// are set are tagged with state.
func (s Snapshot) Apply(changes []Change, state State) Snapshot {
	b := s.builder()
	for _, c := range changes {
		if c.Value == nil {
			b.remove(c.Key)
			continue
		}
		b.set(Entry{Key: c.Key, Value: *c.Value, State: state})
	}
	return b.build()
}

// Confirm returns a copy of s where the given keys are tagged Confirmed.
// With no keys, every entry is confirmed.
func (s Snapshot) Confirm(keys ...string) Snapshot {
	b := s.builder()
	if len(keys) == 0 {
		for i := range b.entries {
			b.entries[i].State = Confirmed
		}
		return b.build()
	}
	for _, k := range keys {
		if i, ok := b.index[k]; ok {
			b.entries[i].State = Confirmed
		}
	}
	return b.build()
}

// Settle returns a copy of s where Queued keys are tagged Confirmed.
// Navigating keys keep their tag until their navigation reports back.
func (s Snapshot) Settle() Snapshot {
	b := s.builder()
	for i := range b.entries {
		if b.entries[i].State == Queued {
			b.entries[i].State = Confirmed
		}
	}
	return b.build()
}

// Equal reports whether s and o hold the same keys, values and order.
// States are ignored.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.entries) != len(o.entries) {
		return false
	}
	for i := range s.entries {
		if s.entries[i].Key != o.entries[i].Key || s.entries[i].Value != o.entries[i].Value {
			return false
		}
	}
	return true
}

// Values converts the snapshot to url.Values.
func (s Snapshot) Values() url.Values {
	v := make(url.Values, len(s.entries))
	for _, e := range s.entries {
		v.Set(e.Key, e.Value)
	}
	return v
}

// Map returns the key/value pairs as a plain map.
func (s Snapshot) Map() map[string]string {
	m := make(map[string]string, len(s.entries))
	for _, e := range s.entries {
		m[e.Key] = e.Value
	}
	return m
}

// Encode returns the query string without a leading '?', keeping key order.
// Absent keys are simply not present; there is no empty-string placeholder.
func (s Snapshot) Encode() string {
	if len(s.entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range s.entries {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(e.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(e.Value))
	}
	return sb.String()
}

// String returns Encode with a leading '?' or "" when empty.
func (s Snapshot) String() string {
	q := s.Encode()
	if q == "" {
		return ""
	}
	return "?" + q
}

// RenderURL appends the encoded query to base (origin + path). Any query or
// fragment already present on base is dropped from the query position, and
// a fragment is preserved after the new query.
func RenderURL(base string, s Snapshot) string {
	base, fragment, hasFragment := strings.Cut(base, "#")
	base, _, _ = strings.Cut(base, "?")
	out := base + s.String()
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

type builder struct {
	entries []Entry
	index   map[string]int
}

func newBuilder(n int) *builder {
	return &builder{
		entries: make([]Entry, 0, n),
		index:   make(map[string]int, n),
	}
}

func (s Snapshot) builder() *builder {
	b := newBuilder(len(s.entries) + 1)
	for _, e := range s.entries {
		b.set(e)
	}
	return b
}

func (b *builder) set(e Entry) {
	if i, ok := b.index[e.Key]; ok {
		b.entries[i] = e
		return
	}
	b.index[e.Key] = len(b.entries)
	b.entries = append(b.entries, e)
}

func (b *builder) remove(key string) {
	i, ok := b.index[key]
	if !ok {
		return
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	delete(b.index, key)
	for j := i; j < len(b.entries); j++ {
		b.index[b.entries[j].Key] = j
	}
}

func (b *builder) build() Snapshot {
	if len(b.entries) == 0 {
		return Snapshot{}
	}
	return Snapshot{entries: b.entries, index: b.index}
}

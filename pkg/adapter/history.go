package adapter

import (
	"sync"
	"time"
)

// HistoryEntry is one recorded URL in the host's history stack.
type HistoryEntry struct {
	Seq  uint64      // Monotonic update sequence
	URL  string      // Full rendered URL
	Mode HistoryMode // How the entry was recorded
	At   time.Time   // When the entry was recorded
}

// History is a thread-safe bounded stack of history entries.
// Push appends, Replace overwrites the top, and Back pops. When full, the
// oldest entry is overwritten.
type History struct {
	mu       sync.RWMutex
	entries  []HistoryEntry
	head     int // Next write position (circular)
	count    int // Current number of entries
	capacity int // Max entries
	seq      uint64
	pushes   int
	replaces int
}

// NewHistory creates a history stack holding up to capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{
		entries:  make([]HistoryEntry, capacity),
		capacity: capacity,
	}
}

// Record stores url according to mode and returns the recorded entry.
// Replace on an empty stack behaves like Push.
func (h *History) Record(url string, mode HistoryMode, at time.Time) HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	entry := HistoryEntry{Seq: h.seq, URL: url, Mode: mode, At: at}

	if mode == Replace && h.count > 0 {
		h.replaces++
		h.entries[h.top()] = entry
		return entry
	}

	h.pushes++
	h.entries[h.head] = entry
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
	return entry
}

// top returns the index of the newest entry. Caller holds mu and count > 0.
func (h *History) top() int {
	return (h.head - 1 + h.capacity) % h.capacity
}

// Current returns the newest entry.
func (h *History) Current() (HistoryEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[h.top()], true
}

// Back pops the newest entry and returns the one below it. It returns false
// when there is nothing to go back to.
func (h *History) Back() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count < 2 {
		return HistoryEntry{}, false
	}
	h.head = h.top()
	h.entries[h.head] = HistoryEntry{}
	h.count--
	return h.entries[h.top()], true
}

// Len returns the number of entries on the stack.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Entries returns the stack from oldest to newest.
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HistoryEntry, 0, h.count)
	start := (h.head - h.count + h.capacity) % h.capacity
	for i := 0; i < h.count; i++ {
		out = append(out, h.entries[(start+i)%h.capacity])
	}
	return out
}

// Counts returns how many pushes and replaces were recorded.
func (h *History) Counts() (pushes, replaces int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pushes, h.replaces
}

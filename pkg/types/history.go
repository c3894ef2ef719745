package types

import "sync"

// HistorySize is the number of most-recent observations MessageHistory
// retains (spec §3, Testable Property 3).
const HistorySize = 30

// HistoryEntry is one observation recorded in MessageHistory: an
// envelope plus whether it arrived inbound (router) or was produced by
// a local dealer's reply receipt.
type HistoryEntry struct {
	Envelope Envelope
	Inbound  bool
}

// MessageHistory is a bounded FIFO of the most recent HistorySize
// observations, single-producer from the router plus N-producers from
// dealer workers (spec §5's shared-state note), so all access is
// mutex-guarded.
type MessageHistory struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

// NewMessageHistory creates an empty history.
func NewMessageHistory() *MessageHistory {
	return &MessageHistory{entries: make([]HistoryEntry, 0, HistorySize)}
}

// Record appends entry, evicting the oldest entry if the buffer is full.
func (h *MessageHistory) Record(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == HistorySize {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:HistorySize-1]
	}
	h.entries = append(h.entries, entry)
}

// Snapshot returns a copy of the entries currently held, oldest first.
func (h *MessageHistory) Snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len reports how many entries are currently held.
func (h *MessageHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

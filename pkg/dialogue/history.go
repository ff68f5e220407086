package dialogue

import "sync"

const defaultMaxEntries = 20

// History is the bounded conversation transcript. Append-only during a turn,
// truncated from the front when exceeding the bound, cleared on deactivation.
type History struct {
	mu         sync.Mutex
	entries    []Message
	maxEntries int
}

func NewHistory(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &History{maxEntries: maxEntries}
}

// Append adds one entry, dropping the oldest when over the bound.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Message{Role: role, Content: content})
	if over := len(h.entries) - h.maxEntries; over > 0 {
		h.entries = append(h.entries[:0], h.entries[over:]...)
	}
}

// PopLast removes the most recent entry. Used to roll back the user message
// when a dialogue request fails, so the failed turn leaves no trace.
func (h *History) PopLast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) > 0 {
		h.entries = h.entries[:len(h.entries)-1]
	}
}

// Tail returns a copy of the most recent n entries.
func (h *History) Tail(n int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]Message, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops all entries.
func (h *History) Clear() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}

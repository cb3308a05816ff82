package events

import (
	"sync"
	"time"

	"cs2-tracker/internal/domain"
)

// History is a fixed-capacity FIFO of events. When full, appending drops the
// oldest entry; order is never rearranged.
type History struct {
	mu    sync.RWMutex
	buf   []domain.Event
	start int
	size  int
}

func NewHistory(capacity int) *History {
	return &History{buf: make([]domain.Event, max(capacity, 1))}
}

func (h *History) Append(events ...domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range events {
		if h.size < len(h.buf) {
			h.buf[(h.start+h.size)%len(h.buf)] = e
			h.size++
			continue
		}
		h.buf[h.start] = e
		h.start = (h.start + 1) % len(h.buf)
	}
}

// Snapshot returns a copy of the retained events, oldest first.
func (h *History) Snapshot() []domain.Event {
	return h.Select(Filter{})
}

// Select returns a copy of the events matching f, oldest first. A positive
// f.Limit keeps only the most recent matches.
func (h *History) Select(f Filter) []domain.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		e := h.buf[(h.start+i)%len(h.buf)]
		if f.Match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *History) Cap() int {
	return len(h.buf)
}

// Filter narrows a history query. Zero values match everything.
type Filter struct {
	MatchID       string
	MinImportance int
	Since         time.Time
	Limit         int
}

func (f Filter) Match(e domain.Event) bool {
	if f.MatchID != "" && e.MatchID != f.MatchID {
		return false
	}
	if e.Importance < f.MinImportance {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

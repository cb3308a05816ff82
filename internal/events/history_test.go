package events

import (
	"fmt"
	"testing"
	"time"

	"cs2-tracker/internal/domain"
)

func TestHistoryKeepsMostRecentInOrder(t *testing.T) {
	h := NewHistory(100)
	for i := 0; i < 105; i++ {
		h.Append(domain.Event{ID: fmt.Sprintf("e%d", i), Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}

	got := h.Snapshot()
	if len(got) != 100 {
		t.Fatalf("want 100 events, got %d", len(got))
	}
	for i, e := range got {
		if want := fmt.Sprintf("e%d", i+5); e.ID != want {
			t.Fatalf("position %d: want %s, got %s", i, want, e.ID)
		}
	}
}

func TestHistoryNeverExceedsCapacity(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 10; i++ {
		h.Append(domain.Event{ID: fmt.Sprintf("e%d", i)})
		if h.Len() > h.Cap() {
			t.Fatalf("len %d exceeds capacity %d", h.Len(), h.Cap())
		}
	}
}

func TestHistorySelectLimitKeepsNewest(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 6; i++ {
		h.Append(domain.Event{ID: fmt.Sprintf("e%d", i), Importance: 1 + i%5})
	}

	got := h.Select(Filter{Limit: 2})
	if len(got) != 2 || got[0].ID != "e4" || got[1].ID != "e5" {
		t.Errorf("want e4 e5, got %+v", got)
	}

	got = h.Select(Filter{MinImportance: 5})
	if len(got) != 1 || got[0].ID != "e4" {
		t.Errorf("want only e4, got %+v", got)
	}
}

// Package events turns successive snapshots of a match into scored events.
//
// The Detector keeps exactly one previous snapshot per match and compares
// each new observation against it. Events go into a bounded per-match
// history and a bounded global feed, both FIFO.
package events

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

var (
	ErrCrossMatch     = errors.New("snapshots belong to different matches")
	ErrMissingMatchID = errors.New("snapshot has no match id")
)

type matchState struct {
	mu       sync.Mutex
	last     *domain.MatchSnapshot
	lastSeen time.Time
	history  *History
}

type Detector struct {
	matches  sync.Map
	global   *History
	capacity int
	now      func() time.Time
	logger   zerolog.Logger
}

type Option func(*Detector)

func WithCapacity(perMatch, global int) Option {
	return func(d *Detector) {
		if perMatch > 0 {
			d.capacity = perMatch
		}
		if global > 0 {
			d.global = NewHistory(global)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

func NewDetector(logger zerolog.Logger, opts ...Option) *Detector {
	d := &Detector{
		global:   NewHistory(constants.GlobalHistoryCapacity),
		capacity: constants.EventHistoryCapacity,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) state(matchID string) *matchState {
	if st, ok := d.matches.Load(matchID); ok {
		return st.(*matchState)
	}
	st, _ := d.matches.LoadOrStore(matchID, &matchState{history: NewHistory(d.capacity)})
	return st.(*matchState)
}

// Observe compares snap with the previous snapshot of the same match,
// records any resulting events and returns them in emission order. The
// first sighting of a match only emits match-started, and only when live.
func (d *Detector) Observe(snap domain.MatchSnapshot) ([]domain.Event, error) {
	return d.ObserveAs(snap.MatchID, snap)
}

// ObserveAs is Observe with state kept under track instead of the
// snapshot's own id, for callers that follow a match through several
// providers. Events carry track as their match id. A snapshot that is not
// the match already tracked returns ErrCrossMatch and leaves state alone.
func (d *Detector) ObserveAs(track string, snap domain.MatchSnapshot) ([]domain.Event, error) {
	if track == "" || snap.MatchID == "" {
		return nil, ErrMissingMatchID
	}

	st := d.state(track)
	st.mu.Lock()
	defer st.mu.Unlock()

	snap = align(st.last, snap)
	drafts, err := compare(st.last, snap)
	if err != nil {
		return nil, err
	}

	next := snap.Clone()
	st.lastSeen = d.now()
	if len(drafts) == 0 {
		st.last = &next
		return nil, nil
	}

	ts := snap.ObservedAt
	if ts.IsZero() {
		ts = d.now()
	}

	events := make([]domain.Event, 0, len(drafts))
	for _, dr := range drafts {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate nanoid: %w", err)
		}
		events = append(events, domain.Event{
			ID:         id,
			Kind:       dr.kind,
			MatchID:    track,
			Summary:    dr.summary,
			Importance: clampImportance(dr.importance),
			Timestamp:  ts,
			Team1:      snap.Team1,
			Team2:      snap.Team2,
			Score:      snap.ScoreLine(),
			Source:     snap.Source,
		})
	}

	st.last = &next
	st.history.Append(events...)
	d.global.Append(events...)

	d.logger.Debug().
		Str("match_id", track).
		Str("source_match_id", snap.MatchID).
		Int("events", len(events)).
		Msg("events detected")
	return events, nil
}

// Reseed replaces the retained snapshot for track without emitting
// anything. The next observation is compared against snap.
func (d *Detector) Reseed(track string, snap domain.MatchSnapshot) {
	if track == "" {
		return
	}
	st := d.state(track)
	st.mu.Lock()
	defer st.mu.Unlock()

	next := snap.Clone()
	st.last = &next
	st.lastSeen = d.now()
}

// Recent returns a copy of the recorded events matching f. With a match id
// it reads that match's history, otherwise the global feed.
func (d *Detector) Recent(f Filter) []domain.Event {
	if f.MatchID == "" {
		return d.global.Select(f)
	}
	st, ok := d.matches.Load(f.MatchID)
	if !ok {
		return []domain.Event{}
	}
	return st.(*matchState).history.Select(f)
}

// Last returns the retained snapshot for a match.
func (d *Detector) Last(matchID string) (domain.MatchSnapshot, bool) {
	st, ok := d.matches.Load(matchID)
	if !ok {
		return domain.MatchSnapshot{}, false
	}
	ms := st.(*matchState)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.last == nil {
		return domain.MatchSnapshot{}, false
	}
	return ms.last.Clone(), true
}

// Forget drops all state kept for a match.
func (d *Detector) Forget(matchID string) {
	d.matches.Delete(matchID)
}

func (d *Detector) Tracked() int {
	n := 0
	d.matches.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Prune forgets matches that finished or have not been observed for idle.
// It returns how many were dropped.
func (d *Detector) Prune(idle time.Duration) int {
	cutoff := d.now().Add(-idle)
	n := 0
	d.matches.Range(func(k, v any) bool {
		ms := v.(*matchState)
		ms.mu.Lock()
		drop := ms.lastSeen.Before(cutoff) || (ms.last != nil && ms.last.Status == domain.StatusFinished)
		ms.mu.Unlock()
		if drop {
			d.matches.CompareAndDelete(k, v)
			n++
		}
		return true
	})
	if n > 0 {
		d.logger.Debug().Int("pruned", n).Msg("detector state pruned")
	}
	return n
}

func clampImportance(v int) int {
	return min(max(v, domain.MinImportance), domain.MaxImportance)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cs2-tracker/internal/cache"
	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"
	"cs2-tracker/internal/events"
	"cs2-tracker/internal/inflight"
	"cs2-tracker/internal/source"

	"github.com/rs/zerolog"
)

var (
	ErrDataUnavailable = errors.New("data unavailable")
	ErrInvalidKey      = errors.New("invalid key")
)

type Staleness string

const (
	Fresh Staleness = "fresh"
	Stale Staleness = "stale"
)

// Resolver is the provider chain as seen by the aggregator.
type Resolver interface {
	Resolve(ctx context.Context, key domain.CacheKey) source.Outcome
}

// EventPublisher receives every batch of newly detected events.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

type View struct {
	Key       domain.CacheKey `json:"key"`
	Value     any             `json:"value"`
	Staleness Staleness       `json:"staleness"`
	Source    string          `json:"source"`
	Degraded  bool            `json:"degraded"`
	FetchedAt time.Time       `json:"fetched_at"`
	Events    []domain.Event  `json:"events,omitempty"`
}

type cachedView struct {
	value     any
	source    string
	degraded  bool
	fetchedAt time.Time
}

type fetchResult struct {
	view   cachedView
	events []domain.Event
}

// Aggregator owns the cache, the in-flight coordinator and the event
// detector, and answers "what is the current view of this key".
type Aggregator struct {
	cache     *cache.TTLCache
	flights   *inflight.Coordinator[fetchResult]
	chain     Resolver
	detector  *events.Detector
	publisher EventPublisher
	ttls      map[domain.Category]time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	// Fetches run on base rather than the caller's context so a caller
	// giving up does not cancel work other waiters depend on.
	base   context.Context
	cancel context.CancelFunc

	// Batches leave through one queue in detection order.
	mu       sync.RWMutex
	closed   bool
	outbox   chan []domain.Event
	draining sync.WaitGroup
}

func NewAggregator(c *cache.TTLCache, chain Resolver, detector *events.Detector, publisher EventPublisher, ttls map[domain.Category]time.Duration, logger zerolog.Logger) *Aggregator {
	base, cancel := context.WithCancel(context.Background())

	merged := constants.DefaultTTLs()
	for cat, ttl := range ttls {
		merged[cat] = ttl
	}

	a := &Aggregator{
		cache:     c,
		flights:   inflight.New[fetchResult](logger),
		chain:     chain,
		detector:  detector,
		publisher: publisher,
		ttls:      merged,
		now:       time.Now,
		logger:    logger,
		base:      base,
		cancel:    cancel,
	}
	if publisher != nil {
		a.outbox = make(chan []domain.Event, constants.PublishQueueSize)
		a.draining.Add(1)
		go a.drain()
	}
	return a
}

// GetView returns the current value for (category, id). A cache hit is
// returned as fresh with no events. On a miss the value is fetched through
// the provider chain, shared with concurrent callers for the same key. If
// the fetch fails the last known value is served as stale; only when none
// exists does GetView return ErrDataUnavailable.
func (a *Aggregator) GetView(ctx context.Context, category domain.Category, id string) (View, error) {
	key, err := keyFor(category, id)
	if err != nil {
		return View{}, err
	}

	if v, ok := a.cache.Get(key); ok {
		cv := v.(cachedView)
		a.logger.Debug().Str("key", key.String()).Msg("cache hit")
		return View{
			Key:       key,
			Value:     cv.value,
			Staleness: Fresh,
			Source:    cv.source,
			Degraded:  cv.degraded,
			FetchedAt: cv.fetchedAt,
		}, nil
	}

	res, shared, err := a.flights.FetchOrJoin(ctx, key, func() (fetchResult, error) {
		return a.fetch(key)
	})
	if err != nil {
		return a.stale(key, err)
	}

	a.logger.Debug().Str("key", key.String()).Bool("shared", shared).Msg("view fetched")
	return View{
		Key:       key,
		Value:     res.view.value,
		Staleness: Fresh,
		Source:    res.view.source,
		Degraded:  res.view.degraded,
		FetchedAt: res.view.fetchedAt,
		Events:    res.events,
	}, nil
}

// fetch runs once per key at a time, inside the coordinator.
func (a *Aggregator) fetch(key domain.CacheKey) (fetchResult, error) {
	out := a.chain.Resolve(a.base, key)
	if !out.OK() {
		a.logger.Warn().Err(out.Err).Str("key", key.String()).Int("attempts", out.Attempts).Msg("failed to resolve key")
		return fetchResult{}, out.Err
	}

	cv := cachedView{value: out.Value, source: out.Source, degraded: out.Degraded, fetchedAt: a.now()}
	a.cache.Put(key, cv, a.ttl(key.Category))

	res := fetchResult{view: cv}
	if key.Category == domain.CategoryLiveMatch {
		res.events = a.detect(key, out.Value)
	}
	return res, nil
}

// detect tracks live state under the requested id, so a switch between
// providers mid-match continues the same history. A snapshot of a different
// match replaces the tracked one without emitting events.
func (a *Aggregator) detect(key domain.CacheKey, value any) []domain.Event {
	snap, ok := value.(domain.MatchSnapshot)
	if !ok {
		a.logger.Error().Str("key", key.String()).Str("type", fmt.Sprintf("%T", value)).Msg("live match value is not a snapshot")
		return nil
	}

	evs, err := a.detector.ObserveAs(key.ID, snap)
	switch {
	case errors.Is(err, events.ErrCrossMatch):
		a.logger.Warn().
			Err(err).
			Str("key", key.String()).
			Str("source", snap.Source).
			Msg("tracked match replaced")
		a.detector.Reseed(key.ID, snap)
		return nil
	case err != nil:
		a.logger.Error().Err(err).Str("key", key.String()).Msg("failed to detect events")
		return nil
	}
	if len(evs) > 0 {
		a.publish(evs)
	}
	return evs
}

func (a *Aggregator) publish(evs []domain.Event) {
	if a.outbox == nil {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Debug().Int("events", len(evs)).Msg("aggregator closed, batch dropped")
		return
	}
	a.outbox <- evs
}

// drain hands batches to the publisher one at a time, so sinks see events
// in the order they were detected.
func (a *Aggregator) drain() {
	defer a.draining.Done()

	for evs := range a.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), constants.SinkPublishTimeout)
		if err := a.publisher.Publish(ctx, evs); err != nil {
			a.logger.Warn().Err(err).Int("events", len(evs)).Msg("failed to publish events")
		}
		cancel()
	}
}

func (a *Aggregator) stale(key domain.CacheKey, cause error) (View, error) {
	v, storedAt, ok := a.cache.GetStale(key)
	if !ok {
		return View{}, fmt.Errorf("%w: %s: %w", ErrDataUnavailable, key, cause)
	}

	cv := v.(cachedView)
	a.logger.Warn().
		Str("key", key.String()).
		Dur("age", a.now().Sub(storedAt)).
		Err(cause).
		Msg("serving stale value")
	return View{
		Key:       key,
		Value:     cv.value,
		Staleness: Stale,
		Source:    cv.source,
		Degraded:  cv.degraded,
		FetchedAt: cv.fetchedAt,
	}, nil
}

func (a *Aggregator) ttl(c domain.Category) time.Duration {
	if ttl, ok := a.ttls[c]; ok {
		return ttl
	}
	return constants.DefaultCacheTTL
}

// RecentEvents returns a copy of the recorded events. An empty matchID reads
// the global feed.
func (a *Aggregator) RecentEvents(matchID string, minImportance int, since time.Time) []domain.Event {
	return a.detector.Recent(events.Filter{
		MatchID:       strings.ToLower(strings.TrimSpace(matchID)),
		MinImportance: minImportance,
		Since:         since,
	})
}

// Invalidate drops the cached value and the stale fallback for a key, and
// detaches any fetch in progress so the next GetView starts a new one.
func (a *Aggregator) Invalidate(category domain.Category, id string) error {
	key, err := keyFor(category, id)
	if err != nil {
		return err
	}
	a.cache.Invalidate(key)
	a.flights.Forget(key)
	if category == domain.CategoryLiveMatch {
		a.detector.Forget(key.ID)
	}
	a.logger.Info().Str("key", key.String()).Msg("key invalidated")
	return nil
}

// Expire forces the next GetView for a key to refetch while keeping the
// last value available as a stale fallback.
func (a *Aggregator) Expire(category domain.Category, id string) error {
	key, err := keyFor(category, id)
	if err != nil {
		return err
	}
	a.cache.Expire(key)
	return nil
}

type Stats struct {
	Cache          cache.Stats    `json:"cache"`
	Flights        inflight.Stats `json:"flights"`
	TrackedMatches int            `json:"tracked_matches"`
}

func (a *Aggregator) Stats() Stats {
	return Stats{
		Cache:          a.cache.Stats(),
		Flights:        a.flights.Stats(),
		TrackedMatches: a.detector.Tracked(),
	}
}

// LastSnapshot returns the snapshot the detector compares the next
// observation of a live match against.
func (a *Aggregator) LastSnapshot(matchID string) (domain.MatchSnapshot, bool) {
	return a.detector.Last(strings.ToLower(strings.TrimSpace(matchID)))
}

// Sweep drops expired cache entries and forgets matches that finished or
// went idle.
func (a *Aggregator) Sweep(idle time.Duration) {
	removed := a.cache.Sweep()
	pruned := a.detector.Prune(idle)
	if removed > 0 || pruned > 0 {
		a.logger.Debug().Int("cache_removed", removed).Int("matches_pruned", pruned).Msg("sweep done")
	}
}

// RunJanitor sweeps on every tick until ctx is done.
func (a *Aggregator) RunJanitor(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(idle)
		}
	}
}

// Close cancels in-flight fetches and waits until queued batches are
// published. It is meant for process shutdown only.
func (a *Aggregator) Close() {
	a.cancel()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	if a.outbox != nil {
		close(a.outbox)
	}
	a.mu.Unlock()

	a.draining.Wait()
}

func keyFor(category domain.Category, id string) (domain.CacheKey, error) {
	key := domain.NewKey(category, strings.ToLower(id))
	switch category {
	case domain.CategoryMatches, domain.CategoryLiveMatches, domain.CategoryResults, domain.CategoryRankings:
		key.ID = ""
	case domain.CategoryLiveMatch, domain.CategoryMatchDetail, domain.CategoryTeam, domain.CategoryPlayer, domain.CategoryScoreboard:
		if key.ID == "" {
			return key, fmt.Errorf("%w: %s requires an id", ErrInvalidKey, category)
		}
	default:
		return key, fmt.Errorf("%w: unknown category %q", ErrInvalidKey, category)
	}
	return key, nil
}

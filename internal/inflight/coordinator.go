// Package inflight makes sure concurrent callers asking for the same key
// share one upstream fetch instead of issuing duplicates.
package inflight

import (
	"context"
	"fmt"

	"cs2-tracker/internal/domain"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// Coordinator holds at most one outstanding fetch per key. Callers that
// arrive while a fetch is running attach to it and observe the same result.
// The slot is dropped as soon as the fetch resolves, so the next call after
// that always starts fresh work.
type Coordinator[V any] struct {
	group  singleflight.Group
	logger zerolog.Logger

	started atomic.Int64
	joined  atomic.Int64
	active  atomic.Int64
}

func New[V any](logger zerolog.Logger) *Coordinator[V] {
	return &Coordinator[V]{logger: logger}
}

// FetchOrJoin runs fn for key unless a run is already outstanding, in which
// case it waits for that run. If ctx ends first the caller stops waiting but
// the fetch keeps going for the other waiters.
func (c *Coordinator[V]) FetchOrJoin(ctx context.Context, key domain.CacheKey, fn func() (V, error)) (V, bool, error) {
	ch := c.group.DoChan(key.String(), func() (any, error) {
		c.started.Inc()
		c.active.Inc()
		defer c.active.Dec()
		return c.run(key, fn)
	})

	select {
	case <-ctx.Done():
		var zero V
		c.logger.Debug().Str("key", key.String()).Msg("caller stopped waiting for in-flight fetch")
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.joined.Inc()
		}
		v, _ := res.Val.(V)
		return v, res.Shared, res.Err
	}
}

func (c *Coordinator[V]) run(key domain.CacheKey, fn func() (V, error)) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("key", key.String()).Interface("panic", r).Msg("fetch panicked")
			err = fmt.Errorf("fetch for %s panicked: %v", key, r)
		}
	}()
	return fn()
}

// Forget drops the slot for key so the next call starts a new fetch even if
// one is still running.
func (c *Coordinator[V]) Forget(key domain.CacheKey) {
	c.group.Forget(key.String())
}

type Stats struct {
	Started int64 `json:"started"`
	Joined  int64 `json:"joined"`
	Active  int64 `json:"active"`
}

func (c *Coordinator[V]) Stats() Stats {
	return Stats{
		Started: c.started.Load(),
		Joined:  c.joined.Load(),
		Active:  c.active.Load(),
	}
}

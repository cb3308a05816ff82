package source

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"

	"github.com/rs/zerolog"
)

// Provider pairs a descriptor with its fetcher. A nil Fetcher marks a
// provider whose kind could not be built; it is skipped like a disabled one.
type Provider struct {
	Descriptor Descriptor
	Fetcher    Fetcher
}

type health struct {
	blocks      int
	parkedUntil time.Time
}

type ProviderStatus struct {
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	Priority    int       `json:"priority"`
	Enabled     bool      `json:"enabled"`
	Available   bool      `json:"available"`
	Baseline    bool      `json:"baseline"`
	Blocks      int       `json:"blocks"`
	ParkedUntil time.Time `json:"parked_until,omitzero"`
}

// Chain is the ordered provider list. Live providers are tried strictly by
// priority; the first success wins.
type Chain struct {
	live               []Provider
	baseline           *Provider
	fallbackToBaseline bool
	liveBudget         time.Duration
	retry              RetryPolicy
	blockThreshold     int
	cooldown           time.Duration
	now                func() time.Time
	logger             zerolog.Logger

	mu     sync.Mutex
	health map[string]*health
}

type ChainOption func(*Chain)

func WithFallbackToBaseline(on bool) ChainOption {
	return func(c *Chain) { c.fallbackToBaseline = on }
}

// WithLiveBudget caps the time spent on live providers in one Resolve. The
// baseline is tried after it with its own budget.
func WithLiveBudget(d time.Duration) ChainOption {
	return func(c *Chain) { c.liveBudget = d }
}

func WithRetryPolicy(p RetryPolicy) ChainOption {
	return func(c *Chain) { c.retry = p }
}

func WithDegradation(threshold int, cooldown time.Duration) ChainOption {
	return func(c *Chain) {
		c.blockThreshold = threshold
		c.cooldown = cooldown
	}
}

func WithChainClock(now func() time.Time) ChainOption {
	return func(c *Chain) { c.now = now }
}

func NewChain(providers []Provider, logger zerolog.Logger, opts ...ChainOption) (*Chain, error) {
	c := &Chain{
		retry:          NewRetryPolicy(logger),
		liveBudget:     constants.RequestTimeout,
		blockThreshold: constants.BlockThreshold,
		cooldown:       constants.DegradeCooldown,
		now:            time.Now,
		logger:         logger,
		health:         make(map[string]*health),
	}
	for _, opt := range opts {
		opt(c)
	}

	seen := make(map[string]bool)
	for _, p := range providers {
		name := p.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("provider of kind %q has no name", p.Descriptor.Kind)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate provider name %q", name)
		}
		seen[name] = true
		c.health[name] = &health{}

		if p.Descriptor.Baseline {
			if c.baseline != nil {
				return nil, fmt.Errorf("more than one baseline provider: %q and %q", c.baseline.Descriptor.Name, name)
			}
			c.baseline = &p
			continue
		}
		c.live = append(c.live, p)
	}

	slices.SortStableFunc(c.live, func(a, b Provider) int {
		return cmp.Compare(a.Descriptor.Priority, b.Descriptor.Priority)
	})
	return c, nil
}

// Resolve returns the first successful outcome in priority order. If no
// live provider succeeds the baseline is consulted: always for categories
// that only the baseline carries, and for real-time categories only when
// fallback is enabled, in which case the result is tagged Degraded.
// Live providers share the live budget; running out of it moves on to the
// baseline, only cancellation of ctx itself stops resolution.
// Resolve never panics; failure is reported through Outcome.Err.
func (c *Chain) Resolve(ctx context.Context, key domain.CacheKey) Outcome {
	var (
		attempts int
		errs     []error
	)

	liveCtx, cancelLive := ctx, context.CancelFunc(func() {})
	if c.liveBudget > 0 {
		liveCtx, cancelLive = context.WithTimeout(ctx, c.liveBudget)
	}
	defer cancelLive()

	for _, p := range c.live {
		if !c.usable(p, key.Category) {
			continue
		}
		if liveCtx.Err() != nil {
			c.logger.Warn().
				Str("key", key.String()).
				Str("skipped", p.Descriptor.Name).
				Dur("budget", c.liveBudget).
				Msg("live budget spent")
			break
		}

		out := c.try(liveCtx, p, key)
		if out.OK() {
			out.Attempts += attempts
			return out
		}
		if Classify(out.Err) == Unavailable {
			continue
		}
		attempts += out.Attempts
		errs = append(errs, out.Err)

		if ctx.Err() != nil {
			return Outcome{Attempts: attempts, Err: fmt.Errorf("%w: %w", ErrAllSourcesExhausted, ctx.Err())}
		}
	}
	cancelLive()

	if c.baseline != nil && c.usable(*c.baseline, key.Category) {
		realTime := key.Category.RealTime()
		if !realTime || c.fallbackToBaseline {
			policy := c.retry.For(c.baseline.Descriptor)
			baseCtx, cancel := context.WithTimeout(ctx, policy.Budget())
			out := c.try(baseCtx, *c.baseline, key)
			cancel()

			out.Attempts += attempts
			if out.OK() {
				out.Degraded = realTime
				if realTime {
					c.logger.Warn().
						Str("key", key.String()).
						Str("source", out.Source).
						Msg("serving degraded baseline data")
				}
				return out
			}
			attempts = out.Attempts
			errs = append(errs, out.Err)
		}
	}

	if len(errs) == 0 {
		return Outcome{Err: fmt.Errorf("%w: no provider serves %s", ErrAllSourcesExhausted, key)}
	}
	return Outcome{
		Attempts: attempts,
		Err:      fmt.Errorf("%w for %s: %w", ErrAllSourcesExhausted, key, errors.Join(errs...)),
	}
}

func (c *Chain) try(ctx context.Context, p Provider, key domain.CacheKey) Outcome {
	name := p.Descriptor.Name
	out := c.retry.For(p.Descriptor).Execute(ctx, name, func(ctx context.Context) (any, error) {
		return p.Fetcher.Fetch(ctx, key)
	})
	out.Source = name

	c.record(name, out)
	if !out.OK() && Classify(out.Err) != Unavailable {
		c.logger.Warn().
			Str("source", name).
			Str("key", key.String()).
			Int("attempts", out.Attempts).
			Err(out.Err).
			Msg("provider failed")
	}
	return out
}

func (c *Chain) usable(p Provider, category domain.Category) bool {
	if !p.Descriptor.Enabled || p.Fetcher == nil || !p.Fetcher.Supports(category) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.health[p.Descriptor.Name]
	return !c.now().Before(h.parkedUntil)
}

func (c *Chain) record(name string, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.health[name]
	if out.OK() {
		h.blocks = 0
		return
	}
	if out.Blocked == 0 || c.blockThreshold <= 0 {
		return
	}

	h.blocks += out.Blocked
	if h.blocks >= c.blockThreshold {
		h.parkedUntil = c.now().Add(c.cooldown)
		h.blocks = 0
		c.logger.Warn().
			Str("source", name).
			Dur("cooldown", c.cooldown).
			Msg("source parked after repeated block signals")
	}
}

// Status reports every provider in resolution order, baseline last.
func (c *Chain) Status() []ProviderStatus {
	all := slices.Clone(c.live)
	if c.baseline != nil {
		all = append(all, *c.baseline)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	statuses := make([]ProviderStatus, 0, len(all))
	for _, p := range all {
		h := c.health[p.Descriptor.Name]
		st := ProviderStatus{
			Name:      p.Descriptor.Name,
			Kind:      p.Descriptor.Kind,
			Priority:  p.Descriptor.Priority,
			Enabled:   p.Descriptor.Enabled,
			Available: p.Fetcher != nil,
			Baseline:  p.Descriptor.Baseline,
			Blocks:    h.blocks,
		}
		if now.Before(h.parkedUntil) {
			st.ParkedUntil = h.parkedUntil
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Package source tries upstream providers in priority order, retrying each
// one per policy and falling back to the baseline when allowed.
package source

import (
	"context"
	"time"

	"cs2-tracker/internal/domain"
)

// Fetcher is one upstream source. Implementations return the category's
// value type for the key (see internal/domain) or a *SourceError.
type Fetcher interface {
	Source() string
	Supports(category domain.Category) bool
	Fetch(ctx context.Context, key domain.CacheKey) (any, error)
}

type Kind string

const (
	KindHLTV       Kind = "hltv"
	KindBO3GG      Kind = "bo3gg"
	KindPandaScore Kind = "pandascore"
	KindPlaywright Kind = "playwright"
)

// Descriptor is the startup configuration of one provider. It is read-only
// once the chain is built.
type Descriptor struct {
	Name        string
	Kind        Kind
	Priority    int
	Enabled     bool
	Timeout     time.Duration
	MaxAttempts int
	Token       string
	BaseURL     string
	Baseline    bool
}

// Outcome is the typed result of resolving a key against one or more
// providers. Exactly one of Value or Err is meaningful.
type Outcome struct {
	Value    any
	Source   string
	Degraded bool
	Attempts int
	Blocked  int
	Err      error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

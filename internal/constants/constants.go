package constants

import (
	"time"

	"cs2-tracker/internal/domain"
)

const (
	MatchesCacheTTL     = 120 * time.Second
	LiveMatchesCacheTTL = 60 * time.Second
	LiveMatchCacheTTL   = 60 * time.Second
	MatchDetailCacheTTL = 60 * time.Second
	ResultsCacheTTL     = 600 * time.Second
	RankingsCacheTTL    = 3600 * time.Second
	TeamCacheTTL        = 1800 * time.Second
	PlayerCacheTTL      = 3600 * time.Second
	ScoreboardCacheTTL  = 60 * time.Second
	DefaultCacheTTL     = 300 * time.Second
)

// DefaultTTLs returns a fresh map so callers may apply overrides.
func DefaultTTLs() map[domain.Category]time.Duration {
	return map[domain.Category]time.Duration{
		domain.CategoryMatches:     MatchesCacheTTL,
		domain.CategoryLiveMatches: LiveMatchesCacheTTL,
		domain.CategoryLiveMatch:   LiveMatchCacheTTL,
		domain.CategoryMatchDetail: MatchDetailCacheTTL,
		domain.CategoryResults:     ResultsCacheTTL,
		domain.CategoryRankings:    RankingsCacheTTL,
		domain.CategoryTeam:        TeamCacheTTL,
		domain.CategoryPlayer:      PlayerCacheTTL,
		domain.CategoryScoreboard:  ScoreboardCacheTTL,
	}
}

const (
	CacheMaxEntries    = 10000
	CacheShards        = 32
	CacheSweepInterval = 1 * time.Minute
	StaleRetention     = 6 * time.Hour
	MatchIdleTimeout   = 30 * time.Minute
)

const (
	ProviderTimeout     = 10 * time.Second
	RetryMaxAttempts    = 3
	RetryDelay          = 1 * time.Second
	BlockThreshold      = 3
	DegradeCooldown     = 2 * time.Minute
	RequestTimeout      = 30 * time.Second
	AMQPRedialDelay     = 2 * time.Second
	AMQPRedialMax       = 30 * time.Second
	MaxResponseBodySize = 6 << 20
)

const (
	EventHistoryCapacity  = 100
	GlobalHistoryCapacity = 500
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	HubBroadcastBuffer = 256
	HubClientBuffer    = 64
	SinkPublishTimeout = 5 * time.Second
	PublishQueueSize   = 64
)

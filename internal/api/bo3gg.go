package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cs2-tracker/internal/domain"
	"cs2-tracker/internal/source"

	"github.com/rs/zerolog"
)

const bo3ggBaseURL = "https://api.bo3.gg/api/v1"

// BO3GG reads the live match feed, which carries round scores and sides for
// the map in progress.
type BO3GG struct {
	name    string
	baseURL string
	client  *Client
	now     func() time.Time
	logger  zerolog.Logger
}

func NewBO3GG(name, baseURL string, client *Client, logger zerolog.Logger) *BO3GG {
	if baseURL == "" {
		baseURL = bo3ggBaseURL
	}
	return &BO3GG{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     time.Now,
		logger:  logger,
	}
}

type bo3ggLiveResponse struct {
	Results []bo3ggMatch `json:"results"`
}

type bo3ggTeam struct {
	Name string `json:"name"`
}

type bo3ggSide struct {
	GameScore    int           `json:"game_score"`
	Side         string        `json:"side"`
	PlayerStates []bo3ggPlayer `json:"player_states"`
}

type bo3ggPlayer struct {
	Nickname string  `json:"nickname"`
	Kills    int     `json:"kills"`
	Deaths   int     `json:"deaths"`
	Assists  int     `json:"assists"`
	Health   int     `json:"health"`
	IsAlive  bool    `json:"is_alive"`
	Rating   float64 `json:"rating"`
}

type bo3ggMatch struct {
	ID         int64     `json:"id"`
	Slug       string    `json:"slug"`
	Team1      bo3ggTeam `json:"team1"`
	Team2      bo3ggTeam `json:"team2"`
	Team1Score int       `json:"team1_score"`
	Team2Score int       `json:"team2_score"`
	BoType     int       `json:"bo_type"`
	Status     string    `json:"status"`
	Tournament struct {
		Name string `json:"name"`
	} `json:"tournament"`
	LiveUpdates *struct {
		MapName    string    `json:"map_name"`
		Team1      bo3ggSide `json:"team_1"`
		Team2      bo3ggSide `json:"team_2"`
		RoundPhase string    `json:"round_phase"`
	} `json:"live_updates"`
}

func (b *BO3GG) Source() string { return b.name }

func (b *BO3GG) Supports(c domain.Category) bool {
	return c == domain.CategoryLiveMatch || c == domain.CategoryLiveMatches
}

func (b *BO3GG) Fetch(ctx context.Context, key domain.CacheKey) (any, error) {
	live, err := b.live(ctx)
	if err != nil {
		return nil, err
	}

	switch key.Category {
	case domain.CategoryLiveMatches:
		return live, nil
	case domain.CategoryLiveMatch:
		snap, ok := findLive(live, key.ID)
		if !ok {
			return nil, source.NewPermanent(b.name, fmt.Errorf("%w: live match %q", ErrNotFound, key.ID))
		}
		return snap, nil
	}
	return nil, source.NewUnavailable(b.name, fmt.Errorf("%w: category %s", source.ErrProviderUnavailable, key.Category))
}

func (b *BO3GG) live(ctx context.Context) ([]domain.MatchSnapshot, error) {
	resp, err := doJSON[bo3ggLiveResponse](ctx, b.client, request{
		source: b.name,
		url:    b.baseURL + "/matches/live",
	})
	if err != nil {
		return nil, err
	}

	now := b.now()
	snaps := make([]domain.MatchSnapshot, 0, len(resp.Results))
	for _, m := range resp.Results {
		snaps = append(snaps, m.snapshot(b.name, now))
	}
	b.logger.Debug().Int("count", len(snaps)).Msg("bo3gg live matches decoded")
	return snaps, nil
}

func (m bo3ggMatch) snapshot(src string, now time.Time) domain.MatchSnapshot {
	snap := domain.MatchSnapshot{
		MatchID:       strconv.FormatInt(m.ID, 10),
		Team1:         m.Team1.Name,
		Team2:         m.Team2.Name,
		Team1MapScore: m.Team1Score,
		Team2MapScore: m.Team2Score,
		Status:        domain.StatusLive,
		Event:         m.Tournament.Name,
		Format:        fmt.Sprintf("bo%d", max(m.BoType, 1)),
		Source:        src,
		ObservedAt:    now,
	}
	if m.Slug != "" {
		snap.URL = "https://bo3.gg/matches/" + m.Slug
	}
	switch strings.ToLower(m.Status) {
	case "upcoming", "scheduled":
		snap.Status = domain.StatusUpcoming
	case "finished", "ended", "defwin":
		snap.Status = domain.StatusFinished
	}
	if lu := m.LiveUpdates; lu != nil {
		snap.CurrentMap = lu.MapName
		snap.Team1RoundScore = lu.Team1.GameScore
		snap.Team2RoundScore = lu.Team2.GameScore
		snap.Team1Side = lu.Team1.Side
		snap.Team2Side = lu.Team2.Side
		snap.Players = appendPlayers(snap.Players, m.Team1.Name, lu.Team1.PlayerStates)
		snap.Players = appendPlayers(snap.Players, m.Team2.Name, lu.Team2.PlayerStates)
	}
	return snap
}

func appendPlayers(dst []domain.PlayerState, team string, states []bo3ggPlayer) []domain.PlayerState {
	for _, p := range states {
		dst = append(dst, domain.PlayerState{
			Nickname: p.Nickname,
			Team:     team,
			Kills:    p.Kills,
			Deaths:   p.Deaths,
			Assists:  p.Assists,
			Health:   p.Health,
			Alive:    p.IsAlive,
			Rating:   p.Rating,
		})
	}
	return dst
}

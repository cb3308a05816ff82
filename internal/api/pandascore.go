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

const pandaScoreBaseURL = "https://api.pandascore.co"

type PandaScore struct {
	name    string
	baseURL string
	token   string
	client  *Client
	now     func() time.Time
	logger  zerolog.Logger
}

func NewPandaScore(name, baseURL, token string, client *Client, logger zerolog.Logger) *PandaScore {
	if baseURL == "" {
		baseURL = pandaScoreBaseURL
	}
	return &PandaScore{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		now:     time.Now,
		logger:  logger,
	}
}

type pandaOpponent struct {
	Opponent struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"opponent"`
}

type pandaMatch struct {
	ID            int64           `json:"id"`
	Slug          string          `json:"slug"`
	Status        string          `json:"status"`
	NumberOfGames int             `json:"number_of_games"`
	Opponents     []pandaOpponent `json:"opponents"`
	Results       []struct {
		TeamID int64 `json:"team_id"`
		Score  int   `json:"score"`
	} `json:"results"`
	Games []struct {
		Status   string `json:"status"`
		Position int    `json:"position"`
		Map      *struct {
			Name string `json:"name"`
		} `json:"map"`
	} `json:"games"`
	League struct {
		Name string `json:"name"`
	} `json:"league"`
}

func (p *PandaScore) Source() string { return p.name }

func (p *PandaScore) Supports(c domain.Category) bool {
	return c == domain.CategoryLiveMatch || c == domain.CategoryLiveMatches
}

func (p *PandaScore) Fetch(ctx context.Context, key domain.CacheKey) (any, error) {
	if p.token == "" {
		return nil, source.NewUnavailable(p.name, fmt.Errorf("%w: no api token configured", source.ErrProviderUnavailable))
	}

	resp, err := doJSON[[]pandaMatch](ctx, p.client, request{
		source: p.name,
		url:    p.baseURL + "/csgo/matches/running",
		bearer: p.token,
	})
	if err != nil {
		return nil, err
	}

	now := p.now()
	live := make([]domain.MatchSnapshot, 0, len(*resp))
	for _, m := range *resp {
		live = append(live, m.snapshot(p.name, now))
	}

	switch key.Category {
	case domain.CategoryLiveMatches:
		return live, nil
	case domain.CategoryLiveMatch:
		snap, ok := findLive(live, key.ID)
		if !ok {
			return nil, source.NewPermanent(p.name, fmt.Errorf("%w: live match %q", ErrNotFound, key.ID))
		}
		return snap, nil
	}
	return nil, source.NewUnavailable(p.name, fmt.Errorf("%w: category %s", source.ErrProviderUnavailable, key.Category))
}

func (m pandaMatch) snapshot(src string, now time.Time) domain.MatchSnapshot {
	snap := domain.MatchSnapshot{
		MatchID:    strconv.FormatInt(m.ID, 10),
		Team1:      "TBD",
		Team2:      "TBD",
		Status:     domain.StatusLive,
		Event:      m.League.Name,
		Format:     fmt.Sprintf("bo%d", max(m.NumberOfGames, 1)),
		Source:     src,
		ObservedAt: now,
	}
	if m.Slug != "" {
		snap.URL = "https://pandascore.co/csgo/matches/" + m.Slug
	}

	var id1, id2 int64
	if len(m.Opponents) > 0 {
		snap.Team1 = m.Opponents[0].Opponent.Name
		id1 = m.Opponents[0].Opponent.ID
	}
	if len(m.Opponents) > 1 {
		snap.Team2 = m.Opponents[1].Opponent.Name
		id2 = m.Opponents[1].Opponent.ID
	}
	for _, r := range m.Results {
		switch r.TeamID {
		case id1:
			snap.Team1MapScore = r.Score
		case id2:
			snap.Team2MapScore = r.Score
		}
	}
	for _, g := range m.Games {
		if g.Status == "running" && g.Map != nil {
			snap.CurrentMap = g.Map.Name
			break
		}
	}

	switch m.Status {
	case "not_started":
		snap.Status = domain.StatusUpcoming
	case "finished", "canceled":
		snap.Status = domain.StatusFinished
	}
	return snap
}

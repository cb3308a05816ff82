package api

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"cs2-tracker/internal/domain"
	"cs2-tracker/internal/source"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const hltvBaseURL = "https://www.hltv.org"

// HLTV scrapes the public site. It serves every category and is the
// baseline source.
type HLTV struct {
	name    string
	baseURL string
	client  *Client
	now     func() time.Time
	logger  zerolog.Logger
}

func NewHLTV(name, baseURL string, client *Client, logger zerolog.Logger) *HLTV {
	if baseURL == "" {
		baseURL = hltvBaseURL
	}
	return &HLTV{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     time.Now,
		logger:  logger,
	}
}

func (h *HLTV) Source() string { return h.name }

func (h *HLTV) Supports(domain.Category) bool { return true }

func (h *HLTV) Fetch(ctx context.Context, key domain.CacheKey) (any, error) {
	switch key.Category {
	case domain.CategoryMatches:
		return h.matches(ctx)
	case domain.CategoryLiveMatches:
		return h.liveMatches(ctx)
	case domain.CategoryLiveMatch:
		return h.liveMatch(ctx, key.ID)
	case domain.CategoryMatchDetail:
		return h.matchDetail(ctx, key.ID)
	case domain.CategoryResults:
		return h.results(ctx)
	case domain.CategoryRankings:
		return h.rankings(ctx)
	case domain.CategoryTeam:
		return h.team(ctx, key.ID)
	case domain.CategoryPlayer:
		return h.player(ctx, key.ID)
	case domain.CategoryScoreboard:
		return h.scoreboard(ctx, key.ID)
	}
	return nil, source.NewUnavailable(h.name, fmt.Errorf("%w: category %s", source.ErrProviderUnavailable, key.Category))
}

func (h *HLTV) document(ctx context.Context, path string) (*goquery.Document, error) {
	body, err := h.client.get(ctx, request{source: h.name, url: h.absolute(path), accept: "text/html"})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, source.NewPermanent(h.name, fmt.Errorf("failed to parse page %s: %w", path, err))
	}
	return doc, nil
}

func (h *HLTV) absolute(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return h.baseURL + path
}

func (h *HLTV) matches(ctx context.Context) ([]domain.MatchSummary, error) {
	doc, err := h.document(ctx, "/matches")
	if err != nil {
		return nil, err
	}
	matches := parseMatchList(doc, h.baseURL)
	h.logger.Debug().Int("count", len(matches)).Msg("matches parsed")
	return matches, nil
}

// liveMatches reads the live section of the match list, then refines each
// entry from its match page concurrently. A failed refinement keeps the
// list entry as is.
func (h *HLTV) liveMatches(ctx context.Context) ([]domain.MatchSnapshot, error) {
	doc, err := h.document(ctx, "/matches")
	if err != nil {
		return nil, err
	}

	now := h.now()
	live := parseLiveList(doc, h.baseURL, h.name, now)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range live {
		if live[i].URL == "" {
			continue
		}
		g.Go(func() error {
			page, err := h.document(gCtx, live[i].URL)
			if err != nil {
				h.logger.Debug().Err(err).Str("match_id", live[i].MatchID).Msg("failed to refine live match")
				return nil
			}
			live[i] = refineFromMatchPage(page, live[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	h.logger.Debug().Int("count", len(live)).Msg("live matches parsed")
	return live, nil
}

// liveMatch looks a match up by numeric id on its own page, or by team name
// in the live list.
func (h *HLTV) liveMatch(ctx context.Context, id string) (domain.MatchSnapshot, error) {
	if isNumeric(id) {
		doc, err := h.document(ctx, fmt.Sprintf("/matches/%s/-", id))
		if err != nil {
			return domain.MatchSnapshot{}, err
		}
		snap, err := parseMatchPage(doc, id, h.name, h.now())
		if err != nil {
			return domain.MatchSnapshot{}, source.NewPermanent(h.name, err)
		}
		snap.URL = fmt.Sprintf("%s/matches/%s/-", h.baseURL, id)
		return snap, nil
	}

	live, err := h.liveMatches(ctx)
	if err != nil {
		return domain.MatchSnapshot{}, err
	}
	snap, ok := findLive(live, id)
	if !ok {
		return domain.MatchSnapshot{}, source.NewPermanent(h.name, fmt.Errorf("%w: live match %q", ErrNotFound, id))
	}
	return snap, nil
}

func (h *HLTV) matchDetail(ctx context.Context, id string) (domain.MatchDetail, error) {
	if !isNumeric(id) {
		return domain.MatchDetail{}, source.NewPermanent(h.name, fmt.Errorf("match id %q is not numeric", id))
	}
	doc, err := h.document(ctx, fmt.Sprintf("/matches/%s/-", id))
	if err != nil {
		return domain.MatchDetail{}, err
	}
	detail, err := parseMatchDetail(doc, id)
	if err != nil {
		return domain.MatchDetail{}, source.NewPermanent(h.name, err)
	}
	detail.URL = fmt.Sprintf("%s/matches/%s/-", h.baseURL, id)
	return detail, nil
}

func (h *HLTV) results(ctx context.Context) ([]domain.MatchResult, error) {
	doc, err := h.document(ctx, "/results")
	if err != nil {
		return nil, err
	}
	return parseResults(doc, h.baseURL), nil
}

func (h *HLTV) rankings(ctx context.Context) ([]domain.TeamRanking, error) {
	doc, err := h.document(ctx, "/ranking/teams")
	if err != nil {
		return nil, err
	}
	teams := parseRankings(doc)
	if len(teams) == 0 {
		return nil, source.NewPermanent(h.name, fmt.Errorf("ranking page has no teams"))
	}
	return teams, nil
}

func (h *HLTV) team(ctx context.Context, name string) (domain.TeamRanking, error) {
	teams, err := h.rankings(ctx)
	if err != nil {
		return domain.TeamRanking{}, err
	}
	needle := strings.ToLower(name)
	for _, t := range teams {
		if strings.Contains(strings.ToLower(t.Name), needle) {
			return t, nil
		}
	}
	return domain.TeamRanking{}, source.NewPermanent(h.name, fmt.Errorf("%w: team %q", ErrNotFound, name))
}

func (h *HLTV) player(ctx context.Context, id string) (domain.PlayerInfo, error) {
	doc, err := h.document(ctx, "/stats/players/"+id)
	if err != nil {
		return domain.PlayerInfo{}, err
	}
	info, err := parsePlayer(doc, id)
	if err != nil {
		return domain.PlayerInfo{}, source.NewPermanent(h.name, err)
	}
	return info, nil
}

// scoreboard reads /stats/matches/mapstatsid/{id}/-, the stat page of one
// played map.
func (h *HLTV) scoreboard(ctx context.Context, id string) (domain.Scoreboard, error) {
	if !isNumeric(id) {
		return domain.Scoreboard{}, source.NewPermanent(h.name, fmt.Errorf("map stats id %q is not numeric", id))
	}
	path := fmt.Sprintf("/stats/matches/mapstatsid/%s/-", id)
	doc, err := h.document(ctx, path)
	if err != nil {
		return domain.Scoreboard{}, err
	}
	board, err := parseScoreboard(doc, id)
	if err != nil {
		return domain.Scoreboard{}, source.NewPermanent(h.name, err)
	}
	board.URL = h.baseURL + path
	h.logger.Debug().
		Str("map_stats_id", id).
		Int("players", len(board.Team1.Players)+len(board.Team2.Players)).
		Msg("scoreboard parsed")
	return board, nil
}

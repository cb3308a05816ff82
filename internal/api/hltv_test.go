package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cs2-tracker/internal/domain"
	"cs2-tracker/internal/source"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
)

const matchesPage = `<html><body>
<div class="liveMatches">
  <div class="live-match-container">
    <a class="match-teams" href="/matches/2371234/natus-vincere-vs-vitality-iem-katowice-2025">
      <div class="match-teamname">Natus Vincere</div>
      <div class="match-teamname">Vitality</div>
    </a>
    <div class="match-event"><div class="text-ellipsis">IEM Katowice 2025</div></div>
    <div class="match-meta">bo3</div>
    <span class="map-score">0</span><span class="map-score">0</span>
    <span class="current-map-score">5</span><span class="current-map-score">3</span>
  </div>
</div>
<div class="upcoming">
  <div class="match-wrapper">
    <div class="match-time">18:30</div>
    <a class="match-teams" href="/matches/2371300/spirit-vs-mouz-blast-open">
      <div class="team1">Spirit</div><div class="team2">MOUZ</div>
    </a>
  </div>
  <div class="match-wrapper">
    <a class="match-teams live" href="/matches/2371234/natus-vincere-vs-vitality-iem-katowice-2025">
      <div class="team1">Natus Vincere</div><div class="team2">Vitality</div>
    </a>
  </div>
</div>
</body></html>`

const matchPage = `<html><body>
<div class="teamName">Natus Vincere</div><div class="teamName">Vitality</div>
<div class="event"><a href="/events/1">IEM Katowice 2025</a></div>
<div class="preformatted-text">Best of 3 (LAN)</div>
<div class="liveMatch"></div>
<div class="mapholder"><div class="mapname">Mirage</div>
  <div class="results-team-score">13</div><div class="results-team-score">9</div></div>
<div class="mapholder"><div class="mapname">Inferno</div>
  <div class="results-team-score">7</div><div class="results-team-score">4</div></div>
<div class="mapholder"><div class="mapname">Nuke</div>
  <div class="results-team-score">-</div><div class="results-team-score">-</div></div>
</body></html>`

const rankingPage = `<html><body>
<div class="ranked-team">
  <span class="position">#1</span><span class="name">Vitality</span><span class="points">(1,000 points)</span>
  <a class="moreLink" href="/team/9565/vitality">More</a>
  <div class="lineup-con"><div class="player"><div class="text-ellipsis">ZywOo</div></div>
  <div class="player"><div class="text-ellipsis">apEX</div></div></div>
</div>
<div class="ranked-team">
  <span class="position">#2</span><span class="name">Natus Vincere</span><span class="points">(870 points)</span>
  <span class="change">+1</span>
  <a class="moreLink" href="/team/4608/natus-vincere">More</a>
</div>
</body></html>`

const playerPage = `<html><body>
<h1 class="summaryNickname">ZywOo</h1>
<div class="summaryRealname">Mathieu Herbaut</div>
<div class="SummaryTeamname"><a href="/team/9565/vitality">Vitality</a></div>
<div class="summaryStatBreakdown">
  <div class="summaryStatBreakdownSubHeader">Rating 2.0</div><div class="summaryStatBreakdownDataValue">1.31</div>
</div>
<div class="summaryStatBreakdown">
  <div class="summaryStatBreakdownSubHeader">KAST</div><div class="summaryStatBreakdownDataValue">75.2%</div>
</div>
<div class="summaryStatBreakdown">
  <div class="summaryStatBreakdownSubHeader">Damage / Round</div><div class="summaryStatBreakdownDataValue">88,4</div>
</div>
</body></html>`

const challengePage = `<html><body><div id="challenge">Just a moment...</div></body></html>`

const finishedMatchPage = `<html><body>
<div class="team"><div class="teamName">Spirit</div><div class="won">2</div></div>
<div class="team"><div class="teamName">MOUZ</div><div class="lost">1</div></div>
<div class="countdown">Match over</div>
<div class="preformatted-text">Best of 3 (Online)</div>
<div class="mapholder"><div class="mapname">Ancient</div>
  <div class="results-team-score">13</div><div class="results-team-score">10</div></div>
<div class="mapholder"><div class="mapname">Nuke</div>
  <div class="results-team-score">8</div><div class="results-team-score">13</div></div>
<div class="mapholder"><div class="mapname">Dust2</div>
  <div class="results-team-score">13</div><div class="results-team-score">6</div></div>
</body></html>`

const scoreboardPage = `<html><body>
<div class="match-info-box"><span class="map-name">Mirage</span></div>
<table class="stats-table totalstats">
  <thead><tr><th>Natus Vincere</th></tr></thead>
  <tbody>
    <tr><td><a href="/stats/players/18987/b1t">b1t</a></td><td>4 : 2</td><td>-</td><td>3</td><td>76.2%</td><td>-</td><td>1</td>
      <td>21 (14)</td><td>-</td><td>3 (1)</td><td>12 (2)</td><td>-</td><td>86.4</td><td>-</td><td>-</td><td>-</td><td>+4.1%</td><td>1.34</td></tr>
    <tr><td>bad row</td><td>1</td></tr>
  </tbody>
</table>
<table class="stats-table ctstats"><thead><tr><th>Natus Vincere</th></tr></thead></table>
<table class="stats-table totalstats">
  <thead><tr><th>Vitality</th></tr></thead>
  <tbody>
    <tr><td><span class="player-nick">ZywOo</span></td><td>3 : 3</td><td>-</td><td>2</td><td>68.0%</td><td>-</td><td>0</td>
      <td>17 (6)</td><td>-</td><td>2 (0)</td><td>15 (4)</td><td>-</td><td>79.1</td><td>-</td><td>-</td><td>-</td><td>-1.0%</td><td>1.05</td></tr>
  </tbody>
</table>
</body></html>`

func newHLTVServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/matches", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(matchesPage))
	})
	mux.HandleFunc("/matches/2371234/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(matchPage))
	})
	mux.HandleFunc("/ranking/teams", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rankingPage))
	})
	mux.HandleFunc("/stats/players/7322", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(playerPage))
	})
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/matches/2371999/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(challengePage))
	})
	mux.HandleFunc("/stats/matches/mapstatsid/2371999/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(challengePage))
	})
	mux.HandleFunc("/matches/2371300/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(finishedMatchPage))
	})
	mux.HandleFunc("/stats/matches/mapstatsid/190001/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(scoreboardPage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHLTV(t *testing.T) *HLTV {
	srv := newHLTVServer(t)
	return NewHLTV("hltv", srv.URL, NewClient(zerolog.Nop()), zerolog.Nop())
}

func TestHLTVMatches(t *testing.T) {
	h := newTestHLTV(t)
	v, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryMatches, ""))
	if err != nil {
		t.Fatal(err)
	}
	matches := v.([]domain.MatchSummary)
	if len(matches) != 2 {
		t.Fatalf("want 2 matches, got %d", len(matches))
	}
	if matches[0].Team1 != "Spirit" || matches[0].Time != "18:30" || matches[0].Status != domain.StatusUpcoming {
		t.Errorf("unexpected first match %+v", matches[0])
	}
	if matches[1].MatchID != "2371234" || matches[1].Status != domain.StatusLive {
		t.Errorf("unexpected live match %+v", matches[1])
	}
}

func TestHLTVLiveMatchesRefinedFromMatchPage(t *testing.T) {
	h := newTestHLTV(t)
	v, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryLiveMatches, ""))
	if err != nil {
		t.Fatal(err)
	}
	live := v.([]domain.MatchSnapshot)
	if len(live) != 1 {
		t.Fatalf("want 1 live match, got %d", len(live))
	}

	got := live[0]
	if got.Team1MapScore != 1 || got.Team2MapScore != 0 {
		t.Errorf("want maps 1-0, got %d-%d", got.Team1MapScore, got.Team2MapScore)
	}
	if got.CurrentMap != "Inferno" || got.Team1RoundScore != 7 || got.Team2RoundScore != 4 {
		t.Errorf("want Inferno 7-4, got %s %d-%d", got.CurrentMap, got.Team1RoundScore, got.Team2RoundScore)
	}
	if got.Format != "bo3" || got.Event != "IEM Katowice 2025" || got.Source != "hltv" {
		t.Errorf("unexpected metadata %+v", got)
	}
}

func TestHLTVLiveMatchByIDAndTeam(t *testing.T) {
	h := newTestHLTV(t)

	for _, id := range []string{"2371234", "vitality"} {
		v, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryLiveMatch, id))
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		snap := v.(domain.MatchSnapshot)
		if snap.MatchID != "2371234" || snap.Status != domain.StatusLive || snap.CurrentMap != "Inferno" {
			t.Errorf("%s: unexpected snapshot %+v", id, snap)
		}
	}

	_, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryLiveMatch, "faze"))
	if source.Classify(err) != source.Permanent {
		t.Errorf("want permanent not-found, got %v", err)
	}
}

func TestHLTVMatchDetail(t *testing.T) {
	h := newTestHLTV(t)
	v, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryMatchDetail, "2371234"))
	if err != nil {
		t.Fatal(err)
	}
	detail := v.(domain.MatchDetail)

	want := []domain.MapScore{
		{Name: "Mirage", Team1Rounds: 13, Team2Rounds: 9, Finished: true},
		{Name: "Inferno", Team1Rounds: 7, Team2Rounds: 4},
		{Name: "Nuke"},
	}
	if diff := cmp.Diff(want, detail.Maps); diff != "" {
		t.Errorf("maps mismatch (-want +got):\n%s", diff)
	}
	if detail.Format != "bo3" || detail.Status != domain.StatusLive {
		t.Errorf("unexpected detail %+v", detail)
	}
}

func TestHLTVTeamAndRankings(t *testing.T) {
	h := newTestHLTV(t)

	v, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryTeam, "natus"))
	if err != nil {
		t.Fatal(err)
	}
	want := domain.TeamRanking{TeamID: "4608", Name: "Natus Vincere", Rank: 2, Points: 870, Change: "+1"}
	if diff := cmp.Diff(want, v.(domain.TeamRanking)); diff != "" {
		t.Errorf("team mismatch (-want +got):\n%s", diff)
	}

	v, err = h.Fetch(context.Background(), domain.NewKey(domain.CategoryRankings, ""))
	if err != nil {
		t.Fatal(err)
	}
	if top := v.([]domain.TeamRanking)[0]; top.Points != 1000 || len(top.Players) != 2 {
		t.Errorf("unexpected top team %+v", top)
	}
}

func TestHLTVPlayer(t *testing.T) {
	h := newTestHLTV(t)
	v, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryPlayer, "7322"))
	if err != nil {
		t.Fatal(err)
	}
	p := v.(domain.PlayerInfo)
	if p.Nickname != "ZywOo" || p.Team != "Vitality" || p.Rating != 1.31 || p.KAST != 75.2 || p.ADR != 88.4 {
		t.Errorf("unexpected player %+v", p)
	}
}

func TestHLTVClassifiesFailures(t *testing.T) {
	h := newTestHLTV(t)

	tests := []struct {
		name string
		key  domain.CacheKey
		want source.FailureKind
	}{
		{"forbidden is a block signal", domain.NewKey(domain.CategoryResults, ""), source.Blocked},
		{"missing page is permanent", domain.NewKey(domain.CategoryPlayer, "1"), source.Permanent},
		{"non-numeric detail id", domain.NewKey(domain.CategoryMatchDetail, "navi"), source.Permanent},
		{"challenge page is not a finished match", domain.NewKey(domain.CategoryLiveMatch, "2371999"), source.Permanent},
		{"challenge page has no scoreboard", domain.NewKey(domain.CategoryScoreboard, "2371999"), source.Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Fetch(context.Background(), tt.key)
			if err == nil {
				t.Fatal("want error")
			}
			if got := source.Classify(err); got != tt.want {
				t.Errorf("want %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestHLTVServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewHLTV("hltv", srv.URL, NewClient(zerolog.Nop()), zerolog.Nop())
	_, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryRankings, ""))
	if got := source.Classify(err); got != source.Transient {
		t.Errorf("want transient, got %s (%v)", got, err)
	}
}

func TestHLTVFinishedMatchNeedsExplicitMarker(t *testing.T) {
	h := newTestHLTV(t)
	v, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryLiveMatch, "2371300"))
	if err != nil {
		t.Fatal(err)
	}
	snap := v.(domain.MatchSnapshot)
	if snap.Status != domain.StatusFinished || snap.Team1 != "Spirit" || snap.Team2 != "MOUZ" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Team1MapScore != 2 || snap.Team2MapScore != 1 || snap.CurrentMap != "" {
		t.Errorf("want 2-1 with no map in progress, got %s", snap.ScoreLine())
	}
}

func TestHLTVScoreboard(t *testing.T) {
	h := newTestHLTV(t)
	v, err := h.Fetch(context.Background(), domain.NewKey(domain.CategoryScoreboard, "190001"))
	if err != nil {
		t.Fatal(err)
	}
	board := v.(domain.Scoreboard)

	want := domain.Scoreboard{
		MapStatsID: "190001",
		Map:        "Mirage",
		Team1: domain.TeamScoreboard{Name: "Natus Vincere", Players: []domain.PlayerLine{{
			Nickname: "b1t", Kills: 21, Headshots: 14, Assists: 3, Deaths: 12,
			FirstKills: 4, FirstDeaths: 2, KAST: 76.2, ADR: 86.4, Rating: 1.34, Clutches: "1",
		}}},
		Team2: domain.TeamScoreboard{Name: "Vitality", Players: []domain.PlayerLine{{
			Nickname: "ZywOo", Kills: 17, Headshots: 6, Assists: 2, Deaths: 15,
			FirstKills: 3, FirstDeaths: 3, KAST: 68, ADR: 79.1, Rating: 1.05, Clutches: "0",
		}}},
	}
	if diff := cmp.Diff(want, board, cmpopts.IgnoreFields(domain.Scoreboard{}, "URL")); diff != "" {
		t.Errorf("scoreboard mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasSuffix(board.URL, "/stats/matches/mapstatsid/190001/-") {
		t.Errorf("unexpected url %q", board.URL)
	}
}

func TestEventFromHref(t *testing.T) {
	tests := []struct{ href, want string }{
		{"/matches/1/navi-vs-vitality-iem-katowice", "Navi Vs Vitality Iem Katowice"},
		{"/matches/2/élan-vs-ürban", "Élan Vs Ürban"},
		{"/matches/3", ""},
	}
	for _, tt := range tests {
		if got := eventFromHref(tt.href); got != tt.want {
			t.Errorf("eventFromHref(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

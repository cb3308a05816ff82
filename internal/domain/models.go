package domain

import (
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryMatches     Category = "matches"
	CategoryLiveMatches Category = "live_matches"
	CategoryLiveMatch   Category = "live_match"
	CategoryMatchDetail Category = "match_detail"
	CategoryResults     Category = "results"
	CategoryRankings    Category = "rankings"
	CategoryTeam        Category = "team"
	CategoryPlayer      Category = "player"
	CategoryScoreboard  Category = "scoreboard"
)

var Categories = []Category{
	CategoryMatches,
	CategoryLiveMatches,
	CategoryLiveMatch,
	CategoryMatchDetail,
	CategoryResults,
	CategoryRankings,
	CategoryTeam,
	CategoryPlayer,
	CategoryScoreboard,
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// RealTime reports whether data in this category goes stale within a match.
func (c Category) RealTime() bool {
	return c == CategoryLiveMatch || c == CategoryLiveMatches
}

// CacheKey identifies one cached view. Lists use an empty ID.
type CacheKey struct {
	Category Category `json:"category"`
	ID       string   `json:"id,omitempty"`
}

func NewKey(c Category, id string) CacheKey {
	return CacheKey{Category: c, ID: strings.TrimSpace(id)}
}

func (k CacheKey) String() string {
	if k.ID == "" {
		return string(k.Category)
	}
	return string(k.Category) + ":" + k.ID
}

type MatchStatus string

const (
	StatusUnknown  MatchStatus = ""
	StatusUpcoming MatchStatus = "upcoming"
	StatusLive     MatchStatus = "live"
	StatusFinished MatchStatus = "finished"
)

type MapScore struct {
	Name        string `json:"name"`
	Team1Rounds int    `json:"team1_rounds"`
	Team2Rounds int    `json:"team2_rounds"`
	Finished    bool   `json:"finished"`
}

// MatchSnapshot is one observation of a match. Values are never patched;
// a new fetch produces a new snapshot.
type MatchSnapshot struct {
	MatchID         string        `json:"match_id"`
	Team1           string        `json:"team1"`
	Team2           string        `json:"team2"`
	Team1MapScore   int           `json:"team1_map_score"`
	Team2MapScore   int           `json:"team2_map_score"`
	CurrentMap      string        `json:"current_map,omitempty"`
	Team1RoundScore int           `json:"team1_round_score"`
	Team2RoundScore int           `json:"team2_round_score"`
	Team1Side       string        `json:"team1_side,omitempty"`
	Team2Side       string        `json:"team2_side,omitempty"`
	Maps            []MapScore    `json:"maps,omitempty"`
	Players         []PlayerState `json:"players,omitempty"`
	Status          MatchStatus   `json:"status"`
	Event           string        `json:"event,omitempty"`
	Format          string        `json:"format,omitempty"`
	URL             string        `json:"url,omitempty"`
	Source          string        `json:"source"`
	ObservedAt      time.Time     `json:"observed_at"`
}

// Clone returns a copy that shares no slices with s.
func (s MatchSnapshot) Clone() MatchSnapshot {
	if s.Maps != nil {
		maps := make([]MapScore, len(s.Maps))
		copy(maps, s.Maps)
		s.Maps = maps
	}
	if s.Players != nil {
		players := make([]PlayerState, len(s.Players))
		copy(players, s.Players)
		s.Players = players
	}
	return s
}

// Swapped returns a copy with team1 and team2 exchanged.
func (s MatchSnapshot) Swapped() MatchSnapshot {
	s = s.Clone()
	s.Team1, s.Team2 = s.Team2, s.Team1
	s.Team1MapScore, s.Team2MapScore = s.Team2MapScore, s.Team1MapScore
	s.Team1RoundScore, s.Team2RoundScore = s.Team2RoundScore, s.Team1RoundScore
	s.Team1Side, s.Team2Side = s.Team2Side, s.Team1Side
	for i := range s.Maps {
		s.Maps[i].Team1Rounds, s.Maps[i].Team2Rounds = s.Maps[i].Team2Rounds, s.Maps[i].Team1Rounds
	}
	return s
}

// BestOf parses Format ("bo3") and returns 0 when unknown.
func (s MatchSnapshot) BestOf() int {
	f := strings.ToLower(strings.TrimSpace(s.Format))
	switch f {
	case "bo1":
		return 1
	case "bo2":
		return 2
	case "bo3":
		return 3
	case "bo5":
		return 5
	case "bo7":
		return 7
	}
	return 0
}

func (s MatchSnapshot) ScoreLine() string {
	line := fmt.Sprintf("%s %d-%d %s", s.Team1, s.Team1MapScore, s.Team2MapScore, s.Team2)
	if s.CurrentMap != "" {
		line += fmt.Sprintf(" (%s %d-%d)", s.CurrentMap, s.Team1RoundScore, s.Team2RoundScore)
	}
	return line
}

func (s MatchSnapshot) Involves(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s.Team1), name) || strings.Contains(strings.ToLower(s.Team2), name)
}

// MapFinished applies the regulation rule: 13+ rounds with a lead of 2.
func MapFinished(r1, r2 int) bool {
	return (r1 >= 13 && r1-r2 >= 2) || (r2 >= 13 && r2-r1 >= 2)
}

// PlayerState is one player's line on the map in progress.
type PlayerState struct {
	Nickname string  `json:"nickname"`
	Team     string  `json:"team"`
	Kills    int     `json:"kills"`
	Deaths   int     `json:"deaths"`
	Assists  int     `json:"assists"`
	Health   int     `json:"health"`
	Alive    bool    `json:"alive"`
	Rating   float64 `json:"rating"`
}

// Scoreboard is the per-player stat table of one played map.
type Scoreboard struct {
	MapStatsID string         `json:"map_stats_id"`
	Map        string         `json:"map,omitempty"`
	Team1      TeamScoreboard `json:"team1"`
	Team2      TeamScoreboard `json:"team2"`
	URL        string         `json:"url,omitempty"`
}

type TeamScoreboard struct {
	Name    string       `json:"name"`
	Players []PlayerLine `json:"players"`
}

type PlayerLine struct {
	Nickname    string  `json:"nickname"`
	Kills       int     `json:"kills"`
	Headshots   int     `json:"headshots"`
	Assists     int     `json:"assists"`
	Deaths      int     `json:"deaths"`
	FirstKills  int     `json:"first_kills"`
	FirstDeaths int     `json:"first_deaths"`
	KAST        float64 `json:"kast"`
	ADR         float64 `json:"adr"`
	Rating      float64 `json:"rating"`
	Clutches    string  `json:"clutches,omitempty"`
}

type MatchSummary struct {
	MatchID string      `json:"match_id"`
	Team1   string      `json:"team1"`
	Team2   string      `json:"team2"`
	Event   string      `json:"event,omitempty"`
	Time    string      `json:"time,omitempty"`
	Status  MatchStatus `json:"status"`
	URL     string      `json:"url,omitempty"`
}

type MatchDetail struct {
	MatchID    string      `json:"match_id"`
	Team1      string      `json:"team1"`
	Team2      string      `json:"team2"`
	Team1Score int         `json:"team1_score"`
	Team2Score int         `json:"team2_score"`
	Event      string      `json:"event,omitempty"`
	Status     MatchStatus `json:"status"`
	Format     string      `json:"format,omitempty"`
	Maps       []MapScore  `json:"maps"`
	URL        string      `json:"url,omitempty"`
}

type MatchResult struct {
	MatchID string `json:"match_id"`
	Team1   string `json:"team1"`
	Team2   string `json:"team2"`
	Score1  int    `json:"score1"`
	Score2  int    `json:"score2"`
	Event   string `json:"event,omitempty"`
	Winner  string `json:"winner"`
	URL     string `json:"url,omitempty"`
}

type TeamRanking struct {
	TeamID  string   `json:"team_id"`
	Name    string   `json:"name"`
	Rank    int      `json:"rank"`
	Points  int      `json:"points"`
	Change  string   `json:"change,omitempty"`
	Players []string `json:"players,omitempty"`
}

type PlayerInfo struct {
	PlayerID string  `json:"player_id"`
	Nickname string  `json:"nickname"`
	Name     string  `json:"name,omitempty"`
	Team     string  `json:"team,omitempty"`
	Rating   float64 `json:"rating"`
	DPR      float64 `json:"dpr"`
	KAST     float64 `json:"kast"`
	Impact   float64 `json:"impact"`
	ADR      float64 `json:"adr"`
	KPR      float64 `json:"kpr"`
}

type EventKind string

const (
	EventScoreChanged EventKind = "score-changed"
	EventMatchStarted EventKind = "match-started"
	EventMatchEnded   EventKind = "match-ended"
	EventMapChanged   EventKind = "map-changed"
	EventKeyRound     EventKind = "key-round"
)

const (
	MinImportance = 1
	MaxImportance = 5
)

// Event is a derived fact about a transition between two snapshots of one match.
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	MatchID    string    `json:"match_id"`
	Summary    string    `json:"summary"`
	Importance int       `json:"importance"`
	Timestamp  time.Time `json:"timestamp"`
	Team1      string    `json:"team1"`
	Team2      string    `json:"team2"`
	Score      string    `json:"score"`
	Source     string    `json:"source"`
}

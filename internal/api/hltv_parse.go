package api

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"cs2-tracker/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

var nonDigits = regexp.MustCompile(`[^\d]`)

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(strings.TrimSuffix(strings.TrimSpace(s), "%"), ",", "."))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// matchIDFromHref extracts 2371234 from /matches/2371234/navi-vs-vitality.
func matchIDFromHref(href string) string {
	parts := strings.Split(href, "/")
	if len(parts) > 2 {
		return parts[2]
	}
	return ""
}

func findLive(snaps []domain.MatchSnapshot, id string) (domain.MatchSnapshot, bool) {
	for _, s := range snaps {
		if strings.EqualFold(s.MatchID, id) {
			return s, true
		}
	}
	for _, s := range snaps {
		if s.Involves(id) {
			return s, true
		}
	}
	return domain.MatchSnapshot{}, false
}

func formatFromText(t string) string {
	t = strings.ToLower(t)
	switch {
	case strings.Contains(t, "best of 5"):
		return "bo5"
	case strings.Contains(t, "best of 3"):
		return "bo3"
	case strings.Contains(t, "best of 2"):
		return "bo2"
	case strings.Contains(t, "best of 1"):
		return "bo1"
	}
	return ""
}

func parseMatchList(doc *goquery.Document, baseURL string) []domain.MatchSummary {
	var matches []domain.MatchSummary
	doc.Find("a.match-teams").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if href == "" {
			return
		}
		team1 := text(link.Find(".team1").First())
		team2 := text(link.Find(".team2").First())
		if team1 == "" || team2 == "" {
			return
		}

		status := domain.StatusUpcoming
		if strings.Contains(strings.ToLower(link.AttrOr("class", "")), "live") {
			status = domain.StatusLive
		}

		matches = append(matches, domain.MatchSummary{
			MatchID: matchIDFromHref(href),
			Team1:   team1,
			Team2:   team2,
			Event:   eventFromHref(href),
			Time:    text(link.Parent().Find(".match-time").First()),
			Status:  status,
			URL:     baseURL + href,
		})
	})
	return matches
}

// eventFromHref turns /matches/1/navi-vs-vitality-iem-katowice into a title.
func eventFromHref(href string) string {
	parts := strings.Split(href, "/")
	if len(parts) <= 3 {
		return ""
	}
	words := strings.Fields(strings.ReplaceAll(strings.Join(parts[3:], "-"), "-", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func parseLiveList(doc *goquery.Document, baseURL, src string, now time.Time) []domain.MatchSnapshot {
	var live []domain.MatchSnapshot
	doc.Find(".liveMatches .live-match-container").Each(func(_ int, c *goquery.Selection) {
		link := c.Find("a.match-teams, a.match-info").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}

		snap := domain.MatchSnapshot{
			MatchID:    matchIDFromHref(href),
			Team1:      "TBD",
			Team2:      "TBD",
			Status:     domain.StatusLive,
			Event:      text(c.Find(".match-event .text-ellipsis").First()),
			Format:     strings.ToLower(text(c.Find(".match-meta").First())),
			URL:        baseURL + href,
			Source:     src,
			ObservedAt: now,
		}

		names := c.Find(".match-teamname")
		if names.Length() > 0 {
			snap.Team1 = text(names.Eq(0))
		}
		if names.Length() > 1 {
			snap.Team2 = text(names.Eq(1))
		}
		if maps := c.Find(".map-score"); maps.Length() >= 2 {
			snap.Team1MapScore = atoi(text(maps.Eq(0)))
			snap.Team2MapScore = atoi(text(maps.Eq(1)))
		}
		if rounds := c.Find(".current-map-score"); rounds.Length() >= 2 {
			snap.Team1RoundScore = atoi(text(rounds.Eq(0)))
			snap.Team2RoundScore = atoi(text(rounds.Eq(1)))
		}
		live = append(live, snap)
	})
	return live
}

// parseMapHolders reads every .mapholder. Unplayed maps ("-") are kept with
// zero rounds; a map counts as finished under the regulation rule.
func parseMapHolders(doc *goquery.Document) []domain.MapScore {
	var maps []domain.MapScore
	doc.Find(".mapholder").Each(func(_ int, mh *goquery.Selection) {
		ms := domain.MapScore{Name: text(mh.Find(".mapname").First())}
		scores := mh.Find(".results-team-score")
		if scores.Length() >= 2 {
			t1, t2 := text(scores.Eq(0)), text(scores.Eq(1))
			if t1 != "-" && t2 != "-" {
				ms.Team1Rounds = atoi(t1)
				ms.Team2Rounds = atoi(t2)
				ms.Finished = domain.MapFinished(ms.Team1Rounds, ms.Team2Rounds)
			}
		}
		maps = append(maps, ms)
	})
	return maps
}

// applyMaps derives map wins and the map in progress from per-map scores.
func applyMaps(snap *domain.MatchSnapshot, maps []domain.MapScore) {
	snap.Maps = maps
	snap.Team1MapScore, snap.Team2MapScore = 0, 0
	snap.CurrentMap = ""
	snap.Team1RoundScore, snap.Team2RoundScore = 0, 0

	for _, m := range maps {
		switch {
		case m.Finished && m.Team1Rounds > m.Team2Rounds:
			snap.Team1MapScore++
		case m.Finished:
			snap.Team2MapScore++
		case snap.CurrentMap == "" && (m.Team1Rounds > 0 || m.Team2Rounds > 0):
			snap.CurrentMap = m.Name
			snap.Team1RoundScore = m.Team1Rounds
			snap.Team2RoundScore = m.Team2Rounds
		}
	}
}

func refineFromMatchPage(doc *goquery.Document, base domain.MatchSnapshot) domain.MatchSnapshot {
	maps := parseMapHolders(doc)
	if len(maps) == 0 {
		return base
	}
	snap := base
	applyMaps(&snap, maps)
	if f := formatFromText(text(doc.Find(".preformatted-text").First())); f != "" {
		snap.Format = f
	}
	return snap
}

// pageStatus reads the explicit state markers of a match page. A page with
// none of them (a challenge page, a layout change) is StatusUnknown.
func pageStatus(doc *goquery.Document) domain.MatchStatus {
	countdown := strings.ToLower(text(doc.Find(".countdown").First()))
	switch {
	case doc.Find(".liveMatch, .live-match").Length() > 0:
		return domain.StatusLive
	case strings.Contains(countdown, "match over"):
		return domain.StatusFinished
	case doc.Find(".team .won, .team .lost, .team .tie").Length() >= 2:
		return domain.StatusFinished
	case countdown != "":
		return domain.StatusUpcoming
	}
	return domain.StatusUnknown
}

func pageTeams(doc *goquery.Document) (string, string) {
	team1, team2 := "TBD", "TBD"
	names := doc.Find(".teamName")
	if names.Length() > 0 {
		team1 = text(names.Eq(0))
	}
	if names.Length() > 1 {
		team2 = text(names.Eq(1))
	}
	return team1, team2
}

func parseMatchPage(doc *goquery.Document, id, src string, now time.Time) (domain.MatchSnapshot, error) {
	if doc.Find(".teamName").Length() < 2 {
		return domain.MatchSnapshot{}, errors.New("match page has no teams")
	}
	status := pageStatus(doc)
	if status == domain.StatusUnknown {
		return domain.MatchSnapshot{}, errors.New("match page has no status marker")
	}

	team1, team2 := pageTeams(doc)
	snap := domain.MatchSnapshot{
		MatchID:    id,
		Team1:      team1,
		Team2:      team2,
		Status:     status,
		Event:      text(doc.Find(".event a").First()),
		Format:     formatFromText(text(doc.Find(".preformatted-text").First())),
		Source:     src,
		ObservedAt: now,
	}
	applyMaps(&snap, parseMapHolders(doc))
	if snap.Status != domain.StatusLive {
		snap.CurrentMap = ""
		snap.Team1RoundScore, snap.Team2RoundScore = 0, 0
	}
	return snap, nil
}

func parseMatchDetail(doc *goquery.Document, id string) (domain.MatchDetail, error) {
	team1, team2 := pageTeams(doc)
	if team1 == "TBD" && team2 == "TBD" && doc.Find(".mapholder").Length() == 0 {
		return domain.MatchDetail{}, errors.New("match page has no teams")
	}

	detail := domain.MatchDetail{
		MatchID: id,
		Team1:   team1,
		Team2:   team2,
		Event:   text(doc.Find(".event a").First()),
		Status:  pageStatus(doc),
		Format:  formatFromText(text(doc.Find(".preformatted-text").First())),
		Maps:    parseMapHolders(doc),
	}
	if scores := doc.Find(".team .won, .team .lost, .team .tie"); scores.Length() >= 2 {
		detail.Team1Score = atoi(text(scores.Eq(0)))
		detail.Team2Score = atoi(text(scores.Eq(1)))
	}
	if detail.Maps == nil {
		detail.Maps = []domain.MapScore{}
	}
	return detail, nil
}

func parseResults(doc *goquery.Document, baseURL string) []domain.MatchResult {
	var results []domain.MatchResult
	doc.Find(".result-con").Each(func(_ int, r *goquery.Selection) {
		href := r.Find("a.a-reset").First().AttrOr("href", "")
		teams := r.Find(".team")
		if teams.Length() < 2 {
			return
		}

		res := domain.MatchResult{
			MatchID: matchIDFromHref(href),
			Team1:   text(teams.Eq(0)),
			Team2:   text(teams.Eq(1)),
			Event:   text(r.Find(".event-name").First()),
		}
		if href != "" {
			res.URL = baseURL + href
		}
		if parts := strings.Split(text(r.Find(".result-score").First()), "-"); len(parts) == 2 {
			res.Score1 = atoi(parts[0])
			res.Score2 = atoi(parts[1])
		}
		switch {
		case res.Score1 > res.Score2:
			res.Winner = res.Team1
		case res.Score2 > res.Score1:
			res.Winner = res.Team2
		}
		results = append(results, res)
	})
	return results
}

func parseRankings(doc *goquery.Document) []domain.TeamRanking {
	var teams []domain.TeamRanking
	doc.Find(".ranked-team").Each(func(_ int, t *goquery.Selection) {
		name := text(t.Find(".name").First())
		if name == "" {
			return
		}

		team := domain.TeamRanking{
			Name:   name,
			Rank:   atoi(strings.TrimPrefix(text(t.Find(".position").First()), "#")),
			Points: atoi(nonDigits.ReplaceAllString(text(t.Find(".points").First()), "")),
			Change: text(t.Find(".change").First()),
		}
		if href, ok := t.Find("a.moreLink").First().Attr("href"); ok {
			// /team/9565/vitality
			if parts := strings.Split(href, "/"); len(parts) > 2 {
				team.TeamID = parts[2]
			}
		}
		t.Find(".lineup-con .player .text-ellipsis").Each(func(_ int, p *goquery.Selection) {
			if nick := text(p); nick != "" {
				team.Players = append(team.Players, nick)
			}
		})
		teams = append(teams, team)
	})
	return teams
}

func parsePlayer(doc *goquery.Document, id string) (domain.PlayerInfo, error) {
	nickname := text(doc.Find(".summaryNickname").First())
	if nickname == "" {
		return domain.PlayerInfo{}, errors.New("player page has no nickname")
	}

	stats := make(map[string]string)
	doc.Find(".summaryStatBreakdownDataValue").Each(func(_ int, v *goquery.Selection) {
		label := v.PrevAllFiltered(".summaryStatBreakdownSubHeader").First()
		if label.Length() > 0 {
			stats[strings.ToLower(text(label))] = text(v)
		}
	})

	return domain.PlayerInfo{
		PlayerID: id,
		Nickname: nickname,
		Name:     text(doc.Find(".summaryRealname").First()),
		Team:     text(doc.Find(".SummaryTeamname a").First()),
		Rating:   parseFloat(stats["rating 2.0"]),
		DPR:      parseFloat(stats["deaths / round"]),
		KAST:     parseFloat(stats["kast"]),
		Impact:   parseFloat(stats["impact"]),
		ADR:      parseFloat(stats["damage / round"]),
		KPR:      parseFloat(stats["kills / round"]),
	}, nil
}

var (
	leadingInt = regexp.MustCompile(`^\s*(\d+)`)
	bracketInt = regexp.MustCompile(`\((\d+)\)`)
)

func firstInt(s string) int {
	if m := leadingInt.FindStringSubmatch(s); m != nil {
		return atoi(m[1])
	}
	return 0
}

// parseScoreboard reads the two totalstats tables of a map stats page. The
// side split tables are skipped.
func parseScoreboard(doc *goquery.Document, id string) (domain.Scoreboard, error) {
	tables := doc.Find("table.stats-table.totalstats")
	if tables.Length() < 2 {
		return domain.Scoreboard{}, errors.New("map stats page has no scoreboard")
	}

	board := domain.Scoreboard{
		MapStatsID: id,
		Map:        text(doc.Find(".match-info-box .map-name, .stats-match-map-result-mapname").First()),
		Team1:      parseStatsTable(tables.Eq(0)),
		Team2:      parseStatsTable(tables.Eq(1)),
	}
	return board, nil
}

// parseStatsTable reads one team's totalstats table. Columns are nick,
// opening K:D, ..., KAST at 4, clutches at 6, K(hs) at 7, A(f) at 9,
// D(t) at 10, ADR at 12 and rating last.
func parseStatsTable(table *goquery.Selection) domain.TeamScoreboard {
	team := domain.TeamScoreboard{
		Name:    text(table.Find("thead th").First()),
		Players: []domain.PlayerLine{},
	}
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() < 12 {
			return
		}
		col := func(i int) string { return text(cols.Eq(i)) }

		nick := text(cols.Eq(0).Find("a, .player-nick").First())
		if nick == "" {
			nick = col(0)
		}
		line := domain.PlayerLine{
			Nickname: nick,
			Kills:    firstInt(col(7)),
			Assists:  firstInt(col(9)),
			Deaths:   firstInt(col(10)),
			KAST:     parseFloat(col(4)),
			ADR:      parseFloat(col(12)),
			Rating:   parseFloat(col(cols.Length() - 1)),
			Clutches: col(6),
		}
		if m := bracketInt.FindStringSubmatch(col(7)); m != nil {
			line.Headshots = atoi(m[1])
		}
		if fk, fd, ok := strings.Cut(col(1), ":"); ok {
			line.FirstKills, line.FirstDeaths = atoi(fk), atoi(fd)
		}
		team.Players = append(team.Players, line)
	})
	return team
}

package events

import (
	"fmt"
	"strings"

	"cs2-tracker/internal/domain"
)

type draft struct {
	kind       domain.EventKind
	importance int
	summary    string
}

// compare diffs two observations of one match. A nil prev is a first
// sighting. Within one call events come out as: started, score, key round,
// map change, ended.
func compare(prev *domain.MatchSnapshot, next domain.MatchSnapshot) ([]draft, error) {
	if prev == nil {
		if next.Status == domain.StatusLive {
			return []draft{started(next)}, nil
		}
		return nil, nil
	}
	if !sameMatch(*prev, next) {
		return nil, fmt.Errorf("%w: %s %q (%s vs %s) then %s %q (%s vs %s)", ErrCrossMatch,
			prev.Source, prev.MatchID, prev.Team1, prev.Team2,
			next.Source, next.MatchID, next.Team1, next.Team2)
	}

	var out []draft

	if next.Status == domain.StatusLive && (prev.Status == domain.StatusUnknown || prev.Status == domain.StatusUpcoming) {
		out = append(out, started(next))
	}

	out = append(out, scoreChanges(*prev, next)...)

	if next.Status == domain.StatusLive && prev.CurrentMap != "" && next.CurrentMap != "" && next.CurrentMap != prev.CurrentMap {
		out = append(out, draft{
			kind:       domain.EventMapChanged,
			importance: importanceMapChanged,
			summary:    fmt.Sprintf("%s vs %s moves to %s (maps %d-%d)", next.Team1, next.Team2, next.CurrentMap, next.Team1MapScore, next.Team2MapScore),
		})
	}

	if next.Status == domain.StatusFinished && prev.Status != domain.StatusFinished {
		out = append(out, ended(next))
	}

	return out, nil
}

// sameMatch reports whether two snapshots describe one match. Ids are only
// comparable within one provider; across providers the team pair decides.
func sameMatch(a, b domain.MatchSnapshot) bool {
	if a.Source == b.Source {
		return a.MatchID == b.MatchID
	}
	a1, a2 := teamKey(a.Team1), teamKey(a.Team2)
	b1, b2 := teamKey(b.Team1), teamKey(b.Team2)
	if a1 == "" || a2 == "" {
		return false
	}
	return (a1 == b1 && a2 == b2) || (a1 == b2 && a2 == b1)
}

// align orients next like prev when another provider lists the teams in
// the opposite order.
func align(prev *domain.MatchSnapshot, next domain.MatchSnapshot) domain.MatchSnapshot {
	if prev == nil || prev.Source == next.Source {
		return next
	}
	if teamKey(prev.Team1) == teamKey(next.Team2) && teamKey(prev.Team2) == teamKey(next.Team1) &&
		teamKey(prev.Team1) != teamKey(prev.Team2) {
		return next.Swapped()
	}
	return next
}

func teamKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func started(s domain.MatchSnapshot) draft {
	summary := fmt.Sprintf("%s vs %s is live", s.Team1, s.Team2)
	if s.CurrentMap != "" {
		summary += " on " + s.CurrentMap
	}
	return draft{kind: domain.EventMatchStarted, importance: importanceStarted, summary: summary}
}

func ended(s domain.MatchSnapshot) draft {
	var summary string
	switch {
	case s.Team1MapScore > s.Team2MapScore:
		summary = fmt.Sprintf("%s beat %s %d-%d", s.Team1, s.Team2, s.Team1MapScore, s.Team2MapScore)
	case s.Team2MapScore > s.Team1MapScore:
		summary = fmt.Sprintf("%s beat %s %d-%d", s.Team2, s.Team1, s.Team2MapScore, s.Team1MapScore)
	default:
		summary = fmt.Sprintf("%s and %s finish level %d-%d", s.Team1, s.Team2, s.Team1MapScore, s.Team2MapScore)
	}
	return draft{kind: domain.EventMatchEnded, importance: importanceEnded, summary: summary}
}

func scoreChanges(prev, next domain.MatchSnapshot) []draft {
	d1 := next.Team1MapScore - prev.Team1MapScore
	d2 := next.Team2MapScore - prev.Team2MapScore

	if d1 != 0 || d2 != 0 {
		if d1 < 0 || d2 < 0 {
			return []draft{{
				kind:       domain.EventScoreChanged,
				importance: importanceCorrection,
				summary:    fmt.Sprintf("Map score corrected: %s %d-%d %s", next.Team1, next.Team1MapScore, next.Team2MapScore, next.Team2),
			}}
		}

		winner := next.Team1
		if d2 > d1 {
			winner = next.Team2
		}
		played := prev.CurrentMap
		if played == "" {
			played = "the map"
		}
		return []draft{{
			kind:       domain.EventScoreChanged,
			importance: importanceMapWon,
			summary:    fmt.Sprintf("%s win %s, series %d-%d", winner, played, next.Team1MapScore, next.Team2MapScore),
		}}
	}

	// Round scores are only comparable on the same map.
	if prev.CurrentMap != next.CurrentMap {
		return nil
	}

	r1 := next.Team1RoundScore - prev.Team1RoundScore
	r2 := next.Team2RoundScore - prev.Team2RoundScore
	if r1 == 0 && r2 == 0 {
		return nil
	}

	where := ""
	if next.CurrentMap != "" {
		where = " on " + next.CurrentMap
	}

	if r1 < 0 || r2 < 0 {
		return []draft{{
			kind:       domain.EventScoreChanged,
			importance: importanceCorrection,
			summary:    fmt.Sprintf("Round score corrected%s: %s %d-%d %s", where, next.Team1, next.Team1RoundScore, next.Team2RoundScore, next.Team2),
		}}
	}

	out := []draft{{
		kind:       domain.EventScoreChanged,
		importance: roundImportance(prev, next),
		summary:    fmt.Sprintf("%s %d-%d %s%s", next.Team1, next.Team1RoundScore, next.Team2RoundScore, next.Team2, where),
	}}

	was1, was2 := onMatchPoint(prev)
	mp1, mp2 := onMatchPoint(next)
	switch {
	case mp1 && !was1:
		out = append(out, matchPoint(next.Team1, next, where))
	case mp2 && !was2:
		out = append(out, matchPoint(next.Team2, next, where))
	}
	return out
}

func matchPoint(team string, s domain.MatchSnapshot, where string) draft {
	return draft{
		kind:       domain.EventKeyRound,
		importance: importanceMatchPoint,
		summary:    fmt.Sprintf("%s reach match point%s (%d-%d)", team, where, s.Team1RoundScore, s.Team2RoundScore),
	}
}

package events

import "cs2-tracker/internal/domain"

const (
	importanceCorrection = 1
	importanceMapChanged = 3
	importanceRound      = 3
	importanceKeyRound   = 4
	importanceStarted    = 4
	importanceMapWon     = 5
	importanceMatchPoint = 5
	importanceEnded      = 5
)

// mapTarget is the round count that wins the current map: 13 in regulation,
// then 16, 19, ... for each overtime block of six rounds.
func mapTarget(r1, r2 int) int {
	lo := min(r1, r2)
	if lo < 12 {
		return 13
	}
	return 13 + 3*((lo-12)/3+1)
}

func inOvertime(r1, r2 int) bool {
	return min(r1, r2) >= 12
}

// onMapPoint reports, per team, whether one more round wins the map.
func onMapPoint(r1, r2 int) (bool, bool) {
	t := mapTarget(r1, r2)
	return r1 == t-1, r2 == t-1
}

func mapsToWin(s domain.MatchSnapshot) int {
	bo := s.BestOf()
	if bo == 0 {
		return 0
	}
	return bo/2 + 1
}

// onMatchPoint reports, per team, whether one more round wins the match.
// Unknown formats never report match point.
func onMatchPoint(s domain.MatchSnapshot) (bool, bool) {
	need := mapsToWin(s)
	if need == 0 {
		return false, false
	}
	mp1, mp2 := onMapPoint(s.Team1RoundScore, s.Team2RoundScore)
	return mp1 && s.Team1MapScore+1 >= need, mp2 && s.Team2MapScore+1 >= need
}

func decidingMap(s domain.MatchSnapshot) bool {
	bo := s.BestOf()
	return bo > 1 && s.Team1MapScore == s.Team2MapScore && s.Team1MapScore == bo/2
}

// roundImportance scores a forward round tick. It only ever steps up: a
// larger swing or a later stage of the map or series never lowers it.
func roundImportance(prev, next domain.MatchSnapshot) int {
	swing := (next.Team1RoundScore - prev.Team1RoundScore) + (next.Team2RoundScore - prev.Team2RoundScore)
	mp1, mp2 := onMapPoint(next.Team1RoundScore, next.Team2RoundScore)

	switch {
	case swing >= 2,
		mp1 || mp2,
		inOvertime(next.Team1RoundScore, next.Team2RoundScore),
		decidingMap(next):
		return importanceKeyRound
	}
	return importanceRound
}

package service

import (
	"context"
	"fmt"

	"cs2-tracker/internal/domain"
)

// ValueAs returns the view's value as T.
func ValueAs[T any](v View) (T, error) {
	t, ok := v.Value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected value %T for %s", v.Value, v.Key)
	}
	return t, nil
}

func typedView[T any](ctx context.Context, a *Aggregator, category domain.Category, id string) (T, View, error) {
	v, err := a.GetView(ctx, category, id)
	if err != nil {
		var zero T
		return zero, v, err
	}
	t, err := ValueAs[T](v)
	return t, v, err
}

func (a *Aggregator) LiveMatch(ctx context.Context, id string) (domain.MatchSnapshot, View, error) {
	return typedView[domain.MatchSnapshot](ctx, a, domain.CategoryLiveMatch, id)
}

func (a *Aggregator) LiveMatches(ctx context.Context) ([]domain.MatchSnapshot, View, error) {
	return typedView[[]domain.MatchSnapshot](ctx, a, domain.CategoryLiveMatches, "")
}

func (a *Aggregator) Matches(ctx context.Context) ([]domain.MatchSummary, View, error) {
	return typedView[[]domain.MatchSummary](ctx, a, domain.CategoryMatches, "")
}

func (a *Aggregator) MatchDetail(ctx context.Context, id string) (domain.MatchDetail, View, error) {
	return typedView[domain.MatchDetail](ctx, a, domain.CategoryMatchDetail, id)
}

func (a *Aggregator) Results(ctx context.Context) ([]domain.MatchResult, View, error) {
	return typedView[[]domain.MatchResult](ctx, a, domain.CategoryResults, "")
}

func (a *Aggregator) Rankings(ctx context.Context) ([]domain.TeamRanking, View, error) {
	return typedView[[]domain.TeamRanking](ctx, a, domain.CategoryRankings, "")
}

func (a *Aggregator) Team(ctx context.Context, name string) (domain.TeamRanking, View, error) {
	return typedView[domain.TeamRanking](ctx, a, domain.CategoryTeam, name)
}

func (a *Aggregator) Player(ctx context.Context, id string) (domain.PlayerInfo, View, error) {
	return typedView[domain.PlayerInfo](ctx, a, domain.CategoryPlayer, id)
}

func (a *Aggregator) Scoreboard(ctx context.Context, mapStatsID string) (domain.Scoreboard, View, error) {
	return typedView[domain.Scoreboard](ctx, a, domain.CategoryScoreboard, mapStatsID)
}

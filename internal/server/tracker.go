package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cs2-tracker/internal/domain"
	"cs2-tracker/internal/middleware"
	"cs2-tracker/internal/notify"
	"cs2-tracker/internal/service"
	"cs2-tracker/internal/source"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

const (
	LiveServiceName = "esports.v1.LiveService"
	LiveServicePath = "/" + LiveServiceName + "/"

	GetViewProcedure         = LiveServicePath + "GetView"
	GetRecentEventsProcedure = LiveServicePath + "GetRecentEvents"
	GetLiveMatchesProcedure  = LiveServicePath + "GetLiveMatches"
	ListSourcesProcedure     = LiveServicePath + "ListSources"
	InvalidateProcedure      = LiveServicePath + "Invalidate"
)

type GetViewRequest struct {
	Category domain.Category `json:"category"`
	ID       string          `json:"id,omitempty"`
	Refresh  bool            `json:"refresh,omitempty"`
}

type GetRecentEventsRequest struct {
	MatchID       string    `json:"match_id,omitempty"`
	MinImportance int       `json:"min_importance,omitempty"`
	Since         time.Time `json:"since,omitzero"`
}

type GetRecentEventsResponse struct {
	Events []domain.Event `json:"events"`
	// Last is the snapshot the next observation is compared against, set
	// when a tracked match id was given.
	Last *domain.MatchSnapshot `json:"last,omitempty"`
}

type GetLiveMatchesRequest struct{}

type GetLiveMatchesResponse struct {
	Matches   []domain.MatchSnapshot `json:"matches"`
	Staleness service.Staleness      `json:"staleness"`
	Source    string                 `json:"source"`
	Degraded  bool                   `json:"degraded"`
	FetchedAt time.Time              `json:"fetched_at"`
}

type ListSourcesRequest struct{}

type ListSourcesResponse struct {
	Sources     []source.ProviderStatus `json:"sources"`
	Stats       service.Stats           `json:"stats"`
	Subscribers SubscriberStats         `json:"subscribers"`
}

type SubscriberStats struct {
	Clients int64 `json:"clients"`
	Dropped int64 `json:"dropped"`
}

type InvalidateRequest struct {
	Category domain.Category `json:"category"`
	ID       string          `json:"id,omitempty"`
}

type InvalidateResponse struct{}

type statusReporter interface {
	Status() []source.ProviderStatus
}

type subscriberCounter interface {
	Clients() int64
	Dropped() int64
}

type TrackerServer struct {
	aggregator  *service.Aggregator
	sources     statusReporter
	subscribers subscriberCounter
	logger      zerolog.Logger
}

func NewTrackerServer(aggregator *service.Aggregator, chain *source.Chain, hub *notify.Hub, logger zerolog.Logger) *TrackerServer {
	return &TrackerServer{aggregator: aggregator, sources: chain, subscribers: hub, logger: logger}
}

// Handler mounts every LiveService procedure on one handler rooted at
// LiveServicePath.
func (s *TrackerServer) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetViewProcedure, connect.NewUnaryHandler(GetViewProcedure, s.GetView, opts...))
	mux.Handle(GetRecentEventsProcedure, connect.NewUnaryHandler(GetRecentEventsProcedure, s.GetRecentEvents, opts...))
	mux.Handle(GetLiveMatchesProcedure, connect.NewUnaryHandler(GetLiveMatchesProcedure, s.GetLiveMatches, opts...))
	mux.Handle(ListSourcesProcedure, connect.NewUnaryHandler(ListSourcesProcedure, s.ListSources, opts...))
	mux.Handle(InvalidateProcedure, connect.NewUnaryHandler(InvalidateProcedure, s.Invalidate, opts...))
	return LiveServicePath, mux
}

func (s *TrackerServer) GetView(ctx context.Context, req *connect.Request[GetViewRequest]) (*connect.Response[service.View], error) {
	if req.Msg.Refresh {
		if err := s.aggregator.Expire(req.Msg.Category, req.Msg.ID); err != nil {
			return nil, s.toConnectError(ctx, err)
		}
	}

	view, err := s.aggregator.GetView(ctx, req.Msg.Category, req.Msg.ID)
	if err != nil {
		return nil, s.toConnectError(ctx, err)
	}
	return connect.NewResponse(&view), nil
}

func (s *TrackerServer) GetRecentEvents(ctx context.Context, req *connect.Request[GetRecentEventsRequest]) (*connect.Response[GetRecentEventsResponse], error) {
	if req.Msg.MinImportance < 0 || req.Msg.MinImportance > domain.MaxImportance {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("min_importance out of range"))
	}
	resp := &GetRecentEventsResponse{
		Events: s.aggregator.RecentEvents(req.Msg.MatchID, req.Msg.MinImportance, req.Msg.Since),
	}
	if req.Msg.MatchID != "" {
		if last, ok := s.aggregator.LastSnapshot(req.Msg.MatchID); ok {
			resp.Last = &last
		}
	}
	return connect.NewResponse(resp), nil
}

func (s *TrackerServer) GetLiveMatches(ctx context.Context, req *connect.Request[GetLiveMatchesRequest]) (*connect.Response[GetLiveMatchesResponse], error) {
	matches, view, err := s.aggregator.LiveMatches(ctx)
	if err != nil {
		return nil, s.toConnectError(ctx, err)
	}
	if matches == nil {
		matches = []domain.MatchSnapshot{}
	}
	return connect.NewResponse(&GetLiveMatchesResponse{
		Matches:   matches,
		Staleness: view.Staleness,
		Source:    view.Source,
		Degraded:  view.Degraded,
		FetchedAt: view.FetchedAt,
	}), nil
}

func (s *TrackerServer) ListSources(ctx context.Context, req *connect.Request[ListSourcesRequest]) (*connect.Response[ListSourcesResponse], error) {
	return connect.NewResponse(&ListSourcesResponse{
		Sources: s.sources.Status(),
		Stats:   s.aggregator.Stats(),
		Subscribers: SubscriberStats{
			Clients: s.subscribers.Clients(),
			Dropped: s.subscribers.Dropped(),
		},
	}), nil
}

// Invalidate drops a key's cached and stale value along with any tracked
// match state, for operators clearing data a source got wrong.
func (s *TrackerServer) Invalidate(ctx context.Context, req *connect.Request[InvalidateRequest]) (*connect.Response[InvalidateResponse], error) {
	if err := s.aggregator.Invalidate(req.Msg.Category, req.Msg.ID); err != nil {
		return nil, s.toConnectError(ctx, err)
	}
	return connect.NewResponse(&InvalidateResponse{}), nil
}

func (s *TrackerServer) toConnectError(ctx context.Context, err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, service.ErrInvalidKey):
		code = connect.CodeInvalidArgument
	case errors.Is(err, service.ErrDataUnavailable):
		code = connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	}

	if code == connect.CodeInternal {
		l := middleware.Logger(ctx, s.logger)
		l.Error().Err(err).Msg("request failed")
	}
	return connect.NewError(code, err)
}

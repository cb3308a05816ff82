package notify

import (
	"context"
	"fmt"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Sink is one destination for detected events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, events []domain.Event) error
}

// Fanout publishes every batch to all sinks concurrently. A failing sink
// does not stop delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger zerolog.Logger
}

func NewFanout(logger zerolog.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (f *Fanout) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 || len(f.sinks) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	for _, s := range f.sinks {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, constants.SinkPublishTimeout)
			defer cancel()

			if err := s.Publish(sctx, events); err != nil {
				f.logger.Warn().Err(err).Str("sink", s.Name()).Int("events", len(events)).Msg("failed to publish events")
				return fmt.Errorf("failed to publish to %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

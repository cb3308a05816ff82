package fx

import (
	"context"

	"cs2-tracker/internal/api"
	"cs2-tracker/internal/cache"
	"cs2-tracker/internal/config"
	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/events"
	"cs2-tracker/internal/logger"
	"cs2-tracker/internal/notify"
	"cs2-tracker/internal/server"
	"cs2-tracker/internal/service"
	"cs2-tracker/internal/source"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideCache(cfg *config.Config) *cache.TTLCache {
	return cache.New(
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithStaleRetention(constants.StaleRetention),
	)
}

func ProvideChain(cfg *config.Config, client *api.Client, logger zerolog.Logger) (*source.Chain, error) {
	policy := source.NewRetryPolicy(logger.With().Str("component", "retry").Logger())
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.Delay = cfg.RetryDelay
	policy.Jitter = cfg.RetryJitter
	policy.Timeout = cfg.ProviderTimeout

	providers := api.BuildProviders(cfg.Providers, client, logger)
	return source.NewChain(providers, logger.With().Str("component", "chain").Logger(),
		source.WithRetryPolicy(policy),
		source.WithFallbackToBaseline(cfg.FallbackToBaseline),
		source.WithLiveBudget(cfg.LiveBudget),
	)
}

func ProvideDetector(cfg *config.Config, logger zerolog.Logger) *events.Detector {
	return events.NewDetector(logger.With().Str("component", "detector").Logger(),
		events.WithCapacity(cfg.HistoryCapacity, cfg.GlobalHistoryCapacity),
	)
}

// ProvideFanout connects the optional brokers. A broker that cannot be
// reached is logged and left out; the websocket hub is always present.
func ProvideFanout(lc fx.Lifecycle, cfg *config.Config, hub *notify.Hub, logger zerolog.Logger) *notify.Fanout {
	sinks := []notify.Sink{hub}

	if cfg.AMQPURL != "" {
		s, err := notify.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange, logger.With().Str("sink", "amqp").Logger())
		if err != nil {
			logger.Warn().Err(err).Msg("amqp sink disabled")
		} else {
			sinks = append(sinks, s)
			lc.Append(fx.StopHook(s.Close))
		}
	}

	if cfg.MQTTBroker != "" {
		s, err := notify.NewMQTTSink(cfg.MQTTBroker, cfg.MQTTTopic, logger.With().Str("sink", "mqtt").Logger())
		if err != nil {
			logger.Warn().Err(err).Msg("mqtt sink disabled")
		} else {
			sinks = append(sinks, s)
			lc.Append(fx.StopHook(s.Close))
		}
	}

	f := notify.NewFanout(logger, sinks...)
	logger.Info().Strs("sinks", f.Sinks()).Msg("event sinks ready")
	return f
}

func ProvideAggregator(
	lc fx.Lifecycle,
	cfg *config.Config,
	c *cache.TTLCache,
	chain *source.Chain,
	detector *events.Detector,
	fanout *notify.Fanout,
	logger zerolog.Logger,
) *service.Aggregator {
	agg := service.NewAggregator(c, chain, detector, fanout, cfg.TTLs, logger.With().Str("component", "aggregator").Logger())
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			agg.Close()
			return nil
		},
	})
	return agg
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	// upstream
	fx.Provide(api.NewClient),
	fx.Provide(ProvideChain),
	// state
	fx.Provide(ProvideCache),
	fx.Provide(ProvideDetector),
	// delivery
	fx.Provide(notify.NewHub),
	fx.Provide(ProvideFanout),
	// svc
	fx.Provide(ProvideAggregator),
	// server
	fx.Provide(server.NewTrackerServer),
)

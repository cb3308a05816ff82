package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"
	"cs2-tracker/internal/source"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	ServerPort string
	LogLevel   string

	RetryMaxAttempts int
	RetryDelay       time.Duration
	RetryJitter      time.Duration
	ProviderTimeout  time.Duration
	LiveBudget       time.Duration

	CacheMaxEntries       int
	HistoryCapacity       int
	GlobalHistoryCapacity int
	TTLs                  map[domain.Category]time.Duration

	AMQPURL      string
	AMQPExchange string
	MQTTBroker   string
	MQTTTopic    string

	PandaScoreToken    string
	ProvidersFile      string
	FallbackToBaseline bool
	Providers          []source.Descriptor
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}

	providers, fallback, err := LoadProviders(cfg.ProvidersFile, cfg.PandaScoreToken, cfg.FallbackToBaseline)
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers
	cfg.FallbackToBaseline = fallback

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name)
	}

	logger.Info().
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Int("retry_max_attempts", cfg.RetryMaxAttempts).
		Dur("provider_timeout", cfg.ProviderTimeout).
		Dur("live_budget", cfg.LiveBudget).
		Strs("providers", names).
		Bool("fallback_to_baseline", cfg.FallbackToBaseline).
		Bool("amqp", cfg.AMQPURL != "").
		Bool("mqtt", cfg.MQTTBroker != "").
		Msg("configuration loaded")

	return cfg, nil
}

// FromEnv reads every environment-backed setting through lookup.
func FromEnv(lookup func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		ServerPort:      env("SERVER_PORT", env("PORT", "8080")),
		LogLevel:        env("LOG_LEVEL", "info"),
		AMQPURL:         env("AMQP_URL", ""),
		AMQPExchange:    env("AMQP_EXCHANGE", "cs2.events"),
		MQTTBroker:      env("MQTT_BROKER", ""),
		MQTTTopic:       env("MQTT_TOPIC", "cs2/events"),
		PandaScoreToken: env("PANDASCORE_TOKEN", ""),
		ProvidersFile:   env("PROVIDERS_FILE", "providers.toml"),
		TTLs:            constants.DefaultTTLs(),
	}

	var err error
	if cfg.RetryMaxAttempts, err = intEnv(env, "RETRY_MAX_ATTEMPTS", constants.RetryMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.CacheMaxEntries, err = intEnv(env, "CACHE_MAX_ENTRIES", constants.CacheMaxEntries); err != nil {
		return nil, err
	}
	if cfg.HistoryCapacity, err = intEnv(env, "EVENT_HISTORY_CAPACITY", constants.EventHistoryCapacity); err != nil {
		return nil, err
	}
	if cfg.GlobalHistoryCapacity, err = intEnv(env, "GLOBAL_HISTORY_CAPACITY", constants.GlobalHistoryCapacity); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = durationEnv(env, "RETRY_DELAY", constants.RetryDelay); err != nil {
		return nil, err
	}
	if cfg.RetryJitter, err = durationEnv(env, "RETRY_JITTER", 0); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = durationEnv(env, "PROVIDER_TIMEOUT", constants.ProviderTimeout); err != nil {
		return nil, err
	}
	if cfg.LiveBudget, err = durationEnv(env, "LIVE_BUDGET", constants.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.FallbackToBaseline, err = strconv.ParseBool(env("FALLBACK_TO_BASELINE", "true")); err != nil {
		return nil, fmt.Errorf("invalid FALLBACK_TO_BASELINE: %w", err)
	}

	for category := range cfg.TTLs {
		name := "TTL_" + strings.ToUpper(string(category))
		if cfg.TTLs[category], err = durationEnv(env, name, cfg.TTLs[category]); err != nil {
			return nil, err
		}
	}

	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.RetryMaxAttempts)
	}

	return cfg, nil
}

func intEnv(env func(string, string) string, key string, fallback int) (int, error) {
	v := env(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(env func(string, string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := env(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

type providersFile struct {
	FallbackToBaseline *bool           `toml:"fallback_to_baseline"`
	Providers          []providerEntry `toml:"provider"`
}

type providerEntry struct {
	Name        string `toml:"name"`
	Kind        string `toml:"kind"`
	Priority    int    `toml:"priority"`
	Enabled     *bool  `toml:"enabled"`
	Timeout     string `toml:"timeout"`
	MaxAttempts int    `toml:"max_attempts"`
	Token       string `toml:"token"`
	BaseURL     string `toml:"base_url"`
	Baseline    bool   `toml:"baseline"`
}

// LoadProviders reads the provider list from path. A missing file yields
// DefaultProviders. The returned list is ordered by priority.
func LoadProviders(path, pandaScoreToken string, fallback bool) ([]source.Descriptor, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultProviders(pandaScoreToken), fallback, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read providers file: %w", err)
	}
	return ParseProviders(data, pandaScoreToken, fallback)
}

func ParseProviders(data []byte, pandaScoreToken string, fallback bool) ([]source.Descriptor, bool, error) {
	var file providersFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, false, fmt.Errorf("failed to parse providers file: %w", err)
	}
	if file.FallbackToBaseline != nil {
		fallback = *file.FallbackToBaseline
	}
	if len(file.Providers) == 0 {
		return nil, false, errors.New("providers file lists no provider")
	}

	descs := make([]source.Descriptor, 0, len(file.Providers))
	for i, p := range file.Providers {
		d := source.Descriptor{
			Name:        strings.TrimSpace(p.Name),
			Kind:        source.Kind(strings.ToLower(strings.TrimSpace(p.Kind))),
			Priority:    p.Priority,
			Enabled:     p.Enabled == nil || *p.Enabled,
			MaxAttempts: p.MaxAttempts,
			Token:       p.Token,
			BaseURL:     p.BaseURL,
			Baseline:    p.Baseline,
		}
		if d.Kind == "" {
			d.Kind = source.Kind(d.Name)
		}
		if d.Name == "" {
			return nil, false, fmt.Errorf("provider %d has no name", i)
		}
		if p.Timeout != "" {
			t, err := time.ParseDuration(p.Timeout)
			if err != nil {
				return nil, false, fmt.Errorf("invalid timeout for provider %s: %w", d.Name, err)
			}
			d.Timeout = t
		}
		if d.Kind == source.KindPandaScore && d.Token == "" {
			d.Token = pandaScoreToken
		}
		descs = append(descs, d)
	}

	sort.SliceStable(descs, func(i, j int) bool { return descs[i].Priority < descs[j].Priority })
	return descs, fallback, nil
}

func DefaultProviders(pandaScoreToken string) []source.Descriptor {
	return []source.Descriptor{
		{Name: "bo3gg", Kind: source.KindBO3GG, Priority: 1, Enabled: true},
		{Name: "pandascore", Kind: source.KindPandaScore, Priority: 2, Enabled: pandaScoreToken != "", Token: pandaScoreToken},
		{Name: "hltv", Kind: source.KindHLTV, Priority: 100, Enabled: true, Baseline: true},
	}
}

var Module = fx.Provide(Load)

package config

import (
	"path/filepath"
	"testing"
	"time"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"
	"cs2-tracker/internal/source"

	"github.com/google/go-cmp/cmp"
)

func lookup(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(lookup(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerPort != "8080" || cfg.LogLevel != "info" || !cfg.FallbackToBaseline {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.RetryMaxAttempts != constants.RetryMaxAttempts || cfg.ProviderTimeout != constants.ProviderTimeout || cfg.LiveBudget != constants.RequestTimeout {
		t.Errorf("unexpected retry defaults %+v", cfg)
	}
	if diff := cmp.Diff(constants.DefaultTTLs(), cfg.TTLs); diff != "" {
		t.Errorf("ttl mismatch (-want +got):\n%s", diff)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"PORT":               "9000",
		"RETRY_MAX_ATTEMPTS": "5",
		"RETRY_DELAY":        "250ms",
		"TTL_LIVE_MATCH":     "15s",
		"CACHE_MAX_ENTRIES":  "42",
		"LIVE_BUDGET":        "12s",
		"TTL_SCOREBOARD":     "5m",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerPort != "9000" || cfg.RetryMaxAttempts != 5 || cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("overrides not applied %+v", cfg)
	}
	if cfg.TTLs[domain.CategoryLiveMatch] != 15*time.Second {
		t.Errorf("want live_match ttl 15s, got %s", cfg.TTLs[domain.CategoryLiveMatch])
	}
	if cfg.TTLs[domain.CategoryRankings] != constants.RankingsCacheTTL {
		t.Error("untouched ttl must keep its default")
	}
	if cfg.CacheMaxEntries != 42 {
		t.Errorf("want cache cap 42, got %d", cfg.CacheMaxEntries)
	}
	if cfg.LiveBudget != 12*time.Second || cfg.TTLs[domain.CategoryScoreboard] != 5*time.Minute {
		t.Errorf("want live budget 12s and scoreboard ttl 5m, got %s and %s", cfg.LiveBudget, cfg.TTLs[domain.CategoryScoreboard])
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	tests := []map[string]string{
		{"RETRY_MAX_ATTEMPTS": "many"},
		{"RETRY_MAX_ATTEMPTS": "0"},
		{"TTL_RESULTS": "soon"},
		{"PROVIDER_TIMEOUT": "-1s"},
		{"FALLBACK_TO_BASELINE": "maybe"},
	}
	for _, env := range tests {
		if _, err := FromEnv(lookup(env)); err == nil {
			t.Errorf("want error for %v", env)
		}
	}
}

func TestParseProviders(t *testing.T) {
	data := []byte(`
fallback_to_baseline = false

[[provider]]
name = "hltv"
priority = 100
baseline = true

[[provider]]
name = "pandascore"
kind = "PandaScore"
priority = 2
timeout = "3s"
max_attempts = 4

[[provider]]
name = "bo3gg"
kind = "bo3gg"
priority = 1
enabled = false
`)
	descs, fallback, err := ParseProviders(data, "tok", true)
	if err != nil {
		t.Fatal(err)
	}
	if fallback {
		t.Error("file setting must override the default")
	}

	want := []source.Descriptor{
		{Name: "bo3gg", Kind: source.KindBO3GG, Priority: 1, Enabled: false},
		{Name: "pandascore", Kind: source.KindPandaScore, Priority: 2, Enabled: true, Timeout: 3 * time.Second, MaxAttempts: 4, Token: "tok"},
		{Name: "hltv", Kind: source.KindHLTV, Priority: 100, Enabled: true, Baseline: true},
	}
	if diff := cmp.Diff(want, descs); diff != "" {
		t.Errorf("providers mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProvidersErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":      `[[provider]`,
		"empty":       `fallback_to_baseline = true`,
		"no name":     "[[provider]]\nkind = \"hltv\"",
		"bad timeout": "[[provider]]\nname = \"hltv\"\ntimeout = \"fast\"",
	}
	for name, data := range tests {
		if _, _, err := ParseProviders([]byte(data), "", true); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestLoadProvidersMissingFileUsesDefaults(t *testing.T) {
	descs, fallback, err := LoadProviders(filepath.Join(t.TempDir(), "nope.toml"), "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !fallback || len(descs) != 3 {
		t.Fatalf("unexpected defaults %+v", descs)
	}
	if descs[1].Kind != source.KindPandaScore || descs[1].Enabled {
		t.Error("pandascore must be disabled without a token")
	}
	if !descs[2].Baseline {
		t.Error("hltv must be the baseline")
	}
}

func TestRepositoryProvidersFile(t *testing.T) {
	descs, _, err := LoadProviders(filepath.Join("..", "..", "providers.toml"), "tok", true)
	if err != nil {
		t.Fatal(err)
	}
	if descs[0].Name != "bo3gg" || !descs[len(descs)-1].Baseline {
		t.Errorf("unexpected order %+v", descs)
	}
}

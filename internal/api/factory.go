package api

import (
	"fmt"

	"cs2-tracker/internal/source"

	"github.com/rs/zerolog"
)

// NewFetcher builds the fetcher for a descriptor's kind. This is the only
// place a kind string is turned into an implementation.
func NewFetcher(d source.Descriptor, client *Client, logger zerolog.Logger) (source.Fetcher, error) {
	l := logger.With().Str("source", d.Name).Logger()

	switch d.Kind {
	case source.KindHLTV:
		return NewHLTV(d.Name, d.BaseURL, client, l), nil
	case source.KindBO3GG:
		return NewBO3GG(d.Name, d.BaseURL, client, l), nil
	case source.KindPandaScore:
		return NewPandaScore(d.Name, d.BaseURL, d.Token, client, l), nil
	case source.KindPlaywright:
		return nil, fmt.Errorf("%w: browser automation is not supported", source.ErrProviderUnavailable)
	}
	return nil, fmt.Errorf("%w: unknown provider kind %q", source.ErrProviderUnavailable, d.Kind)
}

// BuildProviders pairs every descriptor with its fetcher. A descriptor whose
// fetcher cannot be built is kept with a nil fetcher so it shows up in
// status reports and is skipped by the chain.
func BuildProviders(descs []source.Descriptor, client *Client, logger zerolog.Logger) []source.Provider {
	providers := make([]source.Provider, 0, len(descs))
	for _, d := range descs {
		f, err := NewFetcher(d, client, logger)
		if err != nil {
			logger.Warn().Err(err).Str("source", d.Name).Str("kind", string(d.Kind)).Msg("provider unavailable")
		}
		providers = append(providers, source.Provider{Descriptor: d, Fetcher: f})
	}
	return providers
}

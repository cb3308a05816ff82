package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/source"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrNotFound = errors.New("not found")

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Client is the HTTP client shared by every fetcher. It classifies upstream
// failures and remembers the last rate-limit headers seen per source.
type Client struct {
	client      *fasthttp.Client
	logger      zerolog.Logger
	rateLimitMu sync.RWMutex
	rateLimits  map[string]RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`

	// seconds until reset
	Reset int `json:"reset"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.ProviderTimeout,
			WriteTimeout:        constants.ProviderTimeout,
			MaxIdleConnDuration: 1 * time.Minute,
			MaxResponseBodySize: constants.MaxResponseBodySize,
		},
		logger:     logger,
		rateLimits: make(map[string]RateLimitInfo),
	}
}

func (c *Client) GetRateLimitInfo(src string) (RateLimitInfo, bool) {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	info, ok := c.rateLimits[src]
	return info, ok
}

func firstHeader(resp *fasthttp.Response, names ...string) (int, bool) {
	for _, name := range names {
		if v := string(resp.Header.Peek(name)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func (c *Client) updateRateLimit(src string, resp *fasthttp.Response) {
	limit, okLimit := firstHeader(resp, "X-Ratelimit-Limit", "X-Rate-Limit-Limit")
	remaining, okRemaining := firstHeader(resp, "X-Ratelimit-Remaining", "X-Rate-Limit-Remaining")
	reset, okReset := firstHeader(resp, "X-Ratelimit-Reset", "X-Rate-Limit-Reset")
	if !okLimit && !okRemaining && !okReset {
		return
	}

	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	info := c.rateLimits[src]
	if okLimit {
		info.Limit = limit
	}
	if okRemaining {
		info.Remaining = remaining
	}
	if okReset {
		info.Reset = reset
	}
	info.UpdatedAt = time.Now()
	c.rateLimits[src] = info
}

type request struct {
	source string
	url    string
	accept string
	bearer string
}

// get issues a GET and returns a copy of the body. Every error it returns is
// a *source.SourceError.
func (c *Client) get(ctx context.Context, r request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, source.NewTransient(r.source, 0, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(browserUserAgent)
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, constants.ProviderTimeout)
	}
	if err != nil {
		return nil, source.NewTransient(r.source, 0, fmt.Errorf("failed to request %s: %w", r.url, err))
	}

	c.updateRateLimit(r.source, resp)

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusOK:
	case status == fasthttp.StatusForbidden || status == fasthttp.StatusTooManyRequests:
		c.logger.Warn().Str("source", r.source).Int("status", status).Str("url", r.url).Msg("request blocked")
		return nil, source.NewBlocked(r.source, status, fmt.Errorf("request blocked: %d", status))
	case status == fasthttp.StatusNotFound:
		return nil, source.NewPermanent(r.source, fmt.Errorf("%w: %s", ErrNotFound, r.url))
	case status == fasthttp.StatusUnauthorized:
		return nil, source.NewUnavailable(r.source, fmt.Errorf("%w: unauthorized", source.ErrProviderUnavailable))
	case status >= 500:
		return nil, source.NewTransient(r.source, status, fmt.Errorf("API error: %d", status))
	default:
		return nil, source.NewPermanent(r.source, fmt.Errorf("API error: %d", status))
	}

	return append([]byte(nil), resp.Body()...), nil
}

func doJSON[T any](ctx context.Context, c *Client, r request) (*T, error) {
	r.accept = "application/json"
	body, err := c.get(ctx, r)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, source.NewPermanent(r.source, fmt.Errorf("failed to decode response: %w", err))
	}
	return &result, nil
}

package source

import (
	"context"
	"fmt"
	"time"

	"cs2-tracker/internal/constants"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

type Operation func(ctx context.Context) (any, error)

// RetryPolicy bounds the attempts made against one source. Each attempt gets
// its own Timeout, independent of the caller's deadline.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Jitter      time.Duration
	Timeout     time.Duration

	logger zerolog.Logger
}

func NewRetryPolicy(logger zerolog.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: constants.RetryMaxAttempts,
		Delay:       constants.RetryDelay,
		Timeout:     constants.ProviderTimeout,
		logger:      logger,
	}
}

// For returns a copy with the descriptor's attempt and timeout overrides.
func (p RetryPolicy) For(d Descriptor) RetryPolicy {
	if d.MaxAttempts > 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if d.Timeout > 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// Budget is the longest Execute can take when every attempt times out.
func (p RetryPolicy) Budget() time.Duration {
	attempts := time.Duration(max(p.MaxAttempts, 1))
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = constants.ProviderTimeout
	}
	return attempts*timeout + (attempts-1)*(max(p.Delay, time.Millisecond)+p.Jitter)
}

// Execute runs op until it succeeds, fails permanently or runs out of
// attempts. It never panics or returns early on a retryable failure; the
// outcome records what happened.
func (p RetryPolicy) Execute(ctx context.Context, source string, op Operation) Outcome {
	out := Outcome{Source: source}

	attempts := max(p.MaxAttempts, 1)
	var b retry.Backoff = retry.NewConstant(max(p.Delay, time.Millisecond))
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	var value any
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		out.Attempts++

		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		v, err := op(attemptCtx)
		if err == nil {
			value = v
			return nil
		}

		kind := Classify(err)
		if kind == Blocked {
			out.Blocked++
		}
		p.logger.Debug().
			Str("source", source).
			Int("attempt", out.Attempts).
			Str("kind", kind.String()).
			Err(err).
			Msg("source attempt failed")

		if kind.Retryable() {
			return retry.RetryableError(err)
		}
		return err
	})

	if err == nil {
		out.Value = value
		return out
	}

	if Classify(err).Retryable() {
		out.Err = fmt.Errorf("%w: %s after %d attempts: %w", ErrSourceExhausted, source, out.Attempts, err)
	} else {
		out.Err = err
	}
	return out
}

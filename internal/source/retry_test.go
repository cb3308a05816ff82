package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRetryPolicyExecute(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name         string
		errs         []error
		wantAttempts int
		wantBlocked  int
		wantOK       bool
		wantExhaust  bool
	}{
		{name: "first try", errs: nil, wantAttempts: 1, wantOK: true},
		{name: "transient then ok", errs: []error{NewTransient("s", 502, boom)}, wantAttempts: 2, wantOK: true},
		{name: "transient until exhausted", errs: []error{NewTransient("s", 500, boom), NewTransient("s", 500, boom), NewTransient("s", 500, boom)}, wantAttempts: 3, wantExhaust: true},
		{name: "blocked retried and counted", errs: []error{NewBlocked("s", 403, boom), NewBlocked("s", 403, boom)}, wantAttempts: 3, wantBlocked: 2, wantOK: true},
		{name: "permanent not retried", errs: []error{NewPermanent("s", boom)}, wantAttempts: 1},
		{name: "unclassified treated as transient", errs: []error{boom}, wantAttempts: 2, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRetryPolicy(zerolog.Nop())
			p.Delay = time.Millisecond

			calls := 0
			out := p.Execute(context.Background(), "s", func(ctx context.Context) (any, error) {
				calls++
				if calls <= len(tt.errs) {
					return nil, tt.errs[calls-1]
				}
				return "ok", nil
			})

			if out.Attempts != tt.wantAttempts {
				t.Errorf("want %d attempts, got %d", tt.wantAttempts, out.Attempts)
			}
			if out.Blocked != tt.wantBlocked {
				t.Errorf("want %d blocked, got %d", tt.wantBlocked, out.Blocked)
			}
			if out.OK() != tt.wantOK {
				t.Errorf("want ok=%v, got err %v", tt.wantOK, out.Err)
			}
			if got := errors.Is(out.Err, ErrSourceExhausted); got != tt.wantExhaust {
				t.Errorf("want exhausted=%v, got %v", tt.wantExhaust, out.Err)
			}
		})
	}
}

func TestRetryPolicyPerAttemptTimeout(t *testing.T) {
	p := NewRetryPolicy(zerolog.Nop())
	p.Delay = time.Millisecond
	p.MaxAttempts = 2
	p.Timeout = 20 * time.Millisecond

	out := p.Execute(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, NewTransient("slow", 0, ctx.Err())
	})

	if out.Attempts != 2 {
		t.Errorf("want 2 attempts, got %d", out.Attempts)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded, got %v", out.Err)
	}
}

func TestRetryPolicyForOverrides(t *testing.T) {
	p := NewRetryPolicy(zerolog.Nop()).For(Descriptor{MaxAttempts: 5, Timeout: 2 * time.Second})
	if p.MaxAttempts != 5 || p.Timeout != 2*time.Second {
		t.Errorf("overrides not applied: %+v", p)
	}

	kept := NewRetryPolicy(zerolog.Nop()).For(Descriptor{})
	if kept.MaxAttempts != 3 {
		t.Errorf("want default attempts kept, got %d", kept.MaxAttempts)
	}
}

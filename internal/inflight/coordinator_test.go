package inflight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cs2-tracker/internal/domain"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

func TestConcurrentCallersShareOneFetch(t *testing.T) {
	c := New[string](zerolog.Nop())
	key := domain.NewKey(domain.CategoryLiveMatch, "2371234")

	var calls atomic.Int32
	gate := make(chan struct{})
	fn := func() (string, error) {
		calls.Inc()
		<-gate
		return "snapshot", nil
	}

	const waiters = 10
	var wg sync.WaitGroup
	results := make([]string, waiters)
	errs := make([]error, waiters)
	for i := range waiters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.FetchOrJoin(context.Background(), key, fn)
		}(i)
	}

	// Let every goroutine attach before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("want exactly 1 upstream call, got %d", n)
	}
	for i := range waiters {
		if errs[i] != nil || results[i] != "snapshot" {
			t.Errorf("waiter %d: got %q, %v", i, results[i], errs[i])
		}
	}
	if s := c.Stats(); s.Started != 1 || s.Active != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestWaitersSeeSameFailure(t *testing.T) {
	c := New[int](zerolog.Nop())
	key := domain.NewKey(domain.CategoryMatches, "")
	boom := errors.New("upstream down")

	gate := make(chan struct{})
	fn := func() (int, error) {
		<-gate
		return 0, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = c.FetchOrJoin(context.Background(), key, fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("waiter %d: want %v, got %v", i, boom, err)
		}
	}
}

func TestSlotReleasedAfterResolution(t *testing.T) {
	c := New[int](zerolog.Nop())
	key := domain.NewKey(domain.CategoryRankings, "")

	var calls atomic.Int32
	fn := func() (int, error) {
		return int(calls.Inc()), nil
	}

	first, _, err := c.FetchOrJoin(context.Background(), key, fn)
	if err != nil {
		t.Fatal(err)
	}
	second, shared, err := c.FetchOrJoin(context.Background(), key, fn)
	if err != nil {
		t.Fatal(err)
	}
	if first != 1 || second != 2 || shared {
		t.Errorf("want two independent fetches, got %d then %d (shared=%v)", first, second, shared)
	}
}

func TestCallerCanStopWaiting(t *testing.T) {
	c := New[string](zerolog.Nop())
	key := domain.NewKey(domain.CategoryLiveMatch, "1")

	gate := make(chan struct{})
	done := make(chan struct{})
	go func() {
		v, _, err := c.FetchOrJoin(context.Background(), key, func() (string, error) {
			<-gate
			return "late", nil
		})
		if err != nil || v != "late" {
			t.Errorf("owner: got %q, %v", v, err)
		}
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := c.FetchOrJoin(ctx, key, func() (string, error) {
		t.Error("joiner must not start a second fetch")
		return "", nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded, got %v", err)
	}

	close(gate)
	<-done
}

func TestPanicBecomesError(t *testing.T) {
	c := New[string](zerolog.Nop())
	_, _, err := c.FetchOrJoin(context.Background(), domain.NewKey(domain.CategoryTeam, "x"), func() (string, error) {
		panic("parser blew up")
	})
	if err == nil {
		t.Fatal("want error from panicking fetch")
	}
}

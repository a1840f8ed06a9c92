package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func staticFetch(token string, ttl time.Duration, calls *atomic.Int64) FetchFunc {
	return func(ctx context.Context) (Credential, error) {
		calls.Add(1)
		return Credential{AccessToken: token, ExpiresAt: time.Now().Add(ttl)}, nil
	}
}

func TestCache_GetOrFetch_UsesCachedEntry(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	var calls atomic.Int64
	fetch := staticFetch("tok-1", time.Hour, &calls)

	first, err := cache.GetOrFetch(ctx, 1, fetch)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	second, err := cache.GetOrFetch(ctx, 1, fetch)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
	if first.AccessToken != "tok-1" || second.AccessToken != "tok-1" {
		t.Errorf("tokens = %q, %q", first.AccessToken, second.AccessToken)
	}
}

func TestCache_GetOrFetch_RefetchesNearExpiry(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	var calls atomic.Int64
	// Expires inside the safety margin, so it must not be served from cache.
	fetch := staticFetch("tok", ExpiryMargin/2, &calls)

	if _, err := cache.GetOrFetch(ctx, 1, fetch); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if _, err := cache.GetOrFetch(ctx, 1, fetch); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestCache_GetOrFetch_SingleFlight(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	const waiters = 16
	var calls atomic.Int64
	release := make(chan struct{})

	fetch := func(ctx context.Context) (Credential, error) {
		calls.Add(1)
		<-release
		return Credential{AccessToken: "shared", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	var wg sync.WaitGroup
	results := make([]Credential, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrFetch(ctx, 1, fetch)
		}(i)
	}

	// Give the goroutines time to pile onto the same flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d error = %v", i, errs[i])
		}
		if results[i].AccessToken != "shared" {
			t.Errorf("waiter %d token = %q", i, results[i].AccessToken)
		}
	}
}

func TestCache_DistinctTenantsDoNotShareFlights(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	blocked := make(chan struct{})
	started := make(chan struct{})
	slow := func(ctx context.Context) (Credential, error) {
		close(started)
		<-blocked
		return Credential{AccessToken: "slow", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := cache.GetOrFetch(ctx, 1, slow); err != nil {
			t.Errorf("slow GetOrFetch() error = %v", err)
		}
	}()
	<-started

	// A different tenant must complete while tenant 1's fetch is in flight.
	var calls atomic.Int64
	if _, err := cache.GetOrFetch(ctx, 2, staticFetch("fast", time.Hour, &calls)); err != nil {
		t.Fatalf("fast GetOrFetch() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fast tenant provider calls = %d, want 1", got)
	}

	close(blocked)
	<-done
}

func TestCache_ForceRefresh_ReplacesEntry(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	var calls atomic.Int64
	if _, err := cache.GetOrFetch(ctx, 1, staticFetch("old", time.Hour, &calls)); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}

	forced, err := cache.ForceRefresh(ctx, 1, staticFetch("new", time.Hour, &calls))
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if forced.AccessToken != "new" {
		t.Errorf("ForceRefresh() token = %q, want %q", forced.AccessToken, "new")
	}

	// The fresh entry is reused without another provider call.
	var after atomic.Int64
	got, err := cache.GetOrFetch(ctx, 1, staticFetch("unused", time.Hour, &after))
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if got.AccessToken != "new" {
		t.Errorf("GetOrFetch() after force = %q, want %q", got.AccessToken, "new")
	}
	if after.Load() != 0 {
		t.Errorf("provider calls after force = %d, want 0", after.Load())
	}
}

func TestCache_FailedRefreshKeepsPreviousEntry(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	var calls atomic.Int64
	if _, err := cache.GetOrFetch(ctx, 1, staticFetch("keep", time.Hour, &calls)); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}

	providerErr := errors.New("provider down")
	failing := func(ctx context.Context) (Credential, error) {
		return Credential{}, providerErr
	}

	if _, err := cache.ForceRefresh(ctx, 1, failing); !errors.Is(err, providerErr) {
		t.Fatalf("ForceRefresh() error = %v, want provider error", err)
	}

	// The previous credential survives the failed refresh.
	got, err := cache.GetOrFetch(ctx, 1, failing)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if got.AccessToken != "keep" {
		t.Errorf("token after failed refresh = %q, want %q", got.AccessToken, "keep")
	}
}

func TestCache_GetOrFetch_NoEntryAndFailingProvider(t *testing.T) {
	cache := NewCache()

	providerErr := errors.New("provider down")
	failing := func(ctx context.Context) (Credential, error) {
		return Credential{}, providerErr
	}

	if _, err := cache.GetOrFetch(context.Background(), 1, failing); !errors.Is(err, providerErr) {
		t.Fatalf("GetOrFetch() error = %v, want provider error", err)
	}
}

func TestCache_CallerUnblocksOnContextCancel(t *testing.T) {
	cache := NewCache()

	release := make(chan struct{})
	defer close(release)
	stuck := func(ctx context.Context) (Credential, error) {
		<-release
		return Credential{}, errors.New("late")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := cache.GetOrFetch(ctx, 1, stuck)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GetOrFetch() error = %v, want deadline exceeded", err)
	}
}

// Package credential caches the time-limited access tokens the relay needs
// for the outbound messaging API, so a token is fetched once per tenant and
// reused until it nears expiry.
package credential

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ExpiryMargin is how long before a credential's literal expiry it is already
// treated as expired. Covers the window between the cache check and the
// outbound call actually using the token.
const ExpiryMargin = 60 * time.Second

// Credential is an access token together with its absolute expiry instant.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the credential is still usable at now, honoring the
// expiry margin.
func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && c.ExpiresAt.After(now.Add(ExpiryMargin))
}

// FetchFunc obtains a fresh credential from the external provider.
type FetchFunc func(ctx context.Context) (Credential, error)

// Cache is a concurrent credential store keyed by tenant id. Reads across
// distinct tenants never block each other; concurrent refreshes of the same
// tenant collapse into a single provider call.
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]Credential
	flight  singleflight.Group
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[int64]Credential),
	}
}

// GetOrFetch returns the cached credential for the tenant when it is still
// valid, and otherwise fetches a fresh one, stores it, and returns it.
// Concurrent calls for the same tenant share one in-flight fetch; every
// waiter observes the same credential or the same error.
func (c *Cache) GetOrFetch(ctx context.Context, tenantID int64, fetch FetchFunc) (Credential, error) {
	if cred, ok := c.lookup(tenantID); ok {
		return cred, nil
	}
	return c.refresh(ctx, tenantID, fetch, false)
}

// ForceRefresh unconditionally fetches a fresh credential and replaces the
// cached entry on success. Used after the messaging API rejects a token that
// the expiry clock still considered valid.
func (c *Cache) ForceRefresh(ctx context.Context, tenantID int64, fetch FetchFunc) (Credential, error) {
	return c.refresh(ctx, tenantID, fetch, true)
}

func (c *Cache) lookup(tenantID int64) (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cred, ok := c.entries[tenantID]
	if !ok || !cred.Valid(time.Now()) {
		return Credential{}, false
	}
	return cred, true
}

func (c *Cache) refresh(ctx context.Context, tenantID int64, fetch FetchFunc, force bool) (Credential, error) {
	key := strconv.FormatInt(tenantID, 10)
	ch := c.flight.DoChan(key, func() (any, error) {
		// A waiter that queued behind a completed refresh would otherwise
		// fetch again; recheck unless the refresh is forced.
		if !force {
			if cred, ok := c.lookup(tenantID); ok {
				return cred, nil
			}
		}

		cred, err := fetch(ctx)
		if err != nil {
			// Leave any previous entry intact.
			return Credential{}, err
		}

		c.mu.Lock()
		c.entries[tenantID] = cred
		c.mu.Unlock()
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

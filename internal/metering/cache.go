package metering

import (
	"context"
	"sync"
)

type requestCacheKey struct{}

// requestCache holds policies and memberships for one request. Usage counts
// are never cached.
type requestCache struct {
	mu       sync.Mutex
	policies map[ownerKey]LimitPolicy
	orgs     map[string][]string
}

type ownerKey struct {
	kind OwnerKind
	id   string
}

// WithRequestCache scopes policy and membership lookups to the returned
// context. Install it once at request entry; it must not outlive the request.
func WithRequestCache(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestCacheKey{}).(*requestCache); ok {
		return ctx
	}
	return context.WithValue(ctx, requestCacheKey{}, &requestCache{
		policies: make(map[ownerKey]LimitPolicy),
		orgs:     make(map[string][]string),
	})
}

func cacheFrom(ctx context.Context) *requestCache {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(requestCacheKey{}).(*requestCache)
	return c
}

func (c *requestCache) policy(key ownerKey) (LimitPolicy, bool) {
	if c == nil {
		return LimitPolicy{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.policies[key]
	return p, ok
}

func (c *requestCache) storePolicy(key ownerKey, p LimitPolicy) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.policies[key] = p
	c.mu.Unlock()
}

func (c *requestCache) organizations(userID string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	orgs, ok := c.orgs[userID]
	return orgs, ok
}

func (c *requestCache) storeOrganizations(userID string, orgs []string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.orgs[userID] = append([]string(nil), orgs...)
	c.mu.Unlock()
}

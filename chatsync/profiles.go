package chatsync

import (
	"context"
	"sort"
	"sync"
)

// ProfileCache resolves profiles in batches and keeps them for the session.
type ProfileCache struct {
	backend Backend

	mu sync.RWMutex
	m  map[string]Profile
}

func NewProfileCache(backend Backend) *ProfileCache {
	return &ProfileCache{backend: backend, m: make(map[string]Profile)}
}

// Put seeds the cache, e.g. with the session's own profile.
func (c *ProfileCache) Put(p Profile) {
	if p.ID == "" {
		return
	}
	c.mu.Lock()
	c.m[p.ID] = p
	c.mu.Unlock()
}

// Lookup returns a cached profile.
func (c *ProfileCache) Lookup(id string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.m[id]
	return p, ok
}

// Get returns the cached profile for id or the fallback display.
func (c *ProfileCache) Get(id string) Profile {
	if p, ok := c.Lookup(id); ok {
		return p
	}
	return Profile{ID: id, DisplayName: FallbackName}
}

// Resolve fetches the ids missing from the cache in a single backend call.
// Ids the backend does not know are simply absent from the cache; callers
// use Get to fall back.
func (c *ProfileCache) Resolve(ctx context.Context, ids []string) error {
	missing := c.missing(ids)
	if len(missing) == 0 {
		return nil
	}
	found, err := c.backend.ResolveProfiles(ctx, missing)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for id, p := range found {
		if p.ID == "" {
			p.ID = id
		}
		c.m[id] = p
	}
	c.mu.Unlock()
	return nil
}

func (c *ProfileCache) missing(ids []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := c.m[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

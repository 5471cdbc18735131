// Package cache is an in-memory TTL cache for read queries. Entries belong
// to a group so that a write can drop every cached read it affects.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key serializes query parameters canonically: equal parameters give equal
// keys regardless of map ordering. Times are rendered in UTC.
func Key(parts ...any) string {
	norm := make([]any, len(parts))
	for i, p := range parts {
		switch v := p.(type) {
		case time.Time:
			norm[i] = v.UTC().Format(time.RFC3339Nano)
		case *time.Time:
			if v == nil {
				norm[i] = nil
			} else {
				norm[i] = v.UTC().Format(time.RFC3339Nano)
			}
		default:
			norm[i] = v
		}
	}
	b, err := json.Marshal(norm)
	if err != nil {
		return fmt.Sprint(parts...)
	}
	return string(b)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

type Cache[V any] struct {
	mu     sync.Mutex
	groups map[string]map[string]entry[V]
	ttl    time.Duration
	now    func() time.Time
	loads  singleflight.Group
}

func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		groups: make(map[string]map[string]entry[V]),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (c *Cache[V]) Get(group, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.groups[group][key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expires) {
		delete(c.groups[group], key)
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(group, key string, v V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[group]
	if !ok {
		g = make(map[string]entry[V])
		c.groups[group] = g
	}
	g[key] = entry[V]{value: v, expires: c.now().Add(c.ttl)}
}

// GetOrLoad returns the cached value or calls load once for concurrent
// callers of the same key. Errors are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, group, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(group, key); ok {
		return v, nil
	}
	res, err, _ := c.loads.Do(group+"\x00"+key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.Set(group, key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Invalidate drops every entry of the given groups.
func (c *Cache[V]) Invalidate(groups ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		delete(c.groups, g)
	}
}

// Purge removes expired entries.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for name, g := range c.groups {
		for k, e := range g {
			if !now.Before(e.expires) {
				delete(g, k)
			}
		}
		if len(g) == 0 {
			delete(c.groups, name)
		}
	}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, g := range c.groups {
		n += len(g)
	}
	return n
}

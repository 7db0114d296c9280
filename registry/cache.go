package registry

import (
	"sync"

	"github.com/go-redis/redis/v8"
)

// CacheRegistry is the process-wide table of tenant cache connections,
// keyed by alias like the database registry. Tenants that do not configure
// their own cache share the master alias.
type CacheRegistry struct {
	mu      sync.RWMutex
	clients map[string]*redis.Client
	opts    map[string]*redis.Options
}

// NewCacheRegistry creates an empty cache registry.
func NewCacheRegistry() *CacheRegistry {
	return &CacheRegistry{
		clients: make(map[string]*redis.Client),
		opts:    make(map[string]*redis.Options),
	}
}

// Register records the options for a cache alias, overwriting any prior
// registration and closing a client already open under that alias.
func (r *CacheRegistry) Register(alias string, opts *redis.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[alias]; ok {
		_ = client.Close()
		delete(r.clients, alias)
	}
	r.opts[alias] = opts
}

// Client returns the redis client for an alias, creating it lazily.
func (r *CacheRegistry) Client(alias string) (*redis.Client, bool) {
	r.mu.RLock()
	client, ok := r.clients[alias]
	r.mu.RUnlock()
	if ok {
		return client, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[alias]; ok {
		return client, true
	}
	opts, ok := r.opts[alias]
	if !ok {
		return nil, false
	}
	client = redis.NewClient(opts)
	r.clients[alias] = client
	return client, true
}

// Reset closes the client for an alias but keeps its options, so the
// connection is rebuilt lazily on next access. Failures are suppressed: the
// resource is rebuilt either way.
func (r *CacheRegistry) Reset(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[alias]; ok {
		_ = client.Close()
		delete(r.clients, alias)
	}
}

// Remove closes and deregisters a cache alias.
func (r *CacheRegistry) Remove(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[alias]; ok {
		_ = client.Close()
		delete(r.clients, alias)
	}
	delete(r.opts, alias)
}

// Package events is the notification hub for tenant lifecycle events.
// Listeners run in-process; a panicking listener is isolated and logged, it
// never breaks the lifecycle operation that emitted the event.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/registry"
	"github.com/RahulRimal/omnitenant/tenant"
)

// Event identifies a tenant lifecycle transition.
type Event string

const (
	TenantCreated  Event = "tenant_created"
	TenantMigrated Event = "tenant_migrated"
	TenantDeleted  Event = "tenant_deleted"
)

// Listener receives a lifecycle event for a tenant.
type Listener func(evt Event, t *tenant.Tenant)

// Hub fans lifecycle events out to subscribed listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners map[Event][]Listener
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[Event][]Listener)}
}

// Subscribe registers a listener for an event.
func (h *Hub) Subscribe(evt Event, l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[evt] = append(h.listeners[evt], l)
}

// Publish delivers the event to every listener for it. Listener failures
// are the listeners' concern: a panic is recovered and logged.
func (h *Hub) Publish(evt Event, t *tenant.Tenant) {
	h.mu.RLock()
	listeners := h.listeners[evt]
	h.mu.RUnlock()

	for _, l := range listeners {
		h.deliver(evt, t, l)
	}
}

func (h *Hub) deliver(evt Event, t *tenant.Tenant, l Listener) {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error("tenant event listener panicked",
				zap.String("event", string(evt)),
				zap.String("tenant_id", t.TenantID),
				zap.Any("panic", r))
		}
	}()
	l(evt, t)
}

// CacheInvalidationListener resets a tenant's cache connection when its
// lifecycle changes, so stale clients are rebuilt lazily on next access.
func CacheInvalidationListener(caches *registry.CacheRegistry, masterCacheAlias string) Listener {
	return func(evt Event, t *tenant.Tenant) {
		alias := masterCacheAlias
		if t.Config != nil {
			if override, ok := t.Config["cache_alias"].(string); ok && override != "" {
				alias = override
			}
		}
		caches.Reset(alias)
		logger.GetLogger().Debug("reset tenant cache connection",
			zap.String("event", string(evt)),
			zap.String("tenant_id", t.TenantID),
			zap.String("cache_alias", alias))
	}
}

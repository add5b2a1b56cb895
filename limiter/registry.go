/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package limiter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/routepace/routepace/gcra"
)

// Registry maps route identifiers to their Limiters. Each route owns an
// isolated key store: different routes may have unrelated keyspaces and
// limits. Registration is idempotent-overwrite: registering an identifier
// twice replaces the previous limiter, which allows reconfiguring a route
// without recreating the registry.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]*registryEntry

	clock   gcra.Clock
	metrics MetricsCollector
}

type registryEntry struct {
	limiter *Limiter
	zone    ZoneConfig
}

// RegistryOptions configures optional Registry behavior.
type RegistryOptions struct {
	// Clock overrides the time source of all registered limiters.
	Clock gcra.Clock

	// Metrics receives admission and eviction counters. Nil disables metrics.
	Metrics MetricsCollector
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	mc := opts.Metrics
	if mc == nil {
		mc = disabledMetrics{}
	}
	return &Registry{
		routes:  make(map[string]*registryEntry),
		clock:   opts.Clock,
		metrics: mc,
	}
}

// NewRegistryFromConfig creates a Registry with a limiter per configured
// route. All configuration errors surface here, before any traffic is served.
func NewRegistryFromConfig(cfg *Config, opts RegistryOptions) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	reg := NewRegistry(opts)
	for _, route := range cfg.Routes {
		zone := cfg.RateLimitZones[route.Zone]
		if err := reg.RegisterZone(route.ID, zone); err != nil {
			return nil, fmt.Errorf("register route %q: %w", route.ID, err)
		}
	}
	return reg, nil
}

// Register creates a GCRA limiter for the quota and binds it to routeID,
// replacing any previous binding.
func (r *Registry) Register(routeID string, quota gcra.Quota) error {
	return r.RegisterZone(routeID, ZoneConfig{
		RateLimit:  RateValue{Count: quota.Burst(), Duration: quota.Period()},
		BurstLimit: quota.Burst(),
	})
}

// RegisterZone creates a limiter described by the zone configuration and
// binds it to routeID, replacing any previous binding.
func (r *Registry) RegisterZone(routeID string, zone ZoneConfig) error {
	if routeID == "" {
		return fmt.Errorf("%w: route identifier is empty", gcra.ErrInvalidConfig)
	}
	if err := zone.Validate(); err != nil {
		return err
	}

	lim, err := New(zone.quota(), Options{
		Algorithm:  zone.algorithm(),
		ShardCount: zone.MaxShards,
		MaxKeys:    zone.MaxKeys,
		Clock:      r.clock,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.routes[routeID] = &registryEntry{limiter: lim, zone: zone}
	r.mu.Unlock()
	return nil
}

// Resolve returns the limiter configured for routeID. Absence is not an
// error: it means no rate limit is configured for the route, and callers must
// treat it as unconditional admission.
func (r *Registry) Resolve(routeID string) (*Limiter, bool) {
	r.mu.RLock()
	entry, ok := r.routes[routeID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.limiter, true
}

// Zone returns the zone configuration bound to routeID.
func (r *Registry) Zone(routeID string) (ZoneConfig, bool) {
	r.mu.RLock()
	entry, ok := r.routes[routeID]
	r.mu.RUnlock()
	if !ok {
		return ZoneConfig{}, false
	}
	return entry.zone, true
}

// Check runs the admission check for (routeID, key) and feeds the metrics
// collector. An unregistered route admits unconditionally.
func (r *Registry) Check(routeID, key string) Decision {
	lim, ok := r.Resolve(routeID)
	if !ok {
		return Decision{Allowed: true}
	}
	dec := lim.Check(key)
	if dec.Allowed {
		r.metrics.IncAdmitted(routeID)
	} else {
		r.metrics.IncRejected(routeID)
	}
	return dec
}

// RouteIDs returns the identifiers of all registered routes, sorted.
func (r *Registry) RouteIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// sweepAll sweeps every registered route's store and reports per-route
// eviction and size metrics. Returns the total number of removed entries.
func (r *Registry) sweepAll() (removed int) {
	for _, id := range r.RouteIDs() {
		lim, ok := r.Resolve(id)
		if !ok {
			continue
		}
		n := lim.SweepIdle()
		removed += n
		if n != 0 {
			r.metrics.AddEvictions(id, n)
		}
		r.metrics.SetKeysAmount(id, lim.KeysCount())
	}
	return removed
}

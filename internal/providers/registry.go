// Package providers tracks the identity, declared schedule, availability and
// current load of every conversation handler known to the routing engine.
package providers

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry is the in-memory source of truth for provider state. Scoring and
// assignment read from it directly; it is never refreshed on the request path.
//
// The map itself is guarded by an RWMutex. The per-provider load counter is a
// separate atomic so concurrent conversation churn adjusts it without taking
// the registry lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*providerEntry
}

type providerEntry struct {
	info ProviderAvailability // CurrentLoad field unused, see load
	load int64                // accessed atomically, clamped to [0, MaxCapacity]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*providerEntry),
	}
}

// Register adds or replaces a provider. The load counter of an existing
// provider is preserved so a metadata refresh cannot lose accounting.
func (r *Registry) Register(info *ProviderAvailability) error {
	if info == nil || info.ProviderID == "" {
		return fmt.Errorf("%w: provider ID is required", ErrInvalidProvider)
	}
	if info.MaxCapacity < 0 {
		return fmt.Errorf("%w: max capacity must not be negative", ErrInvalidProvider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &providerEntry{info: *info, load: int64(info.CurrentLoad)}
	if existing, ok := r.entries[info.ProviderID]; ok {
		entry.load = atomic.LoadInt64(&existing.load)
	}
	r.entries[info.ProviderID] = entry
	return nil
}

// GetAvailability returns a copy of the provider's state including its
// current load. Returns ErrProviderNotFound for unknown IDs.
func (r *Registry) GetAvailability(providerID string) (*ProviderAvailability, error) {
	r.mu.RLock()
	entry, ok := r.entries[providerID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}

	info := entry.info
	info.Specialties = append([]string(nil), entry.info.Specialties...)
	info.WorkingHours.DaysOfWeek = append([]time.Weekday(nil), entry.info.WorkingHours.DaysOfWeek...)
	info.CurrentLoad = int(atomic.LoadInt64(&entry.load))
	return &info, nil
}

// Exists reports whether the provider ID is registered.
func (r *Registry) Exists(providerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[providerID]
	return ok
}

// ProviderType returns the registered type of a provider.
func (r *Registry) ProviderType(providerID string) (ProviderType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[providerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return entry.info.ProviderType, nil
}

// ListAvailable returns providers whose heartbeat marked them available,
// optionally filtered by type. Results are ordered by provider ID so the
// listing is deterministic.
func (r *Registry) ListAvailable(filterType ProviderType) []*ProviderAvailability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ProviderAvailability, 0, len(r.entries))
	for _, entry := range r.entries {
		if !entry.info.Available {
			continue
		}
		if filterType != "" && entry.info.ProviderType != filterType {
			continue
		}
		info := entry.info
		info.CurrentLoad = int(atomic.LoadInt64(&entry.load))
		result = append(result, &info)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ProviderID < result[j].ProviderID
	})
	return result
}

// SetAvailable records an availability heartbeat from the provider side.
// The engine treats the pushed value as authoritative.
func (r *Registry) SetAvailable(providerID string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[providerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	entry.info.Available = available
	return nil
}

// RecordLoadDelta atomically adjusts the provider's load counter, clamping
// the result to [0, MaxCapacity]. Capacity is a soft limit: the delta is
// applied up to the clamp and never fails an assignment.
func (r *Registry) RecordLoadDelta(providerID string, delta int) error {
	r.mu.RLock()
	entry, ok := r.entries[providerID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}

	max := int64(entry.info.MaxCapacity)
	for {
		current := atomic.LoadInt64(&entry.load)
		next := current + int64(delta)
		if next < 0 {
			next = 0
		}
		if max > 0 && next > max {
			next = max
		}
		if atomic.CompareAndSwapInt64(&entry.load, current, next) {
			return nil
		}
	}
}

// CurrentLoad returns the provider's load counter.
func (r *Registry) CurrentLoad(providerID string) (int, error) {
	r.mu.RLock()
	entry, ok := r.entries[providerID]
	r.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return int(atomic.LoadInt64(&entry.load)), nil
}

// AtCapacity reports whether the provider's load has reached its capacity.
// Scoring currently ignores this; it exists so capacity can become a penalty
// signal without changing the registry contract.
func (r *Registry) AtCapacity(providerID string) (bool, error) {
	r.mu.RLock()
	entry, ok := r.entries[providerID]
	r.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	if entry.info.MaxCapacity <= 0 {
		return false, nil
	}
	return atomic.LoadInt64(&entry.load) >= int64(entry.info.MaxCapacity), nil
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

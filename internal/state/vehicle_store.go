// Package state owns the in-memory hot-path state shared between the
// ingestion pipeline and the query surfaces: the latest-known-state vehicle
// cache and the message-rate tracker.
package state

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/geo"
)

// Clock abstracts time.Now so eviction behavior is testable.
type Clock func() time.Time

// CacheEntry is the latest sample for one vehicle plus its expiry.
type CacheEntry struct {
	Sample    domain.TelemetrySample `json:"sample"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

type storedEntry struct {
	id    string
	entry CacheEntry
}

// VehicleStore is a capacity-bounded, TTL-evicting cache of the latest
// sample per vehicle. When inserting a new vehicle would exceed capacity
// the entry least recently inserted or refreshed is evicted. A TTL of zero
// disables time-based eviction.
//
// Put enriches the sample's DistanceDeltaKm from the previous cached
// position while holding the store lock, so concurrent updates for the same
// vehicle apply as if sequential.
type VehicleStore struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      Clock

	entries map[string]*list.Element
	order   *list.List // front = oldest by insert/refresh
}

// NewVehicleStore creates a store holding at most capacity vehicles.
// capacity <= 0 means unbounded.
func NewVehicleStore(capacity int, ttl time.Duration, now Clock) *VehicleStore {
	if now == nil {
		now = time.Now
	}
	return &VehicleStore{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (vs *VehicleStore) expiresAt(t time.Time) time.Time {
	if vs.ttl <= 0 {
		return time.Time{}
	}
	return t.Add(vs.ttl)
}

func (vs *VehicleStore) expired(e CacheEntry, at time.Time) bool {
	return vs.ttl > 0 && !e.ExpiresAt.After(at)
}

// Put stores s as the latest state for its vehicle, refreshing the expiry and
// the eviction order. It sets s.DistanceDeltaKm from the previously cached
// position, or 0 when the vehicle is new or its previous entry has expired.
func (vs *VehicleStore) Put(s *domain.TelemetrySample) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	now := vs.now()

	if elem, ok := vs.entries[s.VehicleID]; ok {
		stored := elem.Value.(*storedEntry)
		if vs.expired(stored.entry, now) {
			s.DistanceDeltaKm = 0
		} else {
			prev := stored.entry.Sample
			s.DistanceDeltaKm = geo.HaversineKm(
				prev.Latitude, prev.Longitude, s.Latitude, s.Longitude)
		}
		stored.entry = CacheEntry{Sample: *s, ExpiresAt: vs.expiresAt(now)}
		vs.order.MoveToBack(elem)
		return
	}

	s.DistanceDeltaKm = 0

	if vs.capacity > 0 && len(vs.entries) >= vs.capacity {
		if oldest := vs.order.Front(); oldest != nil {
			vs.removeLocked(oldest)
		}
	}

	elem := vs.order.PushBack(&storedEntry{
		id:    s.VehicleID,
		entry: CacheEntry{Sample: *s, ExpiresAt: vs.expiresAt(now)},
	})
	vs.entries[s.VehicleID] = elem
}

// Get returns the cached entry for a vehicle. Expired entries are removed
// and reported as absent.
func (vs *VehicleStore) Get(vehicleID string) (CacheEntry, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	elem, ok := vs.entries[vehicleID]
	if !ok {
		return CacheEntry{}, false
	}
	stored := elem.Value.(*storedEntry)
	if vs.expired(stored.entry, vs.now()) {
		vs.removeLocked(elem)
		return CacheEntry{}, false
	}
	return stored.entry, true
}

// List returns non-expired entries, optionally filtered by vehicle identity.
// An empty filter means all vehicles. Results are ordered by vehicle ID for
// deterministic output.
func (vs *VehicleStore) List(vehicleIDs []string) []CacheEntry {
	var filter map[string]bool
	if len(vehicleIDs) > 0 {
		filter = make(map[string]bool, len(vehicleIDs))
		for _, id := range vehicleIDs {
			filter[id] = true
		}
	}

	vs.mu.Lock()
	now := vs.now()
	out := make([]CacheEntry, 0, len(vs.entries))
	var stale []*list.Element
	for elem := vs.order.Front(); elem != nil; elem = elem.Next() {
		stored := elem.Value.(*storedEntry)
		if vs.expired(stored.entry, now) {
			stale = append(stale, elem)
			continue
		}
		if filter != nil && !filter[stored.id] {
			continue
		}
		out = append(out, stored.entry)
	}
	for _, elem := range stale {
		vs.removeLocked(elem)
	}
	vs.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Sample.VehicleID < out[j].Sample.VehicleID
	})
	return out
}

// EvictExpired removes every expired entry and returns how many were evicted.
func (vs *VehicleStore) EvictExpired() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	now := vs.now()
	evicted := 0
	for elem := vs.order.Front(); elem != nil; {
		next := elem.Next()
		if vs.expired(elem.Value.(*storedEntry).entry, now) {
			vs.removeLocked(elem)
			evicted++
		}
		elem = next
	}
	return evicted
}

// Len reports the number of cached entries, expired ones included until the
// next access or sweep touches them.
func (vs *VehicleStore) Len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.entries)
}

func (vs *VehicleStore) removeLocked(elem *list.Element) {
	stored := elem.Value.(*storedEntry)
	delete(vs.entries, stored.id)
	vs.order.Remove(elem)
}

// Sweep periodically evicts expired entries until done is closed. It complements
// the lazy eviction done on access so idle vehicles do not linger.
func (vs *VehicleStore) Sweep(done <-chan struct{}, interval time.Duration) {
	if vs.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			vs.EvictExpired()
		case <-done:
			return
		}
	}
}

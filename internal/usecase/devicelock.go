package usecase

import (
	"context"
	"sort"
	"sync"
)

// DefaultDeviceLockCapacity bounds how many devices the registry remembers.
const DefaultDeviceLockCapacity = 100

// evictFraction is the share of entries dropped by LRU eviction.
const evictFraction = 5 // 1/5 = 20%

// deviceLockEntry is the exclusive handle for one device. sem has capacity 1
// so acquiring can be abandoned on context cancellation.
type deviceLockEntry struct {
	deviceID int
	sem      chan struct{}
	refs     int    // Holders plus waiters; guarded by DeviceLocks.mu
	lastUsed uint64 // Logical clock; guarded by DeviceLocks.mu
	retired  bool   // Evicted while in use; guarded by DeviceLocks.mu
}

// DeviceLocks serializes multi-step mutations of the same audio device.
// Entries are created lazily and the table is bounded: when it grows past
// capacity, entries nobody holds are dropped first, then the least recently
// used 20%.
//
// An entry evicted while in use is parked until its last user lets go, and
// an Acquire for that device in the meantime takes it back. Parked entries
// are bounded by the number of concurrent operations.
type DeviceLocks struct {
	mu       sync.Mutex
	entries  map[int]*deviceLockEntry
	retired  map[int]*deviceLockEntry
	capacity int
	clock    uint64
}

// NewDeviceLocks creates a registry with the given capacity (<= 0 uses the default).
func NewDeviceLocks(capacity int) *DeviceLocks {
	if capacity <= 0 {
		capacity = DefaultDeviceLockCapacity
	}
	return &DeviceLocks{
		entries:  make(map[int]*deviceLockEntry),
		retired:  make(map[int]*deviceLockEntry),
		capacity: capacity,
	}
}

// DeviceGuard is held while a device is being reconfigured.
type DeviceGuard struct {
	registry *DeviceLocks
	entry    *deviceLockEntry
	once     sync.Once
}

// DeviceID returns the locked device.
func (g *DeviceGuard) DeviceID() int {
	return g.entry.deviceID
}

// Release unlocks the device. Safe to call more than once.
func (g *DeviceGuard) Release() {
	g.once.Do(func() {
		<-g.entry.sem
		g.registry.unref(g.entry)
	})
}

// Acquire blocks until the device is free or ctx is done.
func (r *DeviceLocks) Acquire(ctx context.Context, deviceID int) (*DeviceGuard, error) {
	r.mu.Lock()
	entry, ok := r.entries[deviceID]
	if !ok {
		if parked, ok := r.retired[deviceID]; ok {
			delete(r.retired, deviceID)
			parked.retired = false
			entry = parked
		} else {
			entry = &deviceLockEntry{deviceID: deviceID, sem: make(chan struct{}, 1)}
		}
		r.entries[deviceID] = entry
	}
	entry.refs++
	r.clock++
	entry.lastUsed = r.clock
	r.evictIfOverCapacity(deviceID)
	r.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		return &DeviceGuard{registry: r, entry: entry}, nil
	case <-ctx.Done():
		r.unref(entry)
		return nil, ctx.Err()
	}
}

func (r *DeviceLocks) unref(entry *deviceLockEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.refs--
	if entry.refs == 0 && entry.retired {
		delete(r.retired, entry.deviceID)
		entry.retired = false
	}
}

// Len returns the number of tracked devices.
func (r *DeviceLocks) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Capacity returns the configured bound.
func (r *DeviceLocks) Capacity() int {
	return r.capacity
}

// evictIfOverCapacity must be called with r.mu held. The entry for keep is
// never evicted since the caller is about to use it.
func (r *DeviceLocks) evictIfOverCapacity(keep int) {
	if len(r.entries) <= r.capacity {
		return
	}

	for id, e := range r.entries {
		if id != keep && e.refs == 0 {
			delete(r.entries, id)
		}
	}
	if len(r.entries) <= r.capacity {
		return
	}

	// Everything left is in use.
	candidates := make([]*deviceLockEntry, 0, len(r.entries))
	for id, e := range r.entries {
		if id != keep {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUsed < candidates[j].lastUsed
	})

	n := len(r.entries) / evictFraction
	if n < len(r.entries)-r.capacity {
		n = len(r.entries) - r.capacity
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	for _, e := range candidates[:n] {
		delete(r.entries, e.deviceID)
		if e.refs > 0 {
			e.retired = true
			r.retired[e.deviceID] = e
		}
	}
}

package jkbms

import (
	"sort"
	"sync"
	"time"
)

// DeviceInfo describes a registered BMS.
type DeviceInfo struct {
	Address      Address   `json:"address"`
	DeviceID     string    `json:"device_id"`
	CellCount    int       `json:"cell_count"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry maps device addresses to their cell counts.
//
// An entry is created by the first Settings frame for an address and lives
// until the process exits. Nothing is persisted.
//
// Thread Safety: All methods are safe for concurrent use. Callers that need
// a check-then-register sequence to be atomic for one address hold Lock.
type Registry struct {
	mu      sync.RWMutex
	devices map[Address]DeviceInfo

	locksMu sync.Mutex
	locks   map[Address]*sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[Address]DeviceInfo),
		locks:   make(map[Address]*sync.Mutex),
	}
}

// IsRegistered reports whether the address has a registry entry.
func (r *Registry) IsRegistered(addr Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[addr]
	return ok
}

// Register inserts or overwrites the entry for addr.
//
// Returns true when the address was not registered before, which is the
// caller's cue to emit descriptors. Re-registering only updates the count.
func (r *Registry) Register(addr Address, cellCount int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.devices[addr]; ok {
		existing.CellCount = cellCount
		r.devices[addr] = existing
		return false
	}

	r.devices[addr] = DeviceInfo{
		Address:      addr,
		DeviceID:     addr.DeviceID(),
		CellCount:    cellCount,
		RegisteredAt: time.Now().UTC(),
	}
	return true
}

// CellCount returns the stored cell count, or false if addr is unregistered.
func (r *Registry) CellCount(addr Address) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[addr]
	return d.CellCount, ok
}

// Device returns the entry for addr.
func (r *Registry) Device(addr Address) (DeviceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[addr]
	return d, ok
}

// Devices returns all entries sorted by address.
func (r *Registry) Devices() []DeviceInfo {
	r.mu.RLock()
	out := make([]DeviceInfo, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Lock acquires the per-address lock and returns its release function.
// Locks for different addresses do not contend.
func (r *Registry) Lock(addr Address) (unlock func()) {
	r.locksMu.Lock()
	l, ok := r.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		r.locks[addr] = l
	}
	r.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

package jkbms

import (
	"sort"
	"sync"
	"time"
)

// BatterySnapshot is the most recent decoded data for one device.
type BatterySnapshot struct {
	Device    DeviceInfo         `json:"device"`
	Settings  *SettingsSnapshot  `json:"settings,omitempty"`
	State     *TelemetrySnapshot `json:"state,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// BatteryUpdate is passed to the update hook after every decoded frame.
type BatteryUpdate struct {
	Snapshot   BatterySnapshot
	FrameType  FrameType
	Registered bool // The frame registered a new device
}

// snapshotStore keeps the last Settings and CellInfo result per address.
type snapshotStore struct {
	mu     sync.RWMutex
	latest map[Address]*BatterySnapshot
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{latest: make(map[Address]*BatterySnapshot)}
}

// update merges res into the device's snapshot and returns a copy of the result.
func (s *snapshotStore) update(dev DeviceInfo, res *Result) BatterySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.latest[dev.Address]
	if !ok {
		snap = &BatterySnapshot{}
		s.latest[dev.Address] = snap
	}
	snap.Device = dev
	if res.Settings != nil {
		snap.Settings = res.Settings
	}
	if res.Telemetry != nil {
		snap.State = res.Telemetry
	}
	snap.UpdatedAt = time.Now().UTC()
	return *snap
}

func (s *snapshotStore) get(addr Address) (BatterySnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.latest[addr]
	if !ok {
		return BatterySnapshot{}, false
	}
	return *snap, true
}

func (s *snapshotStore) all() []BatterySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BatterySnapshot, 0, len(s.latest))
	for _, snap := range s.latest {
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.Address < out[j].Device.Address })
	return out
}

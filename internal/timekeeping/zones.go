package timekeeping

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownZone is returned when a zone identifier cannot be resolved to a
// rule set. It belongs to the invalid-configuration class: callers surface
// it at registration time, before anything reaches the scheduling loop.
var ErrUnknownZone = errors.New("unknown time zone")

// ZoneTable resolves IANA zone names to their offset rule sets and caches
// the result so every LocalView in a run shares one *time.Location per
// zone.
//
// A ZoneTable is constructed explicitly and passed by reference into the
// components that need it. This keeps zone state per-run rather than
// process-global: two simulations loaded with different rule data never
// observe each other.
type ZoneTable struct {
	mu    sync.RWMutex
	zones map[string]*time.Location
}

// NewZoneTable creates an empty zone table.
func NewZoneTable() *ZoneTable {
	return &ZoneTable{zones: make(map[string]*time.Location)}
}

// Resolve returns the rule set for the named zone, loading and caching it
// on first use. "UTC" and the empty name resolve to UTC. Unknown names
// fail with ErrUnknownZone.
func (zt *ZoneTable) Resolve(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}

	zt.mu.RLock()
	loc, ok := zt.zones[name]
	zt.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}

	zt.mu.Lock()
	zt.zones[name] = loc
	zt.mu.Unlock()

	return loc, nil
}

// Known reports whether the named zone has already been resolved.
func (zt *ZoneTable) Known(name string) bool {
	if name == "" || name == "UTC" {
		return true
	}
	zt.mu.RLock()
	defer zt.mu.RUnlock()
	_, ok := zt.zones[name]
	return ok
}

// Package realtime keeps the most recent state of every device so a viewer
// that connects gets something to show before the next telemetry tick.
package realtime

import (
	"sync"

	"greenhouse-server/internal/modules/greenhouse/types"
)

// Cache is depth-1 per device: Update replaces the whole entry. Entries are
// never evicted; their number is bounded by the number of devices.
type Cache struct {
	mu     sync.RWMutex
	states map[types.DeviceID]types.RealtimeState
}

func NewCache() *Cache {
	return &Cache{states: make(map[types.DeviceID]types.RealtimeState)}
}

// Update stores s as the device's current state and returns what was stored.
func (c *Cache) Update(s types.Sample) types.RealtimeState {
	st := types.NewRealtimeState(s)
	c.mu.Lock()
	c.states[s.DeviceID] = st
	c.mu.Unlock()
	return st
}

func (c *Cache) Get(id types.DeviceID) (types.RealtimeState, bool) {
	c.mu.RLock()
	st, ok := c.states[id]
	c.mu.RUnlock()
	return st, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}

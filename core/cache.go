package core

import (
	"sync"

	"github.com/opencue/rqd/cmn/cos"
)

// Cache is the frame-id -> RunningFrame map. Mutated only under its own
// mutex (spec §3: "mutated only under the ledger mutex" — in this rendering
// the cache carries its own mutex and the supervisor never holds both the
// ledger's and the cache's locks across a blocking call).
type Cache struct {
	mu     sync.Mutex
	frames map[string]*RunningFrame
}

func NewCache() *Cache {
	return &Cache{frames: make(map[string]*RunningFrame)}
}

// Insert fails with KindDuplicateFrame if frameID is already present.
func (c *Cache) Insert(frameID string, rf *RunningFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.frames[frameID]; ok {
		return cos.New(cos.KindDuplicateFrame, "frame already running: "+frameID)
	}
	c.frames[frameID] = rf
	return nil
}

// Delete is idempotent.
func (c *Cache) Delete(frameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.frames, frameID)
}

// Get returns the RunningFrame for frameID, or nil if absent (the frame may
// have completed and been removed concurrently — callers must tolerate this
// race, spec §4.5).
func (c *Cache) Get(frameID string) *RunningFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[frameID]
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// Snapshot returns the live frame-id -> RunningFrame pointers at this instant.
// Callers must only read frame fields via RunningFrame.Snapshot().
func (c *Cache) Snapshot() map[string]*RunningFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*RunningFrame, len(c.frames))
	for k, v := range c.frames {
		out[k] = v
	}
	return out
}

package email

import (
	"sync"

	"github.com/brandon/mail-triage/pkg/types"
)

// DefaultRecentCapacity is the number of summaries a listen session keeps
const DefaultRecentCapacity = 200

// RecentCache is a fixed-capacity FIFO of message summaries.
// When full, the oldest entry is dropped before the newest is appended.
type RecentCache struct {
	mu    sync.RWMutex
	items []types.Summary
	head  int
	size  int
}

// NewRecentCache creates a cache holding at most capacity summaries
func NewRecentCache(capacity int) *RecentCache {
	if capacity < 1 {
		capacity = DefaultRecentCapacity
	}
	return &RecentCache{items: make([]types.Summary, capacity)}
}

// Push appends a summary, evicting the oldest when full
func (c *RecentCache) Push(s types.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size < len(c.items) {
		c.items[(c.head+c.size)%len(c.items)] = s
		c.size++
		return
	}

	c.items[c.head] = s
	c.head = (c.head + 1) % len(c.items)
}

// Items returns a copy of the cached summaries, oldest first
func (c *RecentCache) Items() []types.Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.Summary, c.size)
	for i := 0; i < c.size; i++ {
		out[i] = c.items[(c.head+i)%len(c.items)]
	}
	return out
}

// Len returns the number of cached summaries
func (c *RecentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Cap returns the cache capacity
func (c *RecentCache) Cap() int {
	return len(c.items)
}

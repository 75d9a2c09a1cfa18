// Package resolve turns an opaque room address into a descriptor
// snapshot via cache, relay query, and hint-assisted fallback.
package resolve

import (
	"sync"

	"github.com/nestwork/liveroom/internal/domain"
)

// Cache holds the most recent descriptor snapshot per room address.
// Replaceable-record semantics: a newer record replaces the whole
// snapshot, an older one is ignored.
type Cache struct {
	mu   sync.RWMutex
	byID map[string]*domain.RoomDescriptor
}

func NewCache() *Cache {
	return &Cache{byID: make(map[string]*domain.RoomDescriptor)}
}

func (c *Cache) Get(addr domain.RoomAddress) (*domain.RoomDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[addr.String()]
	return d, ok
}

// Put stores the descriptor unless a newer snapshot is already cached.
// It reports whether the descriptor became current.
func (c *Cache) Put(d *domain.RoomDescriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := d.Address.String()
	if cur, ok := c.byID[key]; ok && cur.Raw.CreatedAt > d.Raw.CreatedAt {
		return false
	}
	c.byID[key] = d
	return true
}

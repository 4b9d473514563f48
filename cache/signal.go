package cache

import (
	"container/list"
	"sync"

	"nendo/core/audio"

	"github.com/google/uuid"
)

// SignalCache holds decoded track signals so repeated loads skip the disk.
type SignalCache interface {
	Get(trackID uuid.UUID) (*audio.Signal, bool)
	Set(trackID uuid.UUID, sig *audio.Signal)
	Remove(trackID uuid.UUID)
	Len() int
}

type lruEntry struct {
	key uuid.UUID
	sig *audio.Signal
}

// LRUSignalCache is a size bounded in-memory SignalCache. A size of zero or
// less disables caching.
type LRUSignalCache struct {
	mu    sync.Mutex
	size  int
	ll    *list.List
	items map[uuid.UUID]*list.Element
}

// NewLRUSignalCache creates a cache holding at most size signals.
func NewLRUSignalCache(size int) *LRUSignalCache {
	return &LRUSignalCache{
		size:  size,
		ll:    list.New(),
		items: make(map[uuid.UUID]*list.Element),
	}
}

func (c *LRUSignalCache) Get(trackID uuid.UUID) (*audio.Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[trackID]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).sig, true
}

func (c *LRUSignalCache) Set(trackID uuid.UUID, sig *audio.Signal) {
	if c.size <= 0 || sig == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[trackID]; ok {
		el.Value.(*lruEntry).sig = sig
		c.ll.MoveToFront(el)
		return
	}
	c.items[trackID] = c.ll.PushFront(&lruEntry{key: trackID, sig: sig})
	for c.ll.Len() > c.size {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *LRUSignalCache) Remove(trackID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[trackID]; ok {
		c.ll.Remove(el)
		delete(c.items, trackID)
	}
}

func (c *LRUSignalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

package jobs

import (
	"container/list"
	"sync"
)

// Dedup is a fixed-capacity set of recently processed message ids. When
// full, the oldest id is evicted. It only short-circuits redelivered
// messages within one process lifetime; correctness does not depend on it,
// because result application is guarded by the store's conditional update.
type Dedup struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	seen  map[string]*list.Element

	evictions int64
}

// NewDedup returns a Dedup holding at most capacity ids. Capacity must be
// positive.
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = 1
	}
	return &Dedup{
		cap:   capacity,
		order: list.New(),
		seen:  make(map[string]*list.Element, capacity),
	}
}

// Seen reports whether id was remembered and not yet evicted.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Remember records id, evicting the oldest remembered id if the cache is
// full. Remembering an id again refreshes its position.
func (d *Dedup) Remember(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.order.MoveToBack(el)
		return
	}
	if d.order.Len() >= d.cap {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
		d.evictions++
	}
	d.seen[id] = d.order.PushBack(id)
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// Evictions returns how many ids have been evicted since creation.
func (d *Dedup) Evictions() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evictions
}

// Package statscache implements the collection statistics cache (C10):
// per-collection {count, size, read} entries, prefetched at startup and
// kept current by incremental updates from the notification collector,
// falling back to full recomputation on invalidation (spec §4.10).
package statscache

import (
	"sync"

	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/store"
)

// Entry is one collection's cached statistics. Read counts items bearing
// either a "seen" or an "ignored" flag.
type Entry struct {
	Count int64
	Size  int64
	Read  int64
}

// Cache holds one Entry per collection behind a single lock (spec §5:
// "Statistics cache holds a single lock; updates are small and quick").
type Cache struct {
	mu      sync.Mutex
	entries map[int64]*Entry
	stale   map[int64]struct{}
}

func New() *Cache {
	return &Cache{entries: map[int64]*Entry{}, stale: map[int64]struct{}{}}
}

// Prefetch computes every collection's entry in one pass, joining the item
// set against its flags to count "seen"/"ignored" without double-counting
// an item that carries both (spec §4.10: "joined twice ... to avoid row
// duplication").
func (c *Cache) Prefetch(tx store.Tx) error {
	colls, err := tx.AllCollections()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]*Entry, len(colls))
	c.stale = map[int64]struct{}{}
	for _, coll := range colls {
		e, err := compute(tx, coll.ID, coll.Virtual)
		if err != nil {
			return err
		}
		c.entries[coll.ID] = e
	}
	return nil
}

func compute(tx store.Tx, collectionID int64, virtual bool) (*Entry, error) {
	var ids []int64
	if virtual {
		linked, err := tx.LinkedItems(collectionID)
		if err != nil {
			return nil, err
		}
		ids = linked
	}
	var items []*model.Item
	if virtual {
		items = make([]*model.Item, 0, len(ids))
		for _, id := range ids {
			it, ok, err := tx.ItemByID(id)
			if err != nil {
				return nil, err
			}
			if ok {
				items = append(items, it)
			}
		}
	} else {
		all, err := tx.ItemsByCollection(collectionID)
		if err != nil {
			return nil, err
		}
		items = all
	}
	e := &Entry{}
	for _, it := range items {
		e.Count++
		e.Size += it.Size
		if it.HasReadFlag() {
			e.Read++
		}
	}
	return e, nil
}

// Get returns the cached entry, recomputing it first if it was invalidated.
func (c *Cache) Get(tx store.Tx, collectionID int64, virtual bool) (Entry, error) {
	c.mu.Lock()
	_, stale := c.stale[collectionID]
	e, ok := c.entries[collectionID]
	c.mu.Unlock()
	if ok && !stale {
		return *e, nil
	}
	fresh, err := compute(tx, collectionID, virtual)
	if err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	c.entries[collectionID] = fresh
	delete(c.stale, collectionID)
	c.mu.Unlock()
	return *fresh, nil
}

// ItemAdded applies the incremental delta for a newly added item (spec
// §4.10: "updates entries incrementally on item add and flag-change").
func (c *Cache) ItemAdded(collectionID int64, size int64, seenOrIgnored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(collectionID)
	e.Count++
	e.Size += size
	if seenOrIgnored {
		e.Read++
	}
}

// ItemRemoved applies the incremental delta for a removed item.
func (c *Cache) ItemRemoved(collectionID int64, size int64, seenOrIgnored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(collectionID)
	e.Count--
	e.Size -= size
	if seenOrIgnored {
		e.Read--
	}
}

// ReadStateChanged applies the delta when an item's seen/ignored status
// flips, without touching count or size.
func (c *Cache) ReadStateChanged(collectionID int64, nowSeenOrIgnored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(collectionID)
	if nowSeenOrIgnored {
		e.Read++
	} else {
		e.Read--
	}
}

// Invalidate marks an entry for full recomputation on next Get (spec §4.10:
// "all other changes ... invalidate the affected entry").
func (c *Cache) Invalidate(collectionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[collectionID] = struct{}{}
}

func (c *Cache) entryLocked(collectionID int64) *Entry {
	e, ok := c.entries[collectionID]
	if !ok {
		e = &Entry{}
		c.entries[collectionID] = e
	}
	return e
}

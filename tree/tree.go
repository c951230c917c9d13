// Package tree implements the in-memory collection-tree cache (C2): a
// shadow of the collection forest for id/remote-id lookup and bounded-depth
// subtree walks, hydrated lazily from the store.
//
// Modeled on the teacher's single-RWMutex map-of-nodes idiom (fs/mountfs.go,
// cluster/map.go): one lock guards the whole tree, upgraded explicitly when
// a lookup must commit freshly hydrated records (spec §4.2 concurrency).
package tree

import (
	"context"
	"sort"
	"sync"

	"github.com/pim-systems/pimd/cmn"
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/store"
	"golang.org/x/sync/errgroup"
)

// Root is the virtual root collection id (spec §3: "parent-id forms a
// forest rooted at the virtual root 0").
const Root int64 = 0

type node struct {
	id       int64
	parentID int64
	resource string
	remoteID string
	coll     *model.Collection // nil until hydrated
	children map[int64]*node
}

// Cache is the collection-tree cache.
type Cache struct {
	mu sync.RWMutex
	db store.Store

	nodes      map[int64]*node
	byRemoteID map[string]int64 // "resource##remoteID" -> id
}

func New(db store.Store) *Cache {
	return &Cache{
		db:         db,
		nodes:      make(map[int64]*node),
		byRemoteID: make(map[string]int64),
	}
}

func remoteKey(resource, remoteID string) string { return resource + "##" + remoteID }

// Hydrate loads every collection from the store and links children to
// parents (spec §4.2 Hydration). Every collection is indexed first, then
// children are linked to their parents in repeated passes until a pass
// links nothing new, so a collection whose parent id is higher than its own
// (reparented history) still resolves; nodes whose parent never appears are
// logged and discarded.
func (c *Cache) Hydrate(_ context.Context) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	all, err := tx.AllCollections()
	if err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = make(map[int64]*node, len(all)+1)
	c.byRemoteID = make(map[string]int64, len(all))
	c.nodes[Root] = &node{id: Root, children: make(map[int64]*node)}

	for _, coll := range all {
		c.addHydratedNodeLocked(coll)
	}

	for round := 0; round < len(all); round++ {
		changed := false
		for _, coll := range all {
			n := c.nodes[coll.ID]
			parent, ok := c.nodes[coll.ParentID]
			if !ok {
				continue
			}
			if _, already := parent.children[coll.ID]; already {
				continue
			}
			parent.children[coll.ID] = n
			changed = true
		}
		if !changed {
			break
		}
	}

	for id, n := range c.nodes {
		if id == Root {
			continue
		}
		parent, ok := c.nodes[n.parentID]
		if !ok || parent.children[id] == nil {
			cmn.Log.Warnw("tree: discarding unreferenced collection after hydration fixed point", "id", id, "parent", n.parentID)
			delete(c.nodes, id)
			if n.remoteID != "" {
				delete(c.byRemoteID, remoteKey(n.resource, n.remoteID))
			}
		}
	}
	return nil
}

func (c *Cache) addHydratedNodeLocked(coll *model.Collection) {
	n := &node{
		id:       coll.ID,
		parentID: coll.ParentID,
		resource: coll.ResourceID,
		remoteID: coll.RemoteID,
		coll:     coll,
		children: make(map[int64]*node),
	}
	c.nodes[coll.ID] = n
	if coll.RemoteID != "" {
		c.byRemoteID[remoteKey(coll.ResourceID, coll.RemoteID)] = coll.ID
	}
}

// CollectionAdded attaches a new node under its declared parent (spec §4.2
// Mutations). If the parent is absent, a warning is logged and the node is
// left detached (still indexed by id so a later Move finds it).
func (c *Cache) CollectionAdded(coll *model.Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addHydratedNodeLocked(coll)
	parent, ok := c.nodes[coll.ParentID]
	if !ok {
		cmn.Log.Warnw("tree: collectionAdded with unknown parent", "id", coll.ID, "parent", coll.ParentID)
		return
	}
	parent.children[coll.ID] = c.nodes[coll.ID]
}

// CollectionChanged updates the node's cached record in place, unless it
// was never hydrated (in which case the next lookup hydrates it fresh).
func (c *Cache) CollectionChanged(coll *model.Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[coll.ID]
	if !ok || n.coll == nil {
		return
	}
	old := n.coll
	n.coll = coll
	n.resource = coll.ResourceID
	if old.RemoteID != coll.RemoteID {
		if old.RemoteID != "" {
			delete(c.byRemoteID, remoteKey(old.ResourceID, old.RemoteID))
		}
		n.remoteID = coll.RemoteID
		if coll.RemoteID != "" {
			c.byRemoteID[remoteKey(coll.ResourceID, coll.RemoteID)] = coll.ID
		}
	}
}

// CollectionMoved re-links the node from its old parent to the new one.
func (c *Cache) CollectionMoved(id, newParentID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return
	}
	if old, ok := c.nodes[n.parentID]; ok {
		delete(old.children, id)
	}
	n.parentID = newParentID
	if coll := n.coll; coll != nil {
		coll.ParentID = newParentID
	}
	if newParent, ok := c.nodes[newParentID]; ok {
		newParent.children[id] = n
	}
}

// CollectionRemoved detaches and destroys the subtree rooted at id. Stale
// references to ids under the removed subtree see "missing" on the next
// lookup (spec §4.2).
func (c *Cache) CollectionRemoved(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return
	}
	if parent, ok := c.nodes[n.parentID]; ok {
		delete(parent.children, id)
	}
	c.destroySubtreeLocked(n)
}

func (c *Cache) destroySubtreeLocked(n *node) {
	for _, child := range n.children {
		c.destroySubtreeLocked(child)
	}
	delete(c.nodes, n.id)
	if n.remoteID != "" {
		delete(c.byRemoteID, remoteKey(n.resource, n.remoteID))
	}
}

// ScopeSelector selects the root of a Retrieve walk.
type ScopeSelector struct {
	ID       int64  // zero value means "unset"
	RemoteID string // set together with Resource to select by remote identity
	Resource string
}

// Retrieve walks the tree rooted at scope, visiting up to depth levels
// downward and ancestorDepth levels upward (spec §4.2 Queries). depth < 0
// means unbounded. Missing hydrations are batched into a single store round
// trip fetched concurrently via errgroup.
func (c *Cache) Retrieve(ctx context.Context, sel ScopeSelector, depth, ancestorDepth int) ([]*model.Collection, error) {
	rootID, err := c.resolveScope(sel)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	root, ok := c.nodes[rootID]
	c.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "collection not found")
	}

	missing := c.collectMissing(root, depth, ancestorDepth)
	if len(missing) > 0 {
		if err := c.hydrateMissing(ctx, missing); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.walkLocked(root, depth, ancestorDepth), nil
}

func (c *Cache) collectMissing(root *node, depth, ancestorDepth int) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []int64
	c.forEachDown(root, depth, func(n *node) {
		if n.coll == nil {
			missing = append(missing, n.id)
		}
	})
	n := root
	for d := ancestorDepth; d > 0 && n.parentID != Root; d-- {
		parent, ok := c.nodes[n.parentID]
		if !ok {
			break
		}
		if parent.coll == nil {
			missing = append(missing, parent.id)
		}
		n = parent
	}
	return missing
}

func (c *Cache) walkLocked(root *node, depth, ancestorDepth int) []*model.Collection {
	var out []*model.Collection
	c.forEachDown(root, depth, func(n *node) {
		if n.coll != nil {
			out = append(out, n.coll)
		}
	})
	n := root
	for d := ancestorDepth; d > 0 && n.parentID != Root; d-- {
		parent, ok := c.nodes[n.parentID]
		if !ok {
			break
		}
		if parent.coll != nil {
			out = append(out, parent.coll)
		}
		n = parent
	}
	return out
}

func (c *Cache) forEachDown(n *node, depth int, visit func(*node)) {
	if n.id != Root {
		visit(n)
	}
	if depth == 0 {
		return
	}
	for _, child := range n.children {
		c.forEachDown(child, depth-1, visit)
	}
}

// hydrateMissing fetches every missing id from the store concurrently and
// commits the results into the tree under a single write lock.
func (c *Cache) hydrateMissing(ctx context.Context, ids []int64) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fetched := make([]*model.Collection, len(ids))
	g, _ := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			coll, ok, err := tx.CollectionByID(id)
			if err != nil {
				return err
			}
			if ok {
				fetched[i] = coll
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, coll := range fetched {
		if coll == nil {
			continue
		}
		n, exists := c.nodes[coll.ID]
		if !exists {
			continue
		}
		n.coll = coll
		n.resource = coll.ResourceID
		n.remoteID = coll.RemoteID
		if coll.RemoteID != "" {
			c.byRemoteID[remoteKey(coll.ResourceID, coll.RemoteID)] = coll.ID
		}
	}
	return nil
}

func (c *Cache) resolveScope(sel ScopeSelector) (int64, error) {
	if sel.RemoteID != "" {
		c.mu.RLock()
		id, ok := c.byRemoteID[remoteKey(sel.Resource, sel.RemoteID)]
		c.mu.RUnlock()
		if !ok {
			return 0, model.NewError(model.ErrNotFound, "collection not found by remote id")
		}
		return id, nil
	}
	return sel.ID, nil
}

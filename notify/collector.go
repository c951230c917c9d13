// Package notify implements the notification collector (C4) and the
// notification manager & subscribers (C5): per-transaction buffering and
// coalescing of change notifications, and their filtered, bounded-
// concurrency fan-out to subscribed observers.
package notify

import (
	"sync"

	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/scope"
	"github.com/pim-systems/pimd/store"
)

// coalesceWindow bounds the backward search for a mergeable notification to
// the last ~10 entries, keeping large batches O(n) (spec §4.4).
const coalesceWindow = 10

// StatsSink receives the incremental side effects a committed batch has on
// the collection statistics cache (C10), avoiding a full recomputation for
// the common add/flag-change cases.
type StatsSink interface {
	ItemAdded(collectionID int64, size int64, seenOrIgnored bool)
	ItemRemoved(collectionID int64, size int64, seenOrIgnored bool)
	ReadStateChanged(collectionID int64, nowSeenOrIgnored bool)
	Invalidate(collectionID int64)
}

// Scopes exposes the manager's current aggregated fetch scopes, consulted
// by the collector's completion step (spec §4.4).
type Scopes interface {
	AggregatedItemScope() scope.ItemScope
	AggregatedCollectionScope() scope.CollectionScope
	AggregatedTagScope() scope.TagScope
}

// Collector buffers the notifications produced by one session's active
// transaction and coalesces them before hand-off to the manager.
type Collector struct {
	mu        sync.Mutex
	sessionID string
	buf       []*model.Notification
	ignoring  bool // true while performing internal completion reads (spec §4.4 atomicity)
}

func NewCollector(sessionID string) *Collector {
	return &Collector{sessionID: sessionID}
}

// Reset discards the buffer, used on transaction rollback.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = nil
}

func (c *Collector) emit(n *model.Notification) {
	n.SessionID = c.sessionID
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ignoring {
		return
	}
	c.appendCoalescedLocked(n)
}

func (c *Collector) appendCoalescedLocked(n *model.Notification) {
	if n.Kind == model.NotifyCollection && n.Operation == model.OpModify && n.Collection != nil {
		start := 0
		if len(c.buf) > coalesceWindow {
			start = len(c.buf) - coalesceWindow
		}
		for i := len(c.buf) - 1; i >= start; i-- {
			existing := c.buf[i]
			if existing.Kind != model.NotifyCollection || existing.Collection == nil {
				continue
			}
			if existing.Collection.ID != n.Collection.ID {
				continue
			}
			switch existing.Operation {
			case model.OpAdd:
				// a Modify following an Add for the same collection is
				// absorbed into the Add (spec §4.4).
				existing.Collection = n.Collection
				return
			case model.OpModify:
				if existing.ChangedParts == nil {
					existing.ChangedParts = map[string]struct{}{}
				}
				for part := range n.ChangedParts {
					existing.ChangedParts[part] = struct{}{}
				}
				existing.Collection = n.Collection
				return
			}
			break
		}
	}
	c.buf = append(c.buf, n)
}

// --- Item entry points ---

func (c *Collector) ItemAdded(parentID int64, resource string, item model.ItemRef) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpAdd, ParentID: parentID, Resource: resource, Items: []model.ItemRef{item}})
}

func (c *Collector) ItemChanged(parentID int64, resource string, item model.ItemRef, changedParts map[string]struct{}) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpModify, ParentID: parentID, Resource: resource, Items: []model.ItemRef{item}, ChangedParts: changedParts})
}

func (c *Collector) ItemsFlagsChanged(parentID int64, resource string, items []model.ItemRef, added, removed map[model.Flag]struct{}) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpModifyFlags, ParentID: parentID, Resource: resource, Items: items, AddedFlags: added, RemovedFlags: removed})
}

func (c *Collector) ItemsTagsChanged(parentID int64, resource string, items []model.ItemRef, added, removed map[int64]struct{}) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpModifyTags, ParentID: parentID, Resource: resource, Items: items, AddedTags: added, RemovedTags: removed})
}

func (c *Collector) ItemsRelationsChanged(items []model.ItemRef, added, removed []model.RelationRef) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpModifyRelations, Items: items, AddedRelations: added, RemovedRelations: removed})
}

func (c *Collector) ItemsMoved(srcParent, destParent int64, srcResource, destResource string, items []model.ItemRef) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpMove, ParentID: srcParent, DestParentID: destParent, Resource: srcResource, DestResource: destResource, Items: items})
}

func (c *Collector) ItemsRemoved(parentID int64, resource string, items []model.ItemRef) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpRemove, ParentID: parentID, Resource: resource, Items: items})
}

func (c *Collector) ItemsLinked(parentID int64, items []model.ItemRef) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpLink, ParentID: parentID, Items: items})
}

func (c *Collector) ItemsUnlinked(parentID int64, items []model.ItemRef) {
	c.emit(&model.Notification{Kind: model.NotifyItems, Operation: model.OpUnlink, ParentID: parentID, Items: items})
}

// --- Collection entry points ---

func (c *Collector) CollectionAdded(coll *model.Collection) {
	c.emit(&model.Notification{Kind: model.NotifyCollection, Operation: model.OpAdd, ParentID: coll.ParentID, Resource: coll.ResourceID, Collection: coll})
}

func (c *Collector) CollectionChanged(coll *model.Collection, changedParts map[string]struct{}) {
	c.emit(&model.Notification{Kind: model.NotifyCollection, Operation: model.OpModify, ParentID: coll.ParentID, Resource: coll.ResourceID, Collection: coll, ChangedParts: changedParts})
}

func (c *Collector) CollectionMoved(coll *model.Collection, srcParent int64) {
	c.emit(&model.Notification{Kind: model.NotifyCollection, Operation: model.OpMove, ParentID: srcParent, DestParentID: coll.ParentID, Resource: coll.ResourceID, Collection: coll})
}

func (c *Collector) CollectionRemoved(coll *model.Collection) {
	c.emit(&model.Notification{Kind: model.NotifyCollection, Operation: model.OpRemove, ParentID: coll.ParentID, Resource: coll.ResourceID, Collection: coll})
}

func (c *Collector) CollectionSubscribed(coll *model.Collection) {
	c.emit(&model.Notification{Kind: model.NotifyCollection, Operation: model.OpSubscribe, ParentID: coll.ParentID, Resource: coll.ResourceID, Collection: coll})
}

func (c *Collector) CollectionUnsubscribed(coll *model.Collection) {
	c.emit(&model.Notification{Kind: model.NotifyCollection, Operation: model.OpUnsubscribe, ParentID: coll.ParentID, Resource: coll.ResourceID, Collection: coll})
}

// --- Tag entry points ---

func (c *Collector) TagAdded(tag *model.Tag) {
	c.emit(&model.Notification{Kind: model.NotifyTag, Operation: model.OpAdd, Tag: tag})
}

func (c *Collector) TagChanged(tag *model.Tag) {
	c.emit(&model.Notification{Kind: model.NotifyTag, Operation: model.OpModify, Tag: tag})
}

func (c *Collector) TagRemoved(tag *model.Tag, resource string) {
	c.emit(&model.Notification{Kind: model.NotifyTag, Operation: model.OpRemove, Tag: tag, Resource: resource})
}

// --- Relation entry points ---

func (c *Collector) RelationAdded(rel model.RelationRef) {
	c.emit(&model.Notification{Kind: model.NotifyRelation, Operation: model.OpAdd, AddedRelations: []model.RelationRef{rel}})
}

func (c *Collector) RelationRemoved(rel model.RelationRef) {
	c.emit(&model.Notification{Kind: model.NotifyRelation, Operation: model.OpRemove, RemovedRelations: []model.RelationRef{rel}})
}

// DispatchNotifications completes and hands off the buffered batch on
// commit (spec §4.4). It returns whether anything was emitted. tx is used
// read-only to complete item notifications against the aggregated item
// scope; collection and tag notifications are not completed and carry the
// record they were emitted with. stats receives incremental side effects.
func (c *Collector) DispatchNotifications(tx store.Tx, scopes Scopes, stats StatsSink, sink func([]*model.Notification)) bool {
	c.mu.Lock()
	batch := c.buf
	c.buf = nil
	c.ignoring = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ignoring = false
		c.mu.Unlock()
	}()

	if len(batch) == 0 {
		return false
	}

	itemScope := scopes.AggregatedItemScope()
	collScope := scopes.AggregatedCollectionScope()
	tagScope := scopes.AggregatedTagScope()

	for _, n := range batch {
		c.complete(tx, n, itemScope, collScope, tagScope)
		c.applyStatsSideEffects(n, stats)
	}

	sink(batch)
	return true
}

func (c *Collector) complete(tx store.Tx, n *model.Notification, itemScope scope.ItemScope, collScope scope.CollectionScope, tagScope scope.TagScope) {
	switch n.Kind {
	case model.NotifyItems:
		// a removal's rows are already gone from tx by commit time, so there
		// is nothing to fetch; the caller must have set
		// ItemRef.RemovedSize/RemovedSeenOrIgnored up front instead.
		if n.Operation == model.OpRemove || itemScope.IdentityOnly() {
			return
		}
		for i := range n.Items {
			ref := &n.Items[i]
			if ref.RemoteID == "" {
				n.MustRetrieve = true
				continue
			}
			it, ok, err := tx.ItemByID(ref.ID)
			if err != nil || !ok {
				continue
			}
			ref.Fetched = it
		}
	case model.NotifyCollection:
		if n.Collection == nil || len(collScope.Attrs) == 0 {
			return
		}
	case model.NotifyTag:
		if n.Tag == nil || len(tagScope.Attrs) == 0 {
			return
		}
	}
}

func (c *Collector) applyStatsSideEffects(n *model.Notification, stats StatsSink) {
	if stats == nil {
		return
	}
	switch n.Kind {
	case model.NotifyItems:
		switch n.Operation {
		case model.OpAdd:
			for _, ref := range n.Items {
				if ref.Fetched != nil {
					stats.ItemAdded(n.ParentID, ref.Fetched.Size, ref.Fetched.HasReadFlag())
				}
			}
		case model.OpRemove:
			// ref.Fetched is never populated for a removal (see
			// Collector.complete); the pre-removal snapshot travels through
			// RemovedSize/RemovedSeenOrIgnored instead.
			for _, ref := range n.Items {
				stats.ItemRemoved(n.ParentID, ref.RemovedSize, ref.RemovedSeenOrIgnored)
			}
		case model.OpModifyFlags:
			for _, ref := range n.Items {
				if ref.Fetched != nil {
					stats.ReadStateChanged(n.ParentID, ref.Fetched.HasReadFlag())
				}
			}
		}
	case model.NotifyCollection:
		if n.ChangedParts != nil {
			if _, ok := n.ChangedParts["ENABLED"]; ok {
				stats.Invalidate(n.Collection.ID)
				return
			}
		}
		if n.Operation == model.OpRemove || n.Operation == model.OpMove {
			stats.Invalidate(n.Collection.ID)
		}
	}
}


package notify

import (
	"context"
	"sync"
	"time"

	"github.com/pim-systems/pimd/cmn"
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/scope"
	"golang.org/x/sync/semaphore"
)

// Manager owns the subscriber set, the server-wide aggregated scopes (C3),
// and the bounded-concurrency dispatcher (spec §4.5).
type Manager struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber

	items *scope.AggregatedItem
	colls *scope.AggregatedCollection
	tags  *scope.AggregatedTag

	referenced map[int64]struct{} // collections currently held open by a session

	sem          *semaphore.Weighted
	debugWanters int
	coalesce     time.Duration

	queueMu sync.Mutex
	queue   []*model.Notification
	timer   *time.Timer
}

// NewManager builds a manager with the given dispatch concurrency and
// coalescing window (spec §4.5: "a short coalescing timer (~50ms) drains
// the queue").
func NewManager(workers int, coalesce time.Duration) *Manager {
	return &Manager{
		subs:       make(map[string]*Subscriber),
		items:      scope.NewAggregatedItem(),
		colls:      scope.NewAggregatedCollection(),
		tags:       scope.NewAggregatedTag(),
		referenced: make(map[int64]struct{}),
		sem:        semaphore.NewWeighted(int64(workers)),
		coalesce:   coalesce,
	}
}

func (m *Manager) AggregatedItemScope() scope.ItemScope             { return m.items.Derived() }
func (m *Manager) AggregatedCollectionScope() scope.CollectionScope { return m.colls.Derived() }
func (m *Manager) AggregatedTagScope() scope.TagScope               { return m.tags.Derived() }

// MarkReferenced/UnmarkReferenced track collections actively held open by a
// session (e.g. via Select), consulted by the exclusivity filtering rule.
func (m *Manager) MarkReferenced(collectionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referenced[collectionID] = struct{}{}
}

func (m *Manager) UnmarkReferenced(collectionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.referenced, collectionID)
}

// ReferencedSnapshot returns a copy of the currently-referenced collection
// set, for tests; accept() itself reads m.referenced directly under lock.
func (m *Manager) ReferencedSnapshot() map[int64]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]struct{}, len(m.referenced))
	for id := range m.referenced {
		out[id] = struct{}{}
	}
	return out
}

// AddSubscriber registers sub and folds its scopes into the aggregates.
func (m *Manager) AddSubscriber(sub *Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.Name] = sub
	m.items.AddSubscriber(sub.ItemScope)
	m.colls.AddSubscriber(sub.CollectionScope)
	m.tags.AddSubscriber(sub.TagScope)
	if sub.WantDebug {
		m.debugWanters++
	}
}

// RemoveSubscriber retracts sub, e.g. when its transport dies.
func (m *Manager) RemoveSubscriber(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[name]
	if !ok {
		return
	}
	delete(m.subs, name)
	m.items.RemoveSubscriber(sub.ItemScope)
	m.colls.RemoveSubscriber(sub.CollectionScope)
	m.tags.RemoveSubscriber(sub.TagScope)
	if sub.WantDebug {
		m.debugWanters--
	}
}

// ModifySubscriber applies mutate to the named subscriber and threads the
// old/new scope delta through the aggregates.
func (m *Manager) ModifySubscriber(name string, mutate func(*Subscriber)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[name]
	if !ok {
		return
	}
	oldItem, oldColl, oldTag := sub.ItemScope, sub.CollectionScope, sub.TagScope
	wasDebug := sub.WantDebug
	mutate(sub)
	m.items.Apply(oldItem, sub.ItemScope)
	m.colls.Apply(oldColl, sub.CollectionScope)
	m.tags.Apply(oldTag, sub.TagScope)
	if wasDebug != sub.WantDebug {
		if sub.WantDebug {
			m.debugWanters++
		} else {
			m.debugWanters--
		}
	}
}

// ApplyModifySubscription re-applies a ModifySubscription's full payload to
// the named subscriber, e.g. on receipt of the protocol command.
func (m *Manager) ApplyModifySubscription(name string, req *protocol.ModifySubscription, wantDebug bool) {
	m.ModifySubscriber(name, func(sub *Subscriber) {
		applyCreateSubscription(sub, &req.CreateSubscription, wantDebug)
	})
}

// Enqueue accepts a committed batch from a collector. Notifications are
// queued in arrival order without further merging, and the queue is
// dispatched once the coalescing timer fires.
func (m *Manager) Enqueue(batch []*model.Notification) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	m.queue = append(m.queue, batch...)
	if m.timer == nil {
		m.timer = time.AfterFunc(m.coalesce, m.drain)
	}
}

func (m *Manager) drain() {
	m.queueMu.Lock()
	batch := m.queue
	m.queue = nil
	m.timer = nil
	m.queueMu.Unlock()
	if len(batch) > 0 {
		m.Dispatch(batch)
	}
}

// Dispatch filters and fans batch out to every accepting subscriber with
// bounded concurrency. When any subscriber wants debug tracing, dispatch is
// serialized so a Debug notification can enumerate exact recipients.
func (m *Manager) Dispatch(batch []*model.Notification) {
	m.mu.RLock()
	subs := make([]*Subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	referenced := make(map[int64]struct{}, len(m.referenced))
	for id := range m.referenced {
		referenced[id] = struct{}{}
	}
	serialize := m.debugWanters > 0
	m.mu.RUnlock()

	for _, n := range batch {
		recipients := make([]string, 0, len(subs))
		var wg sync.WaitGroup
		for _, sub := range subs {
			if !accept(sub, n, referenced) {
				continue
			}
			recipients = append(recipients, sub.Name)
			if serialize {
				m.deliver(sub, n)
				continue
			}
			wg.Add(1)
			_ = m.sem.Acquire(context.Background(), 1)
			go func(sub *Subscriber) {
				defer wg.Done()
				defer m.sem.Release(1)
				m.deliver(sub, n)
			}(sub)
		}
		if !serialize {
			wg.Wait()
		}
		if serialize && len(recipients) > 0 {
			m.emitDebug(n, recipients)
		}
	}
}

func (m *Manager) deliver(sub *Subscriber, n *model.Notification) {
	if err := sub.Transport.Send(n); err != nil {
		cmn.Log.Warnw("notify: dropping subscriber with dead transport", "name", sub.Name, "error", err)
		m.RemoveSubscriber(sub.Name)
	}
}

func (m *Manager) emitDebug(n *model.Notification, recipients []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	debugN := &model.Notification{Kind: model.NotifyDebug, Operation: n.Operation, DebugListeners: recipients}
	for _, sub := range m.subs {
		if sub.WantDebug {
			_ = sub.Transport.Send(debugN)
		}
	}
}

// Snapshot reports the currently registered subscribers in the same shape a
// Debug notification carries, for cmd/pimd's periodic admin dump consumed by
// cmd/pimctl's offline `subscribers` command.
func (m *Manager) Snapshot() []protocol.SubscriberSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.SubscriberSnapshot, 0, len(m.subs))
	for _, sub := range m.subs {
		snap := protocol.SubscriberSnapshot{Name: sub.Name, AllMonitored: sub.AllMonitored}
		for id := range sub.MonitoredCollections {
			snap.Collections = append(snap.Collections, id)
		}
		for res := range sub.MonitoredResources {
			snap.Resources = append(snap.Resources, res)
		}
		out = append(out, snap)
	}
	return out
}

// accept implements the filtering algorithm (spec §4.5).
func accept(sub *Subscriber, n *model.Notification, referenced map[int64]struct{}) bool {
	if _, ignored := sub.IgnoredSessions[n.SessionID]; ignored {
		return false
	}
	entities := n.Entities()
	if len(entities) == 0 {
		return false
	}
	if n.Kind == model.NotifyCollection && n.Collection != nil {
		if _, isReferenced := referenced[n.Collection.ID]; isReferenced {
			_, exclusive := sub.ExclusiveForCollections[n.Collection.ID]
			_, monitored := sub.MonitoredCollections[n.Collection.ID]
			if !exclusive && !monitored {
				return false
			}
		}
	}
	if sub.AllMonitored {
		return true
	}
	if _, ok := sub.MonitoredKinds[n.Kind]; !ok {
		return false
	}
	if n.Resource != "" {
		if _, ok := sub.MonitoredResources[n.Resource]; ok {
			return true
		}
	}
	for _, mt := range n.MimeTypes() {
		if _, ok := sub.MonitoredMimeTypes[mt]; ok {
			return true
		}
	}
	for _, id := range entities {
		if _, ok := sub.MonitoredItems[id]; ok {
			return true
		}
		if _, ok := sub.MonitoredCollections[id]; ok {
			return true
		}
		if _, ok := sub.MonitoredTags[id]; ok {
			return true
		}
	}
	if n.ParentID != 0 {
		if _, ok := sub.MonitoredCollections[n.ParentID]; ok {
			return true
		}
	}
	if n.Operation == model.OpMove {
		if n.DestResource != "" {
			if _, ok := sub.MonitoredResources[n.DestResource]; ok {
				return true
			}
		}
		if _, ok := sub.MonitoredCollections[n.DestParentID]; ok {
			return true
		}
	}
	return false
}

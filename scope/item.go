package scope

import (
	"sync"

	"github.com/pim-systems/pimd/model"
)

// ItemScope is one subscriber's desired item fetch scope (value semantics;
// compared field-by-field by AggregatedItem.Apply).
type ItemScope struct {
	Attrs                 map[string]struct{}
	Parts                 map[string]struct{}
	AncestorDepth         model.AncestorDepth
	FetchFlags            bool
	FetchTags             bool
	FetchRelations        bool
	FetchRemoteID         bool
	CacheOnly             bool // exclusivity: true only if ALL subscribers want it
	IgnoreErrors          bool // exclusivity: true only if ALL subscribers want it
	FetchIDOnly           bool // exclusivity: true only if ALL subscribers want it
	FetchAllAttributesOff bool // this subscriber explicitly opted OUT of fetchAllAttributes
}

// AggregatedItem is the server-wide union of every current subscriber's
// ItemScope (C3).
type AggregatedItem struct {
	mu sync.RWMutex

	subscribers int
	attrs       refSet
	parts       refSet
	ancestor    [3]int // count of subscribers requesting each AncestorDepth value
	flags       boolCounter
	tags        boolCounter
	relations   boolCounter
	remoteID    boolCounter
	cacheOnly   boolCounter
	ignoreErrs  boolCounter
	idOnly      boolCounter
	allAttrsOff boolCounter

	cached    *ItemScope
	cacheIsOn bool
}

func NewAggregatedItem() *AggregatedItem {
	return &AggregatedItem{attrs: newRefSet(), parts: newRefSet()}
}

// AddSubscriber registers a new subscriber's initial scope.
func (a *AggregatedItem) AddSubscriber(s ItemScope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers++
	a.applyLocked(ItemScope{}, s)
}

// RemoveSubscriber retracts a departing subscriber's last-known scope.
func (a *AggregatedItem) RemoveSubscriber(last ItemScope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyLocked(last, ItemScope{})
	a.subscribers--
}

// Apply moves one subscriber from old to new (e.g. a ModifySubscription).
func (a *AggregatedItem) Apply(old, new ItemScope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyLocked(old, new)
}

func (a *AggregatedItem) applyLocked(old, new ItemScope) {
	a.attrs.apply(old.Attrs, new.Attrs)
	a.parts.apply(old.Parts, new.Parts)
	if old.AncestorDepth != new.AncestorDepth {
		a.ancestor[old.AncestorDepth]--
		a.ancestor[new.AncestorDepth]++
	}
	a.flags.update(old.FetchFlags, new.FetchFlags)
	a.tags.update(old.FetchTags, new.FetchTags)
	a.relations.update(old.FetchRelations, new.FetchRelations)
	a.remoteID.update(old.FetchRemoteID, new.FetchRemoteID)
	a.cacheOnly.update(old.CacheOnly, new.CacheOnly)
	a.ignoreErrs.update(old.IgnoreErrors, new.IgnoreErrors)
	a.idOnly.update(old.FetchIDOnly, new.FetchIDOnly)
	a.allAttrsOff.update(old.FetchAllAttributesOff, new.FetchAllAttributesOff)
	a.cacheIsOn = false
	a.cached = nil
}

// Derived returns the field-wise union over all current subscribers,
// caching the reified value until the next mutation (spec §4.3 concurrency:
// "a derived protocol-shaped scope is cached and invalidated on any
// mutation").
func (a *AggregatedItem) Derived() ItemScope {
	a.mu.RLock()
	if a.cacheIsOn {
		s := *a.cached
		a.mu.RUnlock()
		return s
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cacheIsOn {
		return *a.cached
	}
	var maxDepth model.AncestorDepth
	for d := model.AncestorAll; d >= model.AncestorNone; d-- {
		if a.ancestor[d] > 0 {
			maxDepth = d
			break
		}
	}
	s := ItemScope{
		Attrs:                 a.attrs.snapshot(),
		Parts:                 a.parts.snapshot(),
		AncestorDepth:         maxDepth,
		FetchFlags:            a.flags.any(),
		FetchTags:             a.tags.any(),
		FetchRelations:        a.relations.any(),
		FetchRemoteID:         a.remoteID.any(),
		CacheOnly:             a.cacheOnly.all(a.subscribers),
		IgnoreErrors:          a.ignoreErrs.all(a.subscribers),
		FetchIDOnly:           a.idOnly.all(a.subscribers),
		FetchAllAttributesOff: a.allAttrsOff.all(a.subscribers),
	}
	a.cached = &s
	a.cacheIsOn = true
	return s
}

// FetchAllAttributes defaults true, suppressed only when every subscriber
// has explicitly opted out (spec §4.3).
func (a *AggregatedItem) FetchAllAttributes() bool {
	return !a.Derived().FetchAllAttributesOff
}

// IdentityOnly reports whether the aggregated scope asks for nothing beyond
// item identity, used by the notification collector to skip completion
// fetches entirely (spec §4.4).
func (s ItemScope) IdentityOnly() bool {
	return len(s.Attrs) == 0 && len(s.Parts) == 0 && s.AncestorDepth == model.AncestorNone &&
		!s.FetchFlags && !s.FetchTags && !s.FetchRelations
}

package notify

import (
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/scope"
)

// Transport delivers one notification to a subscriber's connection. A
// transport that returns an error is considered dead and its subscriber is
// dropped by the manager.
type Transport interface {
	Send(n *model.Notification) error
}

// Subscriber is the manager's record of one CreateSubscription (spec §4.5).
type Subscriber struct {
	Name      string
	Transport Transport

	AllMonitored            bool
	MonitoredCollections    map[int64]struct{}
	MonitoredItems          map[int64]struct{}
	MonitoredTags           map[int64]struct{}
	MonitoredResources      map[string]struct{}
	MonitoredMimeTypes      map[string]struct{}
	MonitoredKinds          map[model.NotificationKind]struct{}
	IgnoredSessions         map[string]struct{}
	ExclusiveForCollections map[int64]struct{}
	WantDebug               bool

	ItemScope       scope.ItemScope
	CollectionScope scope.CollectionScope
	TagScope        scope.TagScope
}

// NewSubscriber builds a Subscriber with empty (non-nil) monitored sets, so
// ModifySubscription deltas never need a nil check.
func NewSubscriber(name string, transport Transport) *Subscriber {
	return &Subscriber{
		Name:                    name,
		Transport:               transport,
		MonitoredCollections:    map[int64]struct{}{},
		MonitoredItems:          map[int64]struct{}{},
		MonitoredTags:           map[int64]struct{}{},
		MonitoredResources:      map[string]struct{}{},
		MonitoredMimeTypes:      map[string]struct{}{},
		MonitoredKinds:          map[model.NotificationKind]struct{}{},
		IgnoredSessions:         map[string]struct{}{},
		ExclusiveForCollections: map[int64]struct{}{},
	}
}

// applyCreateSubscription folds a decoded CreateSubscription/ModifySubscription
// payload into sub, replacing every monitored set and scope wholesale. Used
// for both initial registration and full re-application on Modify.
func applyCreateSubscription(sub *Subscriber, req *protocol.CreateSubscription, wantDebug bool) {
	sub.AllMonitored = req.AllMonitored
	sub.MonitoredCollections = int64Set(req.MonitoredCollections)
	sub.MonitoredItems = int64Set(req.MonitoredItems)
	sub.MonitoredTags = int64Set(req.MonitoredTags)
	sub.MonitoredResources = stringSet(req.MonitoredResources)
	sub.MonitoredMimeTypes = map[string]struct{}{}
	sub.MonitoredKinds = kindSet(req.MonitoredTypes)
	sub.IgnoredSessions = stringSet(req.IgnoredSessions)
	sub.ExclusiveForCollections = int64Set(req.ExclusiveForCollections)
	sub.WantDebug = wantDebug

	sub.ItemScope = scope.ItemScope{
		Attrs:          stringSet(req.ItemScope.AttrNames),
		Parts:          stringSet(req.ItemScope.PartNames),
		AncestorDepth:  model.AncestorDepth(req.ItemScope.AncestorDepth),
		FetchFlags:     req.ItemScope.FetchFlags,
		FetchTags:      req.ItemScope.FetchTags,
		FetchRelations: req.ItemScope.FetchRelations,
		FetchRemoteID:  req.ItemScope.FetchRemoteID,
		CacheOnly:      req.ItemScope.CacheOnly,
		IgnoreErrors:   req.ItemScope.IgnoreErrors,
		FetchIDOnly:    req.ItemScope.FetchIDOnly,
	}
	sub.CollectionScope = scope.CollectionScope{
		Attrs:       stringSet(req.CollectionAttrs),
		FetchIDOnly: req.CollectionFetchIDOnly,
		FetchStats:  req.CollectionFetchStats,
	}
	sub.TagScope = scope.TagScope{
		Attrs:         stringSet(req.TagAttrs),
		FetchIDOnly:   req.TagFetchIDOnly,
		FetchRemoteID: req.TagFetchRemoteID,
	}
}

// NewSubscriberFromRequest builds a Subscriber from a CreateSubscription
// command's decoded payload.
func NewSubscriberFromRequest(req *protocol.CreateSubscription, transport Transport, wantDebug bool) *Subscriber {
	sub := NewSubscriber(req.SubscriberName, transport)
	applyCreateSubscription(sub, req, wantDebug)
	return sub
}

// RequestWantsDebug reports whether req opts its subscriber into Debug
// notifications. There is no separate wire field for this: a client asks by
// naming "Debug" alongside its other monitored types, the same way it names
// "Items" or "Collection". kindSet never matches "Debug" to a
// model.NotificationKind, since Debug notifications are synthesized by the
// manager for every dispatch and never filtered through accept() like a
// regular kind.
func RequestWantsDebug(req *protocol.CreateSubscription) bool {
	for _, t := range req.MonitoredTypes {
		if t == "Debug" {
			return true
		}
	}
	return false
}

func stringSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, s := range list {
		out[s] = struct{}{}
	}
	return out
}

func int64Set(list []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(list))
	for _, v := range list {
		out[v] = struct{}{}
	}
	return out
}

func kindSet(list []string) map[model.NotificationKind]struct{} {
	out := make(map[model.NotificationKind]struct{}, len(list))
	for _, s := range list {
		switch s {
		case "Items":
			out[model.NotifyItems] = struct{}{}
		case "Collection":
			out[model.NotifyCollection] = struct{}{}
		case "Tag":
			out[model.NotifyTag] = struct{}{}
		case "Relation":
			out[model.NotifyRelation] = struct{}{}
		case "Subscription":
			out[model.NotifySubscription] = struct{}{}
		}
	}
	return out
}

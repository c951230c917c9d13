package handlers

import (
	"strconv"
	"time"

	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/store"
)

// Recognized ModifyCollection.Changed keys (spec §4.7: "a declarative
// change set (name, enabled tristates, cache policy, attributes)").
const (
	changedName               = "NAME"
	changedEnabled            = "ENABLED"
	changedDisplayPref        = "DISPLAY_PREF"
	changedSyncPref           = "SYNC_PREF"
	changedIndexPref          = "INDEX_PREF"
	changedCacheInherit       = "CACHE_INHERIT"
	changedCacheTTL           = "CACHE_TTL"
	changedCacheCheckInterval = "CACHE_CHECK_INTERVAL"
	changedCacheSyncOnDemand  = "CACHE_SYNC_ON_DEMAND"
	changedAttributes         = "ATTRIBUTES"
)

// ModifyCollection parses the declarative change set and applies only the
// fields present in Changed. It emits a Collection-Modify notification
// whose changed-parts enumerate exactly which logical aspects changed, and
// an additional Subscribe or Unsubscribe notification alongside the Modify
// when enablement transitions (spec §4.7).
func (d *Deps) ModifyCollection(_ *session.Context, tx store.Tx, collector *notify.Collector, msg protocol.Message, _ func(protocol.Message) error) error {
	req := msg.(*protocol.ModifyCollection)

	coll, ok, err := tx.CollectionByID(req.CollectionID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("collection not found")
	}

	wasEnabled := coll.Enabled
	changed := map[string]struct{}{}

	for key, val := range req.Changed {
		switch key {
		case changedName:
			if coll.Name != val {
				coll.Name = val
				changed[changedName] = struct{}{}
			}
		case changedEnabled:
			if b := val == "true"; coll.Enabled != b {
				coll.Enabled = b
				changed[changedEnabled] = struct{}{}
			}
		case changedDisplayPref:
			if t := parseTristate(val); coll.Prefs.Display != t {
				coll.Prefs.Display = t
				changed[changedDisplayPref] = struct{}{}
			}
		case changedSyncPref:
			if t := parseTristate(val); coll.Prefs.Sync != t {
				coll.Prefs.Sync = t
				changed[changedSyncPref] = struct{}{}
			}
		case changedIndexPref:
			if t := parseTristate(val); coll.Prefs.Index != t {
				coll.Prefs.Index = t
				changed[changedIndexPref] = struct{}{}
			}
		case changedCacheInherit:
			if b := val == "true"; coll.Cache.Inherit != b {
				coll.Cache.Inherit = b
				changed[changedCacheInherit] = struct{}{}
			}
		case changedCacheTTL:
			if dur, perr := time.ParseDuration(val); perr == nil && coll.Cache.TTL != dur {
				coll.Cache.TTL = dur
				changed[changedCacheTTL] = struct{}{}
			}
		case changedCacheCheckInterval:
			if dur, perr := time.ParseDuration(val); perr == nil && coll.Cache.CheckInterval != dur {
				coll.Cache.CheckInterval = dur
				changed[changedCacheCheckInterval] = struct{}{}
			}
		case changedCacheSyncOnDemand:
			if b, perr := strconv.ParseBool(val); perr == nil && coll.Cache.SyncOnDemand != b {
				coll.Cache.SyncOnDemand = b
				changed[changedCacheSyncOnDemand] = struct{}{}
			}
		}
	}

	if attrs, did := applyAttributeChanges(coll.Attributes, req.Attributes, req.DeletedAttrs); did {
		coll.Attributes = attrs
		changed[changedAttributes] = struct{}{}
	}

	if len(changed) == 0 {
		return nil
	}

	if err := tx.UpdateCollection(coll); err != nil {
		return err
	}
	d.Tree.CollectionChanged(coll)
	collector.CollectionChanged(coll, changed)

	if _, ok := changed[changedEnabled]; ok {
		switch {
		case coll.Enabled && !wasEnabled:
			collector.CollectionSubscribed(coll)
		case !coll.Enabled && wasEnabled:
			collector.CollectionUnsubscribed(coll)
		}
	}
	return nil
}

func parseTristate(val string) model.Tristate {
	switch val {
	case "true":
		return model.True
	case "false":
		return model.False
	default:
		return model.Undefined
	}
}

// applyAttributeChanges additively sets/replaces attrs by key and removes
// the keys named in deleted, reporting whether anything actually changed.
func applyAttributeChanges(attrs []model.Attribute, add []model.Attribute, deleted []string) ([]model.Attribute, bool) {
	if len(add) == 0 && len(deleted) == 0 {
		return attrs, false
	}
	byKey := make(map[string]model.Attribute, len(attrs))
	order := make([]string, 0, len(attrs))
	for _, a := range attrs {
		k := string(a.Key)
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = a
	}
	changed := false
	for _, a := range add {
		k := string(a.Key)
		if existing, ok := byKey[k]; !ok || string(existing.Value) != string(a.Value) {
			changed = true
		}
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = a
	}
	for _, k := range deleted {
		if _, ok := byKey[k]; ok {
			delete(byKey, k)
			changed = true
		}
	}
	if !changed {
		return attrs, false
	}
	out := make([]model.Attribute, 0, len(byKey))
	for _, k := range order {
		if a, ok := byKey[k]; ok {
			out = append(out, a)
		}
	}
	return out, true
}

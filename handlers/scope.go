package handlers

import (
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/store"
)

// resolveItems turns a wire Scope plus a fallback collection id into the set
// of items a fetch-items call addresses (spec §4.7: "computes a set of
// items from a scope (UID, remote-id, GID, hierarchical-rid)"). An empty
// scope falls back to every item directly in collectionID, already ordered
// by id descending (store.Tx.ItemsByCollection).
func resolveItems(tx store.Tx, sc protocol.Scope, collectionID int64, resource string) ([]*model.Item, error) {
	switch sc.Kind {
	case protocol.ScopeEmpty:
		return tx.ItemsByCollection(collectionID)
	case protocol.ScopeUID:
		items := make([]*model.Item, 0, len(sc.UIDs))
		for _, id := range sc.UIDs {
			it, ok, err := tx.ItemByID(id)
			if err != nil {
				return nil, err
			}
			if ok {
				items = append(items, it)
			}
		}
		return items, nil
	case protocol.ScopeRemoteID:
		resource, err := requireResource(resource)
		if err != nil {
			return nil, err
		}
		items := make([]*model.Item, 0, len(sc.RemoteIDs))
		for _, rid := range sc.RemoteIDs {
			it, ok, err := tx.ItemByRemoteID(resource, rid)
			if err != nil {
				return nil, err
			}
			if ok {
				items = append(items, it)
			}
		}
		return items, nil
	case protocol.ScopeGID:
		items := make([]*model.Item, 0, len(sc.GIDs))
		for _, gid := range sc.GIDs {
			it, ok, err := tx.ItemByGID(gid)
			if err != nil {
				return nil, err
			}
			if ok {
				items = append(items, it)
			}
		}
		return items, nil
	case protocol.ScopeHierarchicalRID:
		return nil, malformed("hierarchical-rid scope does not apply to items")
	default:
		return nil, malformed("unknown scope kind")
	}
}

// additiveAttributes combines fetchAllAttributes with an explicit
// allow-list additively: the all-flag wins outright, otherwise only the
// named attributes pass (spec §4.7).
func additiveAttributes(attrs []model.Attribute, all bool, names []string) []model.Attribute {
	if all {
		return attrs
	}
	if len(names) == 0 {
		return nil
	}
	return filterAttributes(attrs, names)
}

// resolveTags turns a wire Scope into a tag set. Tag operations accept UID,
// GID and RID scopes (spec §6); an empty scope selects every tag.
func resolveTags(tx store.Tx, sc protocol.Scope, resource string) ([]*model.Tag, error) {
	switch sc.Kind {
	case protocol.ScopeEmpty:
		return tx.AllTags()
	case protocol.ScopeUID:
		tags := make([]*model.Tag, 0, len(sc.UIDs))
		for _, id := range sc.UIDs {
			t, ok, err := tx.TagByID(id)
			if err != nil {
				return nil, err
			}
			if ok {
				tags = append(tags, t)
			}
		}
		return tags, nil
	case protocol.ScopeGID:
		tags := make([]*model.Tag, 0, len(sc.GIDs))
		for _, gid := range sc.GIDs {
			t, ok, err := tx.TagByGID(gid)
			if err != nil {
				return nil, err
			}
			if ok {
				tags = append(tags, t)
			}
		}
		return tags, nil
	case protocol.ScopeRemoteID:
		resource, err := requireResource(resource)
		if err != nil {
			return nil, err
		}
		all, err := tx.AllTags()
		if err != nil {
			return nil, err
		}
		tags := make([]*model.Tag, 0, len(sc.RemoteIDs))
		for _, rid := range sc.RemoteIDs {
			for _, t := range all {
				if t.RemoteIDs[resource] == rid {
					tags = append(tags, t)
					break
				}
			}
		}
		return tags, nil
	default:
		return nil, malformed("tag scope accepts UID, GID or remote-id only")
	}
}

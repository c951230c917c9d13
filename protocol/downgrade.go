package protocol

import "github.com/pim-systems/pimd/model"

// V1 notification kinds predate the unified v3 Notification record: v1
// split item additions/removals/modifications into separate wire shapes
// instead of carrying one Operation-tagged envelope (resolved Open Question,
// see DESIGN.md: "v1/v3 notification duality").
type V1Kind uint8

const (
	V1ItemAdded V1Kind = iota
	V1ItemChanged
	V1ItemMoved
	V1ItemRemoved
	V1ItemLinked
	V1ItemUnlinked
	V1CollectionAdded
	V1CollectionChanged
	V1CollectionMoved
	V1CollectionRemoved
	V1CollectionSubscribed
	V1CollectionUnsubscribed
)

// V1Notification is the flattened shape a legacy client expects: one
// notification per affected item/collection instead of v3's single batched
// envelope, and no Tag/Relation kinds at all (both postdate v1).
type V1Notification struct {
	Kind         V1Kind
	SessionID    string
	ParentID     int64
	DestParentID int64
	Resource     string
	ItemID       int64
	RemoteID     string
	MimeType     string
}

// DowngradeToV1 expands one v3 model.Notification into the flattened
// per-item/per-collection v1 sequence a legacy client expects. Tag and
// Relation notifications have no v1 representation and are dropped.
func DowngradeToV1(n *model.Notification) []V1Notification {
	switch n.Kind {
	case model.NotifyCollection:
		return []V1Notification{{
			Kind:      collectionV1Kind(n.Operation),
			SessionID: n.SessionID,
			ParentID:  n.ParentID,
			Resource:  n.Resource,
			ItemID:    collID(n),
		}}
	case model.NotifyItems:
		kind := itemV1Kind(n.Operation)
		out := make([]V1Notification, 0, len(n.Items))
		for _, it := range n.Items {
			out = append(out, V1Notification{
				Kind:         kind,
				SessionID:    n.SessionID,
				ParentID:     n.ParentID,
				DestParentID: n.DestParentID,
				Resource:     n.Resource,
				ItemID:       it.ID,
				RemoteID:     it.RemoteID,
				MimeType:     it.MimeType,
			})
		}
		return out
	default:
		return nil
	}
}

func collID(n *model.Notification) int64 {
	if n.Collection != nil {
		return n.Collection.ID
	}
	return 0
}

func collectionV1Kind(op model.Operation) V1Kind {
	switch op {
	case model.OpAdd:
		return V1CollectionAdded
	case model.OpModify:
		return V1CollectionChanged
	case model.OpMove:
		return V1CollectionMoved
	case model.OpRemove:
		return V1CollectionRemoved
	case model.OpSubscribe:
		return V1CollectionSubscribed
	case model.OpUnsubscribe:
		return V1CollectionUnsubscribed
	default:
		return V1CollectionChanged
	}
}

func itemV1Kind(op model.Operation) V1Kind {
	switch op {
	case model.OpAdd:
		return V1ItemAdded
	case model.OpMove:
		return V1ItemMoved
	case model.OpRemove:
		return V1ItemRemoved
	case model.OpLink:
		return V1ItemLinked
	case model.OpUnlink:
		return V1ItemUnlinked
	default:
		return V1ItemChanged
	}
}

package protocol

import "github.com/pim-systems/pimd/model"

// notificationPayload is the common wire encoding shared by every
// *ChangeNotification variant; the Type byte alone tells a v3 client which
// entity family it describes, but the Kind is carried too so a downgraded
// v1 stream (see downgrade.go) can still discriminate after merging.
type notificationPayload struct{ n *model.Notification }

func (p notificationPayload) encode(w *Writer) error {
	n := p.n
	if err := w.WriteByte(byte(n.Kind)); err != nil {
		return err
	}
	if err := w.WriteByte(byte(n.Operation)); err != nil {
		return err
	}
	if err := w.WriteString(n.SessionID); err != nil {
		return err
	}
	if err := w.WriteStringMap(n.Metadata); err != nil {
		return err
	}
	if err := w.WriteInt64(n.ParentID); err != nil {
		return err
	}
	if err := w.WriteInt64(n.DestParentID); err != nil {
		return err
	}
	if err := w.WriteString(n.Resource); err != nil {
		return err
	}
	if err := w.WriteString(n.DestResource); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(len(n.Items))); err != nil {
		return err
	}
	for _, it := range n.Items {
		if err := w.WriteInt64(it.ID); err != nil {
			return err
		}
		if err := w.WriteString(it.RemoteID); err != nil {
			return err
		}
		if err := w.WriteString(it.MimeType); err != nil {
			return err
		}
		hasFetched := it.Fetched != nil
		if err := w.WriteBool(hasFetched); err != nil {
			return err
		}
		if hasFetched {
			if err := encodeItem(w, it.Fetched); err != nil {
				return err
			}
		}
	}
	if err := writeStringSet(w, changedPartNames(n.ChangedParts)); err != nil {
		return err
	}
	if err := writeStringSet(w, flagNames(n.AddedFlags)); err != nil {
		return err
	}
	if err := writeStringSet(w, flagNames(n.RemovedFlags)); err != nil {
		return err
	}
	if err := w.WriteInt64List(int64SetToList(n.AddedTags)); err != nil {
		return err
	}
	if err := w.WriteInt64List(int64SetToList(n.RemovedTags)); err != nil {
		return err
	}
	if err := writeRelationRefs(w, n.AddedRelations); err != nil {
		return err
	}
	if err := writeRelationRefs(w, n.RemovedRelations); err != nil {
		return err
	}
	hasColl := n.Collection != nil
	if err := w.WriteBool(hasColl); err != nil {
		return err
	}
	if hasColl {
		if err := encodeCollection(w, n.Collection); err != nil {
			return err
		}
	}
	hasTag := n.Tag != nil
	if err := w.WriteBool(hasTag); err != nil {
		return err
	}
	if hasTag {
		if err := encodeTag(w, n.Tag); err != nil {
			return err
		}
	}
	if err := w.WriteBool(n.MustRetrieve); err != nil {
		return err
	}
	return w.WriteStringList(n.DebugListeners)
}

func (p *notificationPayload) decode(r *Reader) error {
	n := &model.Notification{}
	p.n = n
	k, err := r.ReadByte()
	if err != nil {
		return err
	}
	n.Kind = model.NotificationKind(k)
	op, err := r.ReadByte()
	if err != nil {
		return err
	}
	n.Operation = model.Operation(op)
	if n.SessionID, err = r.ReadString(); err != nil {
		return err
	}
	if n.Metadata, err = r.ReadStringMap(); err != nil {
		return err
	}
	if n.ParentID, err = r.ReadInt64(); err != nil {
		return err
	}
	if n.DestParentID, err = r.ReadInt64(); err != nil {
		return err
	}
	if n.Resource, err = r.ReadString(); err != nil {
		return err
	}
	if n.DestResource, err = r.ReadString(); err != nil {
		return err
	}
	nItems, err := r.ReadUint32()
	if err != nil {
		return err
	}
	n.Items = make([]model.ItemRef, nItems)
	for i := range n.Items {
		it := &n.Items[i]
		if it.ID, err = r.ReadInt64(); err != nil {
			return err
		}
		if it.RemoteID, err = r.ReadString(); err != nil {
			return err
		}
		if it.MimeType, err = r.ReadString(); err != nil {
			return err
		}
		has, err := r.ReadBool()
		if err != nil {
			return err
		}
		if has {
			if it.Fetched, err = decodeItem(r); err != nil {
				return err
			}
		}
	}
	changedParts, err := readStringSet(r)
	if err != nil {
		return err
	}
	n.ChangedParts = changedParts
	addedFlags, err := readFlagSet(r)
	if err != nil {
		return err
	}
	n.AddedFlags = addedFlags
	removedFlags, err := readFlagSet(r)
	if err != nil {
		return err
	}
	n.RemovedFlags = removedFlags
	addedTags, err := r.ReadInt64List()
	if err != nil {
		return err
	}
	n.AddedTags = int64ListToSet(addedTags)
	removedTags, err := r.ReadInt64List()
	if err != nil {
		return err
	}
	n.RemovedTags = int64ListToSet(removedTags)
	if n.AddedRelations, err = readRelationRefs(r); err != nil {
		return err
	}
	if n.RemovedRelations, err = readRelationRefs(r); err != nil {
		return err
	}
	hasColl, err := r.ReadBool()
	if err != nil {
		return err
	}
	if hasColl {
		if n.Collection, err = decodeCollection(r); err != nil {
			return err
		}
	}
	hasTag, err := r.ReadBool()
	if err != nil {
		return err
	}
	if hasTag {
		if n.Tag, err = decodeTag(r); err != nil {
			return err
		}
	}
	if n.MustRetrieve, err = r.ReadBool(); err != nil {
		return err
	}
	n.DebugListeners, err = r.ReadStringList()
	return err
}

func changedPartNames(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func flagNames(m map[model.Flag]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, string(k))
	}
	return out
}

func int64SetToList(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func int64ListToSet(list []int64) map[int64]struct{} {
	if len(list) == 0 {
		return nil
	}
	out := make(map[int64]struct{}, len(list))
	for _, v := range list {
		out[v] = struct{}{}
	}
	return out
}

func writeStringSet(w *Writer, names []string) error { return w.WriteStringList(names) }

func readStringSet(r *Reader) (map[string]struct{}, error) {
	names, err := r.ReadStringList()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out, nil
}

func readFlagSet(r *Reader) (map[model.Flag]struct{}, error) {
	names, err := r.ReadStringList()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	out := make(map[model.Flag]struct{}, len(names))
	for _, n := range names {
		out[model.Flag(n)] = struct{}{}
	}
	return out, nil
}

func writeRelationRefs(w *Writer, refs []model.RelationRef) error {
	if err := w.WriteUint32(uint32(len(refs))); err != nil {
		return err
	}
	for _, rr := range refs {
		if err := w.WriteInt64(rr.Left); err != nil {
			return err
		}
		if err := w.WriteInt64(rr.Right); err != nil {
			return err
		}
		if err := w.WriteString(rr.Type); err != nil {
			return err
		}
	}
	return nil
}

func readRelationRefs(r *Reader) ([]model.RelationRef, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]model.RelationRef, n)
	for i := range out {
		if out[i].Left, err = r.ReadInt64(); err != nil {
			return nil, err
		}
		if out[i].Right, err = r.ReadInt64(); err != nil {
			return nil, err
		}
		if out[i].Type, err = r.ReadString(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeCollection(w *Writer, c *model.Collection) error {
	if err := w.WriteInt64(c.ID); err != nil {
		return err
	}
	if err := w.WriteInt64(c.ParentID); err != nil {
		return err
	}
	if err := w.WriteString(c.ResourceID); err != nil {
		return err
	}
	if err := w.WriteString(c.Name); err != nil {
		return err
	}
	if err := w.WriteString(c.RemoteID); err != nil {
		return err
	}
	if err := w.WriteString(c.RemoteRev); err != nil {
		return err
	}
	if err := w.WriteStringList(c.MimeTypes); err != nil {
		return err
	}
	if err := w.WriteBool(c.Virtual); err != nil {
		return err
	}
	if err := w.WriteString(c.QueryText); err != nil {
		return err
	}
	if err := w.WriteBool(c.Enabled); err != nil {
		return err
	}
	if err := w.WriteByte(byte(c.Prefs.Display)); err != nil {
		return err
	}
	if err := w.WriteByte(byte(c.Prefs.Sync)); err != nil {
		return err
	}
	if err := w.WriteByte(byte(c.Prefs.Index)); err != nil {
		return err
	}
	return w.WriteAttributes(c.Attributes)
}

func decodeCollection(r *Reader) (*model.Collection, error) {
	c := &model.Collection{}
	var err error
	if c.ID, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if c.ParentID, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if c.ResourceID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if c.Name, err = r.ReadString(); err != nil {
		return nil, err
	}
	if c.RemoteID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if c.RemoteRev, err = r.ReadString(); err != nil {
		return nil, err
	}
	if c.MimeTypes, err = r.ReadStringList(); err != nil {
		return nil, err
	}
	if c.Virtual, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if c.QueryText, err = r.ReadString(); err != nil {
		return nil, err
	}
	if c.Enabled, err = r.ReadBool(); err != nil {
		return nil, err
	}
	display, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.Prefs.Display = model.Tristate(display)
	sync, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.Prefs.Sync = model.Tristate(sync)
	index, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.Prefs.Index = model.Tristate(index)
	if c.Attributes, err = r.ReadAttributes(); err != nil {
		return nil, err
	}
	return c, nil
}

func encodeTag(w *Writer, t *model.Tag) error {
	if err := w.WriteInt64(t.ID); err != nil {
		return err
	}
	if err := w.WriteString(t.GID); err != nil {
		return err
	}
	wireParent := t.ParentID
	if wireParent == 0 {
		wireParent = -1
	}
	if err := w.WriteInt64(wireParent); err != nil {
		return err
	}
	if err := w.WriteString(t.Type); err != nil {
		return err
	}
	if err := w.WriteAttributes(t.Attributes); err != nil {
		return err
	}
	return w.WriteStringMap(t.RemoteIDs)
}

func decodeTag(r *Reader) (*model.Tag, error) {
	t := &model.Tag{}
	var err error
	if t.ID, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if t.GID, err = r.ReadString(); err != nil {
		return nil, err
	}
	parent, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	if parent == -1 {
		parent = 0
	}
	t.ParentID = parent
	if t.Type, err = r.ReadString(); err != nil {
		return nil, err
	}
	if t.Attributes, err = r.ReadAttributes(); err != nil {
		return nil, err
	}
	if t.RemoteIDs, err = r.ReadStringMap(); err != nil {
		return nil, err
	}
	return t, nil
}

// ItemChangeNotification, CollectionChangeNotification, TagChangeNotification,
// RelationChangeNotification and SubscriptionChangeNotification all share the
// notificationPayload wire format; the Type byte is what a dispatcher keys
// its handling on, while Notification.Kind (carried inside the payload too)
// is what a downgraded v1 stream discriminates on after merging (spec §4.1:
// "notifications are commands whose operation is one of the
// *ChangeNotification kinds; they never carry a response tag").
type ItemChangeNotification struct{ notificationPayload }
type CollectionChangeNotification struct{ notificationPayload }
type TagChangeNotification struct{ notificationPayload }
type RelationChangeNotification struct{ notificationPayload }
type SubscriptionChangeNotification struct{ notificationPayload }

func (*ItemChangeNotification) Type() Type         { return TypeItemChangeNotification }
func (*CollectionChangeNotification) Type() Type   { return TypeCollectionChangeNotification }
func (*TagChangeNotification) Type() Type          { return TypeTagChangeNotification }
func (*RelationChangeNotification) Type() Type     { return TypeRelationChangeNotification }
func (*SubscriptionChangeNotification) Type() Type { return TypeSubscriptionChangeNotification }

// NewNotificationMessage wraps a model.Notification in the wire variant
// matching its Kind, ready for Encode.
func NewNotificationMessage(n *model.Notification) Message {
	p := notificationPayload{n: n}
	switch n.Kind {
	case model.NotifyItems:
		return &ItemChangeNotification{p}
	case model.NotifyCollection:
		return &CollectionChangeNotification{p}
	case model.NotifyTag:
		return &TagChangeNotification{p}
	case model.NotifyRelation:
		return &RelationChangeNotification{p}
	case model.NotifySubscription:
		return &SubscriptionChangeNotification{p}
	default:
		return &ItemChangeNotification{p}
	}
}

// NotificationOf extracts the carried model.Notification from any
// *ChangeNotification variant.
func NotificationOf(msg Message) (*model.Notification, bool) {
	switch m := msg.(type) {
	case *ItemChangeNotification:
		return m.n, true
	case *CollectionChangeNotification:
		return m.n, true
	case *TagChangeNotification:
		return m.n, true
	case *RelationChangeNotification:
		return m.n, true
	case *SubscriptionChangeNotification:
		return m.n, true
	}
	return nil, false
}

package protocol

import "github.com/pim-systems/pimd/model"

// ModifyCollection carries a declarative change-set: only fields present in
// Changed are applied (spec §4.8 handlers).
type ModifyCollection struct {
	CollectionID int64
	Changed      map[string]string // field name -> new value, protocol-encoded
	Attributes   []model.Attribute
	DeletedAttrs []string
}

func (*ModifyCollection) Type() Type { return TypeModifyCollection }

func (m *ModifyCollection) decode(r *Reader) error {
	var err error
	if m.CollectionID, err = r.ReadInt64(); err != nil {
		return err
	}
	if m.Changed, err = r.ReadStringMap(); err != nil {
		return err
	}
	if m.Attributes, err = r.ReadAttributes(); err != nil {
		return err
	}
	m.DeletedAttrs, err = r.ReadStringList()
	return err
}

func (m *ModifyCollection) encode(w *Writer) error {
	if err := w.WriteInt64(m.CollectionID); err != nil {
		return err
	}
	if err := w.WriteStringMap(m.Changed); err != nil {
		return err
	}
	if err := w.WriteAttributes(m.Attributes); err != nil {
		return err
	}
	return w.WriteStringList(m.DeletedAttrs)
}

// DeleteTag removes a tag by UID, cascading to its item associations
// (spec §4.8: "UID-only resolution, cascade").
type DeleteTag struct {
	TagID int64
}

func (*DeleteTag) Type() Type { return TypeDeleteTag }

func (m *DeleteTag) decode(r *Reader) error {
	var err error
	m.TagID, err = r.ReadInt64()
	return err
}

func (m *DeleteTag) encode(w *Writer) error { return w.WriteInt64(m.TagID) }

// SearchResult relays a resource agent's asynchronous search completion,
// converting agent-local results into UIDs (spec §4.8).
type SearchResult struct {
	CorrelationID string
	RemoteIDs     []string
	Resource      string
	Success       bool
}

func (*SearchResult) Type() Type { return TypeSearchResult }

func (m *SearchResult) decode(r *Reader) error {
	var err error
	if m.CorrelationID, err = r.ReadString(); err != nil {
		return err
	}
	if m.RemoteIDs, err = r.ReadStringList(); err != nil {
		return err
	}
	if m.Resource, err = r.ReadString(); err != nil {
		return err
	}
	m.Success, err = r.ReadBool()
	return err
}

func (m *SearchResult) encode(w *Writer) error {
	if err := w.WriteString(m.CorrelationID); err != nil {
		return err
	}
	if err := w.WriteStringList(m.RemoteIDs); err != nil {
		return err
	}
	if err := w.WriteString(m.Resource); err != nil {
		return err
	}
	return w.WriteBool(m.Success)
}

// Select changes the session's selected collection (spec §4.6: "reset then
// resolve; deselect on failure").
type Select struct {
	CollectionID int64 // 0 deselects
}

func (*Select) Type() Type { return TypeSelect }

func (m *Select) decode(r *Reader) error {
	var err error
	m.CollectionID, err = r.ReadInt64()
	return err
}

func (m *Select) encode(w *Writer) error { return w.WriteInt64(m.CollectionID) }

// CreateSubscription registers a new notification subscriber (spec §4.5).
type CreateSubscription struct {
	SubscriberName  string
	AllMonitored    bool
	MonitoredItems  []int64
	MonitoredCollections []int64
	MonitoredTags   []int64
	MonitoredTypes  []string
	MonitoredResources []string
	IgnoredSessions []string
	ExclusiveForCollections []int64

	ItemScope       ItemFetchScope
	CollectionAttrs []string
	CollectionFetchIDOnly bool
	CollectionFetchStats  bool
	TagAttrs        []string
	TagFetchIDOnly  bool
	TagFetchRemoteID bool
}

func (*CreateSubscription) Type() Type { return TypeCreateSubscription }

func (m *CreateSubscription) decode(r *Reader) error {
	var err error
	if m.SubscriberName, err = r.ReadString(); err != nil {
		return err
	}
	if m.AllMonitored, err = r.ReadBool(); err != nil {
		return err
	}
	if m.MonitoredItems, err = r.ReadInt64List(); err != nil {
		return err
	}
	if m.MonitoredCollections, err = r.ReadInt64List(); err != nil {
		return err
	}
	if m.MonitoredTags, err = r.ReadInt64List(); err != nil {
		return err
	}
	if m.MonitoredTypes, err = r.ReadStringList(); err != nil {
		return err
	}
	if m.MonitoredResources, err = r.ReadStringList(); err != nil {
		return err
	}
	if m.IgnoredSessions, err = r.ReadStringList(); err != nil {
		return err
	}
	if m.ExclusiveForCollections, err = r.ReadInt64List(); err != nil {
		return err
	}
	if err := m.ItemScope.decode(r); err != nil {
		return err
	}
	if m.CollectionAttrs, err = r.ReadStringList(); err != nil {
		return err
	}
	if m.CollectionFetchIDOnly, err = r.ReadBool(); err != nil {
		return err
	}
	if m.CollectionFetchStats, err = r.ReadBool(); err != nil {
		return err
	}
	if m.TagAttrs, err = r.ReadStringList(); err != nil {
		return err
	}
	if m.TagFetchIDOnly, err = r.ReadBool(); err != nil {
		return err
	}
	m.TagFetchRemoteID, err = r.ReadBool()
	return err
}

func (m *CreateSubscription) encode(w *Writer) error {
	for _, fn := range []func() error{
		func() error { return w.WriteString(m.SubscriberName) },
		func() error { return w.WriteBool(m.AllMonitored) },
		func() error { return w.WriteInt64List(m.MonitoredItems) },
		func() error { return w.WriteInt64List(m.MonitoredCollections) },
		func() error { return w.WriteInt64List(m.MonitoredTags) },
		func() error { return w.WriteStringList(m.MonitoredTypes) },
		func() error { return w.WriteStringList(m.MonitoredResources) },
		func() error { return w.WriteStringList(m.IgnoredSessions) },
		func() error { return w.WriteInt64List(m.ExclusiveForCollections) },
		func() error { return m.ItemScope.encode(w) },
		func() error { return w.WriteStringList(m.CollectionAttrs) },
		func() error { return w.WriteBool(m.CollectionFetchIDOnly) },
		func() error { return w.WriteBool(m.CollectionFetchStats) },
		func() error { return w.WriteStringList(m.TagAttrs) },
		func() error { return w.WriteBool(m.TagFetchIDOnly) },
		func() error { return w.WriteBool(m.TagFetchRemoteID) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// ModifySubscription updates an existing subscriber's monitored sets or
// scope in place (spec §4.5).
type ModifySubscription struct {
	CreateSubscription
}

func (*ModifySubscription) Type() Type { return TypeModifySubscription }

func (m *ModifySubscription) decode(r *Reader) error { return m.CreateSubscription.decode(r) }
func (m *ModifySubscription) encode(w *Writer) error { return m.CreateSubscription.encode(w) }

// ErrorResp is the one response shape carrying model.Error across the wire
// (spec §7).
type ErrorResp struct {
	Kind model.ErrorKind
	Msg  string
}

func (*ErrorResp) Type() Type { return TypeError }

func (m *ErrorResp) decode(r *Reader) error {
	k, err := r.ReadByte()
	if err != nil {
		return err
	}
	m.Kind = model.ErrorKind(k)
	m.Msg, err = r.ReadString()
	return err
}

func (m *ErrorResp) encode(w *Writer) error {
	if err := w.WriteByte(byte(m.Kind)); err != nil {
		return err
	}
	return w.WriteString(m.Msg)
}

// NewErrorResp converts a model.Error into its wire response.
func NewErrorResp(err *model.Error) *ErrorResp {
	return &ErrorResp{Kind: err.Kind, Msg: err.Msg}
}

// Debug carries operator-facing introspection payloads (e.g. the listener
// enumeration) as a self-describing JSON blob rather than a fixed binary
// layout, since its shape varies by sub-command.
type Debug struct {
	Command string
	PayloadJSON []byte
}

func (*Debug) Type() Type { return TypeDebug }

func (m *Debug) decode(r *Reader) error {
	var err error
	if m.Command, err = r.ReadString(); err != nil {
		return err
	}
	m.PayloadJSON, err = r.ReadBytes()
	return err
}

func (m *Debug) encode(w *Writer) error {
	if err := w.WriteString(m.Command); err != nil {
		return err
	}
	return w.WriteBytes(m.PayloadJSON)
}

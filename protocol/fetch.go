package protocol

import "github.com/pim-systems/pimd/model"

// ItemFetchScope is the wire shape of one subscriber's (or one FetchItems
// call's) requested item scope, before it is folded into the server-side
// aggregated scope (package scope).
type ItemFetchScope struct {
	AttrNames     []string
	PartNames     []string
	AncestorDepth int8
	FetchFlags    bool
	FetchTags     bool
	FetchRelations bool
	FetchRemoteID bool
	CacheOnly     bool
	IgnoreErrors  bool
	FetchIDOnly   bool
}

func (s *ItemFetchScope) decode(r *Reader) error {
	var err error
	if s.AttrNames, err = r.ReadStringList(); err != nil {
		return err
	}
	if s.PartNames, err = r.ReadStringList(); err != nil {
		return err
	}
	depth, err := r.ReadByte()
	if err != nil {
		return err
	}
	s.AncestorDepth = int8(depth)
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	s.FetchFlags = flags&1 != 0
	s.FetchTags = flags&2 != 0
	s.FetchRelations = flags&4 != 0
	s.FetchRemoteID = flags&8 != 0
	s.CacheOnly = flags&16 != 0
	s.IgnoreErrors = flags&32 != 0
	s.FetchIDOnly = flags&64 != 0
	return nil
}

func (s *ItemFetchScope) encode(w *Writer) error {
	if err := w.WriteStringList(s.AttrNames); err != nil {
		return err
	}
	if err := w.WriteStringList(s.PartNames); err != nil {
		return err
	}
	if err := w.WriteByte(byte(s.AncestorDepth)); err != nil {
		return err
	}
	var flags byte
	if s.FetchFlags {
		flags |= 1
	}
	if s.FetchTags {
		flags |= 2
	}
	if s.FetchRelations {
		flags |= 4
	}
	if s.FetchRemoteID {
		flags |= 8
	}
	if s.CacheOnly {
		flags |= 16
	}
	if s.IgnoreErrors {
		flags |= 32
	}
	if s.FetchIDOnly {
		flags |= 64
	}
	return w.WriteByte(flags)
}

// FetchItems requests items addressed by Scope within CollectionID.
type FetchItems struct {
	Scope        Scope
	CollectionID int64
	ItemScope    ItemFetchScope
}

func (*FetchItems) Type() Type { return TypeFetchItems }

func (m *FetchItems) decode(r *Reader) error {
	if err := m.Scope.decode(r); err != nil {
		return err
	}
	id, err := r.ReadInt64()
	if err != nil {
		return err
	}
	m.CollectionID = id
	return m.ItemScope.decode(r)
}

func (m *FetchItems) encode(w *Writer) error {
	if err := m.Scope.encode(w); err != nil {
		return err
	}
	if err := w.WriteInt64(m.CollectionID); err != nil {
		return err
	}
	return m.ItemScope.encode(w)
}

// FetchItemsResp carries the merge-joined item rows (spec §4.7).
type FetchItemsResp struct {
	Items []*model.Item
}

func (*FetchItemsResp) Type() Type { return TypeFetchItems }

func (m *FetchItemsResp) decode(r *Reader) error {
	n, err := r.ReadUint32()
	if err != nil {
		return err
	}
	m.Items = make([]*model.Item, n)
	for i := range m.Items {
		it, err := decodeItem(r)
		if err != nil {
			return err
		}
		m.Items[i] = it
	}
	return nil
}

func (m *FetchItemsResp) encode(w *Writer) error {
	if err := w.WriteUint32(uint32(len(m.Items))); err != nil {
		return err
	}
	for _, it := range m.Items {
		if err := encodeItem(w, it); err != nil {
			return err
		}
	}
	return nil
}

func decodeItem(r *Reader) (*model.Item, error) {
	it := &model.Item{}
	var err error
	if it.ID, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if it.ParentID, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if it.ResourceID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if it.RemoteID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if it.MimeType, err = r.ReadString(); err != nil {
		return nil, err
	}
	if it.Revision, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if it.GID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if it.Size, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if it.MTime, err = r.ReadTime(); err != nil {
		return nil, err
	}
	if it.ATime, err = r.ReadTime(); err != nil {
		return nil, err
	}
	flagNames, err := r.ReadStringList()
	if err != nil {
		return nil, err
	}
	it.Flags = make([]model.Flag, len(flagNames))
	for i, f := range flagNames {
		it.Flags[i] = model.Flag(f)
	}
	if it.Tags, err = r.ReadInt64List(); err != nil {
		return nil, err
	}
	nParts, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	it.Parts = make([]model.Part, nParts)
	for i := range it.Parts {
		p := &it.Parts[i]
		if p.Name, err = r.ReadString(); err != nil {
			return nil, err
		}
		v, err := r.ReadInt64()
		if err != nil {
			return nil, err
		}
		p.Version = int(v)
		if p.External, err = r.ReadBool(); err != nil {
			return nil, err
		}
		if p.Data, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if p.Size, err = r.ReadInt64(); err != nil {
			return nil, err
		}
	}
	if it.Attributes, err = r.ReadAttributes(); err != nil {
		return nil, err
	}
	return it, nil
}

func encodeItem(w *Writer, it *model.Item) error {
	if err := w.WriteInt64(it.ID); err != nil {
		return err
	}
	if err := w.WriteInt64(it.ParentID); err != nil {
		return err
	}
	if err := w.WriteString(it.ResourceID); err != nil {
		return err
	}
	if err := w.WriteString(it.RemoteID); err != nil {
		return err
	}
	if err := w.WriteString(it.MimeType); err != nil {
		return err
	}
	if err := w.WriteInt64(it.Revision); err != nil {
		return err
	}
	if err := w.WriteString(it.GID); err != nil {
		return err
	}
	if err := w.WriteInt64(it.Size); err != nil {
		return err
	}
	if err := w.WriteTime(it.MTime); err != nil {
		return err
	}
	if err := w.WriteTime(it.ATime); err != nil {
		return err
	}
	flagNames := make([]string, len(it.Flags))
	for i, f := range it.Flags {
		flagNames[i] = string(f)
	}
	if err := w.WriteStringList(flagNames); err != nil {
		return err
	}
	if err := w.WriteInt64List(it.Tags); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(len(it.Parts))); err != nil {
		return err
	}
	for _, p := range it.Parts {
		if err := w.WriteString(p.Name); err != nil {
			return err
		}
		if err := w.WriteInt64(int64(p.Version)); err != nil {
			return err
		}
		if err := w.WriteBool(p.External); err != nil {
			return err
		}
		if err := w.WriteBytes(p.Data); err != nil {
			return err
		}
		if err := w.WriteInt64(p.Size); err != nil {
			return err
		}
	}
	return w.WriteAttributes(it.Attributes)
}

// FetchTags requests tags addressed by Scope. AttrNames is an explicit
// attribute allow-list that combines additively with FetchAllAttributes
// (spec §4.7: "fetchAllAttributes and an explicit attribute allow-list
// combine additively").
type FetchTags struct {
	Scope              Scope
	FetchRemoteID      bool
	Resource           string
	FetchAllAttributes bool
	AttrNames          []string
}

func (*FetchTags) Type() Type { return TypeFetchTags }

func (m *FetchTags) decode(r *Reader) error {
	if err := m.Scope.decode(r); err != nil {
		return err
	}
	var err error
	if m.FetchRemoteID, err = r.ReadBool(); err != nil {
		return err
	}
	if m.Resource, err = r.ReadString(); err != nil {
		return err
	}
	if m.FetchAllAttributes, err = r.ReadBool(); err != nil {
		return err
	}
	m.AttrNames, err = r.ReadStringList()
	return err
}

func (m *FetchTags) encode(w *Writer) error {
	if err := m.Scope.encode(w); err != nil {
		return err
	}
	if err := w.WriteBool(m.FetchRemoteID); err != nil {
		return err
	}
	if err := w.WriteString(m.Resource); err != nil {
		return err
	}
	if err := w.WriteBool(m.FetchAllAttributes); err != nil {
		return err
	}
	return w.WriteStringList(m.AttrNames)
}

type FetchTagsResp struct {
	Tags []*model.Tag
}

func (*FetchTagsResp) Type() Type { return TypeFetchTags }

func (m *FetchTagsResp) decode(r *Reader) error {
	n, err := r.ReadUint32()
	if err != nil {
		return err
	}
	m.Tags = make([]*model.Tag, n)
	for i := range m.Tags {
		t, err := decodeTag(r)
		if err != nil {
			return err
		}
		m.Tags[i] = t
	}
	return nil
}

func (m *FetchTagsResp) encode(w *Writer) error {
	if err := w.WriteUint32(uint32(len(m.Tags))); err != nil {
		return err
	}
	for _, t := range m.Tags {
		if err := encodeTag(w, t); err != nil {
			return err
		}
	}
	return nil
}

// FetchCollectionStats requests the cached {count, size, read} for one
// collection (C10).
type FetchCollectionStats struct {
	CollectionID int64
}

func (*FetchCollectionStats) Type() Type { return TypeFetchCollectionStats }

func (m *FetchCollectionStats) decode(r *Reader) error {
	var err error
	m.CollectionID, err = r.ReadInt64()
	return err
}

func (m *FetchCollectionStats) encode(w *Writer) error {
	return w.WriteInt64(m.CollectionID)
}

type FetchCollectionStatsResp struct {
	Count int64
	Size  int64
	Read  int64
}

func (*FetchCollectionStatsResp) Type() Type { return TypeFetchCollectionStats }

func (m *FetchCollectionStatsResp) decode(r *Reader) error {
	var err error
	if m.Count, err = r.ReadInt64(); err != nil {
		return err
	}
	if m.Size, err = r.ReadInt64(); err != nil {
		return err
	}
	m.Read, err = r.ReadInt64()
	return err
}

func (m *FetchCollectionStatsResp) encode(w *Writer) error {
	if err := w.WriteInt64(m.Count); err != nil {
		return err
	}
	if err := w.WriteInt64(m.Size); err != nil {
		return err
	}
	return w.WriteInt64(m.Read)
}

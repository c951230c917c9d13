package protocol

// ScopeKind selects which addressing mode a wire Scope uses (spec §6:
// "a Scope on the wire selects one of: {empty, UID set, remote-id set, gid
// set, hierarchical-rid chain}").
type ScopeKind uint8

const (
	ScopeEmpty ScopeKind = iota
	ScopeUID
	ScopeRemoteID
	ScopeGID
	ScopeHierarchicalRID
)

// Scope is the wire encoding of an entity selector. Only the field matching
// Kind is meaningful.
type Scope struct {
	Kind ScopeKind

	UIDs      []int64
	RemoteIDs []string
	GIDs      []string
	// RIDChain is a hierarchical remote-id path from the root down,
	// resolved against a selected resource (spec §6: "operations requiring a
	// resource context refuse remote-id and hierarchical-rid scopes when no
	// resource is selected").
	RIDChain []string
}

func (s *Scope) decode(r *Reader) error {
	kind, err := r.ReadByte()
	if err != nil {
		return err
	}
	s.Kind = ScopeKind(kind)
	switch s.Kind {
	case ScopeEmpty:
		return nil
	case ScopeUID:
		s.UIDs, err = r.ReadInt64List()
	case ScopeRemoteID:
		s.RemoteIDs, err = r.ReadStringList()
	case ScopeGID:
		s.GIDs, err = r.ReadStringList()
	case ScopeHierarchicalRID:
		s.RIDChain, err = r.ReadStringList()
	}
	return err
}

func (s *Scope) encode(w *Writer) error {
	if err := w.WriteByte(byte(s.Kind)); err != nil {
		return err
	}
	switch s.Kind {
	case ScopeEmpty:
		return nil
	case ScopeUID:
		return w.WriteInt64List(s.UIDs)
	case ScopeRemoteID:
		return w.WriteStringList(s.RemoteIDs)
	case ScopeGID:
		return w.WriteStringList(s.GIDs)
	case ScopeHierarchicalRID:
		return w.WriteStringList(s.RIDChain)
	}
	return nil
}

// RequiresResource reports whether this scope kind needs a selected
// resource to resolve (spec §6).
func (s *Scope) RequiresResource() bool {
	return s.Kind == ScopeRemoteID || s.Kind == ScopeHierarchicalRID
}

package protocol

// Login establishes session identity (spec §1 non-goal: "authentication
// beyond session identity" — there is no credential exchange here, only a
// client name recorded for logging and the ignored-session-id filter).
// The same struct serves as its own ack: a Login echoing the client name,
// sent back with the response bit set.
type Login struct {
	ClientName string
}

func (*Login) Type() Type { return TypeLogin }

func (m *Login) decode(r *Reader) error {
	var err error
	m.ClientName, err = r.ReadString()
	return err
}

func (m *Login) encode(w *Writer) error { return w.WriteString(m.ClientName) }

// Capability is the universal, state-independent capability query (spec
// §4.6: "the universal Capability/Logout").
type Capability struct{}

func (*Capability) Type() Type { return TypeCapability }

// CapabilityResp reports the server's protocol version and feature support.
type CapabilityResp struct {
	ProtocolVersion int32
	PayloadPath     bool
	Streaming       bool
}

func (*CapabilityResp) Type() Type { return TypeCapability }

func (m *CapabilityResp) decode(r *Reader) error {
	v, err := r.ReadInt64()
	if err != nil {
		return err
	}
	m.ProtocolVersion = int32(v)
	if m.PayloadPath, err = r.ReadBool(); err != nil {
		return err
	}
	m.Streaming, err = r.ReadBool()
	return err
}

func (m *CapabilityResp) encode(w *Writer) error {
	if err := w.WriteInt64(int64(m.ProtocolVersion)); err != nil {
		return err
	}
	if err := w.WriteBool(m.PayloadPath); err != nil {
		return err
	}
	return w.WriteBool(m.Streaming)
}

// NewCapabilityResp reports the server's own capabilities (spec §6).
func NewCapabilityResp() *CapabilityResp {
	return &CapabilityResp{ProtocolVersion: Version, PayloadPath: true, Streaming: true}
}

// Logout requests the session transition to LoggingOut; the transport is
// closed once any in-flight responses have drained (spec §4.6).
type Logout struct{}

func (*Logout) Type() Type { return TypeLogout }

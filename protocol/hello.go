package protocol

// Version is the protocol version this codec implements, declared in the
// Hello response sent unsolicited upon connection (spec §6).
const Version int32 = 3

// Hello is sent unsolicited by the server immediately after a client
// connects, declaring the protocol version.
type Hello struct {
	ProtocolVersion int32
	ServerName      string
}

func (*Hello) Type() Type { return TypeHello }

func (h *Hello) decode(r *Reader) error {
	v, err := r.ReadInt64()
	if err != nil {
		return err
	}
	h.ProtocolVersion = int32(v)
	h.ServerName, err = r.ReadString()
	return err
}

func (h *Hello) encode(w *Writer) error {
	if err := w.WriteInt64(int64(h.ProtocolVersion)); err != nil {
		return err
	}
	return w.WriteString(h.ServerName)
}

// NewHello builds the handshake response the session sends on connect.
func NewHello(serverName string) *Hello {
	return &Hello{ProtocolVersion: Version, ServerName: serverName}
}

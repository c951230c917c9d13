package protocol

import "github.com/pim-systems/pimd/model"

// Type is the type byte identifying a command/response pair. The high bit
// (ResponseBit) marks a response belonging to the command of the same base
// type; the remaining 7 bits select the pair within the factory (spec §6:
// "each frame is <tag:u8><type:u8><payload> ... type's high bit marks
// responses").
type Type uint8

const (
	TypeHello Type = iota + 1
	TypeLogin
	TypeCapability
	TypeLogout
	TypeFetchItems
	TypeFetchTags
	TypeFetchCollectionStats
	TypeModifyCollection
	TypeDeleteTag
	TypeSearchResult
	TypeSelect
	TypeCreateSubscription
	TypeModifySubscription
	TypeItemChangeNotification
	TypeCollectionChangeNotification
	TypeTagChangeNotification
	TypeRelationChangeNotification
	TypeSubscriptionChangeNotification
	TypeDebug
	TypeError
)

func (t Type) Response() Type { return t | Type(ResponseBit) }
func (t Type) IsResponse() bool {
	return t&Type(ResponseBit) != 0
}

// Message is a decoded command, response, or notification variant.
type Message interface {
	// Type returns the variant's base type byte (without the response bit).
	Type() Type
}

// Invalid is decoded in place of any unrecognized type byte so a session can
// still reply with an error response instead of the whole connection
// aborting (spec §4.1).
type Invalid struct {
	RawType uint8
}

func (Invalid) Type() Type { return 0 }

// Frame is one `<tag><type><payload>` unit on the wire.
type Frame struct {
	Tag     uint8
	Type    uint8
	Message Message
}

type constructor func() Message

// commandFactory and responseFactory are keyed by base type (the
// ResponseBit stripped) so a single Type enumeration serves both directions
// of a pair, exactly as the wire format intends. Notifications and Hello
// have no distinct response half and live only in commandFactory.
var commandFactory = map[Type]constructor{
	TypeHello:                          func() Message { return &Hello{} },
	TypeLogin:                          func() Message { return &Login{} },
	TypeCapability:                     func() Message { return &Capability{} },
	TypeLogout:                         func() Message { return &Logout{} },
	TypeFetchItems:                     func() Message { return &FetchItems{} },
	TypeFetchTags:                      func() Message { return &FetchTags{} },
	TypeFetchCollectionStats:           func() Message { return &FetchCollectionStats{} },
	TypeModifyCollection:               func() Message { return &ModifyCollection{} },
	TypeDeleteTag:                      func() Message { return &DeleteTag{} },
	TypeSearchResult:                   func() Message { return &SearchResult{} },
	TypeSelect:                         func() Message { return &Select{} },
	TypeCreateSubscription:             func() Message { return &CreateSubscription{} },
	TypeModifySubscription:             func() Message { return &ModifySubscription{} },
	TypeItemChangeNotification:         func() Message { return &ItemChangeNotification{} },
	TypeCollectionChangeNotification:   func() Message { return &CollectionChangeNotification{} },
	TypeTagChangeNotification:          func() Message { return &TagChangeNotification{} },
	TypeRelationChangeNotification:     func() Message { return &RelationChangeNotification{} },
	TypeSubscriptionChangeNotification: func() Message { return &SubscriptionChangeNotification{} },
	TypeDebug:                          func() Message { return &Debug{} },
	TypeError:                          func() Message { return &ErrorResp{} },
}

var responseFactory = map[Type]constructor{
	TypeLogin:                func() Message { return &Login{} },
	TypeCapability:           func() Message { return &CapabilityResp{} },
	TypeLogout:               func() Message { return &Logout{} },
	TypeFetchItems:           func() Message { return &FetchItemsResp{} },
	TypeFetchTags:            func() Message { return &FetchTagsResp{} },
	TypeFetchCollectionStats: func() Message { return &FetchCollectionStatsResp{} },
	TypeError:                func() Message { return &ErrorResp{} },
}

// Decode reads one frame from r. An unknown type byte yields an Invalid
// message rather than an error (spec §4.1).
func Decode(r *Reader) (Frame, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	rawType, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	base := Type(rawType) &^ Type(ResponseBit)
	table := commandFactory
	if Type(rawType).IsResponse() {
		table = responseFactory
	}
	ctor, ok := table[base]
	if !ok {
		return Frame{Tag: tag, Type: rawType, Message: Invalid{RawType: rawType}}, nil
	}
	msg := ctor()
	if dec, ok := msg.(decodable); ok {
		if err := dec.decode(r); err != nil {
			return Frame{}, model.NewError(model.ErrMalformed, "truncated or invalid frame: "+err.Error())
		}
	}
	return Frame{Tag: tag, Type: rawType, Message: msg}, nil
}

// Encode writes one frame. It never fails on well-formed inputs; the only
// errors returned originate from the underlying stream.
func Encode(w *Writer, tag uint8, typ uint8, msg Message) error {
	if err := w.WriteByte(tag); err != nil {
		return err
	}
	if err := w.WriteByte(typ); err != nil {
		return err
	}
	if enc, ok := msg.(encodable); ok {
		if err := enc.encode(w); err != nil {
			return err
		}
	}
	return w.Flush()
}

// EncodeResponse is a convenience over Encode that sets the response bit on
// msg's own base type.
func EncodeResponse(w *Writer, tag uint8, msg Message) error {
	return Encode(w, tag, byte(msg.Type().Response()), msg)
}

// EncodeCommand is a convenience over Encode using msg's base type with no
// response bit set.
func EncodeCommand(w *Writer, tag uint8, msg Message) error {
	return Encode(w, tag, byte(msg.Type()), msg)
}

// decodable/encodable are implemented by every concrete Message variant
// that carries a payload; Invalid and zero-payload variants need neither.
type decodable interface{ decode(*Reader) error }
type encodable interface{ encode(*Writer) error }

package protocol

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/pim-systems/pimd/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SubscriberSnapshot is one row of the listener-enumeration payload carried
// by a Debug notification (spec §4.1's "Debug" kind): which subscribers
// received a given dispatched event.
type SubscriberSnapshot struct {
	Name         string   `json:"name"`
	AllMonitored bool     `json:"allMonitored"`
	Collections  []int64  `json:"collections,omitempty"`
	Resources    []string `json:"resources,omitempty"`
}

// MarshalDebugListeners encodes the listener enumeration as the self
// describing JSON blob a Debug message carries (opaque at the binary-frame
// layer, per + DOMAIN STACK: json-iterator only for Attribute-shaped and
// debug payloads).
func MarshalDebugListeners(snapshots []SubscriberSnapshot) ([]byte, error) {
	return json.Marshal(snapshots)
}

func UnmarshalDebugListeners(data []byte) ([]SubscriberSnapshot, error) {
	var out []SubscriberSnapshot
	if len(data) == 0 {
		return nil, nil
	}
	err := json.Unmarshal(data, &out)
	return out, err
}

// NewDebugMessage wraps the listener names the manager attached to a
// model.Notification of Kind NotifyDebug (spec §4.1's Debug kind) as the one
// wire command a debug-opted-in subscriber actually receives: a Debug frame
// whose PayloadJSON is the same jsoniter encoding as MarshalDebugListeners,
// just of plain names rather than full snapshots since a per-dispatch
// listener list carries nothing but identity.
func NewDebugMessage(n *model.Notification) (*Debug, error) {
	payload, err := json.Marshal(n.DebugListeners)
	if err != nil {
		return nil, err
	}
	return &Debug{Command: n.Operation.String(), PayloadJSON: payload}, nil
}

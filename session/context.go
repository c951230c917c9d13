// Package session implements the per-connection command context and state
// machine (C6): selected collection/tag/resource, client capabilities, and
// the protocol-level permission gate over NonAuthenticated/Authenticated/
// Selected/LoggingOut.
package session

// State is the connection's coarse protocol state (spec §4.6).
type State int8

const (
	NonAuthenticated State = iota
	Authenticated
	Selected
	LoggingOut
)

func (s State) String() string {
	switch s {
	case NonAuthenticated:
		return "NonAuthenticated"
	case Authenticated:
		return "Authenticated"
	case Selected:
		return "Selected"
	case LoggingOut:
		return "LoggingOut"
	default:
		return "Unknown"
	}
}

// Capabilities records what the client declared at Hello/Login time.
type Capabilities struct {
	ProtocolVersion int32
	PayloadPath     bool // client can receive externalized part payload by path instead of inline bytes
	Streaming       bool // client accepts intermediate stream responses before the terminator
}

// Context is one session's ambient command state (spec §4.6: "optional
// selected collection, optional selected tag, optional resource identity").
// A field value of 0 means unset; setContextId(kind, -1) on the wire always
// clears the corresponding field rather than storing -1 (spec §9, Open
// Question 2) — see SetCollection/SetTag/SetResource.
type Context struct {
	State State

	SelectedCollection int64
	SelectedTag        int64
	Resource           string

	Caps Capabilities
}

// NewContext returns a fresh, NonAuthenticated context.
func NewContext() *Context {
	return &Context{State: NonAuthenticated}
}

// SetCollection sets the selected collection, normalizing the wire's -1
// "clear" sentinel to the unset value 0.
func (c *Context) SetCollection(id int64) {
	if id == -1 {
		id = 0
	}
	c.SelectedCollection = id
}

// SetTag sets the selected tag under the same -1-means-clear rule.
func (c *Context) SetTag(id int64) {
	if id == -1 {
		id = 0
	}
	c.SelectedTag = id
}

// SetResource sets or clears (empty string) the resource identity.
func (c *Context) SetResource(resource string) {
	c.Resource = resource
}

// Deselect clears the selected collection, used on both successful and
// failed Select (spec §4.7: "both success and failure reset the slot").
func (c *Context) Deselect() {
	c.SelectedCollection = 0
}

package cmn

import (
	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

// NewSessionID returns a short, human-loggable id for a new client session
// (spec §4.6, the command-context identity threaded into every notification).
func NewSessionID() string {
	id, err := shortid.Generate()
	if err != nil {
		// shortid's only failure mode is worker-id exhaustion; fall back to
		// a uuid rather than handing out a colliding session id.
		return uuid.NewString()
	}
	return "sess-" + id
}

// NewSubscriberName returns a server-assigned subscriber identity (spec §4.5,
// "identified for its lifetime by a server-assigned name").
func NewSubscriberName() string {
	id, err := shortid.Generate()
	if err != nil {
		return uuid.NewString()
	}
	return "sub-" + id
}

// NewAtomicOpID returns the id grouping a Multi undo entry's children
// (spec §3, "Multi(group of entries, atomic-operation id)").
func NewAtomicOpID() string {
	return uuid.NewString()
}

package session

import (
	"github.com/pim-systems/pimd/cmn"
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/statscache"
	"github.com/pim-systems/pimd/store"
	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
)

// HandlerFunc executes one decoded command under ctx's transaction,
// recording any changes into collector, and emits zero or more stream
// responses via emit, followed implicitly by a terminator the session
// itself appends (spec §4.7: "a final terminator response"). A non-nil
// error is reported to the client as a tagged failure; the session itself
// remains open (spec §4.6).
type HandlerFunc func(ctx *Context, tx store.Tx, collector *notify.Collector, msg protocol.Message, emit func(protocol.Message) error) error

// Registry maps a command's base protocol.Type to the handler that serves
// it. Built once at startup by cmd/pimd and shared read-only across
// sessions.
type Registry map[protocol.Type]HandlerFunc

// universallyAllowed commands bypass the state gate entirely (spec §4.6:
// "the universal Capability/Logout").
var universallyAllowed = map[protocol.Type]struct{}{
	protocol.TypeCapability: {},
	protocol.TypeLogout:     {},
}

// allowedByState enumerates, per connection state, which command types may
// be dispatched (spec §4.6). Selected behaves identically to Authenticated
// for command permission purposes; it only changes the context's selected
// collection.
func allowedByState(s State, t protocol.Type) bool {
	if _, ok := universallyAllowed[t]; ok {
		return true
	}
	switch s {
	case NonAuthenticated:
		return t == protocol.TypeLogin
	case Authenticated, Selected:
		return true
	case LoggingOut:
		return false
	default:
		return false
	}
}

// Session is one client connection's command context plus the plumbing
// that routes decoded frames to handlers and batches the notifications
// they cause (spec §4.6, §5: "each session ... owns its own database
// connection and transaction stack").
type Session struct {
	ID  string
	ctx *Context

	db        store.Store
	registry  Registry
	collector *notify.Collector
	manager   *notify.Manager
	stats     *statscache.Cache
	transport notify.Transport
}

// New opens a session against db, ready to authenticate. manager receives
// the notification batch (if any) produced by a committed command; stats is
// the process-wide collection statistics cache (C10), kept incrementally in
// step by the same dispatch pass (may be nil in tests that don't care about
// stats); transport is this connection's notification sink, used only for
// CreateSubscription/ModifySubscription (may be nil where subscriptions
// aren't exercised).
func New(db store.Store, registry Registry, manager *notify.Manager, stats *statscache.Cache, transport notify.Transport) (*Session, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "session: generate id")
	}
	return &Session{
		ID:        id,
		ctx:       NewContext(),
		db:        db,
		registry:  registry,
		collector: notify.NewCollector(id),
		manager:   manager,
		stats:     stats,
		transport: transport,
	}, nil
}

// Context exposes the session's command context, e.g. for handlers that
// need the selected collection.
func (s *Session) Context() *Context { return s.ctx }

// Handle decodes to one response/notification exchange for a single
// incoming frame: permission-gates it against the session's state, looks
// up its handler, runs it inside a transaction, and on success hands the
// produced notifications to the manager. It never panics outward — a
// recovered panic is logged and reported as a tagged failure, matching the
// "any other exception ... caught at the session boundary" rule (spec
// §4.6).
func (s *Session) Handle(frame protocol.Frame, emit func(protocol.Message) error) (reply protocol.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			cmn.Log.Errorw("session: recovered panic handling command", "session", s.ID, "type", frame.Type, "panic", r)
			reply = protocol.NewErrorResp(model.NewError(model.ErrRejected, "internal error"))
			err = nil
		}
	}()

	if _, ok := frame.Message.(protocol.Invalid); ok {
		return protocol.NewErrorResp(model.NewError(model.ErrMalformed, "Unrecognized command")), nil
	}

	t := frame.Message.Type()
	if !allowedByState(s.ctx.State, t) {
		return protocol.NewErrorResp(model.NewError(model.ErrPermissionDenied,
			"command not permitted in state "+s.ctx.State.String())), nil
	}

	switch msg := frame.Message.(type) {
	case *protocol.Login:
		s.ctx.State = Authenticated
		return &protocol.Login{ClientName: msg.ClientName}, nil
	case *protocol.Capability:
		return protocol.NewCapabilityResp(), nil
	case *protocol.Logout:
		s.ctx.State = LoggingOut
		return &protocol.Logout{}, nil
	case *protocol.CreateSubscription:
		if s.manager != nil {
			sub := notify.NewSubscriberFromRequest(msg, s.transport, notify.RequestWantsDebug(msg))
			s.manager.AddSubscriber(sub)
		}
		return &protocol.CreateSubscription{SubscriberName: msg.SubscriberName}, nil
	case *protocol.ModifySubscription:
		if s.manager != nil {
			s.manager.ApplyModifySubscription(msg.SubscriberName, msg, notify.RequestWantsDebug(&msg.CreateSubscription))
		}
		return &protocol.ModifySubscription{CreateSubscription: protocol.CreateSubscription{SubscriberName: msg.SubscriberName}}, nil
	}

	handler, ok := s.registry[t]
	if !ok {
		return protocol.NewErrorResp(model.NewError(model.ErrMalformed, "Unrecognized command")), nil
	}

	prevSelected := s.ctx.SelectedCollection

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "session: begin tx")
	}

	if herr := handler(s.ctx, tx, s.collector, frame.Message, emit); herr != nil {
		tx.Rollback()
		s.collector.Reset()
		if merr, ok := herr.(*model.Error); ok {
			return protocol.NewErrorResp(merr), nil
		}
		return protocol.NewErrorResp(model.NewError(model.ErrRejected, herr.Error())), nil
	}

	if err := tx.Commit(); err != nil {
		s.collector.Reset()
		return nil, errors.Wrap(err, "session: commit tx")
	}

	// Select (handled generically through the registry, not an inline case
	// like the subscription commands) is the only handler that changes
	// SelectedCollection; diff it here rather than special-casing Select by
	// type, so any future handler that selects a collection gets this for
	// free (spec §4.5's accept() exclusivity rule needs to know which
	// collections are actively held open by a session).
	if s.manager != nil && s.ctx.SelectedCollection != prevSelected {
		if prevSelected != 0 {
			s.manager.UnmarkReferenced(prevSelected)
		}
		if s.ctx.SelectedCollection != 0 {
			s.manager.MarkReferenced(s.ctx.SelectedCollection)
		}
	}

	if s.manager != nil {
		tx2, err := s.db.Begin()
		if err == nil {
			var stats notify.StatsSink
			if s.stats != nil {
				stats = s.stats
			}
			s.collector.DispatchNotifications(tx2, s.manager, stats, s.manager.Enqueue)
			tx2.Rollback()
		}
	}

	return nil, nil
}

// Collector exposes the session's notification collector to handlers that
// need to record changes (spec §4.4: "one per session, accessed from its
// session thread").
func (s *Session) Collector() *notify.Collector { return s.collector }

package session

import (
	"testing"
	"time"

	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/store"
)

type fakeTransport struct{ sent []*model.Notification }

func (f *fakeTransport) Send(n *model.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

func openTestStore(t *testing.T) *store.BuntStore {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestSession(t *testing.T, registry Registry) *Session {
	t.Helper()
	db := openTestStore(t)
	s, err := New(db, registry, nil, nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func noopEmit(protocol.Message) error { return nil }

func TestNonAuthenticatedRejectsDataPlaneCommands(t *testing.T) {
	s := newTestSession(t, Registry{
		protocol.TypeSelect: func(*Context, store.Tx, *notify.Collector, protocol.Message, func(protocol.Message) error) error {
			return nil
		},
	})

	reply, err := s.Handle(protocol.Frame{Message: &protocol.Select{CollectionID: 1}}, noopEmit)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	resp, ok := reply.(*protocol.ErrorResp)
	if !ok {
		t.Fatalf("expected ErrorResp, got %T", reply)
	}
	if resp.Kind != model.ErrPermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", resp.Kind)
	}
}

func TestCapabilityAndLogoutAreUniversal(t *testing.T) {
	s := newTestSession(t, Registry{})

	reply, err := s.Handle(protocol.Frame{Message: &protocol.Capability{}}, noopEmit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reply.(*protocol.CapabilityResp); !ok {
		t.Fatalf("expected CapabilityResp, got %T", reply)
	}

	reply, err = s.Handle(protocol.Frame{Message: &protocol.Logout{}}, noopEmit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reply.(*protocol.Logout); !ok {
		t.Fatalf("expected Logout ack, got %T", reply)
	}
	if s.ctx.State != LoggingOut {
		t.Fatalf("expected LoggingOut, got %v", s.ctx.State)
	}
}

func TestLoginTransitionsToAuthenticatedThenAllowsDataPlane(t *testing.T) {
	called := false
	s := newTestSession(t, Registry{
		protocol.TypeSelect: func(ctx *Context, _ store.Tx, _ *notify.Collector, msg protocol.Message, _ func(protocol.Message) error) error {
			called = true
			ctx.SetCollection(msg.(*protocol.Select).CollectionID)
			return nil
		},
	})

	if _, err := s.Handle(protocol.Frame{Message: &protocol.Login{ClientName: "alice"}}, noopEmit); err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.ctx.State != Authenticated {
		t.Fatalf("expected Authenticated after Login, got %v", s.ctx.State)
	}

	reply, err := s.Handle(protocol.Frame{Message: &protocol.Select{CollectionID: 5}}, noopEmit)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if reply != nil {
		t.Fatalf("expected nil reply on handler success, got %v", reply)
	}
	if !called {
		t.Fatal("handler was not invoked")
	}
	if s.ctx.SelectedCollection != 5 {
		t.Fatalf("expected selected collection 5, got %d", s.ctx.SelectedCollection)
	}
}

func TestUnknownCommandYieldsUnrecognized(t *testing.T) {
	s := newTestSession(t, Registry{})
	s.ctx.State = Authenticated

	reply, err := s.Handle(protocol.Frame{Message: &protocol.DeleteTag{TagID: 1}}, noopEmit)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	resp, ok := reply.(*protocol.ErrorResp)
	if !ok {
		t.Fatalf("expected ErrorResp, got %T", reply)
	}
	if resp.Msg != "Unrecognized command" {
		t.Fatalf("expected Unrecognized command, got %q", resp.Msg)
	}
}

func TestHandlerFailureKeepsSessionUsable(t *testing.T) {
	s := newTestSession(t, Registry{
		protocol.TypeDeleteTag: func(*Context, store.Tx, *notify.Collector, protocol.Message, func(protocol.Message) error) error {
			return model.NewError(model.ErrNotFound, "no such tag")
		},
	})
	s.ctx.State = Authenticated

	reply, err := s.Handle(protocol.Frame{Message: &protocol.DeleteTag{TagID: 99}}, noopEmit)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	resp, ok := reply.(*protocol.ErrorResp)
	if !ok {
		t.Fatalf("expected ErrorResp, got %T", reply)
	}
	if resp.Kind != model.ErrNotFound || resp.Msg != "no such tag" {
		t.Fatalf("unexpected error response: %+v", resp)
	}

	// the session itself must remain usable after a HandlerException.
	reply, err = s.Handle(protocol.Frame{Message: &protocol.Capability{}}, noopEmit)
	if err != nil {
		t.Fatalf("unexpected error after prior failure: %v", err)
	}
	if _, ok := reply.(*protocol.CapabilityResp); !ok {
		t.Fatalf("expected CapabilityResp, got %T", reply)
	}
}

func TestCreateSubscriptionRegistersWithManagerAndHonorsDebugOptIn(t *testing.T) {
	db := openTestStore(t)
	manager := notify.NewManager(4, 50*time.Millisecond)
	transport := &fakeTransport{}
	s, err := New(db, Registry{}, manager, nil, transport)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.ctx.State = Authenticated

	req := &protocol.CreateSubscription{SubscriberName: "sub1", MonitoredTypes: []string{"Items", "Debug"}}
	reply, err := s.Handle(protocol.Frame{Message: req}, noopEmit)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	ack, ok := reply.(*protocol.CreateSubscription)
	if !ok || ack.SubscriberName != "sub1" {
		t.Fatalf("expected CreateSubscription ack, got %+v", reply)
	}

	snap := manager.Snapshot()
	if len(snap) != 1 || snap[0].Name != "sub1" {
		t.Fatalf("expected subscriber sub1 registered, got %+v", snap)
	}

	// a later ModifySubscription without "Debug" should clear the opt-in.
	modReq := &protocol.ModifySubscription{CreateSubscription: protocol.CreateSubscription{
		SubscriberName: "sub1", MonitoredTypes: []string{"Items"},
	}}
	if _, err := s.Handle(protocol.Frame{Message: modReq}, noopEmit); err != nil {
		t.Fatalf("modify subscription: %v", err)
	}
}

func TestSelectMarksAndUnmarksReferencedCollection(t *testing.T) {
	manager := notify.NewManager(4, 50*time.Millisecond)
	s := newTestSessionWithManager(t, Registry{
		protocol.TypeSelect: func(ctx *Context, _ store.Tx, _ *notify.Collector, msg protocol.Message, _ func(protocol.Message) error) error {
			ctx.SetCollection(msg.(*protocol.Select).CollectionID)
			return nil
		},
	}, manager)
	s.ctx.State = Authenticated

	if _, err := s.Handle(protocol.Frame{Message: &protocol.Select{CollectionID: 7}}, noopEmit); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, ok := manager.ReferencedSnapshot()[7]; !ok {
		t.Fatalf("expected collection 7 marked referenced")
	}

	if _, err := s.Handle(protocol.Frame{Message: &protocol.Select{CollectionID: 9}}, noopEmit); err != nil {
		t.Fatalf("re-select: %v", err)
	}
	refs := manager.ReferencedSnapshot()
	if _, ok := refs[7]; ok {
		t.Fatalf("expected collection 7 unmarked after re-select")
	}
	if _, ok := refs[9]; !ok {
		t.Fatalf("expected collection 9 marked referenced")
	}
}

func newTestSessionWithManager(t *testing.T, registry Registry, manager *notify.Manager) *Session {
	t.Helper()
	db := openTestStore(t)
	s, err := New(db, registry, manager, nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestInvalidFrameYieldsUnrecognized(t *testing.T) {
	s := newTestSession(t, Registry{})
	s.ctx.State = Authenticated

	reply, err := s.Handle(protocol.Frame{Message: protocol.Invalid{RawType: 250}}, noopEmit)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	resp, ok := reply.(*protocol.ErrorResp)
	if !ok {
		t.Fatalf("expected ErrorResp, got %T", reply)
	}
	if resp.Msg != "Unrecognized command" {
		t.Fatalf("expected Unrecognized command, got %q", resp.Msg)
	}
}

package main

import (
	"net"
	"sync"

	"github.com/pim-systems/pimd/cmn"
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/statscache"
	"github.com/pim-systems/pimd/store"
)

// connWriter serializes frame writes to one connection. It doubles as the
// session's transport for CreateSubscription (notify.Transport): a
// subscriber's asynchronous deliveries and the session's own synchronous
// command replies share one underlying *protocol.Writer, so both paths
// must go through the same lock (spec §4.1 frames are written whole or
// not at all).
type connWriter struct {
	mu sync.Mutex
	w  *protocol.Writer
}

func (c *connWriter) writeTagged(tag uint8, msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.Encode(c.w, tag, byte(msg.Type().Response()), msg)
}

func (c *connWriter) writeCommand(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.EncodeCommand(c.w, 0, msg)
}

// Send implements notify.Transport: an accepted notification is pushed to
// the client unsolicited, tag 0, wrapped per its Kind (Debug gets its own
// wire shape, every other kind shares notificationPayload).
func (c *connWriter) Send(n *model.Notification) error {
	if n.Kind == model.NotifyDebug {
		dbg, err := protocol.NewDebugMessage(n)
		if err != nil {
			return err
		}
		return c.writeCommand(dbg)
	}
	return c.writeCommand(protocol.NewNotificationMessage(n))
}

// serveConn runs one client connection end to end: Hello handshake, then a
// blocking read loop decoding frames and routing them through the session
// (spec §4.6's suspension points: "blocking socket reads between commands").
// Subscribers registered by this connection are retracted from manager on
// disconnect, mirroring "a session closing its transport is detected ...
// and its subscribers are dropped" (spec §4.5 cancellation).
func serveConn(conn net.Conn, db store.Store, registry session.Registry, manager *notify.Manager, stats *statscache.Cache) {
	defer conn.Close()

	reader := protocol.NewReader(conn)
	writer := &connWriter{w: protocol.NewWriter(conn)}

	sess, err := session.New(db, registry, manager, stats, writer)
	if err != nil {
		cmn.Log.Errorw("session: create failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	remote := conn.RemoteAddr()
	cmn.Log.Infow("session: connected", "session", sess.ID, "remote", remote)

	var subNames []string
	defer func() {
		if id := sess.Context().SelectedCollection; id != 0 {
			manager.UnmarkReferenced(id)
		}
		for _, name := range subNames {
			manager.RemoveSubscriber(name)
		}
		cmn.Log.Infow("session: disconnected", "session", sess.ID, "remote", remote)
	}()

	if err := writer.writeCommand(protocol.NewHello("pimd")); err != nil {
		cmn.Log.Warnw("session: hello write failed", "session", sess.ID, "error", err)
		return
	}

	for {
		frame, err := protocol.Decode(reader)
		if err != nil {
			return
		}

		tag := frame.Tag
		emit := func(msg protocol.Message) error { return writer.writeTagged(tag, msg) }

		reply, herr := sess.Handle(frame, emit)
		if herr != nil {
			cmn.Log.Warnw("session: handle error", "session", sess.ID, "error", herr)
			return
		}

		if cs, ok := frame.Message.(*protocol.CreateSubscription); ok {
			if _, isErr := reply.(*protocol.ErrorResp); !isErr {
				subNames = append(subNames, cs.SubscriberName)
			}
		}

		if reply != nil {
			if err := writer.writeTagged(tag, reply); err != nil {
				return
			}
		}

		if sess.Context().State == session.LoggingOut {
			return
		}
	}
}

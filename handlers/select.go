package handlers

import (
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/store"
)

// Select resets the session's selected-collection slot, then resolves the
// target; both success and failure reset the slot, so a failed Select
// behaves as a deselect (spec §4.7).
func Select(ctx *session.Context, tx store.Tx, _ *notify.Collector, msg protocol.Message, _ func(protocol.Message) error) error {
	req := msg.(*protocol.Select)
	ctx.Deselect()

	if req.CollectionID == 0 {
		return nil
	}
	coll, ok, err := tx.CollectionByID(req.CollectionID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("collection not found")
	}
	ctx.SetCollection(coll.ID)
	ctx.SetResource(coll.ResourceID)
	return nil
}

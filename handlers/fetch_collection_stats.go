package handlers

import (
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/store"
)

// FetchCollectionStats returns the cached {count, size, read} via C10 (spec
// §4.7).
func (d *Deps) FetchCollectionStats(_ *session.Context, tx store.Tx, _ *notify.Collector, msg protocol.Message, emit func(protocol.Message) error) error {
	req := msg.(*protocol.FetchCollectionStats)
	coll, ok, err := tx.CollectionByID(req.CollectionID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("collection not found")
	}
	entry, err := d.Stats.Get(tx, coll.ID, coll.Virtual)
	if err != nil {
		return err
	}
	return emit(&protocol.FetchCollectionStatsResp{Count: entry.Count, Size: entry.Size, Read: entry.Read})
}

package handlers

import (
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/store"
)

// DeleteTag resolves by UID only, removes the tag and cascades its item
// associations, then emits a Tag-Remove notification carrying the
// resource-specific remote id when applicable so agents can purge their
// own state (spec §4.7).
func (d *Deps) DeleteTag(ctx *session.Context, tx store.Tx, collector *notify.Collector, msg protocol.Message, _ func(protocol.Message) error) error {
	req := msg.(*protocol.DeleteTag)

	tag, ok, err := tx.TagByID(req.TagID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("tag not found")
	}

	if err := cascadeRemoveTag(tx, tag.ID); err != nil {
		return err
	}
	if err := tx.DeleteTag(tag.ID); err != nil {
		return err
	}

	collector.TagRemoved(tag, ctx.Resource)
	return nil
}

// cascadeRemoveTag strips the tag from every item that carries it (spec
// §4.7: "removes the tag and cascades").
func cascadeRemoveTag(tx store.Tx, tagID int64) error {
	colls, err := tx.AllCollections()
	if err != nil {
		return err
	}
	for _, c := range colls {
		items, err := tx.ItemsByCollection(c.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if !containsTag(it.Tags, tagID) {
				continue
			}
			it.Tags = removeTag(it.Tags, tagID)
			if err := tx.UpdateItem(it); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsTag(tags []int64, id int64) bool {
	for _, t := range tags {
		if t == id {
			return true
		}
	}
	return false
}

func removeTag(tags []int64, id int64) []int64 {
	out := tags[:0]
	for _, t := range tags {
		if t != id {
			out = append(out, t)
		}
	}
	return out
}

package handlers

import (
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/store"
)

// FetchTags streams one FetchTagsResp per resolved tag carrying identity,
// gid, parent id (-1 sentinel for null, spec §6), type name, the
// resource-specific remote id when applicable, and filtered attributes,
// then a terminator (spec §4.7).
func (d *Deps) FetchTags(ctx *session.Context, tx store.Tx, _ *notify.Collector, msg protocol.Message, emit func(protocol.Message) error) error {
	req := msg.(*protocol.FetchTags)

	resource := req.Resource
	if resource == "" {
		resource = ctx.Resource
	}

	tags, err := resolveTags(tx, req.Scope, resource)
	if err != nil {
		return err
	}

	for _, t := range tags {
		out := &model.Tag{ID: t.ID, GID: t.GID, ParentID: t.ParentID, Type: t.Type, Attributes: additiveAttributes(t.Attributes, req.FetchAllAttributes, req.AttrNames)}
		if req.FetchRemoteID && resource != "" {
			out.RemoteIDs = map[string]string{resource: t.RemoteIDs[resource]}
		}
		if err := emit(&protocol.FetchTagsResp{Tags: []*model.Tag{out}}); err != nil {
			return err
		}
	}
	return emit(&protocol.FetchTagsResp{})
}

package handlers

import (
	"time"

	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/store"
)

// FetchItems computes the scope's item set and streams one FetchItemsResp
// per item, then a terminator, updating atime when the full payload was
// actually served and honoring ignoreErrors for missing external parts
// (spec §4.7).
//
// The store's bunTx materializes items, parts, flags and tags as a single
// JSON record keyed by item id, so the spec's four-query merge-join (items,
// parts, flags, tags ordered by id descending and walked in lockstep)
// collapses here into one lookup per item that is already in merge-joined
// shape; resolveItems preserves the descending order for the empty-scope
// (whole-collection) case via store.Tx.ItemsByCollection.
func (d *Deps) FetchItems(ctx *session.Context, tx store.Tx, _ *notify.Collector, msg protocol.Message, emit func(protocol.Message) error) error {
	req := msg.(*protocol.FetchItems)

	items, err := resolveItems(tx, req.Scope, req.CollectionID, ctx.Resource)
	if err != nil {
		return err
	}

	for _, it := range items {
		out, served, err := d.projectItem(tx, ctx, it, req.ItemScope)
		if err != nil {
			if req.ItemScope.IgnoreErrors {
				continue
			}
			return err
		}
		if served {
			it.ATime = time.Now()
			if uerr := tx.UpdateItem(it); uerr != nil {
				return uerr
			}
		}
		if err := emit(&protocol.FetchItemsResp{Items: []*model.Item{out}}); err != nil {
			return err
		}
	}
	return emit(&protocol.FetchItemsResp{})
}

// projectItem shapes one stored item per the requested fetch scope,
// triggering (or simulating, absent a wired retriever) out-of-band
// retrieval for parts that are external and not locally cached. served
// reports whether the full payload was actually delivered, gating the
// atime update (spec §4.7: "updates atime when the full payload was
// actually served").
func (d *Deps) projectItem(tx store.Tx, ctx *session.Context, it *model.Item, sc protocol.ItemFetchScope) (*model.Item, bool, error) {
	out := &model.Item{
		ID: it.ID, ParentID: it.ParentID, ResourceID: it.ResourceID,
		MimeType: it.MimeType, Revision: it.Revision, GID: it.GID,
		Size: it.Size, MTime: it.MTime, ATime: it.ATime,
	}
	if sc.FetchIDOnly {
		return out, false, nil
	}
	if sc.FetchRemoteID {
		out.RemoteID = it.RemoteID
		out.RemoteRev = it.RemoteRev
	}
	if sc.FetchFlags {
		out.Flags = it.Flags
	}
	if sc.FetchTags {
		out.Tags = it.Tags
	}

	out.Attributes = filterAttributes(it.Attributes, sc.AttrNames)

	served := true
	for _, p := range it.Parts {
		if len(sc.PartNames) > 0 && !containsString(sc.PartNames, p.Name) {
			continue
		}
		part := p
		if part.External && part.Data == nil && !sc.CacheOnly {
			if d.Blobs != nil && part.BlobID != "" {
				if data, berr := d.Blobs.Get(part.BlobID); berr == nil {
					part.Data = data
					out.Parts = append(out.Parts, part)
					continue
				}
			}
			if d.Retriever != nil {
				if rerr := d.Retriever.Retrieve(it.ResourceID, it.ID); rerr != nil {
					return nil, false, model.NewError(model.ErrTransient, "retrieval failed: "+rerr.Error())
				}
			} else {
				served = false
				if !sc.IgnoreErrors {
					return nil, false, model.NewError(model.ErrTransient, "part not cached: "+part.Name)
				}
			}
		}
		out.Parts = append(out.Parts, part)
	}
	return out, served, nil
}

func filterAttributes(attrs []model.Attribute, names []string) []model.Attribute {
	if len(names) == 0 {
		return attrs
	}
	out := make([]model.Attribute, 0, len(names))
	for _, a := range attrs {
		if containsString(names, string(a.Key)) {
			out = append(out, a)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

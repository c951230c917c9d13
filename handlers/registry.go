package handlers

import (
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
)

// Registry builds the session.Registry wiring every command this package
// implements to its handler (spec §4.7).
func (d *Deps) Registry() session.Registry {
	return session.Registry{
		protocol.TypeSelect:               Select,
		protocol.TypeFetchItems:           d.FetchItems,
		protocol.TypeFetchTags:            d.FetchTags,
		protocol.TypeFetchCollectionStats: d.FetchCollectionStats,
		protocol.TypeModifyCollection:     d.ModifyCollection,
		protocol.TypeDeleteTag:            d.DeleteTag,
		protocol.TypeSearchResult:         d.SearchResult,
	}
}

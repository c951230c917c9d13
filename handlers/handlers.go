// Package handlers implements the command handler set (C7): one file per
// command, each driven by the session through the store's transactional
// interface and the notification collector.
package handlers

import (
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/statscache"
	"github.com/pim-systems/pimd/store"
	"github.com/pim-systems/pimd/tree"
)

// ItemRetriever triggers a resource agent's out-of-band fetch for an item
// whose payload isn't locally cached. No resource-agent transport exists in
// this repo (spec's non-goals exclude resource-agent wiring beyond the
// mediation surface itself), so Deps.Retriever is nil in cmd/pimd today and
// every fetch-items call falls through to "serve from the cache" per spec
// §4.7. The interface exists so a future resource-agent bridge plugs in
// without changing the handler.
type ItemRetriever interface {
	Retrieve(resource string, itemID int64) error
}

// SearchTaskManager correlates an in-flight search's correlation id to the
// UID set a SearchResult eventually reports (spec §4.7 search-result).
type SearchTaskManager interface {
	Resolve(correlationID string, uids []int64)
}

// Deps bundles the handlers' shared collaborators.
type Deps struct {
	Tree      *tree.Cache
	Stats     *statscache.Cache
	Retriever ItemRetriever
	Search    SearchTaskManager
	// Blobs serves externalized part payloads (spec §6, "Large payloads may
	// be externalized to files"). May be nil, in which case an externalized,
	// uncached part always falls through to Retriever/IgnoreErrors exactly as
	// if no blob id had been recorded.
	Blobs store.PartBlobStore
}

func malformed(msg string) error { return model.NewError(model.ErrMalformed, msg) }
func notFound(msg string) error  { return model.NewError(model.ErrNotFound, msg) }

// requireResource returns the currently selected resource or a Malformed
// error (spec §6: "operations requiring a resource context refuse
// remote-id and hierarchical-rid scopes when no resource is selected").
func requireResource(resource string) (string, error) {
	if resource == "" {
		return "", malformed("no resource selected for this scope")
	}
	return resource, nil
}

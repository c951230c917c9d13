// Package store defines the narrow persistence interfaces the core consumes
// (spec §1: "the SQL schema and ORM ... are consumed through narrow
// interfaces") and ships one concrete implementation backed by an embedded
// KV engine instead of a real RDBMS.
package store

import "github.com/pim-systems/pimd/model"

// Store opens transactions. One Store is shared by every session; each
// session owns its own Tx stack (spec §5).
type Store interface {
	Begin() (Tx, error)
	Close() error
}

// Tx is a single transaction's view of the persisted entities. A Tx must be
// either Committed or Rolledback exactly once.
type Tx interface {
	// Collections, ordered by id ascending for hydration (spec §4.2).
	AllCollections() ([]*model.Collection, error)
	CollectionByID(id int64) (*model.Collection, bool, error)
	CollectionByRemoteID(resource, remoteID string) (*model.Collection, bool, error)
	ChildrenOf(parentID int64) ([]*model.Collection, error)
	InsertCollection(c *model.Collection) error
	UpdateCollection(c *model.Collection) error
	MoveCollection(id, newParentID int64) error
	DeleteCollection(id int64) error

	ItemByID(id int64) (*model.Item, bool, error)
	ItemByRemoteID(resource, remoteID string) (*model.Item, bool, error)
	ItemByGID(gid string) (*model.Item, bool, error)
	ItemsByCollection(collectionID int64) ([]*model.Item, error)
	InsertItem(it *model.Item) error
	UpdateItem(it *model.Item) error
	MoveItem(id, newParentID int64) error
	DeleteItem(id int64) error

	TagByID(id int64) (*model.Tag, bool, error)
	TagByGID(gid string) (*model.Tag, bool, error)
	AllTags() ([]*model.Tag, error)
	InsertTag(t *model.Tag) error
	UpdateTag(t *model.Tag) error
	DeleteTag(id int64) error

	RelationsOf(itemID int64) ([]*model.Relation, error)
	InsertRelation(r *model.Relation) error
	DeleteRelation(r *model.Relation) error

	// VirtualLink/Unlink records the linkage table used by virtual
	// (saved-search) collections (spec §3, Collection invariants).
	LinkItem(collectionID, itemID int64) error
	UnlinkItem(collectionID, itemID int64) error
	LinkedItems(collectionID int64) ([]int64, error)

	Commit() error
	Rollback() error
}

// PartBlobStore persists externalized payload-part bytes (spec §6: "a part
// row carries an `external` flag and the in-row bytes are either the
// payload or the external file identifier").
type PartBlobStore interface {
	Put(data []byte) (id string, err error)
	Get(id string) ([]byte, error)
	Delete(id string) error
}

// Lookups report absence through their bool result rather than an error;
// the package declares no not-found error value.

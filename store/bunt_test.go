package store

import (
	"testing"

	"github.com/pim-systems/pimd/model"
)

func openMem(t *testing.T) *BuntStore {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndFetchCollection(t *testing.T) {
	db := openMem(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	coll := &model.Collection{ResourceID: "res1", Name: "Inbox", RemoteID: "inbox-remote"}
	if err := tx.InsertCollection(coll); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if coll.ID == 0 {
		t.Fatal("expected insert to assign a non-zero id")
	}

	got, ok, err := tx.CollectionByID(coll.ID)
	if err != nil {
		t.Fatalf("fetch by id: %v", err)
	}
	if !ok || got.Name != "Inbox" {
		t.Fatalf("expected Inbox, got %+v (ok=%v)", got, ok)
	}

	byRemote, ok, err := tx.CollectionByRemoteID("res1", "inbox-remote")
	if err != nil {
		t.Fatalf("fetch by remote id: %v", err)
	}
	if !ok || byRemote.ID != coll.ID {
		t.Fatalf("expected remote-id lookup to find id %d, got %+v (ok=%v)", coll.ID, byRemote, ok)
	}
}

func TestChildrenOfAndMoveCollection(t *testing.T) {
	db := openMem(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	parent := &model.Collection{ResourceID: "res1", Name: "Parent"}
	if err := tx.InsertCollection(parent); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	other := &model.Collection{ResourceID: "res1", Name: "Other"}
	if err := tx.InsertCollection(other); err != nil {
		t.Fatalf("insert other: %v", err)
	}
	child := &model.Collection{ParentID: parent.ID, ResourceID: "res1", Name: "Child"}
	if err := tx.InsertCollection(child); err != nil {
		t.Fatalf("insert child: %v", err)
	}

	kids, err := tx.ChildrenOf(parent.ID)
	if err != nil {
		t.Fatalf("children of: %v", err)
	}
	if len(kids) != 1 || kids[0].ID != child.ID {
		t.Fatalf("expected one child %d, got %+v", child.ID, kids)
	}

	if err := tx.MoveCollection(child.ID, other.ID); err != nil {
		t.Fatalf("move: %v", err)
	}

	oldParentKids, err := tx.ChildrenOf(parent.ID)
	if err != nil {
		t.Fatalf("children of old parent: %v", err)
	}
	if len(oldParentKids) != 0 {
		t.Fatalf("expected no children left under old parent, got %+v", oldParentKids)
	}
	newParentKids, err := tx.ChildrenOf(other.ID)
	if err != nil {
		t.Fatalf("children of new parent: %v", err)
	}
	if len(newParentKids) != 1 || newParentKids[0].ID != child.ID {
		t.Fatalf("expected moved child under new parent, got %+v", newParentKids)
	}
}

func TestDeleteCollectionRemovesIt(t *testing.T) {
	db := openMem(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	coll := &model.Collection{ResourceID: "res1", Name: "Trash"}
	if err := tx.InsertCollection(coll); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.DeleteCollection(coll.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := tx.CollectionByID(coll.ID); err != nil || ok {
		t.Fatalf("expected collection gone, ok=%v err=%v", ok, err)
	}
}

func TestItemLifecycle(t *testing.T) {
	db := openMem(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	coll := &model.Collection{ResourceID: "res1", Name: "Inbox"}
	if err := tx.InsertCollection(coll); err != nil {
		t.Fatalf("insert collection: %v", err)
	}

	it := &model.Item{ParentID: coll.ID, ResourceID: "res1", MimeType: "message/rfc822", GID: "gid-1"}
	if err := tx.InsertItem(it); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	if it.ID == 0 {
		t.Fatal("expected insert to assign a non-zero id")
	}

	items, err := tx.ItemsByCollection(coll.ID)
	if err != nil {
		t.Fatalf("items by collection: %v", err)
	}
	if len(items) != 1 || items[0].ID != it.ID {
		t.Fatalf("expected one item %d, got %+v", it.ID, items)
	}

	byGID, ok, err := tx.ItemByGID("gid-1")
	if err != nil {
		t.Fatalf("item by gid: %v", err)
	}
	if !ok || byGID.ID != it.ID {
		t.Fatalf("expected item %d by gid, got %+v (ok=%v)", it.ID, byGID, ok)
	}

	it.MimeType = "text/plain"
	if err := tx.UpdateItem(it); err != nil {
		t.Fatalf("update item: %v", err)
	}
	updated, _, err := tx.ItemByID(it.ID)
	if err != nil {
		t.Fatalf("fetch updated item: %v", err)
	}
	if updated.MimeType != "text/plain" {
		t.Fatalf("expected updated mime type, got %q", updated.MimeType)
	}

	if err := tx.DeleteItem(it.ID); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if _, ok, err := tx.ItemByID(it.ID); err != nil || ok {
		t.Fatalf("expected item gone, ok=%v err=%v", ok, err)
	}
}

func TestTagLifecycle(t *testing.T) {
	db := openMem(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	tag := &model.Tag{GID: "tag-gid-1", Type: "PLAIN"}
	if err := tx.InsertTag(tag); err != nil {
		t.Fatalf("insert tag: %v", err)
	}
	if tag.ID == 0 {
		t.Fatal("expected insert to assign a non-zero id")
	}

	byGID, ok, err := tx.TagByGID("tag-gid-1")
	if err != nil {
		t.Fatalf("tag by gid: %v", err)
	}
	if !ok || byGID.ID != tag.ID {
		t.Fatalf("expected tag %d by gid, got %+v (ok=%v)", tag.ID, byGID, ok)
	}

	if err := tx.DeleteTag(tag.ID); err != nil {
		t.Fatalf("delete tag: %v", err)
	}
	if _, ok, err := tx.TagByID(tag.ID); err != nil || ok {
		t.Fatalf("expected tag gone, ok=%v err=%v", ok, err)
	}
}

func TestVirtualLinkRoundTrip(t *testing.T) {
	db := openMem(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	coll := &model.Collection{ResourceID: "res1", Name: "Saved Search", Virtual: true}
	if err := tx.InsertCollection(coll); err != nil {
		t.Fatalf("insert collection: %v", err)
	}
	it := &model.Item{ResourceID: "res1", GID: "gid-2"}
	if err := tx.InsertItem(it); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	if err := tx.LinkItem(coll.ID, it.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	linked, err := tx.LinkedItems(coll.ID)
	if err != nil {
		t.Fatalf("linked items: %v", err)
	}
	if len(linked) != 1 || linked[0] != it.ID {
		t.Fatalf("expected [%d], got %v", it.ID, linked)
	}

	if err := tx.UnlinkItem(coll.ID, it.ID); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	linked, err = tx.LinkedItems(coll.ID)
	if err != nil {
		t.Fatalf("linked items after unlink: %v", err)
	}
	if len(linked) != 0 {
		t.Fatalf("expected no linked items, got %v", linked)
	}
}

func TestCommitPersistsAcrossTransactions(t *testing.T) {
	db := openMem(t)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	coll := &model.Collection{ResourceID: "res1", Name: "Inbox"}
	if err := tx.InsertCollection(coll); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, err := db.Begin()
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	defer tx2.Rollback()
	got, ok, err := tx2.CollectionByID(coll.ID)
	if err != nil {
		t.Fatalf("fetch after commit: %v", err)
	}
	if !ok || got.Name != "Inbox" {
		t.Fatalf("expected committed collection to be visible, got %+v (ok=%v)", got, ok)
	}
}

package store

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pim-systems/pimd/model"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

// BuntStore is the one shipped Store implementation: every entity is a JSON
// document inside a buntdb collection keyed "<kind>##<zero-padded-id>", with
// a handful of denormalized index keys for remote-id/gid/parent lookups.
// Modeled on the teacher's dbdriver.BuntDriver collection+key addressing
// (github.com/tidwall/buntdb), generalized from a flat key/value driver to
// the richer entity graph this server persists.
type BuntStore struct {
	db *buntdb.DB
}

var _ Store = (*BuntStore)(nil)

func Open(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "store: open buntdb")
	}
	db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkMinSize:    1 << 20,
		AutoShrinkPercentage: 50,
	})
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) Close() error { return s.db.Close() }

func (s *BuntStore) Begin() (Tx, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, errors.Wrap(err, "store: begin")
	}
	return &bunTx{tx: tx}, nil
}

type bunTx struct {
	tx *buntdb.Tx
}

var _ Tx = (*bunTx)(nil)

func (t *bunTx) Commit() error   { return t.tx.Commit() }
func (t *bunTx) Rollback() error { return t.tx.Rollback() }

// key helpers

func padID(id int64) string { return fmt.Sprintf("%020d", id) }

func collKey(id int64) string    { return "collection##" + padID(id) }
func itemKey(id int64) string    { return "item##" + padID(id) }
func tagKey(id int64) string     { return "tag##" + padID(id) }
func relKey(r *model.Relation) string {
	return "rel##" + padID(r.LeftItemID) + "##" + padID(r.RightItemID) + "##" + r.Type
}

func collRemoteIdx(resource, remoteID string) string { return "cridx##" + resource + "##" + remoteID }
func collParentIdx(parentID, id int64) string        { return "cpidx##" + padID(parentID) + "##" + padID(id) }
func itemRemoteIdx(resource, remoteID string) string { return "iridx##" + resource + "##" + remoteID }
func itemGidIdx(gid string) string                   { return "igidx##" + gid }
func itemParentIdx(parentID, id int64) string        { return "ipidx##" + padID(parentID) + "##" + padID(id) }
func tagGidIdx(gid string) string                    { return "tgidx##" + gid }
func relLeftIdx(left, right int64, typ string) string {
	return "relidx_l##" + padID(left) + "##" + padID(right) + "##" + typ
}
func relRightIdx(left, right int64, typ string) string {
	return "relidx_r##" + padID(right) + "##" + padID(left) + "##" + typ
}
func vlinkKey(collectionID, itemID int64) string {
	return "vlink##" + padID(collectionID) + "##" + padID(itemID)
}

func nextID(tx *buntdb.Tx, kind string) (int64, error) {
	key := "seq##" + kind
	cur, err := tx.Get(key)
	var n int64
	if err == nil {
		n, _ = strconv.ParseInt(cur, 10, 64)
	} else if err != buntdb.ErrNotFound {
		return 0, err
	}
	n++
	if _, _, err := tx.Set(key, strconv.FormatInt(n, 10), nil); err != nil {
		return 0, err
	}
	return n, nil
}

func marshal(v interface{}) (string, error) {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	return string(b), err
}

// ---- Collections ----

func (t *bunTx) AllCollections() ([]*model.Collection, error) {
	var out []*model.Collection
	err := t.tx.AscendKeys("collection##*", func(key, value string) bool {
		var c model.Collection
		if jerr := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(value, &c); jerr == nil {
			out = append(out, &c)
		}
		return true
	})
	return out, err
}

func (t *bunTx) CollectionByID(id int64) (*model.Collection, bool, error) {
	s, err := t.tx.Get(collKey(id))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var c model.Collection
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(s, &c); err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (t *bunTx) CollectionByRemoteID(resource, remoteID string) (*model.Collection, bool, error) {
	idStr, err := t.tx.Get(collRemoteIdx(resource, remoteID))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	id, _ := strconv.ParseInt(idStr, 10, 64)
	return t.CollectionByID(id)
}

func (t *bunTx) ChildrenOf(parentID int64) ([]*model.Collection, error) {
	var out []*model.Collection
	prefix := "cpidx##" + padID(parentID) + "##"
	var ids []int64
	err := t.tx.AscendKeys(prefix+"*", func(key, _ string) bool {
		idStr := strings.TrimPrefix(key, prefix)
		id, perr := strconv.ParseInt(idStr, 10, 64)
		if perr == nil {
			ids = append(ids, id)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		c, ok, err := t.CollectionByID(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *bunTx) InsertCollection(c *model.Collection) error {
	if c.ID == 0 {
		id, err := nextID(t.tx, "collection")
		if err != nil {
			return err
		}
		c.ID = id
	}
	if err := t.writeCollection(c); err != nil {
		return err
	}
	_, _, err := t.tx.Set(collParentIdx(c.ParentID, c.ID), "", nil)
	return err
}

func (t *bunTx) writeCollection(c *model.Collection) error {
	s, err := marshal(c)
	if err != nil {
		return err
	}
	if _, _, err := t.tx.Set(collKey(c.ID), s, nil); err != nil {
		return err
	}
	if c.RemoteID != "" {
		if _, _, err := t.tx.Set(collRemoteIdx(c.ResourceID, c.RemoteID), strconv.FormatInt(c.ID, 10), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *bunTx) UpdateCollection(c *model.Collection) error {
	return t.writeCollection(c)
}

func (t *bunTx) MoveCollection(id, newParentID int64) error {
	c, ok, err := t.CollectionByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewError(model.ErrNotFound, "collection not found")
	}
	if _, err := t.tx.Delete(collParentIdx(c.ParentID, id)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	c.ParentID = newParentID
	if err := t.writeCollection(c); err != nil {
		return err
	}
	_, _, err = t.tx.Set(collParentIdx(newParentID, id), "", nil)
	return err
}

func (t *bunTx) DeleteCollection(id int64) error {
	c, ok, err := t.CollectionByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := t.tx.Delete(collKey(id)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	if _, err := t.tx.Delete(collParentIdx(c.ParentID, id)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	if c.RemoteID != "" {
		if _, err := t.tx.Delete(collRemoteIdx(c.ResourceID, c.RemoteID)); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	return nil
}

// ---- Items ----

func (t *bunTx) writeItem(it *model.Item) error {
	s, err := marshal(it)
	if err != nil {
		return err
	}
	if _, _, err := t.tx.Set(itemKey(it.ID), s, nil); err != nil {
		return err
	}
	if it.RemoteID != "" {
		if _, _, err := t.tx.Set(itemRemoteIdx(it.ResourceID, it.RemoteID), strconv.FormatInt(it.ID, 10), nil); err != nil {
			return err
		}
	}
	if it.GID != "" {
		if _, _, err := t.tx.Set(itemGidIdx(it.GID), strconv.FormatInt(it.ID, 10), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *bunTx) ItemByID(id int64) (*model.Item, bool, error) {
	s, err := t.tx.Get(itemKey(id))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var it model.Item
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(s, &it); err != nil {
		return nil, false, err
	}
	return &it, true, nil
}

func (t *bunTx) ItemByRemoteID(resource, remoteID string) (*model.Item, bool, error) {
	idStr, err := t.tx.Get(itemRemoteIdx(resource, remoteID))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	id, _ := strconv.ParseInt(idStr, 10, 64)
	return t.ItemByID(id)
}

func (t *bunTx) ItemByGID(gid string) (*model.Item, bool, error) {
	idStr, err := t.tx.Get(itemGidIdx(gid))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	id, _ := strconv.ParseInt(idStr, 10, 64)
	return t.ItemByID(id)
}

func (t *bunTx) ItemsByCollection(collectionID int64) ([]*model.Item, error) {
	prefix := "ipidx##" + padID(collectionID) + "##"
	var ids []int64
	err := t.tx.AscendKeys(prefix+"*", func(key, _ string) bool {
		idStr := strings.TrimPrefix(key, prefix)
		if id, perr := strconv.ParseInt(idStr, 10, 64); perr == nil {
			ids = append(ids, id)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	// descending by id, per spec §4.7 fetch-items ("ordered by item id descending")
	var out []*model.Item
	for i := len(ids) - 1; i >= 0; i-- {
		it, ok, err := t.ItemByID(ids[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (t *bunTx) InsertItem(it *model.Item) error {
	if it.ID == 0 {
		id, err := nextID(t.tx, "item")
		if err != nil {
			return err
		}
		it.ID = id
	}
	if err := t.writeItem(it); err != nil {
		return err
	}
	_, _, err := t.tx.Set(itemParentIdx(it.ParentID, it.ID), "", nil)
	return err
}

func (t *bunTx) UpdateItem(it *model.Item) error { return t.writeItem(it) }

func (t *bunTx) MoveItem(id, newParentID int64) error {
	it, ok, err := t.ItemByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewError(model.ErrNotFound, "item not found")
	}
	if _, err := t.tx.Delete(itemParentIdx(it.ParentID, id)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	it.ParentID = newParentID
	if err := t.writeItem(it); err != nil {
		return err
	}
	_, _, err = t.tx.Set(itemParentIdx(newParentID, id), "", nil)
	return err
}

func (t *bunTx) DeleteItem(id int64) error {
	it, ok, err := t.ItemByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := t.tx.Delete(itemKey(id)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	if _, err := t.tx.Delete(itemParentIdx(it.ParentID, id)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	if it.RemoteID != "" {
		if _, err := t.tx.Delete(itemRemoteIdx(it.ResourceID, it.RemoteID)); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	if it.GID != "" {
		if _, err := t.tx.Delete(itemGidIdx(it.GID)); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	return nil
}

// ---- Tags ----

func (t *bunTx) writeTag(tag *model.Tag) error {
	s, err := marshal(tag)
	if err != nil {
		return err
	}
	if _, _, err := t.tx.Set(tagKey(tag.ID), s, nil); err != nil {
		return err
	}
	if tag.GID != "" {
		if _, _, err := t.tx.Set(tagGidIdx(tag.GID), strconv.FormatInt(tag.ID, 10), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *bunTx) TagByID(id int64) (*model.Tag, bool, error) {
	s, err := t.tx.Get(tagKey(id))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var tag model.Tag
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(s, &tag); err != nil {
		return nil, false, err
	}
	return &tag, true, nil
}

func (t *bunTx) TagByGID(gid string) (*model.Tag, bool, error) {
	idStr, err := t.tx.Get(tagGidIdx(gid))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	id, _ := strconv.ParseInt(idStr, 10, 64)
	return t.TagByID(id)
}

func (t *bunTx) AllTags() ([]*model.Tag, error) {
	var out []*model.Tag
	err := t.tx.AscendKeys("tag##*", func(key, value string) bool {
		var tag model.Tag
		if jerr := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(value, &tag); jerr == nil {
			out = append(out, &tag)
		}
		return true
	})
	return out, err
}

func (t *bunTx) InsertTag(tag *model.Tag) error {
	if tag.ID == 0 {
		id, err := nextID(t.tx, "tag")
		if err != nil {
			return err
		}
		tag.ID = id
	}
	return t.writeTag(tag)
}

func (t *bunTx) UpdateTag(tag *model.Tag) error { return t.writeTag(tag) }

func (t *bunTx) DeleteTag(id int64) error {
	tag, ok, err := t.TagByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := t.tx.Delete(tagKey(id)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	if tag.GID != "" {
		if _, err := t.tx.Delete(tagGidIdx(tag.GID)); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	return nil
}

// ---- Relations ----

func (t *bunTx) InsertRelation(r *model.Relation) error {
	if _, _, err := t.tx.Set(relKey(r), "1", nil); err != nil {
		return err
	}
	if _, _, err := t.tx.Set(relLeftIdx(r.LeftItemID, r.RightItemID, r.Type), "", nil); err != nil {
		return err
	}
	_, _, err := t.tx.Set(relRightIdx(r.LeftItemID, r.RightItemID, r.Type), "", nil)
	return err
}

func (t *bunTx) DeleteRelation(r *model.Relation) error {
	if _, err := t.tx.Delete(relKey(r)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	if _, err := t.tx.Delete(relLeftIdx(r.LeftItemID, r.RightItemID, r.Type)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	if _, err := t.tx.Delete(relRightIdx(r.LeftItemID, r.RightItemID, r.Type)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	return nil
}

func (t *bunTx) RelationsOf(itemID int64) ([]*model.Relation, error) {
	var out []*model.Relation
	leftPrefix := "relidx_l##" + padID(itemID) + "##"
	err := t.tx.AscendKeys(leftPrefix+"*", func(key, _ string) bool {
		parts := strings.Split(strings.TrimPrefix(key, leftPrefix), "##")
		if len(parts) != 2 {
			return true
		}
		right, _ := strconv.ParseInt(parts[0], 10, 64)
		out = append(out, &model.Relation{LeftItemID: itemID, RightItemID: right, Type: parts[1]})
		return true
	})
	if err != nil {
		return nil, err
	}
	rightPrefix := "relidx_r##" + padID(itemID) + "##"
	err = t.tx.AscendKeys(rightPrefix+"*", func(key, _ string) bool {
		parts := strings.Split(strings.TrimPrefix(key, rightPrefix), "##")
		if len(parts) != 2 {
			return true
		}
		left, _ := strconv.ParseInt(parts[0], 10, 64)
		out = append(out, &model.Relation{LeftItemID: left, RightItemID: itemID, Type: parts[1]})
		return true
	})
	return out, err
}

// ---- Virtual linkage (saved-search collections) ----

func (t *bunTx) LinkItem(collectionID, itemID int64) error {
	_, _, err := t.tx.Set(vlinkKey(collectionID, itemID), "", nil)
	return err
}

func (t *bunTx) UnlinkItem(collectionID, itemID int64) error {
	_, err := t.tx.Delete(vlinkKey(collectionID, itemID))
	if err == buntdb.ErrNotFound {
		return nil
	}
	return err
}

func (t *bunTx) LinkedItems(collectionID int64) ([]int64, error) {
	prefix := "vlink##" + padID(collectionID) + "##"
	var out []int64
	err := t.tx.AscendKeys(prefix+"*", func(key, _ string) bool {
		idStr := strings.TrimPrefix(key, prefix)
		if id, perr := strconv.ParseInt(idStr, 10, 64); perr == nil {
			out = append(out, id)
		}
		return true
	})
	return out, err
}

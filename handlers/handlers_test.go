package handlers

import (
	"testing"

	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/scope"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/statscache"
	"github.com/pim-systems/pimd/store"
	"github.com/pim-systems/pimd/tree"
)

type fakeScopes struct{}

func (fakeScopes) AggregatedItemScope() scope.ItemScope             { return scope.ItemScope{} }
func (fakeScopes) AggregatedCollectionScope() scope.CollectionScope { return scope.CollectionScope{} }
func (fakeScopes) AggregatedTagScope() scope.TagScope               { return scope.TagScope{} }

func newTestDeps(t *testing.T) (*Deps, store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Deps{Tree: tree.New(db), Stats: statscache.New()}, db
}

// collected drains a collector's buffered notifications without caring
// about completion or stats side effects, for assertions in these tests.
func collected(t *testing.T, tx store.Tx, c *notify.Collector) []*model.Notification {
	t.Helper()
	var got []*model.Notification
	c.DispatchNotifications(tx, fakeScopes{}, nil, func(batch []*model.Notification) {
		got = append(got, batch...)
	})
	return got
}

func mustBegin(t *testing.T, db store.Store) store.Tx {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

func TestSelectResetsOnFailure(t *testing.T) {
	_, db := newTestDeps(t)
	tx := mustBegin(t, db)
	defer tx.Rollback()

	ctx := session.NewContext()
	ctx.SetCollection(42)

	err := Select(ctx, tx, nil, &protocol.Select{CollectionID: 999}, nil)
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if ctx.SelectedCollection != 0 {
		t.Fatalf("failed select must deselect, got %d", ctx.SelectedCollection)
	}
}

func TestSelectSucceeds(t *testing.T) {
	d, db := newTestDeps(t)
	_ = d
	tx := mustBegin(t, db)
	if err := tx.InsertCollection(&model.Collection{ID: 1, ResourceID: "res1", Name: "Inbox", Enabled: true}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ctx := session.NewContext()
	if err := Select(ctx, tx, nil, &protocol.Select{CollectionID: 1}, nil); err != nil {
		t.Fatalf("select: %v", err)
	}
	if ctx.SelectedCollection != 1 || ctx.Resource != "res1" {
		t.Fatalf("unexpected context after select: %+v", ctx)
	}
}

func TestFetchCollectionStats(t *testing.T) {
	d, db := newTestDeps(t)
	tx := mustBegin(t, db)
	coll := &model.Collection{ID: 1, ResourceID: "res1", Name: "Inbox"}
	if err := tx.InsertCollection(coll); err != nil {
		t.Fatalf("insert coll: %v", err)
	}
	if err := tx.InsertItem(&model.Item{ID: 1, ParentID: 1, Size: 100, Flags: []model.Flag{"\\Seen"}}); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	if err := tx.InsertItem(&model.Item{ID: 2, ParentID: 1, Size: 50}); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	var got *protocol.FetchCollectionStatsResp
	emit := func(m protocol.Message) error {
		got = m.(*protocol.FetchCollectionStatsResp)
		return nil
	}
	if err := d.FetchCollectionStats(session.NewContext(), tx, nil, &protocol.FetchCollectionStats{CollectionID: 1}, emit); err != nil {
		t.Fatalf("fetch stats: %v", err)
	}
	if got.Count != 2 || got.Size != 150 || got.Read != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestModifyCollectionEnablementEmitsSubscribeAndModify(t *testing.T) {
	d, db := newTestDeps(t)
	tx := mustBegin(t, db)
	coll := &model.Collection{ID: 1, ResourceID: "res1", Name: "Inbox", Enabled: false}
	if err := tx.InsertCollection(coll); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := notify.NewCollector("sess1")
	req := &protocol.ModifyCollection{CollectionID: 1, Changed: map[string]string{"ENABLED": "true"}}
	if err := d.ModifyCollection(session.NewContext(), tx, c, req, nil); err != nil {
		t.Fatalf("modify: %v", err)
	}

	notifications := collected(t, tx, c)
	var sawModify, sawSubscribe bool
	for _, n := range notifications {
		if n.Kind != model.NotifyCollection {
			continue
		}
		switch n.Operation {
		case model.OpModify:
			sawModify = true
			if _, ok := n.ChangedParts["ENABLED"]; !ok {
				t.Fatalf("expected ENABLED in changed parts, got %v", n.ChangedParts)
			}
		case model.OpSubscribe:
			sawSubscribe = true
		}
	}
	if !sawModify || !sawSubscribe {
		t.Fatalf("expected Modify+Subscribe pair, got %d notifications: %+v", len(notifications), notifications)
	}
}

func TestModifyCollectionNoOpEmitsNothing(t *testing.T) {
	d, db := newTestDeps(t)
	tx := mustBegin(t, db)
	coll := &model.Collection{ID: 1, ResourceID: "res1", Name: "Inbox"}
	if err := tx.InsertCollection(coll); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := notify.NewCollector("sess1")
	req := &protocol.ModifyCollection{CollectionID: 1, Changed: map[string]string{"NAME": "Inbox"}}
	if err := d.ModifyCollection(session.NewContext(), tx, c, req, nil); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if got := collected(t, tx, c); len(got) != 0 {
		t.Fatalf("expected no notifications for a no-op modify, got %+v", got)
	}
}

func TestDeleteTagCascadesAndNotifies(t *testing.T) {
	d, db := newTestDeps(t)
	tx := mustBegin(t, db)
	if err := tx.InsertCollection(&model.Collection{ID: 1, ResourceID: "res1"}); err != nil {
		t.Fatalf("insert coll: %v", err)
	}
	tag := &model.Tag{ID: 5, GID: "g5", RemoteIDs: map[string]string{"res1": "rid5"}}
	if err := tx.InsertTag(tag); err != nil {
		t.Fatalf("insert tag: %v", err)
	}
	if err := tx.InsertItem(&model.Item{ID: 1, ParentID: 1, Tags: []int64{5}}); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	c := notify.NewCollector("sess1")
	ctx := session.NewContext()
	ctx.SetResource("res1")
	if err := d.DeleteTag(ctx, tx, c, &protocol.DeleteTag{TagID: 5}, nil); err != nil {
		t.Fatalf("delete tag: %v", err)
	}

	it, ok, err := tx.ItemByID(1)
	if err != nil || !ok {
		t.Fatalf("item lookup: %v %v", ok, err)
	}
	if containsTag(it.Tags, 5) {
		t.Fatalf("expected tag removed from item, got %v", it.Tags)
	}

	notifications := collected(t, tx, c)
	if len(notifications) != 1 || notifications[0].Kind != model.NotifyTag || notifications[0].Operation != model.OpRemove {
		t.Fatalf("expected one Tag-Remove notification, got %+v", notifications)
	}
	if notifications[0].Resource != "res1" {
		t.Fatalf("expected resource res1 on tag-remove, got %q", notifications[0].Resource)
	}
}

func TestFetchItemsIgnoreErrorsServesPartialItem(t *testing.T) {
	d, db := newTestDeps(t)
	tx := mustBegin(t, db)
	if err := tx.InsertCollection(&model.Collection{ID: 1, ResourceID: "res1"}); err != nil {
		t.Fatalf("insert coll: %v", err)
	}
	it := &model.Item{
		ID: 1, ParentID: 1, ResourceID: "res1",
		Parts: []model.Part{{Name: "RFC822", External: true, Data: nil, Size: 1000}},
	}
	if err := tx.InsertItem(it); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	var got []*model.Item
	emit := func(m protocol.Message) error {
		resp := m.(*protocol.FetchItemsResp)
		got = append(got, resp.Items...)
		return nil
	}
	req := &protocol.FetchItems{CollectionID: 1, ItemScope: protocol.ItemFetchScope{IgnoreErrors: true}}
	if err := d.FetchItems(session.NewContext(), tx, nil, req, emit); err != nil {
		t.Fatalf("fetch items: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected item emitted even with uncached external part, got %d", len(got))
	}

	refreshed, ok, err := tx.ItemByID(1)
	if err != nil || !ok {
		t.Fatalf("item lookup: %v %v", ok, err)
	}
	if !refreshed.ATime.IsZero() {
		t.Fatalf("atime must not update when payload was not fully served")
	}
}

func TestFetchItemsAbortsOnMissingPartWithoutIgnoreErrors(t *testing.T) {
	d, db := newTestDeps(t)
	tx := mustBegin(t, db)
	if err := tx.InsertCollection(&model.Collection{ID: 1, ResourceID: "res1"}); err != nil {
		t.Fatalf("insert coll: %v", err)
	}
	it := &model.Item{
		ID: 1, ParentID: 1, ResourceID: "res1",
		Parts: []model.Part{{Name: "RFC822", External: true, Data: nil, Size: 1000}},
	}
	if err := tx.InsertItem(it); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	req := &protocol.FetchItems{CollectionID: 1, ItemScope: protocol.ItemFetchScope{IgnoreErrors: false}}
	err := d.FetchItems(session.NewContext(), tx, nil, req, func(protocol.Message) error { return nil })
	if err == nil {
		t.Fatal("expected an error when a required part is not cached and ignoreErrors is unset")
	}
}

func TestFetchTagsAdditiveAttributes(t *testing.T) {
	d, db := newTestDeps(t)
	tx := mustBegin(t, db)
	tag := &model.Tag{
		ID: 1, GID: "g1",
		Attributes: []model.Attribute{{Key: []byte("color"), Value: []byte("red")}, {Key: []byte("note"), Value: []byte("x")}},
	}
	if err := tx.InsertTag(tag); err != nil {
		t.Fatalf("insert tag: %v", err)
	}

	var got []*model.Tag
	emit := func(m protocol.Message) error {
		resp := m.(*protocol.FetchTagsResp)
		got = append(got, resp.Tags...)
		return nil
	}
	req := &protocol.FetchTags{Scope: protocol.Scope{Kind: protocol.ScopeUID, UIDs: []int64{1}}, AttrNames: []string{"color"}}
	if err := d.FetchTags(session.NewContext(), tx, nil, req, emit); err != nil {
		t.Fatalf("fetch tags: %v", err)
	}
	if len(got) != 1 || len(got[0].Attributes) != 1 || string(got[0].Attributes[0].Key) != "color" {
		t.Fatalf("expected only the allow-listed attribute, got %+v", got)
	}
}

func TestSearchResultResolvesUIDsAndEmptyOnFailure(t *testing.T) {
	d, db := newTestDeps(t)
	tx := mustBegin(t, db)
	if err := tx.InsertCollection(&model.Collection{ID: 1, ResourceID: "res1"}); err != nil {
		t.Fatalf("insert coll: %v", err)
	}
	if err := tx.InsertItem(&model.Item{ID: 7, ParentID: 1, ResourceID: "res1", RemoteID: "r7"}); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	mgr := NewSearchTaskManager()
	d.Search = mgr
	ch := mgr.Register("corr1")
	req := &protocol.SearchResult{CorrelationID: "corr1", RemoteIDs: []string{"r7"}, Resource: "res1", Success: true}
	if err := d.SearchResult(session.NewContext(), tx, nil, req, nil); err != nil {
		t.Fatalf("search result: %v", err)
	}
	uids := <-ch
	if len(uids) != 1 || uids[0] != 7 {
		t.Fatalf("expected resolved uid 7, got %v", uids)
	}

	ch2 := mgr.Register("corr2")
	failReq := &protocol.SearchResult{CorrelationID: "corr2", Success: false}
	if err := d.SearchResult(session.NewContext(), tx, nil, failReq, nil); err != nil {
		t.Fatalf("search result failure: %v", err)
	}
	uids2 := <-ch2
	if len(uids2) != 0 {
		t.Fatalf("expected empty set on failure, got %v", uids2)
	}
}

package notify

import (
	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/scope"
	"github.com/pim-systems/pimd/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// spec §8 scenarios 2-4 read as Given/Expected, so they're expressed with
// ginkgo/gomega rather than table-driven stdlib tests (matching the
// teacher's own dsort/lru suites' Describe/It shape for scenario-style
// specs).
var _ = Describe("Collection-modify notifications", func() {
	var (
		db *store.BuntStore
		c  *Collector
	)

	BeforeEach(func() {
		var err error
		db, err = store.Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
		c = NewCollector("s1")
	})

	AfterEach(func() {
		db.Close()
	})

	run := func(scopes Scopes) []*model.Notification {
		tx, err := db.Begin()
		Expect(err).NotTo(HaveOccurred())
		defer tx.Rollback()
		var got []*model.Notification
		c.DispatchNotifications(tx, scopes, nil, func(batch []*model.Notification) { got = batch })
		return got
	}

	// Scenario 2: existing collection id=5 under parent 4 in resource r0,
	// name ColD. ModifyCollection(id=5, name="New Name") produces exactly
	// one Modify notification with changedParts={NAME}.
	Describe("a plain rename", func() {
		It("emits exactly one Modify with changedParts={NAME}", func() {
			coll := &model.Collection{ID: 5, ParentID: 4, ResourceID: "r0", Name: "New Name"}
			c.CollectionChanged(coll, map[string]struct{}{"NAME": {}})

			got := run(fakeScopes{coll: scope.CollectionScope{Attrs: map[string]struct{}{"x": {}}}})
			Expect(got).To(HaveLen(1))
			Expect(got[0].Operation).To(Equal(model.OpModify))
			Expect(got[0].Collection.Name).To(Equal("New Name"))
			Expect(got[0].ChangedParts).To(HaveKey("NAME"))
			Expect(got[0].ChangedParts).To(HaveLen(1))
		})
	})

	// Scenario 3: collection id=5, currently enabled. Disabling it emits
	// Modify(changedParts={ENABLED}) then Unsubscribe, in that order;
	// re-enabling emits Modify then Subscribe.
	Describe("enablement toggles", func() {
		It("emits Modify then Unsubscribe on disable", func() {
			coll := &model.Collection{ID: 5, Enabled: false}
			c.CollectionChanged(coll, map[string]struct{}{"ENABLED": {}})
			c.CollectionUnsubscribed(coll)

			got := run(fakeScopes{})
			Expect(got).To(HaveLen(2))
			Expect(got[0].Operation).To(Equal(model.OpModify))
			Expect(got[0].ChangedParts).To(HaveKey("ENABLED"))
			Expect(got[1].Operation).To(Equal(model.OpUnsubscribe))
		})

		It("emits Modify then Subscribe on re-enable", func() {
			coll := &model.Collection{ID: 5, Enabled: true}
			c.CollectionChanged(coll, map[string]struct{}{"ENABLED": {}})
			c.CollectionSubscribed(coll)

			got := run(fakeScopes{})
			Expect(got).To(HaveLen(2))
			Expect(got[0].Operation).To(Equal(model.OpModify))
			Expect(got[1].Operation).To(Equal(model.OpSubscribe))
		})
	})

	// Scenario 4: collection id=5 currently enabled; ModifyCollection sets
	// enabled=false, syncPref=true, displayPref=true, indexPref=true.
	// Expected: Modify(changedParts={ENABLED,SYNC,DISPLAY,INDEX}) then
	// Unsubscribe; effective sync/display/index each read true because the
	// local override wins over enabled=false.
	Describe("local-override preferences alongside a disable", func() {
		It("reports all four changed-parts and keeps overrides effective", func() {
			coll := &model.Collection{
				ID:      5,
				Enabled: false,
				Prefs:   model.ViewPreferences{Sync: model.True, Display: model.True, Index: model.True},
			}
			changed := map[string]struct{}{"ENABLED": {}, "SYNC_PREF": {}, "DISPLAY_PREF": {}, "INDEX_PREF": {}}
			c.CollectionChanged(coll, changed)
			c.CollectionUnsubscribed(coll)

			got := run(fakeScopes{})
			Expect(got).To(HaveLen(2))
			for _, key := range []string{"ENABLED", "SYNC_PREF", "DISPLAY_PREF", "INDEX_PREF"} {
				Expect(got[0].ChangedParts).To(HaveKey(key))
			}
			Expect(got[1].Operation).To(Equal(model.OpUnsubscribe))
			Expect(coll.EffectiveSync()).To(BeTrue())
			Expect(coll.EffectiveDisplay()).To(BeTrue())
			Expect(coll.EffectiveIndex()).To(BeTrue())
		})
	})
})

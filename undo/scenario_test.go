package undo

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// liveDeletedIDs returns ids other than original that are currently marked
// deleted, i.e. entities standing in for the original under a remapped id.
func liveDeletedIDs(exec *fakeExecutor, original int64) []int64 {
	var ids []int64
	for id, deleted := range exec.deleted {
		if deleted && id != original {
			ids = append(ids, id)
		}
	}
	return ids
}

// spec §8 scenario 6 reads as Given/Expected, so it's expressed with
// ginkgo/gomega rather than a stdlib table test (matching the plain
// TestXxx style used for the round-trip/rollback properties alongside it
// in undo_test.go, which stay as stdlib since they aren't scenario-shaped).
var _ = Describe("Undo of an atomic batch", func() {
	var (
		exec *fakeExecutor
		e    *Engine
		x    int64
	)

	BeforeEach(func() {
		exec = newFakeExecutor()
		e = NewEngine(exec)

		// startAtomicOperation; create X, modify X, delete X; endAtomicOperation
		var err error
		x, err = exec.Create(1, []byte("v1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(exec.Modify(x, []byte("v2"))).To(Succeed())
		Expect(exec.Delete(x)).To(Succeed())

		batch := []*Entry{
			NewCreationEntry(x, 1, []byte("v1")),
			NewModificationEntry(x, []byte("v1"), []byte("v2")),
			NewDeletionEntry(x, 1, []byte("v2")),
		}
		e.Record(NewMultiEntry("atomic-batch", batch))
	})

	It("has undo count 1 and redo count 0 after the batch", func() {
		Expect(e.CanUndo()).To(BeTrue())
		Expect(e.CanRedo()).To(BeFalse())
		Expect(e.undoStack).To(HaveLen(1))
		Expect(e.redoStack).To(BeEmpty())
	})

	It("undoes to a store with no live X and redoes back to the same deleted state", func() {
		Expect(e.Undo()).To(Succeed())

		Expect(e.CanUndo()).To(BeFalse())
		Expect(e.CanRedo()).To(BeTrue())

		// reversing create->modify->delete nets the same shape (recreate,
		// re-modify, re-delete) under a freshly remapped id: the original id
		// x is never resurrected, and whatever id now stands in for X ends
		// up deleted again.
		deletedAfterUndo := liveDeletedIDs(exec, x)
		Expect(deletedAfterUndo).NotTo(BeEmpty(), "expected the recreated entity to end up deleted under its new id")

		Expect(e.Redo()).To(Succeed())
		Expect(e.CanUndo()).To(BeTrue())
		Expect(e.CanRedo()).To(BeFalse())

		deletedAfterRedo := liveDeletedIDs(exec, x)
		Expect(deletedAfterRedo).NotTo(BeEmpty(), "expected redo to restore the post-batch deleted state")
	})
})

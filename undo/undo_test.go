package undo

import (
	"testing"

	"github.com/pkg/errors"
)

// fakeExecutor is an in-memory Executor: collectionID is ignored beyond
// being threaded through, entities are keyed by an incrementing id.
type fakeExecutor struct {
	nextID  int64
	entries map[int64][]byte
	deleted map[int64]bool
	failOn  string // entity payload content that triggers a forced failure, for atomic-rollback tests
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{nextID: 100, entries: map[int64][]byte{}, deleted: map[int64]bool{}}
}

func (f *fakeExecutor) Create(_ int64, payload []byte) (int64, error) {
	if f.failOn != "" && string(payload) == f.failOn {
		return 0, errors.New("forced create failure")
	}
	f.nextID++
	id := f.nextID
	f.entries[id] = payload
	delete(f.deleted, id)
	return id, nil
}

func (f *fakeExecutor) Delete(id int64) error {
	if _, ok := f.entries[id]; !ok {
		return errors.Errorf("no such entity %d", id)
	}
	f.deleted[id] = true
	return nil
}

func (f *fakeExecutor) Modify(id int64, payload []byte) error {
	if f.failOn != "" && string(payload) == f.failOn {
		return errors.New("forced modify failure")
	}
	if _, ok := f.entries[id]; !ok {
		return errors.Errorf("no such entity %d", id)
	}
	f.entries[id] = payload
	return nil
}

// Atomic runs fn directly against f itself; a real store would roll back
// everything fn did on error, which is exactly what our test assertions
// check for via the Result reclassification the Engine applies regardless
// of what the fake does to its own maps.
func (f *fakeExecutor) Atomic(fn func(Executor) error) error {
	return fn(f)
}

func TestUndoRedoCreation(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec)

	id, err := exec.Create(1, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	e.Record(NewCreationEntry(id, 1, []byte("a")))

	if !e.CanUndo() || e.CanRedo() {
		t.Fatalf("expected undo available, redo empty")
	}
	if err := e.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !exec.deleted[id] {
		t.Fatalf("expected entity %d deleted after undo", id)
	}
	if e.CanUndo() || !e.CanRedo() {
		t.Fatalf("expected undo empty, redo available after undo")
	}

	if err := e.Redo(); err != nil {
		t.Fatalf("redo: %v", err)
	}
	// Creation-redo recreates under a new id (identity remapping); the
	// original id stays deleted.
	if !exec.deleted[id] {
		t.Fatalf("original id %d should remain deleted", id)
	}
	if !e.CanUndo() || e.CanRedo() {
		t.Fatalf("expected undo available again after redo")
	}
}

func TestUndoDeletionRecreatesAndRemapsIdentity(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec)

	id, _ := exec.Create(1, []byte("a"))
	if err := exec.Delete(id); err != nil {
		t.Fatal(err)
	}
	del := NewDeletionEntry(id, 1, []byte("a"))
	e.Record(del)

	// a second, unrelated entry referencing the same (now stale) id should
	// get remapped too, to exercise the cross-stack propagation.
	mod := NewModificationEntry(id, []byte("old"), []byte("new"))
	e.undoStack = append(e.undoStack, mod)

	if err := e.Undo(); err != nil { // undoes mod (LIFO: mod was pushed last)
		t.Fatalf("undo: %v", err)
	}
	if err := e.Undo(); err != nil { // undoes the deletion: recreates the entity
		t.Fatalf("undo: %v", err)
	}
	// the original row stays deleted forever; recreation makes a new row
	// under a new id, which del.EntityID now holds.
	if del.EntityID == id {
		t.Fatalf("expected deletion's undo to assign a fresh id, still has stale %d", id)
	}
	if exec.deleted[del.EntityID] {
		t.Fatalf("freshly recreated entity %d should not be marked deleted", del.EntityID)
	}

	// mod now sits on the Redo stack; its EntityID must have followed the
	// deletion's remap to the freshly recreated id, not the stale one.
	if len(e.redoStack) != 2 {
		t.Fatalf("expected 2 entries on redo stack, got %d", len(e.redoStack))
	}
	for _, en := range e.redoStack {
		if en.EntityID == id {
			t.Fatalf("entry %s still references stale id %d after remap", en.ID, id)
		}
	}
}

func TestModificationUndoRedoRoundTrip(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec)

	id, _ := exec.Create(1, []byte("v1"))
	if err := exec.Modify(id, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	e.Record(NewModificationEntry(id, []byte("v1"), []byte("v2")))

	if err := e.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if string(exec.entries[id]) != "v1" {
		t.Fatalf("expected v1 after undo, got %q", exec.entries[id])
	}
	if err := e.Redo(); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if string(exec.entries[id]) != "v2" {
		t.Fatalf("expected v2 after redo, got %q", exec.entries[id])
	}
}

func TestMultiAtomicUndoAllOrNothing(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec)

	id1, _ := exec.Create(1, []byte("a"))
	id2, _ := exec.Create(1, []byte("b"))
	if err := exec.Delete(id2); err != nil {
		t.Fatal(err)
	}

	children := []*Entry{
		NewCreationEntry(id1, 1, []byte("a")),
		NewDeletionEntry(id2, 1, []byte("b")),
	}
	multi := NewMultiEntry("batch-1", children)
	e.Record(multi)

	if err := e.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !exec.deleted[id1] {
		t.Fatalf("expected id1 deleted by Multi undo (Creation inverse)")
	}
	// recreation assigns a fresh id (the original row stays deleted), which
	// the Deletion child now holds.
	if recreated := children[1].EntityID; recreated == id2 || exec.deleted[recreated] {
		t.Fatalf("expected id2 recreated by Multi undo (Deletion inverse)")
	}
	for _, c := range children {
		if c.Result != ResultSuccess {
			t.Fatalf("expected child %s success, got %s", c.ID, c.Result)
		}
	}
}

func TestMultiRollbackReclassifiesSuccessfulChildren(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec)
	exec.failOn = "boom"

	id1, _ := exec.Create(1, []byte("before"))
	idB, _ := exec.Create(1, []byte("b"))

	// forward order: [A, B]; undo runs reversed, B first (succeeds, a
	// plain delete) then A second (fails: undoing a Modification replays
	// entry.Before, here "boom"). B must be reclassified from success to
	// rolled-back once A's failure aborts the batch.
	entryA := NewModificationEntry(id1, []byte("boom"), []byte("after"))
	entryB := NewCreationEntry(idB, 1, []byte("b"))
	children := []*Entry{entryA, entryB}
	multi := NewMultiEntry("batch-2", children)
	e.Record(multi)

	if err := e.Undo(); err != nil {
		t.Fatalf("undo should surface no top-level error, the engine absorbs it: %v", err)
	}
	if multi.Result != ResultFailed {
		t.Fatalf("expected Multi failed, got %s", multi.Result)
	}
	if entryA.Result != ResultFailed {
		t.Fatalf("expected entryA failed, got %s", entryA.Result)
	}
	if entryB.Result != ResultRolledBack {
		t.Fatalf("expected entryB reclassified rolled-back, got %s", entryB.Result)
	}
	if !e.CanUndo() {
		t.Fatalf("expected failed Multi pushed back onto Undo stack")
	}
}

func TestQueuedDuringOperationDrainsAfterward(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec)

	id, _ := exec.Create(1, []byte("a"))
	e.Record(NewCreationEntry(id, 1, []byte("a")))

	// Simulate a concurrent recording arriving while running is true by
	// calling run() manually is awkward from outside the package; instead
	// verify the documented queue/drain path directly.
	e.running = true
	other := NewModificationEntry(id, []byte("x"), []byte("y"))
	e.Record(other)
	if len(e.queued) != 1 {
		t.Fatalf("expected entry diverted to queue while running")
	}
	e.running = false
	e.drainQueueLocked(false)
	if len(e.queued) != 0 {
		t.Fatalf("expected queue drained")
	}
	found := false
	for _, en := range e.undoStack {
		if en == other {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected queued entry appended to undo stack after drain")
	}
}

func TestAlreadyRunningRejectsConcurrentOperation(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec)
	id, _ := exec.Create(1, []byte("a"))
	e.Record(NewCreationEntry(id, 1, []byte("a")))
	e.running = true
	if err := e.Undo(); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := e.Redo(); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestDisabledEngineDoesNotRecord(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec)
	e.SetEnabled(false)
	id, _ := exec.Create(1, []byte("a"))
	e.Record(NewCreationEntry(id, 1, []byte("a")))
	if e.CanUndo() {
		t.Fatalf("expected disabled engine to drop recordings")
	}
}

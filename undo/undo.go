// Package undo implements the undoable change engine (C8): a client-side
// coordinator that sits on top of the wire protocol, remembering every
// completed change so it can be inverted or replayed, and presenting a
// uniform undo/redo API to an application.
//
// Modeled on the teacher's xaction/registry/registry.go registry-of-entries
// idiom (a mutex-guarded slice of entries with push/pop bookkeeping),
// generalized from one flat slice of running/finished xactions into two
// stacks plus a queue (spec §4.8).
package undo

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pim-systems/pimd/itip"
)

// Kind classifies an Entry's inverse (spec §4.8 "Entry taxonomy").
type Kind int8

const (
	KindCreation Kind = iota
	KindDeletion
	KindModification
	KindMulti
)

// Result is an entry's outcome after its most recent execution.
type Result int8

const (
	ResultSuccess Result = iota
	ResultFailed
	ResultRolledBack
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	case ResultRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// direction selects which way an Entry is being applied.
type direction int8

const (
	directionUndo direction = iota
	directionRedo
)

// Entry is one recorded change, or (Kind == KindMulti) a group of entries
// that share an atomic-operation id.
type Entry struct {
	ID           string
	Kind         Kind
	EntityID     int64
	CollectionID int64 // original storage collection; Deletion's undo recreates into it
	Before       []byte
	Created      []byte
	AtomicGroupID string
	Children     []*Entry // Multi only, in original execution order
	Result       Result
	Err          string

	// Incidence carries the groupware-policy shape for this entry's entity
	// (spec §4.9). Its zero value has SupportsGroupware == false, which
	// makes itip.Engine's Pre/PostChange a no-op, so plain non-calendar
	// entries never need to set this.
	Incidence itip.Incidence
	// ITIPMessage records what PostChange decided after this entry's most
	// recent apply, for the caller to act on (spec §2: "C9 wraps C8's
	// pre/post phases"). Left at its zero value (MsgNone) when no itip
	// Engine is wired.
	ITIPMessage itip.MessageKind
}

func newEntry(kind Kind) *Entry {
	return &Entry{ID: uuid.NewString(), Kind: kind}
}

// NewCreationEntry records a newly created entity (inverse: delete it).
// created is the payload the store accepted, kept so a later redo can
// recreate the entity if it was undone in between.
func NewCreationEntry(entityID, collectionID int64, created []byte) *Entry {
	e := newEntry(KindCreation)
	e.EntityID, e.CollectionID, e.Created = entityID, collectionID, created
	return e
}

// NewDeletionEntry records a deleted entity (inverse: recreate it with the
// recorded payload, in its original storage collection).
func NewDeletionEntry(entityID, collectionID int64, before []byte) *Entry {
	e := newEntry(KindDeletion)
	e.EntityID, e.CollectionID, e.Before = entityID, collectionID, before
	return e
}

// NewModificationEntry records a modification (inverse: modify back to
// before).
func NewModificationEntry(entityID int64, before, after []byte) *Entry {
	e := newEntry(KindModification)
	e.EntityID, e.Before, e.Created = entityID, before, after
	return e
}

// NewMultiEntry aggregates co-created entries sharing an atomic-operation
// id. Its inverse executes children in reverse order inside a single
// atomic batch; its redo executes children in original order.
func NewMultiEntry(atomicGroupID string, children []*Entry) *Entry {
	e := newEntry(KindMulti)
	e.AtomicGroupID = atomicGroupID
	e.Children = children
	return e
}

// Executor performs the store operations an Entry's inverse or redo
// actually applies (spec §4.8 runs "against the store").
type Executor interface {
	Create(collectionID int64, payload []byte) (newID int64, err error)
	Delete(id int64) error
	Modify(id int64, payload []byte) error
	// Atomic runs fn as a single atomic batch; if fn returns a non-nil
	// error every operation performed by fn's Executor is rolled back by
	// the store before Atomic itself returns that error.
	Atomic(fn func(Executor) error) error
}

var (
	// ErrAlreadyRunning is returned by Undo/Redo/UndoAll when another
	// undo/redo is already in progress (spec §4.8: "at most one undo/redo
	// runs at a time").
	ErrAlreadyRunning = errors.New("undo: an operation is already in progress")
	// ErrNothingToUndo/ErrNothingToRedo are returned when the respective
	// stack is empty.
	ErrNothingToUndo = errors.New("undo: nothing to undo")
	ErrNothingToRedo = errors.New("undo: nothing to redo")
	// ErrVetoed is returned by a Modification's apply when itip.Engine's
	// PreChange declines to send the required attendee notification (spec
	// §4.9: the modification itself must be reverted in that case).
	ErrVetoed = errors.New("undo: modification vetoed by invitation policy")
)

// Engine is the undo/redo coordinator. The zero value is not usable; build
// one with NewEngine.
type Engine struct {
	exec Executor

	// itipEngine gates and reacts to calendar-incidence changes (spec §2:
	// "C9 wraps C8's pre/post phases"). Nil means no groupware policy is in
	// effect, the common case outside the calendar resource.
	itipEngine *itip.Engine

	undoStack []*Entry
	redoStack []*Entry
	queued    []*Entry

	// activeGroup holds the children of a Multi currently executing inside
	// applyMulti, so remapID can reach siblings that haven't run yet (they
	// live in neither stack nor the queue while the batch is in flight).
	activeGroup []*Entry

	running bool
	enabled bool
}

func NewEngine(exec Executor) *Engine {
	return &Engine{exec: exec, enabled: true}
}

// SetEnabled disables recording without affecting in-flight operations
// (spec §4.8).
func (e *Engine) SetEnabled(on bool) { e.enabled = on }

// SetITIPEngine wires a groupware invitation policy into this Engine's
// apply path: every leaf entry's Incidence is run through it/PreChange
// before a Modification is applied and PostChange after any successful
// apply (spec §2, §4.9).
func (e *Engine) SetITIPEngine(it *itip.Engine) { e.itipEngine = it }

// Record appends a newly completed change. If an undo/redo is currently
// running, the entry is diverted to the queue and drained onto the Undo
// stack once that operation finishes (spec §4.8); otherwise it lands on
// the Undo stack directly and clears the Redo stack, the ordinary
// "new edit invalidates redo history" rule.
func (e *Engine) Record(entry *Entry) {
	if !e.enabled {
		return
	}
	if e.running {
		e.queued = append(e.queued, entry)
		return
	}
	e.undoStack = append(e.undoStack, entry)
	e.redoStack = nil
}

// CanUndo/CanRedo report whether the respective stack is non-empty.
func (e *Engine) CanUndo() bool { return len(e.undoStack) > 0 }
func (e *Engine) CanRedo() bool { return len(e.redoStack) > 0 }

// Undo pops the Undo stack, executes the entry's inverse, and pushes the
// result onto the Redo stack (spec §4.8).
func (e *Engine) Undo() error {
	if e.running {
		return ErrAlreadyRunning
	}
	if len(e.undoStack) == 0 {
		return ErrNothingToUndo
	}
	n := len(e.undoStack) - 1
	entry := e.undoStack[n]
	e.undoStack = e.undoStack[:n]
	return e.run(entry, directionUndo, &e.redoStack)
}

// Redo pops the Redo stack, executes the entry forward, and pushes the
// result onto the Undo stack.
func (e *Engine) Redo() error {
	if e.running {
		return ErrAlreadyRunning
	}
	if len(e.redoStack) == 0 {
		return ErrNothingToRedo
	}
	n := len(e.redoStack) - 1
	entry := e.redoStack[n]
	e.redoStack = e.redoStack[:n]
	return e.run(entry, directionRedo, &e.undoStack)
}

// UndoAll drains the Undo stack by repeatedly invoking undo. New
// recordings during the drain are queued and re-applied (drained onto the
// Undo stack) only after the whole drain finishes, not after each step
// (spec §4.8).
func (e *Engine) UndoAll() error {
	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	defer func() {
		e.running = false
		e.drainQueueLocked(false)
	}()
	for len(e.undoStack) > 0 {
		n := len(e.undoStack) - 1
		entry := e.undoStack[n]
		e.undoStack = e.undoStack[:n]
		result := e.apply(e.exec, entry, directionUndo)
		e.redoStack = append(e.redoStack, result)
	}
	return nil
}

// run executes one top-level undo or redo step: mark running, apply the
// entry, push the result onto dest, then drain anything queued while it
// ran (spec §4.8's queue-then-drain rule, including the "clear Redo only
// if new queued changes exist" carve-out).
func (e *Engine) run(entry *Entry, dir direction, dest *[]*Entry) error {
	e.running = true
	result := e.apply(e.exec, entry, dir)
	e.running = false

	hadQueued := len(e.queued) > 0
	if dir == directionUndo && hadQueued {
		// new activity happened mid-undo: the redo branch this undo would
		// have opened is no longer consistent with it, so drop it instead
		// of pushing the reciprocal entry onto Redo.
		e.drainQueueLocked(true)
		return nil
	}
	*dest = append(*dest, result)
	e.drainQueueLocked(false)
	return nil
}

// drainQueueLocked moves every queued entry onto the Undo stack in
// arrival order, clearing the Redo stack first when clearRedo is set.
func (e *Engine) drainQueueLocked(clearRedo bool) {
	if len(e.queued) == 0 {
		return
	}
	if clearRedo {
		e.redoStack = nil
	}
	e.undoStack = append(e.undoStack, e.queued...)
	e.queued = nil
}

// apply executes one entry (possibly a Multi group) against exec in the
// given direction, returning the entry with Result/Err/identity updated in
// place for re-push onto the opposite stack.
func (e *Engine) apply(exec Executor, entry *Entry, dir direction) *Entry {
	if entry.Kind == KindMulti {
		return e.applyMulti(exec, entry, dir)
	}
	if err := e.applyLeaf(exec, entry, dir, ""); err != nil {
		entry.Result = ResultFailed
		entry.Err = err.Error()
		// non-atomic single-entry failure: pushed back onto its origin
		// stack with the error exposed (spec §4.8).
		if dir == directionUndo {
			e.undoStack = append(e.undoStack, entry)
		} else {
			e.redoStack = append(e.redoStack, entry)
		}
		return entry
	}
	entry.Result = ResultSuccess
	entry.Err = ""
	return entry
}

// changeKindFor maps an entry's static Kind plus the direction it is
// currently being applied in to the itip.ChangeKind actually taking effect:
// undoing a Creation deletes, undoing a Deletion creates, a Modification is
// symmetric either way (spec §2: "C9 wraps C8's pre/post phases" around
// whatever C8 is actually doing, not around the entry's original kind).
func changeKindFor(kind Kind, dir direction) itip.ChangeKind {
	switch kind {
	case KindCreation:
		if dir == directionUndo {
			return itip.ChangeDelete
		}
		return itip.ChangeCreate
	case KindDeletion:
		if dir == directionUndo {
			return itip.ChangeCreate
		}
		return itip.ChangeDelete
	default:
		return itip.ChangeModify
	}
}

// applyLeaf executes a Creation/Deletion/Modification entry's inverse (or
// forward action, on redo), remapping identities when the store assigns a
// new id. groupID is the enclosing Multi's AtomicGroupID (empty for a
// standalone entry), threaded through so itipEngine can memoize an Ask-mode
// decision across every leaf in the same atomic batch.
func (e *Engine) applyLeaf(exec Executor, entry *Entry, dir direction, groupID string) error {
	if e.itipEngine != nil && entry.Kind == KindModification {
		if !e.itipEngine.PreChange(groupID, itip.ChangeModify, entry.Incidence) {
			return ErrVetoed
		}
	}

	var err error
	switch entry.Kind {
	case KindCreation:
		if dir == directionUndo {
			err = exec.Delete(entry.EntityID)
		} else {
			var newID int64
			newID, err = exec.Create(entry.CollectionID, entry.Created)
			if err == nil {
				e.remapID(entry.EntityID, newID)
				entry.EntityID = newID
			}
		}
	case KindDeletion:
		if dir == directionUndo {
			var newID int64
			newID, err = exec.Create(entry.CollectionID, entry.Before)
			if err == nil {
				e.remapID(entry.EntityID, newID)
				entry.EntityID = newID
			}
		} else {
			err = exec.Delete(entry.EntityID)
		}
	case KindModification:
		if dir == directionUndo {
			err = exec.Modify(entry.EntityID, entry.Before)
		} else {
			err = exec.Modify(entry.EntityID, entry.Created)
		}
	default:
		return errors.Errorf("undo: unknown entry kind %d", entry.Kind)
	}
	if err != nil {
		return err
	}

	if e.itipEngine != nil {
		entry.ITIPMessage = e.itipEngine.PostChange(groupID, changeKindFor(entry.Kind, dir), entry.Incidence)
	}
	return nil
}

// applyMulti runs every child's inverse (undo, reverse order) or forward
// action (redo, original order) inside one atomic batch. Any child
// failure fails the whole Multi; the store rolls the batch back and
// successful children are reclassified "rolled back" rather than
// "success" (spec §4.8).
func (e *Engine) applyMulti(exec Executor, entry *Entry, dir direction) *Entry {
	order := entry.Children
	if dir == directionUndo {
		order = reversed(order)
	}

	e.activeGroup = entry.Children
	defer func() { e.activeGroup = nil }()

	atomicErr := exec.Atomic(func(tx Executor) error {
		for _, child := range order {
			if err := e.applyLeaf(tx, child, dir, entry.AtomicGroupID); err != nil {
				child.Result = ResultFailed
				child.Err = err.Error()
				return errors.Wrapf(err, "entry %s", child.ID)
			}
			child.Result = ResultSuccess
			child.Err = ""
		}
		return nil
	})

	if e.itipEngine != nil {
		e.itipEngine.EndGroup(entry.AtomicGroupID)
	}

	if atomicErr != nil {
		entry.Result = ResultFailed
		entry.Err = atomicErr.Error()
		for _, child := range entry.Children {
			if child.Result == ResultSuccess {
				child.Result = ResultRolledBack
				child.Err = ""
			}
		}
		if dir == directionUndo {
			e.undoStack = append(e.undoStack, entry)
		} else {
			e.redoStack = append(e.redoStack, entry)
		}
		return entry
	}
	entry.Result = ResultSuccess
	entry.Err = ""
	return entry
}

func reversed(in []*Entry) []*Entry {
	out := make([]*Entry, len(in))
	for i, e := range in {
		out[len(in)-1-i] = e
	}
	return out
}

// remapID propagates a store-assigned identity change to every entry in
// both stacks, the queue, and the entry currently executing (spec §4.8:
// "the engine must propagate the old->new id map to every entry in both
// stacks and to the entry currently executing").
func (e *Engine) remapID(old, new int64) {
	if old == new {
		return
	}
	apply := func(entries []*Entry) {
		for _, en := range entries {
			remapEntry(en, old, new)
		}
	}
	apply(e.undoStack)
	apply(e.redoStack)
	apply(e.queued)
	apply(e.activeGroup)
}

func remapEntry(en *Entry, old, new int64) {
	if en.EntityID == old {
		en.EntityID = new
	}
	if en.CollectionID == old {
		en.CollectionID = new
	}
	for _, c := range en.Children {
		remapEntry(c, old, new)
	}
}

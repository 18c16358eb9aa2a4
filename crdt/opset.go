package crdt

import (
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/brunokim/opset/clock"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// changeState is an applied change with the transitive closure of its dependencies.
type changeState struct {
	change  Change
	allDeps clock.Clock
}

// object is the state of a single map, list or text.
type object struct {
	typ ObjType
	// fields maps a key (or element ID) to its current ops, sorted by descending actor.
	fields *immutable.Map[string, []Op]
	// seq and maxElem are only set for lists and text.
	seq     *sequence
	maxElem int
}

func newObject(typ ObjType) *object {
	obj := &object{
		typ:    typ,
		fields: immutable.NewMap[string, []Op](nil),
	}
	if typ != MapType {
		obj.seq = newSequence()
	}
	return obj
}

func (o *object) clone() *object {
	c := *o
	return &c
}

func (o *object) isList() bool {
	return o.seq != nil
}

func (o *object) fieldOps(key string) []Op {
	ops, _ := o.fields.Get(key)
	return ops
}

// OpSet is the immutable state of a document, as the result of applying a set of changes.
type OpSet struct {
	// states holds the applied changes of each actor, indexed by seq-1.
	states *immutable.Map[string, *immutable.List[changeState]]
	// history holds all applied changes, in order of application.
	history *immutable.List[Change]
	// byObject holds the state of all objects, by ID.
	byObject *immutable.Map[ObjectID, *object]
	// clock holds the latest applied seq for each actor.
	clock clock.Clock
	// deps holds the changes that are not dependencies of any other applied change.
	deps clock.Clock
	// queue holds the received changes that are not causally ready to be applied.
	queue *immutable.List[Change]
	// rejected holds the queued changes that failed to apply once ready.
	rejected *immutable.List[Change]

	undoPos   int
	undoStack *immutable.List[[]Op]
	redoStack *immutable.List[[]Op]
	// undoLocal accumulates undo ops while an undoable change is applied.
	undoLocal []Op
	recording bool
}

// NewOpSet returns an OpSet containing only the empty root map.
func NewOpSet() *OpSet {
	return &OpSet{
		states:    immutable.NewMap[string, *immutable.List[changeState]](nil),
		history:   immutable.NewList[Change](),
		byObject:  immutable.NewMap[ObjectID, *object](nil).Set(RootID, newObject(MapType)),
		clock:     clock.New(),
		deps:      clock.New(),
		queue:     immutable.NewList[Change](),
		rejected:  immutable.NewList[Change](),
		undoStack: immutable.NewList[[]Op](),
		redoStack: immutable.NewList[[]Op](),
	}
}

// Returns a shallow copy that may be modified without affecting the original.
func (s *OpSet) clone() *OpSet {
	c := *s
	return &c
}

// +-------------------+
// | Causal relations  |
// +-------------------+

func (s *OpSet) changeState(actor string, seq int) (changeState, bool) {
	states, ok := s.states.Get(actor)
	if !ok || seq < 1 || seq > states.Len() {
		return changeState{}, false
	}
	return states.Get(seq - 1), true
}

// Returns the transitive closure of the given dependencies, as far as they are known.
//
// Time complexity: O(deps * actors)
func (s *OpSet) transitiveDeps(base clock.Clock) clock.Clock {
	deps := clock.New()
	for actor, seq := range base {
		if seq <= 0 {
			continue
		}
		if state, ok := s.changeState(actor, seq); ok {
			for a, sq := range state.allDeps {
				if sq > deps[a] {
					deps[a] = sq
				}
			}
		}
		if seq > deps[actor] {
			deps[actor] = seq
		}
	}
	return deps
}

// Returns whether two applied ops were created without knowledge of each other.
// Ops from the same actor are never concurrent, and ops that were not applied as part of a
// change (like local ops) are assumed to follow all others.
func (s *OpSet) isConcurrent(op1, op2 Op) bool {
	if op1.Actor == op2.Actor {
		return false
	}
	state1, ok1 := s.changeState(op1.Actor, op1.Seq)
	state2, ok2 := s.changeState(op2.Actor, op2.Seq)
	if !ok1 || !ok2 {
		return false
	}
	return state1.allDeps.Get(op2.Actor) < op2.Seq && state2.allDeps.Get(op1.Actor) < op1.Seq
}

// +------------------+
// | Applying changes |
// +------------------+

// Applies a causally ready change to s, which must be an unshared clone.
func (s *OpSet) applyChange(change Change) ([]Patch, error) {
	actor, seq := change.Actor, change.Seq
	prior, ok := s.states.Get(actor)
	if !ok {
		prior = immutable.NewList[changeState]()
	}
	if seq <= prior.Len() {
		if !prior.Get(seq - 1).change.Equal(change) {
			return nil, errors.Wrapf(ErrInconsistentSeq, "%s@%d", actor, seq)
		}
		return nil, nil
	}
	allDeps := s.transitiveDeps(change.Deps.Set(actor, seq-1))
	s.states = s.states.Set(actor, prior.Append(changeState{change: change, allDeps: allDeps}))

	ops := make([]Op, len(change.Ops))
	for i, op := range change.Ops {
		op.Actor, op.Seq = actor, seq
		ops[i] = op
	}
	patches, err := s.applyOps(ops)
	if err != nil {
		return nil, errors.Wrapf(err, "applying %s@%d", actor, seq)
	}

	deps := clock.New()
	for a, sq := range s.deps {
		if sq > allDeps.Get(a) {
			deps[a] = sq
		}
	}
	deps[actor] = seq
	s.deps = deps
	s.clock = s.clock.Set(actor, seq)
	s.history = s.history.Append(change)
	return patches, nil
}

func (s *OpSet) applyOps(ops []Op) ([]Patch, error) {
	var patches []Patch
	newObjects := mapset.NewThreadUnsafeSet[ObjectID]()
	for _, op := range ops {
		var ps []Patch
		var err error
		switch op.Action {
		case MakeMap, MakeList, MakeText:
			newObjects.Add(op.Obj)
			ps, err = s.applyMake(op)
		case Ins:
			err = s.applyInsert(op)
		case Set, Del, Link:
			ps, err = s.applyAssign(op, !newObjects.Contains(op.Obj))
		default:
			err = errors.Wrapf(ErrUnknownAction, "%q", op.Action)
		}
		if err != nil {
			return nil, err
		}
		patches = append(patches, ps...)
	}
	return patches, nil
}

func (s *OpSet) applyMake(op Op) ([]Patch, error) {
	if _, ok := s.byObject.Get(op.Obj); ok {
		return nil, errors.Wrapf(ErrDuplicateObject, "%s", op.Obj)
	}
	typ, _ := op.Action.ObjType()
	s.byObject = s.byObject.Set(op.Obj, newObject(typ))
	return []Patch{{Action: PatchCreate, Type: typ, Obj: op.Obj}}, nil
}

func (s *OpSet) applyInsert(op Op) error {
	obj, ok := s.byObject.Get(op.Obj)
	if !ok {
		return errors.Wrapf(ErrObjectNotFound, "%s", op.Obj)
	}
	if !obj.isList() {
		return errors.Wrapf(ErrInvalidPredecessor, "insertion into %s %s", obj.typ, op.Obj)
	}
	seq, err := obj.seq.insertAfter(ElemID(op.Key), op.Actor, op.Elem)
	if err != nil {
		return errors.Wrapf(err, "object %s", op.Obj)
	}
	obj = obj.clone()
	obj.seq = seq
	if op.Elem > obj.maxElem {
		obj.maxElem = op.Elem
	}
	s.byObject = s.byObject.Set(op.Obj, obj)
	return nil
}

// Applies an assignment. Ops from the same actor or that causally precede op are overwritten;
// concurrent ops are kept as conflicts.
func (s *OpSet) applyAssign(op Op, topLevel bool) ([]Patch, error) {
	obj, ok := s.byObject.Get(op.Obj)
	if !ok {
		return nil, errors.Wrapf(ErrObjectNotFound, "%s", op.Obj)
	}
	if obj.isList() && !obj.seq.has(ElemID(op.Key)) {
		return nil, errors.Wrapf(ErrInvalidPredecessor, "assignment to %s in %s", op.Key, op.Obj)
	}
	if op.Action == Link {
		if _, ok := s.byObject.Get(op.Target()); !ok {
			return nil, errors.Wrapf(ErrObjectNotFound, "link to %v", op.Value)
		}
	}
	prior := obj.fieldOps(op.Key)
	if s.recording && topLevel {
		s.recordUndo(op, prior)
	}
	var remaining []Op
	for _, other := range prior {
		if s.isConcurrent(other, op) {
			remaining = append(remaining, other)
		}
	}
	if op.Action != Del {
		remaining = append(remaining, op)
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].Actor > remaining[j].Actor
	})

	obj = obj.clone()
	if len(remaining) == 0 {
		obj.fields = obj.fields.Delete(op.Key)
	} else {
		obj.fields = obj.fields.Set(op.Key, remaining)
	}
	var patch Patch
	if obj.isList() {
		var changed bool
		patch, changed = updateListElement(obj, op.Obj, ElemID(op.Key), remaining)
		s.byObject = s.byObject.Set(op.Obj, obj)
		if !changed {
			return nil, nil
		}
	} else {
		patch = Patch{Action: PatchRemove, Type: MapType, Obj: op.Obj, Key: op.Key}
		if len(remaining) > 0 {
			patch.Action = PatchSet
			patch.setValue(remaining)
		}
		s.byObject = s.byObject.Set(op.Obj, obj)
	}
	return []Patch{patch}, nil
}

// Updates the visibility of a list element, returning the corresponding patch, if any.
// obj must be an unshared clone.
func updateListElement(obj *object, objID ObjectID, id ElemID, ops []Op) (Patch, bool) {
	patch := Patch{Type: obj.typ, Obj: objID, ElemID: id}
	if index := obj.seq.indexOf(id); index >= 0 {
		patch.Index = index
		if len(ops) == 0 {
			obj.seq = obj.seq.setVisible(id, false)
			patch.Action = PatchRemove
		} else {
			patch.Action = PatchSet
			patch.setValue(ops)
		}
		return patch, true
	}
	if len(ops) == 0 {
		// Deleting an element that is already deleted.
		return Patch{}, false
	}
	obj.seq = obj.seq.setVisible(id, true)
	patch.Action = PatchInsert
	patch.Index = obj.seq.indexOf(id)
	patch.setValue(ops)
	return patch, true
}

// AddLocalOp applies a single op created by actor, without creating a change. It's used to
// preview the effect of an op before the change containing it is committed.
func (s *OpSet) AddLocalOp(op Op, actor string) (*OpSet, []Patch, error) {
	next := s.clone()
	next.recording = false
	next.undoLocal = nil
	op.Actor, op.Seq = actor, s.clock.Get(actor)+1
	patches, err := next.applyOps([]Op{op})
	if err != nil {
		return s, nil, err
	}
	return next, patches, nil
}

// +---------+
// | Queries |
// +---------+

// Clock returns the latest applied seq for each actor.
func (s *OpSet) Clock() clock.Clock {
	return s.clock.Copy()
}

// Deps returns the applied changes that are not dependencies of any other applied change.
func (s *OpSet) Deps() clock.Clock {
	return s.deps.Copy()
}

// HasObject returns whether the object exists.
func (s *OpSet) HasObject(id ObjectID) bool {
	_, ok := s.byObject.Get(id)
	return ok
}

// ObjectType returns the type of an object.
func (s *OpSet) ObjectType(id ObjectID) (ObjType, bool) {
	obj, ok := s.byObject.Get(id)
	if !ok {
		return "", false
	}
	return obj.typ, true
}

// FieldOps returns the current ops for a map key or list element, sorted by descending actor.
// The first op holds the winning value, and the others are conflicts.
func (s *OpSet) FieldOps(id ObjectID, key string) []Op {
	obj, ok := s.byObject.Get(id)
	if !ok {
		return nil
	}
	ops := obj.fieldOps(key)
	if len(ops) == 0 {
		return nil
	}
	result := make([]Op, len(ops))
	copy(result, ops)
	return result
}

// Keys returns the keys of a map that have a value, sorted.
func (s *OpSet) Keys(id ObjectID) []string {
	obj, ok := s.byObject.Get(id)
	if !ok || obj.isList() {
		return nil
	}
	var keys []string
	itr := obj.fields.Iterator()
	for !itr.Done() {
		key, ops, _ := itr.Next()
		if len(ops) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// ListLen returns the number of visible elements in a list.
//
// Time complexity: O(1)
func (s *OpSet) ListLen(id ObjectID) int {
	obj, ok := s.byObject.Get(id)
	if !ok || !obj.isList() {
		return 0
	}
	return obj.seq.len()
}

// ElemAt returns the ID of the visible element at index.
//
// Time complexity: O(log(elements))
func (s *OpSet) ElemAt(id ObjectID, index int) (ElemID, bool) {
	obj, ok := s.byObject.Get(id)
	if !ok || !obj.isList() {
		return "", false
	}
	return obj.seq.at(index)
}

// IndexOf returns the visible index of an element, or -1 if it's deleted or unknown.
//
// Time complexity: O(log(elements))
func (s *OpSet) IndexOf(id ObjectID, elem ElemID) int {
	obj, ok := s.byObject.Get(id)
	if !ok || !obj.isList() {
		return -1
	}
	return obj.seq.indexOf(elem)
}

// HasElem returns whether the element was ever inserted in the list.
func (s *OpSet) HasElem(id ObjectID, elem ElemID) bool {
	obj, ok := s.byObject.Get(id)
	return ok && obj.isList() && obj.seq.has(elem)
}

// Elems returns the visible elements of a list, in order.
//
// Time complexity: O(elements)
func (s *OpSet) Elems(id ObjectID) []ElemID {
	obj, ok := s.byObject.Get(id)
	if !ok || !obj.isList() {
		return nil
	}
	elems := make([]ElemID, 0, obj.seq.len())
	obj.seq.each(func(elem ElemID) bool {
		elems = append(elems, elem)
		return true
	})
	return elems
}

// Tombstones returns the number of deleted elements still held by a list.
func (s *OpSet) Tombstones(id ObjectID) int {
	obj, ok := s.byObject.Get(id)
	if !ok || !obj.isList() {
		return 0
	}
	return obj.seq.size() - obj.seq.len()
}

// MaxElem returns the greatest element counter seen in a list.
func (s *OpSet) MaxElem(id ObjectID) int {
	obj, ok := s.byObject.Get(id)
	if !ok {
		return 0
	}
	return obj.maxElem
}

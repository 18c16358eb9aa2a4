/*
Package crdt provides the operation set of a replicated JSON-like document.

A document is a tree of objects (maps, lists and text) that is never modified directly.
Instead, every modification is an operation within a change, and the state is the result of
applying the set of all known changes. Changes carry the actor that created them, a
per-actor sequence number, and the causal dependencies observed by the actor, so that any
replica that applied the same set of changes, in any order that respects causality, reaches
the same state.

Concurrent assignments to the same field are kept side by side as conflicts, with a
deterministic winner. Lists and text are ordered with a replicated growable array (RGA),
where concurrent insertions after the same element are ordered by descending element ID.

Every OpSet is immutable: applying changes returns a new OpSet that shares most of its
structure with the previous one, which remains valid.
*/
package crdt

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/brunokim/opset/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// +-----------------------+
// | Basic data structures |
// +-----------------------+

// ObjectID identifies a map, list or text object within a document.
type ObjectID string

// RootID is the ID of the root map, that exists in every document.
var RootID = ObjectID(uuid.Nil.String())

// ElemID identifies an element within a list or text, formatted as "actor:counter".
type ElemID string

// Head is the position before the first element of a list.
const Head ElemID = "_head"

// NewElemID returns the ID of the elem-th element inserted by actor.
func NewElemID(actor string, elem int) ElemID {
	return ElemID(actor + ":" + strconv.Itoa(elem))
}

// Parse splits the element ID into its actor and counter.
func (id ElemID) Parse() (actor string, elem int, ok bool) {
	i := strings.LastIndexByte(string(id), ':')
	if i < 0 {
		return "", 0, false
	}
	elem, err := strconv.Atoi(string(id[i+1:]))
	if err != nil {
		return "", 0, false
	}
	return string(id[:i]), elem, true
}

// ObjType is the type of an object.
type ObjType string

// Object types.
const (
	MapType  ObjType = "map"
	ListType ObjType = "list"
	TextType ObjType = "text"
)

// Action is the kind of an operation.
type Action string

// Operation actions.
const (
	MakeMap  Action = "makeMap"
	MakeList Action = "makeList"
	MakeText Action = "makeText"
	Ins      Action = "ins"
	Set      Action = "set"
	Del      Action = "del"
	Link     Action = "link"
)

// ObjType returns the type of object created by a make action.
func (a Action) ObjType() (ObjType, bool) {
	switch a {
	case MakeMap:
		return MapType, true
	case MakeList:
		return ListType, true
	case MakeText:
		return TextType, true
	}
	return "", false
}

// IsAssign returns whether the action assigns (or removes) a field value.
func (a Action) IsAssign() bool {
	return a == Set || a == Del || a == Link
}

// Op is an operation on a single object.
type Op struct {
	// Action is the kind of operation.
	Action Action `json:"action"`
	// Obj is the object being modified, or created for make actions.
	Obj ObjectID `json:"obj"`
	// Key is the map key or the list element ID being assigned.
	// For insertions, it's the element after which the new element is placed.
	Key string `json:"key,omitempty"`
	// Value is the primitive value for set, or the target object ID for link.
	Value interface{} `json:"value,omitempty"`
	// Elem is the counter of the new element, for insertions.
	Elem int `json:"elem,omitempty"`
	// Actor and Seq are stamped from the containing change when the op is applied.
	Actor string `json:"actor,omitempty"`
	Seq   int    `json:"seq,omitempty"`
}

// Target returns the object referenced by a link op.
func (op Op) Target() ObjectID {
	switch v := op.Value.(type) {
	case ObjectID:
		return v
	case string:
		return ObjectID(v)
	}
	return ""
}

// Unstamped returns the op without actor and sequence number.
func (op Op) Unstamped() Op {
	op.Actor, op.Seq = "", 0
	return op
}

func (op Op) String() string {
	switch op.Action {
	case MakeMap, MakeList, MakeText:
		return fmt.Sprintf("%s(%s)", op.Action, op.Obj)
	case Ins:
		return fmt.Sprintf("ins(%s, %s, %d)", op.Obj, op.Key, op.Elem)
	case Del:
		return fmt.Sprintf("del(%s, %s)", op.Obj, op.Key)
	}
	return fmt.Sprintf("%s(%s, %s, %v)", op.Action, op.Obj, op.Key, op.Value)
}

// Change is the unit of replication: a sequence of ops created atomically by an actor.
type Change struct {
	// Actor is the ID of the replica that created this change.
	Actor string `json:"actor"`
	// Seq is the sequence number of this change for the actor, starting at 1.
	Seq int `json:"seq"`
	// Deps are the latest changes of other actors that were applied when this change
	// was created.
	Deps clock.Clock `json:"deps"`
	// Message is an optional human-readable description.
	Message string `json:"message,omitempty"`
	// Ops are the operations of this change.
	Ops []Op `json:"ops"`
}

// Equal returns whether both changes have the same content.
func (ch Change) Equal(other Change) bool {
	if ch.Actor != other.Actor || ch.Seq != other.Seq || ch.Message != other.Message {
		return false
	}
	if !ch.Deps.Equal(other.Deps) || len(ch.Ops) != len(other.Ops) {
		return false
	}
	for i, op := range ch.Ops {
		op2 := other.Ops[i]
		if op.Action != op2.Action || op.Obj != op2.Obj || op.Key != op2.Key || op.Elem != op2.Elem {
			return false
		}
		if !reflect.DeepEqual(op.Value, op2.Value) {
			return false
		}
	}
	return true
}

func (ch Change) String() string {
	return fmt.Sprintf("Change(%s@%d, deps=%v, %d ops)", ch.Actor, ch.Seq, ch.Deps, len(ch.Ops))
}

// +--------+
// | Errors |
// +--------+

// Errors returned while applying changes. A failed change leaves the OpSet unchanged.
var (
	ErrObjectNotFound     = errors.New("modification of unknown object")
	ErrDuplicateObject    = errors.New("duplicate creation of object")
	ErrInvalidPredecessor = errors.New("unknown list element")
	ErrDuplicateElem      = errors.New("duplicate list element ID")
	ErrMalformedChange    = errors.New("malformed change")
	ErrInconsistentSeq    = errors.New("inconsistent reuse of sequence number")
	ErrUnknownAction      = errors.New("unknown operation action")
	ErrNothingToUndo      = errors.New("cannot undo: there is nothing to be undone")
	ErrNothingToRedo      = errors.New("cannot redo: the last change was not an undo")
)

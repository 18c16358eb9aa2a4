package crdt

import (
	"fmt"
)

// PatchAction is the kind of change described by a patch.
type PatchAction string

// Patch actions.
const (
	PatchCreate PatchAction = "create"
	PatchSet    PatchAction = "set"
	PatchInsert PatchAction = "insert"
	PatchRemove PatchAction = "remove"
)

// Patch describes a change in the visible state of a document, so that a view of the document
// may be updated incrementally.
type Patch struct {
	Action PatchAction `json:"action"`
	Type   ObjType     `json:"type"`
	Obj    ObjectID    `json:"obj"`
	// Key is set for maps.
	Key string `json:"key,omitempty"`
	// Index and ElemID are set for lists and text.
	Index  int    `json:"index"`
	ElemID ElemID `json:"elemId,omitempty"`
	// Value is the winning value for set and insert. If Link is true, it's an ObjectID.
	Value interface{} `json:"value,omitempty"`
	Link  bool        `json:"link,omitempty"`
	// Conflicts are the values that lost to the winning value.
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Conflict is a concurrent value that is not the winning value of a field.
type Conflict struct {
	Actor string      `json:"actor"`
	Value interface{} `json:"value"`
	Link  bool        `json:"link,omitempty"`
}

// Sets the value and conflicts from a non-empty list of field ops.
func (p *Patch) setValue(ops []Op) {
	p.Value, p.Link = opValue(ops[0])
	p.Conflicts = nil
	for _, op := range ops[1:] {
		value, link := opValue(op)
		p.Conflicts = append(p.Conflicts, Conflict{Actor: op.Actor, Value: value, Link: link})
	}
}

func opValue(op Op) (interface{}, bool) {
	if op.Action == Link {
		return op.Target(), true
	}
	return op.Value, false
}

func (p Patch) String() string {
	var where string
	if p.Type == MapType {
		where = fmt.Sprintf("%q", p.Key)
	} else {
		where = fmt.Sprintf("@%d", p.Index)
	}
	switch p.Action {
	case PatchCreate:
		return fmt.Sprintf("create %s %s", p.Type, p.Obj)
	case PatchRemove:
		return fmt.Sprintf("remove %s[%s]", p.Obj, where)
	}
	return fmt.Sprintf("%s %s[%s] = %v", p.Action, p.Obj, where, p.Value)
}

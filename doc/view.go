package doc

import (
	"strings"

	"github.com/brunokim/opset/crdt"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// View is a plain copy of a document, kept up to date by applying patches.
type View struct {
	objects map[crdt.ObjectID]*viewObject
}

type viewValue struct {
	value interface{}
	link  bool
}

type viewObject struct {
	typ    crdt.ObjType
	fields map[string]viewValue
	elems  []viewValue
}

// NewView returns a view of an empty document.
func NewView() *View {
	return &View{objects: map[crdt.ObjectID]*viewObject{
		crdt.RootID: {typ: crdt.MapType, fields: make(map[string]viewValue)},
	}}
}

// Apply updates the view with patches, in order.
func (v *View) Apply(patches []crdt.Patch) error {
	for _, patch := range patches {
		if err := v.apply(patch); err != nil {
			return errors.Wrapf(err, "applying patch %v", patch)
		}
	}
	return nil
}

func (v *View) apply(patch crdt.Patch) error {
	if patch.Action == crdt.PatchCreate {
		obj := &viewObject{typ: patch.Type}
		if patch.Type == crdt.MapType {
			obj.fields = make(map[string]viewValue)
		}
		v.objects[patch.Obj] = obj
		return nil
	}
	obj, ok := v.objects[patch.Obj]
	if !ok {
		return ErrNotAnObject
	}
	value := viewValue{value: patch.Value, link: patch.Link}
	if obj.typ == crdt.MapType {
		switch patch.Action {
		case crdt.PatchSet:
			obj.fields[patch.Key] = value
		case crdt.PatchRemove:
			delete(obj.fields, patch.Key)
		default:
			return errors.Errorf("invalid action %q for map", patch.Action)
		}
		return nil
	}
	i := patch.Index
	switch patch.Action {
	case crdt.PatchInsert:
		if i < 0 || i > len(obj.elems) {
			return ErrIndexOutOfRange
		}
		obj.elems = append(obj.elems, viewValue{})
		copy(obj.elems[i+1:], obj.elems[i:])
		obj.elems[i] = value
	case crdt.PatchSet:
		if i < 0 || i >= len(obj.elems) {
			return ErrIndexOutOfRange
		}
		obj.elems[i] = value
	case crdt.PatchRemove:
		if i < 0 || i >= len(obj.elems) {
			return ErrIndexOutOfRange
		}
		obj.elems = append(obj.elems[:i], obj.elems[i+1:]...)
	default:
		return errors.Errorf("invalid action %q for list", patch.Action)
	}
	return nil
}

// Value returns the contents of the view, in the same format as Doc.Value.
func (v *View) Value() map[string]interface{} {
	visiting := mapset.NewThreadUnsafeSet[crdt.ObjectID]()
	return v.materialize(crdt.RootID, visiting).(map[string]interface{})
}

func (v *View) resolve(value viewValue, visiting mapset.Set[crdt.ObjectID]) interface{} {
	if value.link {
		return v.materialize(value.value.(crdt.ObjectID), visiting)
	}
	return value.value
}

// Objects already being materialized are returned as their ObjectID, like Doc.Value.
func (v *View) materialize(id crdt.ObjectID, visiting mapset.Set[crdt.ObjectID]) interface{} {
	if !visiting.Add(id) {
		return id
	}
	defer visiting.Remove(id)

	obj := v.objects[id]
	switch obj.typ {
	case crdt.MapType:
		m := make(map[string]interface{}, len(obj.fields))
		for key, value := range obj.fields {
			m[key] = v.resolve(value, visiting)
		}
		return m
	case crdt.TextType:
		var b strings.Builder
		for _, value := range obj.elems {
			if str, ok := value.value.(string); ok {
				b.WriteString(str)
			}
		}
		return Text(b.String())
	}
	list := make([]interface{}, len(obj.elems))
	for i, value := range obj.elems {
		list[i] = v.resolve(value, visiting)
	}
	return list
}

package doc

import (
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/brunokim/opset/crdt"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// Text is the value of a text object: a list of characters that reads as a string.
// Assigning a Text value to a field creates a text object.
type Text string

// reader provides read access to the objects of a document state.
type reader struct {
	opSet *crdt.OpSet
}

// Value returns the contents of the document as plain values: maps are
// map[string]interface{}, lists are []interface{}, text is Text, and numbers are float64.
func (r reader) Value() map[string]interface{} {
	return materialize(r.opSet, crdt.RootID).(map[string]interface{})
}

// ObjectValue returns the contents of an object as plain values.
func (r reader) ObjectValue(id crdt.ObjectID) (interface{}, error) {
	if !r.opSet.HasObject(id) {
		return nil, errors.Wrapf(ErrNotAnObject, "%s", id)
	}
	return materialize(r.opSet, id), nil
}

// Type returns the type of an object.
func (r reader) Type(id crdt.ObjectID) (crdt.ObjType, bool) {
	return r.opSet.ObjectType(id)
}

// Get returns the value of a map key.
func (r reader) Get(id crdt.ObjectID, key string) (interface{}, bool) {
	ops := r.opSet.FieldOps(id, key)
	if len(ops) == 0 {
		return nil, false
	}
	return opValue(r.opSet, ops[0]), true
}

// ObjectAt returns the ID of the object referenced by a map key.
func (r reader) ObjectAt(id crdt.ObjectID, key string) (crdt.ObjectID, bool) {
	ops := r.opSet.FieldOps(id, key)
	if len(ops) == 0 || ops[0].Action != crdt.Link {
		return "", false
	}
	return ops[0].Target(), true
}

// Len returns the number of elements of a list or text.
func (r reader) Len(id crdt.ObjectID) int {
	return r.opSet.ListLen(id)
}

// GetIndex returns the value at an index of a list.
func (r reader) GetIndex(id crdt.ObjectID, index int) (interface{}, bool) {
	elem, ok := r.opSet.ElemAt(id, index)
	if !ok {
		return nil, false
	}
	return r.Get(id, string(elem))
}

// ListObjectAt returns the ID of the object referenced at an index of a list.
func (r reader) ListObjectAt(id crdt.ObjectID, index int) (crdt.ObjectID, bool) {
	elem, ok := r.opSet.ElemAt(id, index)
	if !ok {
		return "", false
	}
	return r.ObjectAt(id, string(elem))
}

// Conflicts returns the values of a map key that lost to the winning value, by actor.
// Returns nil if there's no conflict.
func (r reader) Conflicts(id crdt.ObjectID, key string) map[string]interface{} {
	return conflicts(r.opSet, r.opSet.FieldOps(id, key))
}

func conflicts(s *crdt.OpSet, ops []crdt.Op) map[string]interface{} {
	return newMaterializer(s).conflicts(ops)
}

func opValue(s *crdt.OpSet, op crdt.Op) interface{} {
	return newMaterializer(s).opValue(op)
}

func materialize(s *crdt.OpSet, id crdt.ObjectID) interface{} {
	return newMaterializer(s).object(id)
}

// materializer converts objects into plain values. Concurrent links may form a cycle, so an
// object reached again while it is being materialized is returned as its bare ObjectID.
type materializer struct {
	opSet    *crdt.OpSet
	visiting mapset.Set[crdt.ObjectID]
}

func newMaterializer(s *crdt.OpSet) *materializer {
	return &materializer{opSet: s, visiting: mapset.NewThreadUnsafeSet[crdt.ObjectID]()}
}

func (m *materializer) conflicts(ops []crdt.Op) map[string]interface{} {
	if len(ops) < 2 {
		return nil
	}
	values := make(map[string]interface{}, len(ops)-1)
	for _, op := range ops[1:] {
		values[op.Actor] = m.opValue(op)
	}
	return values
}

func (m *materializer) opValue(op crdt.Op) interface{} {
	if op.Action == crdt.Link {
		return m.object(op.Target())
	}
	return op.Value
}

func (m *materializer) object(id crdt.ObjectID) interface{} {
	if !m.visiting.Add(id) {
		return id
	}
	defer m.visiting.Remove(id)

	s := m.opSet
	typ, _ := s.ObjectType(id)
	switch typ {
	case crdt.MapType:
		fields := make(map[string]interface{})
		for _, key := range s.Keys(id) {
			fields[key] = m.opValue(s.FieldOps(id, key)[0])
		}
		return fields
	case crdt.ListType:
		elems := s.Elems(id)
		list := make([]interface{}, len(elems))
		for i, elem := range elems {
			list[i] = m.opValue(s.FieldOps(id, string(elem))[0])
		}
		return list
	case crdt.TextType:
		var b strings.Builder
		for _, elem := range s.Elems(id) {
			if str, ok := s.FieldOps(id, string(elem))[0].Value.(string); ok {
				b.WriteString(str)
			}
		}
		return Text(b.String())
	}
	return nil
}

// Reports whether target is reachable from id by following links, including any losing
// value of a conflict.
func reachable(s *crdt.OpSet, from, target crdt.ObjectID) bool {
	seen := mapset.NewThreadUnsafeSet[crdt.ObjectID]()
	stack := []crdt.ObjectID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if !seen.Add(id) {
			continue
		}
		keys := s.Keys(id)
		for _, elem := range s.Elems(id) {
			keys = append(keys, string(elem))
		}
		for _, key := range keys {
			for _, op := range s.FieldOps(id, key) {
				if op.Action == crdt.Link {
					stack = append(stack, op.Target())
				}
			}
		}
	}
	return false
}

// +-----------------+
// | Value encoding  |
// +-----------------+

// Converts a Go value into one that can be stored: a primitive (nil, bool, string, float64),
// a nested object (map[string]interface{}, []interface{}, Text) or a link to an existing object.
func normalize(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil, bool, string, Text, crdt.ObjectID, map[string]interface{}, []interface{}:
		return v, nil
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		list := make([]interface{}, rv.Len())
		for i := range list {
			list[i] = rv.Index(i).Interface()
		}
		return list, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]interface{}, rv.Len())
		itr := rv.MapRange()
		for itr.Next() {
			m[itr.Key().String()] = itr.Value().Interface()
		}
		return m, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedValue, "%T", value)
}

// NaN and infinities can't be encoded.
func finite(f float64) (interface{}, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errors.Wrapf(ErrUnsupportedValue, "%v", f)
	}
	return f, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

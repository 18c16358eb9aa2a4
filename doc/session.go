package doc

import (
	"reflect"
	"strings"

	"github.com/brunokim/opset/crdt"
	"github.com/brunokim/opset/diff"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// Session records the modifications of a single change. Reads through a session reflect the
// modifications made so far.
//
// A session is only valid within the callback passed to Change.
type Session struct {
	reader
	doc    *Doc
	ops    []crdt.Op
	closed bool
}

// Change runs fn with a new session on d, and returns a new document with the recorded
// modifications committed as a single change. If fn returns an error, or records no
// modifications, d is returned unchanged.
func Change(d *Doc, message string, fn func(*Session) error) (*Doc, error) {
	if d.session != nil {
		return d, ErrNestedChange
	}
	s := &Session{reader: reader{opSet: d.opSet}, doc: d}
	d.session = s
	err := fn(s)
	d.session = nil
	s.closed = true
	if err != nil {
		return d, err
	}
	if len(s.ops) == 0 {
		return d, nil
	}
	next, _, err := makeChange(d, d.opSet, compact(s.ops), message, true)
	return next, err
}

// EmptyChange commits a change without operations, that only advances the actor's clock.
func EmptyChange(d *Doc, message string) (*Doc, error) {
	if d.session != nil {
		return d, ErrNestedChange
	}
	next, _, err := makeChange(d, d.opSet, nil, message, false)
	return next, err
}

// Creates a change from ops on top of opSet, and applies it.
func makeChange(d *Doc, opSet *crdt.OpSet, ops []crdt.Op, message string, undoable bool) (*Doc, []crdt.Patch, error) {
	actor := d.actorID
	change := crdt.Change{
		Actor:   actor,
		Seq:     opSet.Clock().Get(actor) + 1,
		Deps:    opSet.Deps().Without(actor),
		Message: message,
		Ops:     ops,
	}
	next, patches, err := opSet.AddChange(change, undoable)
	if err != nil {
		return d, nil, errors.Wrap(err, "applying local change")
	}
	return d.with(next), patches, nil
}

type fieldKey struct {
	obj crdt.ObjectID
	key string
}

// Keeps only the last assignment to each field.
func compact(ops []crdt.Op) []crdt.Op {
	seen := mapset.NewThreadUnsafeSet[fieldKey]()
	keep := make([]bool, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if !op.Action.IsAssign() {
			keep[i] = true
			continue
		}
		key := fieldKey{op.Obj, op.Key}
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)
		keep[i] = true
	}
	var result []crdt.Op
	for i, op := range ops {
		if keep[i] {
			result = append(result, op)
		}
	}
	return result
}

// +------------+
// | Operations |
// +------------+

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) apply(op crdt.Op) error {
	next, _, err := s.opSet.AddLocalOp(op, s.doc.actorID)
	if err != nil {
		return err
	}
	s.opSet = next
	s.ops = append(s.ops, op)
	return nil
}

func (s *Session) objectType(id crdt.ObjectID) (crdt.ObjType, error) {
	typ, ok := s.opSet.ObjectType(id)
	if !ok {
		return "", errors.Wrapf(ErrNotAnObject, "%s", id)
	}
	return typ, nil
}

func validateKey(key string) error {
	if key == "" {
		return errors.Wrap(ErrInvalidKey, "key must not be empty")
	}
	if strings.HasPrefix(key, "_") {
		return errors.Wrapf(ErrInvalidKey, "%q: keys starting with '_' are reserved", key)
	}
	return nil
}

// Root returns the ID of the root map.
func (s *Session) Root() crdt.ObjectID {
	return crdt.RootID
}

// Set assigns a value to a map key. Maps, slices and Text values create new nested objects,
// and an ObjectID value references an existing object.
func (s *Session) Set(obj crdt.ObjectID, key string, value interface{}) error {
	if err := s.check(); err != nil {
		return err
	}
	typ, err := s.objectType(obj)
	if err != nil {
		return err
	}
	if typ != crdt.MapType {
		return errors.Wrapf(ErrNotAMap, "setting key %q of %s %s", key, typ, obj)
	}
	if err := validateKey(key); err != nil {
		return err
	}
	return s.setField(obj, key, value)
}

// Delete removes a map key. Deleting a missing key is a no-op.
func (s *Session) Delete(obj crdt.ObjectID, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	typ, err := s.objectType(obj)
	if err != nil {
		return err
	}
	if typ != crdt.MapType {
		return errors.Wrapf(ErrNotAMap, "deleting key %q of %s %s", key, typ, obj)
	}
	if len(s.opSet.FieldOps(obj, key)) == 0 {
		return nil
	}
	return s.apply(crdt.Op{Action: crdt.Del, Obj: obj, Key: key})
}

// SetIndex assigns a value to a list index. Setting the index right after the last
// element appends to the list.
func (s *Session) SetIndex(list crdt.ObjectID, index int, value interface{}) error {
	if err := s.checkList(list); err != nil {
		return err
	}
	length := s.opSet.ListLen(list)
	if index == length {
		return s.splice(list, index, 0, []interface{}{value})
	}
	elem, ok := s.opSet.ElemAt(list, index)
	if !ok {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d of %s with length %d", index, list, length)
	}
	return s.setField(list, string(elem), value)
}

// Insert inserts values before index.
func (s *Session) Insert(list crdt.ObjectID, index int, values ...interface{}) error {
	if err := s.checkList(list); err != nil {
		return err
	}
	return s.splice(list, index, 0, values)
}

// Append inserts values at the end of a list.
func (s *Session) Append(list crdt.ObjectID, values ...interface{}) error {
	if err := s.checkList(list); err != nil {
		return err
	}
	return s.splice(list, s.opSet.ListLen(list), 0, values)
}

// DeleteAt removes the element at index.
func (s *Session) DeleteAt(list crdt.ObjectID, index int) error {
	if err := s.checkList(list); err != nil {
		return err
	}
	if length := s.opSet.ListLen(list); index < 0 || index >= length {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d of %s with length %d", index, list, length)
	}
	return s.splice(list, index, 1, nil)
}

// Splice removes deleteCount elements starting at start, and inserts values in their place.
// As with JavaScript's Array.splice, deleteCount is capped at the end of the list.
func (s *Session) Splice(list crdt.ObjectID, start, deleteCount int, values ...interface{}) error {
	if err := s.checkList(list); err != nil {
		return err
	}
	return s.splice(list, start, deleteCount, values)
}

// UpdateText replaces the contents of a text object with str, using the smallest number of
// insertions and deletions.
func (s *Session) UpdateText(text crdt.ObjectID, str string) error {
	if err := s.checkList(text); err != nil {
		return err
	}
	current, err := s.ObjectValue(text)
	if err != nil {
		return err
	}
	old, ok := current.(Text)
	if !ok {
		return errors.Wrapf(ErrNotAList, "%s is not a text", text)
	}
	splices, err := diff.Splices(string(old), str)
	if err != nil {
		return errors.Wrap(err, "diffing text")
	}
	for _, sp := range splices {
		var chars []interface{}
		for _, ch := range sp.Insert {
			chars = append(chars, string(ch))
		}
		if err := s.splice(text, sp.Index, sp.Delete, chars); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) checkList(list crdt.ObjectID) error {
	if err := s.check(); err != nil {
		return err
	}
	typ, err := s.objectType(list)
	if err != nil {
		return err
	}
	if typ == crdt.MapType {
		return errors.Wrapf(ErrNotAList, "%s", list)
	}
	return nil
}

func (s *Session) splice(list crdt.ObjectID, start, deleteCount int, values []interface{}) error {
	length := s.opSet.ListLen(list)
	if start < 0 || start > length {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d of %s with length %d", start, list, length)
	}
	if deleteCount < 0 {
		return errors.Wrapf(ErrIndexOutOfRange, "negative delete count %d", deleteCount)
	}
	if deleteCount > length-start {
		deleteCount = length - start
	}
	for i := 0; i < deleteCount; i++ {
		elem, _ := s.opSet.ElemAt(list, start)
		if err := s.apply(crdt.Op{Action: crdt.Del, Obj: list, Key: string(elem)}); err != nil {
			return err
		}
	}
	prev := crdt.Head
	if start > 0 {
		prev, _ = s.opSet.ElemAt(list, start-1)
	}
	for _, value := range values {
		var err error
		prev, err = s.insertAfter(list, prev, value)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) insertAfter(list crdt.ObjectID, prev crdt.ElemID, value interface{}) (crdt.ElemID, error) {
	elem := s.opSet.MaxElem(list) + 1
	if err := s.apply(crdt.Op{Action: crdt.Ins, Obj: list, Key: string(prev), Elem: elem}); err != nil {
		return "", err
	}
	id := crdt.NewElemID(s.doc.actorID, elem)
	return id, s.setField(list, string(id), value)
}

func (s *Session) setField(obj crdt.ObjectID, key string, value interface{}) error {
	value, err := normalize(value)
	if err != nil {
		return errors.Wrapf(err, "key %q", key)
	}
	switch v := value.(type) {
	case map[string]interface{}, []interface{}, Text:
		id, err := s.createNested(v)
		if err != nil {
			return err
		}
		return s.apply(crdt.Op{Action: crdt.Link, Obj: obj, Key: key, Value: string(id)})
	case crdt.ObjectID:
		if !s.opSet.HasObject(v) {
			return errors.Wrapf(ErrNotAnObject, "link to %s", v)
		}
		if reachable(s.opSet, v, obj) {
			return errors.Wrapf(ErrUnsupportedValue, "link to %s from %s creates a cycle", v, obj)
		}
		return s.apply(crdt.Op{Action: crdt.Link, Obj: obj, Key: key, Value: string(v)})
	}
	ops := s.opSet.FieldOps(obj, key)
	if len(ops) == 1 && ops[0].Action == crdt.Set && reflect.DeepEqual(ops[0].Value, value) {
		return nil
	}
	return s.apply(crdt.Op{Action: crdt.Set, Obj: obj, Key: key, Value: value})
}

func (s *Session) createNested(value interface{}) (crdt.ObjectID, error) {
	id := crdt.ObjectID(newUUID().String())
	switch v := value.(type) {
	case map[string]interface{}:
		if err := s.apply(crdt.Op{Action: crdt.MakeMap, Obj: id}); err != nil {
			return "", err
		}
		for _, key := range sortedKeys(v) {
			if err := validateKey(key); err != nil {
				return "", err
			}
			if err := s.setField(id, key, v[key]); err != nil {
				return "", err
			}
		}
	case []interface{}:
		if err := s.apply(crdt.Op{Action: crdt.MakeList, Obj: id}); err != nil {
			return "", err
		}
		if err := s.splice(id, 0, 0, v); err != nil {
			return "", err
		}
	case Text:
		if err := s.apply(crdt.Op{Action: crdt.MakeText, Obj: id}); err != nil {
			return "", err
		}
		var chars []interface{}
		for _, ch := range string(v) {
			chars = append(chars, string(ch))
		}
		if err := s.splice(id, 0, 0, chars); err != nil {
			return "", err
		}
	}
	return id, nil
}

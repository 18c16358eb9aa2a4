package doc

import (
	"reflect"

	"github.com/brunokim/opset/clock"
	"github.com/brunokim/opset/crdt"
	"github.com/pkg/errors"
)

// +-------+
// | Merge |
// +-------+

// ApplyChanges receives changes from other replicas, returning the new document and the
// patches describing what changed. Changes whose dependencies are missing are held until
// they arrive. On error, d is returned unchanged.
func ApplyChanges(d *Doc, changes []crdt.Change) (*Doc, []crdt.Patch, error) {
	opSet := d.opSet
	var patches []crdt.Patch
	for _, change := range changes {
		var ps []crdt.Patch
		var err error
		opSet, ps, err = opSet.AddChange(change, false)
		if err != nil {
			return d, nil, err
		}
		patches = append(patches, ps...)
	}
	return d.with(opSet), patches, nil
}

// Merge applies to local all changes from remote that it's missing.
func Merge(local, remote *Doc) (*Doc, error) {
	if local.actorID == remote.actorID {
		return local, errors.Wrapf(ErrMergeSelf, "actor %s", local.actorID)
	}
	changes := remote.opSet.MissingChanges(local.opSet.Clock())
	merged, _, err := ApplyChanges(local, changes)
	return merged, err
}

// GetChanges returns the changes applied to newDoc that are missing from oldDoc.
// oldDoc must be an ancestor of newDoc.
func GetChanges(oldDoc, newDoc *Doc) ([]crdt.Change, error) {
	oldClock, newClock := oldDoc.opSet.Clock(), newDoc.opSet.Clock()
	if !oldClock.LessOrEqual(newClock) {
		return nil, errors.Wrapf(ErrDiverged, "%v is not covered by %v", oldClock, newClock)
	}
	return newDoc.opSet.MissingChanges(oldClock), nil
}

// Diff returns the patches that transform oldDoc into newDoc.
// oldDoc must be an ancestor of newDoc.
func Diff(oldDoc, newDoc *Doc) ([]crdt.Patch, error) {
	changes, err := GetChanges(oldDoc, newDoc)
	if err != nil {
		return nil, err
	}
	_, patches, err := ApplyChanges(oldDoc, changes)
	return patches, err
}

// GetMissingChanges returns the applied changes that a replica with clock have is missing,
// in an order where each change comes after its dependencies.
func GetMissingChanges(d *Doc, have clock.Clock) []crdt.Change {
	return d.opSet.MissingChanges(have)
}

// GetChangesForActor returns all changes created by actor.
func GetChangesForActor(d *Doc, actor string) []crdt.Change {
	return d.opSet.ChangesForActor(actor, 0)
}

// GetMissingDeps returns the changes that must be received before the held changes can be
// applied, as the greatest missing seq for each actor.
func GetMissingDeps(d *Doc) clock.Clock {
	return d.opSet.MissingDeps()
}

// GetConflicts returns, for each element of a list or text, the values that lost to the
// winning value by actor, or nil if there's no conflict.
func GetConflicts(d *Doc, list crdt.ObjectID) ([]map[string]interface{}, error) {
	typ, ok := d.opSet.ObjectType(list)
	if !ok {
		return nil, errors.Wrapf(ErrNotAnObject, "%s", list)
	}
	if typ == crdt.MapType {
		return nil, errors.Wrapf(ErrNotAList, "%s", list)
	}
	elems := d.opSet.Elems(list)
	result := make([]map[string]interface{}, len(elems))
	for i, elem := range elems {
		result[i] = conflicts(d.opSet, d.opSet.FieldOps(list, string(elem)))
	}
	return result, nil
}

// Equal returns whether both documents have the same contents.
func Equal(d1, d2 *Doc) bool {
	return reflect.DeepEqual(d1.Value(), d2.Value())
}

// +---------+
// | History |
// +---------+

// HistoryEntry is an applied change, and the state of the document right after it.
type HistoryEntry struct {
	Change  crdt.Change
	actorID string
	changes []crdt.Change
}

// Snapshot replays the history up to this change.
//
// Time complexity: O(changes)
func (e HistoryEntry) Snapshot() (*Doc, error) {
	d, _, err := ApplyChanges(InitWithActor(e.actorID), e.changes)
	return d, err
}

// GetHistory returns all applied changes, in order of application.
func GetHistory(d *Doc) []HistoryEntry {
	history := d.opSet.History()
	entries := make([]HistoryEntry, len(history))
	for i, change := range history {
		entries[i] = HistoryEntry{
			Change:  change,
			actorID: d.actorID,
			changes: history[:i+1],
		}
	}
	return entries
}

// +-----------+
// | Undo/redo |
// +-----------+

// CanUndo returns whether there's a local change to be undone.
func CanUndo(d *Doc) bool {
	return d.opSet.CanUndo()
}

// CanRedo returns whether there's an undone change to be redone.
func CanRedo(d *Doc) bool {
	return d.opSet.CanRedo()
}

// Undo reverts the fields assigned by the latest local change that was not yet undone,
// committing the reversal as a new change.
func Undo(d *Doc, message string) (*Doc, error) {
	if d.session != nil {
		return d, ErrNestedChange
	}
	ops, opSet, err := d.opSet.PrepareUndo()
	if err != nil {
		return d, err
	}
	next, _, err := makeChange(d, opSet, ops, message, false)
	return next, err
}

// Redo reapplies the latest undone change, committing it as a new change.
func Redo(d *Doc, message string) (*Doc, error) {
	if d.session != nil {
		return d, ErrNestedChange
	}
	ops, opSet, err := d.opSet.PrepareRedo()
	if err != nil {
		return d, err
	}
	next, _, err := makeChange(d, opSet, ops, message, false)
	return next, err
}

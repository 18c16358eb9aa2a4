package crdt

import (
	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

// +-----------+
// | Undo/redo |
// +-----------+

// Records the ops that restore a field to its value before op is applied.
func (s *OpSet) recordUndo(op Op, prior []Op) {
	if len(prior) == 0 {
		s.undoLocal = append(s.undoLocal, Op{Action: Del, Obj: op.Obj, Key: op.Key})
		return
	}
	for _, other := range prior {
		s.undoLocal = append(s.undoLocal, other.Unstamped())
	}
}

// Pushes an entry to the undo stack, discarding undone entries and the redo stack.
func (s *OpSet) pushUndo(ops []Op) {
	s.undoStack = truncate(s.undoStack, s.undoPos).Append(ops)
	s.undoPos++
	s.redoStack = immutable.NewList[[]Op]()
}

// Returns the current ops of each field touched by ops, or a del if the field is empty.
func (s *OpSet) fieldSnapshot(ops []Op) ([]Op, error) {
	var snapshot []Op
	for _, op := range ops {
		if !op.Action.IsAssign() {
			return nil, errors.Errorf("unexpected operation type in undo history: %v", op)
		}
		fieldOps := s.FieldOps(op.Obj, op.Key)
		if len(fieldOps) == 0 {
			snapshot = append(snapshot, Op{Action: Del, Obj: op.Obj, Key: op.Key})
			continue
		}
		for _, fieldOp := range fieldOps {
			snapshot = append(snapshot, fieldOp.Unstamped())
		}
	}
	return snapshot, nil
}

// CanUndo returns whether there's a local change to be undone.
func (s *OpSet) CanUndo() bool {
	return s.undoPos > 0
}

// CanRedo returns whether there's an undone change to be redone.
func (s *OpSet) CanRedo() bool {
	return s.redoStack.Len() > 0
}

// PrepareUndo returns the ops that revert the latest undoable change, and the OpSet with the
// undo position moved back and the reverted values pushed into the redo stack. The ops must
// then be applied as a new, non-undoable change.
func (s *OpSet) PrepareUndo() ([]Op, *OpSet, error) {
	if !s.CanUndo() {
		return nil, s, ErrNothingToUndo
	}
	undoOps := s.undoStack.Get(s.undoPos - 1)
	redoOps, err := s.fieldSnapshot(undoOps)
	if err != nil {
		return nil, s, err
	}
	next := s.clone()
	next.undoPos--
	next.redoStack = next.redoStack.Append(redoOps)
	return cloneOps(undoOps), next, nil
}

// PrepareRedo returns the ops that reapply the latest undone change, and the OpSet with the
// undo position moved forward and the redo stack popped. The ops must then be applied as a
// new, non-undoable change.
func (s *OpSet) PrepareRedo() ([]Op, *OpSet, error) {
	if !s.CanRedo() {
		return nil, s, ErrNothingToRedo
	}
	n := s.redoStack.Len()
	redoOps := s.redoStack.Get(n - 1)
	next := s.clone()
	next.undoPos++
	next.redoStack = truncate(next.redoStack, n-1)
	return cloneOps(redoOps), next, nil
}

// Returns the first n entries of a stack.
func truncate(stack *immutable.List[[]Op], n int) *immutable.List[[]Op] {
	if n == 0 {
		return immutable.NewList[[]Op]()
	}
	if n >= stack.Len() {
		return stack
	}
	return stack.Slice(0, n)
}

func cloneOps(ops []Op) []Op {
	result := make([]Op, len(ops))
	copy(result, ops)
	return result
}

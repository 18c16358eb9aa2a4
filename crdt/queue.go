package crdt

import (
	"github.com/benbjohnson/immutable"
	"github.com/brunokim/opset/clock"
	"github.com/pkg/errors"
)

// +---------------+
// | Causal buffer |
// +---------------+

// Returns whether all dependencies of a change, including the previous change by the same
// actor, were applied.
func (s *OpSet) causallyReady(change Change) bool {
	if s.clock.Get(change.Actor) < change.Seq-1 {
		return false
	}
	for actor, seq := range change.Deps {
		if actor != change.Actor && s.clock.Get(actor) < seq {
			return false
		}
	}
	return true
}

func validateChange(change Change) error {
	if change.Actor == "" {
		return errors.Wrap(ErrMalformedChange, "missing actor")
	}
	if change.Seq < 1 {
		return errors.Wrapf(ErrMalformedChange, "%s@%d: seq must be positive", change.Actor, change.Seq)
	}
	if change.Deps.Get(change.Actor) >= change.Seq {
		return errors.Wrapf(ErrMalformedChange, "%s@%d: depends on its own future", change.Actor, change.Seq)
	}
	return nil
}

// AddChange receives a change and applies it as soon as it's causally ready, together with
// any previously received changes that become ready. The patches of all applied changes are
// returned in order of application.
//
// Receiving an already known change is a no-op. If undoable is true, the change is recorded
// in the undo stack; it's expected to be a local change, that is always ready.
//
// On error the receiver is returned unchanged. Errors are only reported for the given change:
// a previously held change that fails once it becomes ready is dropped from the queue and
// listed in Rejected, while the other ready changes are still applied.
func (s *OpSet) AddChange(change Change, undoable bool) (*OpSet, []Patch, error) {
	if err := validateChange(change); err != nil {
		return s, nil, err
	}
	if state, ok := s.changeState(change.Actor, change.Seq); ok {
		if !state.change.Equal(change) {
			return s, nil, errors.Wrapf(ErrInconsistentSeq, "%s@%d", change.Actor, change.Seq)
		}
		return s, nil, nil
	}
	itr := s.queue.Iterator()
	for !itr.Done() {
		_, queued := itr.Next()
		if queued.Actor != change.Actor || queued.Seq != change.Seq {
			continue
		}
		if !queued.Equal(change) {
			return s, nil, errors.Wrapf(ErrInconsistentSeq, "%s@%d", change.Actor, change.Seq)
		}
		return s, nil, nil
	}

	next := s.clone()
	next.queue = next.queue.Append(change)
	if undoable {
		next.recording = true
		next.undoLocal = []Op{}
	}
	patches, err := next.applyQueued(change)
	if err != nil {
		return s, nil, err
	}
	if undoable {
		next.pushUndo(next.undoLocal)
	}
	next.recording = false
	next.undoLocal = nil
	return next, patches, nil
}

// Applies all changes from the queue that are causally ready, until none is. Only an error in
// the received change is returned.
func (s *OpSet) applyQueued(received Change) ([]Patch, error) {
	var patches []Patch
	for {
		var applied bool
		pending := immutable.NewList[Change]()
		itr := s.queue.Iterator()
		for !itr.Done() {
			_, change := itr.Next()
			if !s.causallyReady(change) {
				pending = pending.Append(change)
				continue
			}
			snapshot := *s
			ps, err := s.applyChange(change)
			if err != nil {
				if change.Actor == received.Actor && change.Seq == received.Seq {
					return nil, err
				}
				*s = snapshot
				s.rejected = s.rejected.Append(change)
				continue
			}
			patches = append(patches, ps...)
			applied = true
		}
		s.queue = pending
		if !applied {
			return patches, nil
		}
	}
}

// Queue returns the received changes that are waiting for their dependencies.
func (s *OpSet) Queue() []Change {
	changes := make([]Change, 0, s.queue.Len())
	itr := s.queue.Iterator()
	for !itr.Done() {
		_, change := itr.Next()
		changes = append(changes, change)
	}
	return changes
}

// Rejected returns the held changes that were dropped because they failed to apply once their
// dependencies arrived. Changes that depend on them remain queued.
func (s *OpSet) Rejected() []Change {
	changes := make([]Change, 0, s.rejected.Len())
	itr := s.rejected.Iterator()
	for !itr.Done() {
		_, change := itr.Next()
		changes = append(changes, change)
	}
	return changes
}

// MissingDeps returns, for each actor, the greatest seq that some queued change depends on but
// was not applied yet.
func (s *OpSet) MissingDeps() clock.Clock {
	missing := clock.New()
	itr := s.queue.Iterator()
	for !itr.Done() {
		_, change := itr.Next()
		deps := change.Deps.Set(change.Actor, change.Seq-1)
		for actor, seq := range deps {
			if s.clock.Get(actor) < seq && missing[actor] < seq {
				missing[actor] = seq
			}
		}
	}
	return missing
}

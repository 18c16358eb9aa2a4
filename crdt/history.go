package crdt

import (
	"github.com/brunokim/opset/clock"
)

// +---------+
// | History |
// +---------+

// History returns all applied changes, in order of application.
//
// Time complexity: O(changes)
func (s *OpSet) History() []Change {
	changes := make([]Change, 0, s.history.Len())
	itr := s.history.Iterator()
	for !itr.Done() {
		_, change := itr.Next()
		changes = append(changes, change)
	}
	return changes
}

// HistoryLen returns the number of applied changes.
func (s *OpSet) HistoryLen() int {
	return s.history.Len()
}

// MissingChanges returns the applied changes that are not covered by have, nor by the
// dependencies of the changes it covers. Changes are returned in order of application,
// so that each one comes after its dependencies.
//
// Time complexity: O(changes + actors²)
func (s *OpSet) MissingChanges(have clock.Clock) []Change {
	known := s.transitiveDeps(have)
	var changes []Change
	itr := s.history.Iterator()
	for !itr.Done() {
		_, change := itr.Next()
		if change.Seq > known.Get(change.Actor) {
			changes = append(changes, change)
		}
	}
	return changes
}

// ChangesForActor returns the applied changes created by actor with seq greater than after.
func (s *OpSet) ChangesForActor(actor string, after int) []Change {
	states, ok := s.states.Get(actor)
	if !ok {
		return nil
	}
	var changes []Change
	for i := after; i < states.Len(); i++ {
		if i < 0 {
			continue
		}
		changes = append(changes, states.Get(i).change)
	}
	return changes
}

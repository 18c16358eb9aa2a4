/*
Package clock implements vector clocks over actor IDs.

A Clock maps each actor to the highest sequence number seen from it. Actors absent from the
map are at sequence 0. Clocks are treated as values: every method that would modify a clock
returns a fresh copy instead, so a clock handed out by a document snapshot is never mutated.
*/
package clock

import (
	"fmt"
	"sort"
	"strings"
)

// Clock is a vector clock, mapping actor IDs to sequence numbers.
type Clock map[string]int

// Ordering is the causal relation between two clocks.
type Ordering int

const (
	// Equal clocks have the same entries.
	Equal Ordering = iota
	// Before means that the receiver is dominated by the argument.
	Before
	// After means that the receiver dominates the argument.
	After
	// Concurrent clocks have entries that are greater on both sides.
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	}
	return fmt.Sprintf("Ordering(%d)", int(o))
}

// New returns an empty clock.
func New() Clock {
	return Clock{}
}

// Get returns the sequence number for actor, or 0 if unknown.
func (c Clock) Get(actor string) int {
	return c[actor]
}

// Copy returns an independent copy of the clock. Zero entries are dropped.
//
// Time complexity: O(actors)
func (c Clock) Copy() Clock {
	other := make(Clock, len(c))
	for actor, seq := range c {
		if seq > 0 {
			other[actor] = seq
		}
	}
	return other
}

// Set returns a copy of the clock with actor at seq.
func (c Clock) Set(actor string, seq int) Clock {
	other := c.Copy()
	if seq > 0 {
		other[actor] = seq
	} else {
		delete(other, actor)
	}
	return other
}

// Without returns a copy of the clock without actor.
func (c Clock) Without(actor string) Clock {
	return c.Set(actor, 0)
}

// Union returns the pointwise maximum of both clocks.
//
// Time complexity: O(actors)
func (c Clock) Union(other Clock) Clock {
	result := c.Copy()
	for actor, seq := range other {
		if seq > result[actor] {
			result[actor] = seq
		}
	}
	return result
}

// LessOrEqual returns whether every entry in c is at most the corresponding entry in other.
func (c Clock) LessOrEqual(other Clock) bool {
	for actor, seq := range c {
		if seq > other[actor] {
			return false
		}
	}
	return true
}

// Equal returns whether both clocks have the same non-zero entries.
func (c Clock) Equal(other Clock) bool {
	return c.LessOrEqual(other) && other.LessOrEqual(c)
}

// Compare returns the causal relation of c relative to other.
func (c Clock) Compare(other Clock) Ordering {
	le, ge := c.LessOrEqual(other), other.LessOrEqual(c)
	switch {
	case le && ge:
		return Equal
	case le:
		return Before
	case ge:
		return After
	}
	return Concurrent
}

// Actors returns the actors with non-zero entries, sorted.
func (c Clock) Actors() []string {
	actors := make([]string, 0, len(c))
	for actor, seq := range c {
		if seq > 0 {
			actors = append(actors, actor)
		}
	}
	sort.Strings(actors)
	return actors
}

// String formats the clock deterministically, as in "{a:1 b:3}".
func (c Clock) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, actor := range c.Actors() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%d", actor, c[actor])
	}
	b.WriteByte('}')
	return b.String()
}

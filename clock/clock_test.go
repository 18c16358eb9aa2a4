package clock_test

import (
	"testing"

	"github.com/brunokim/opset/clock"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		c1, c2 clock.Clock
		want   clock.Ordering
	}{
		{clock.Clock{}, clock.Clock{}, clock.Equal},
		{clock.Clock{"a": 1}, clock.Clock{"a": 1}, clock.Equal},
		{clock.Clock{"a": 0}, clock.Clock{}, clock.Equal},
		{clock.Clock{"a": 1}, clock.Clock{"a": 2}, clock.Before},
		{clock.Clock{"a": 1}, clock.Clock{"a": 1, "b": 1}, clock.Before},
		{clock.Clock{"a": 3, "b": 1}, clock.Clock{"a": 2}, clock.After},
		{clock.Clock{"a": 1}, clock.Clock{"b": 1}, clock.Concurrent},
		{clock.Clock{"a": 2, "b": 1}, clock.Clock{"a": 1, "b": 2}, clock.Concurrent},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.c1.Compare(test.c2), "%v.Compare(%v)", test.c1, test.c2)
	}
}

func TestCopyOnWrite(t *testing.T) {
	c := clock.Clock{"a": 1}
	c2 := c.Set("b", 2)
	c3 := c2.Union(clock.Clock{"a": 5})
	c4 := c3.Without("a")

	assert.Equal(t, clock.Clock{"a": 1}, c)
	assert.Equal(t, clock.Clock{"a": 1, "b": 2}, c2)
	assert.Equal(t, clock.Clock{"a": 5, "b": 2}, c3)
	assert.Equal(t, clock.Clock{"b": 2}, c4)
}

func TestString(t *testing.T) {
	c := clock.Clock{"bob": 3, "alice": 1, "carol": 0}
	assert.Equal(t, "{alice:1 bob:3}", c.String())
	assert.Equal(t, []string{"alice", "bob"}, c.Actors())
}

func genClock() *rapid.Generator {
	return rapid.MapOf(
		rapid.SampledFrom([]string{"a", "b", "c", "d"}),
		rapid.IntRange(0, 5),
	)
}

func TestUnionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c1 := clock.Clock(genClock().Draw(t, "c1").(map[string]int))
		c2 := clock.Clock(genClock().Draw(t, "c2").(map[string]int))
		u := c1.Union(c2)
		if !c1.LessOrEqual(u) || !c2.LessOrEqual(u) {
			t.Fatalf("union %v doesn't dominate %v and %v", u, c1, c2)
		}
		if !u.Equal(c2.Union(c1)) {
			t.Fatalf("union is not commutative: %v != %v", u, c2.Union(c1))
		}
		if ord := c1.Compare(c2); ord == clock.Before && !u.Equal(c2) {
			t.Fatalf("%v before %v but union is %v", c1, c2, u)
		}
	})
}

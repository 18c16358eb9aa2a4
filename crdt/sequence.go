package crdt

import (
	"hash/fnv"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
	"roci.dev/fracdex"
)

/*
The elements of a list are kept in the order given by RGA: an element is placed right after
its predecessor, skipping over the elements with a greater ID that are already there. Since
element counters are always greater than their predecessor's, this is the same as a
depth-first traversal of the insertion tree, with siblings sorted by descending ID.

Each element receives a fractional index when integrated, a string that sorts between its
neighbors, so that later insertions never renumber existing elements.

  # BEGIN ASCII ART

      _head <- a:1 <- a:2          insert b:2 after a:1
                 ^
                 '-- b:2

      key:   a0      a0V     a1      (b:2 > a:2, so b:2 comes first)
      id:    a:1     b:2     a:2

  # END ASCII ART

Elements are stored in a persistent treap ordered by fractional index, including deleted
elements (tombstones), each node counting the visible elements in its subtree. This allows
converting between element IDs and visible indices in logarithmic time, while older
versions of the sequence remain valid.
*/

type seqNode struct {
	key     string
	id      ElemID
	actor   string
	elem    int
	prio    uint32
	visible bool

	left, right *seqNode
	// size is the number of nodes in the subtree; count is the number of visible nodes.
	size, count int
}

func nodePriority(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

func sizeOf(n *seqNode) int {
	if n == nil {
		return 0
	}
	return n.size
}

func countOf(n *seqNode) int {
	if n == nil {
		return 0
	}
	return n.count
}

func (n *seqNode) update() {
	n.size = 1 + sizeOf(n.left) + sizeOf(n.right)
	n.count = countOf(n.left) + countOf(n.right)
	if n.visible {
		n.count++
	}
}

// Returns a copy of the node with new children.
func (n *seqNode) withChildren(left, right *seqNode) *seqNode {
	c := *n
	c.left, c.right = left, right
	c.update()
	return &c
}

// Splits the treap into nodes with key < k and nodes with key >= k.
//
// Time complexity: O(log(elements)) expected
func split(n *seqNode, key string) (*seqNode, *seqNode) {
	if n == nil {
		return nil, nil
	}
	if n.key < key {
		l, r := split(n.right, key)
		return n.withChildren(n.left, l), r
	}
	l, r := split(n.left, key)
	return l, n.withChildren(r, n.right)
}

// Joins two treaps, where every key in l is smaller than every key in r.
//
// Time complexity: O(log(elements)) expected
func join(l, r *seqNode) *seqNode {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	if l.prio > r.prio {
		return l.withChildren(l.left, join(l.right, r))
	}
	return r.withChildren(join(l, r.left), r.right)
}

// Returns the node with smallest key greater than key.
func successor(n *seqNode, key string) *seqNode {
	var best *seqNode
	for n != nil {
		if n.key > key {
			best = n
			n = n.left
		} else {
			n = n.right
		}
	}
	return best
}

func find(n *seqNode, key string) *seqNode {
	for n != nil {
		switch {
		case key < n.key:
			n = n.left
		case key > n.key:
			n = n.right
		default:
			return n
		}
	}
	return nil
}

// Returns the number of visible nodes with key smaller than key.
func rank(n *seqNode, key string) int {
	var r int
	for n != nil {
		if n.key < key {
			r += countOf(n.left)
			if n.visible {
				r++
			}
			n = n.right
		} else {
			n = n.left
		}
	}
	return r
}

// Returns the visible node at index i.
func selectVisible(n *seqNode, i int) *seqNode {
	for n != nil {
		lc := countOf(n.left)
		if i < lc {
			n = n.left
			continue
		}
		i -= lc
		if n.visible {
			if i == 0 {
				return n
			}
			i--
		}
		n = n.right
	}
	return nil
}

// Returns a copy of the path to key, with the node's visibility updated. The key must exist.
func setVisible(n *seqNode, key string, visible bool) *seqNode {
	c := *n
	switch {
	case key < n.key:
		c.left = setVisible(n.left, key, visible)
	case key > n.key:
		c.right = setVisible(n.right, key, visible)
	default:
		c.visible = visible
	}
	c.update()
	return &c
}

func walk(n *seqNode, f func(*seqNode) bool) bool {
	if n == nil {
		return true
	}
	return walk(n.left, f) && f(n) && walk(n.right, f)
}

// Compares element IDs by counter, and then by actor.
func compareElems(elem1 int, actor1 string, elem2 int, actor2 string) int {
	switch {
	case elem1 < elem2:
		return -1
	case elem1 > elem2:
		return +1
	case actor1 < actor2:
		return -1
	case actor1 > actor2:
		return +1
	}
	return 0
}

// +----------+
// | Sequence |
// +----------+

// sequence is the persistent ordering of the elements of a list.
type sequence struct {
	root *seqNode
	keys *immutable.Map[ElemID, string]
}

func newSequence() *sequence {
	return &sequence{keys: immutable.NewMap[ElemID, string](nil)}
}

func (s *sequence) has(id ElemID) bool {
	_, ok := s.keys.Get(id)
	return ok
}

// Total number of elements, including deleted ones.
func (s *sequence) size() int {
	return sizeOf(s.root)
}

// Number of visible elements.
func (s *sequence) len() int {
	return countOf(s.root)
}

// insertAfter integrates a new element after prev, returning the updated sequence.
//
// Time complexity: O(log(elements) * concurrent siblings) expected
func (s *sequence) insertAfter(prev ElemID, actor string, elem int) (*sequence, error) {
	id := NewElemID(actor, elem)
	if s.has(id) {
		return nil, errors.Wrapf(ErrDuplicateElem, "%s", id)
	}
	var left string
	if prev != Head {
		key, ok := s.keys.Get(prev)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidPredecessor, "insert after %s", prev)
		}
		if n := find(s.root, key); elem <= n.elem {
			return nil, errors.Wrapf(ErrInvalidPredecessor, "counter %d is not greater than predecessor %s", elem, prev)
		}
		left = key
	}
	// Skip over elements with a greater ID right after the predecessor.
	next := successor(s.root, left)
	for next != nil && compareElems(next.elem, next.actor, elem, actor) > 0 {
		left = next.key
		next = successor(s.root, left)
	}
	var right string
	if next != nil {
		right = next.key
	}
	key, err := fracdex.KeyBetween(left, right)
	if err != nil {
		return nil, errors.Wrapf(err, "placing %s between %q and %q", id, left, right)
	}
	node := &seqNode{key: key, id: id, actor: actor, elem: elem, prio: nodePriority(key)}
	node.update()
	l, r := split(s.root, key)
	return &sequence{
		root: join(join(l, node), r),
		keys: s.keys.Set(id, key),
	}, nil
}

// isVisible returns whether the element exists and is not deleted.
func (s *sequence) isVisible(id ElemID) bool {
	key, ok := s.keys.Get(id)
	if !ok {
		return false
	}
	return find(s.root, key).visible
}

// setVisible returns the updated sequence with the element shown or hidden.
func (s *sequence) setVisible(id ElemID, visible bool) *sequence {
	key, ok := s.keys.Get(id)
	if !ok {
		return s
	}
	return &sequence{
		root: setVisible(s.root, key, visible),
		keys: s.keys,
	}
}

// indexOf returns the visible index of an element, or -1 if it's not visible.
//
// Time complexity: O(log(elements)) expected
func (s *sequence) indexOf(id ElemID) int {
	key, ok := s.keys.Get(id)
	if !ok || !find(s.root, key).visible {
		return -1
	}
	return rank(s.root, key)
}

// at returns the element at a visible index.
//
// Time complexity: O(log(elements)) expected
func (s *sequence) at(i int) (ElemID, bool) {
	if i < 0 || i >= s.len() {
		return "", false
	}
	return selectVisible(s.root, i).id, true
}

// each calls f with each visible element, in order, until it returns false.
func (s *sequence) each(f func(ElemID) bool) {
	walk(s.root, func(n *seqNode) bool {
		if !n.visible {
			return true
		}
		return f(n.id)
	})
}

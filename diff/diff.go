// Package diff computes the minimal sequence of character insertions and deletions that
// transforms a string into another. It's used to turn a whole-text replacement into
// fine-grained edits of a text object, so that concurrent edits to other parts of the text
// are preserved.
package diff

import (
	"fmt"
	"unicode/utf8"
)

// OpType is the kind of edit applied to a character.
type OpType int

// Edit kinds.
const (
	Keep OpType = iota
	Insert
	Delete
)

func (t OpType) String() string {
	switch t {
	case Keep:
		return "keep"
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("OpType(%d)", int(t))
}

// Operation is an edit of a single character. Dist is the number of insertions and deletions
// from this operation to the end.
type Operation struct {
	Op   OpType
	Char rune
	Dist int
}

// Example: abcd -> xabdy
//           s1      s2
//
// Legend:
//   ix = insert(x)
//   ka = keep(a)
//   dc = delete(c)
//
//          xabdy   xabdy   xabdy   xabdy   xabdy   xabdy
//  s1\s2   ^        ^        ^        ^        ^        ^
//        +-------+-------+-------+-------+-------+-------+
//        |       |       |       |       |       |       |
//  abcd  | ix 3  < ka 2  | da 3  | da 4  | iy 5  < da 4  |
//  ^     |       |      \|       |       |       |       |
//        +-------+-------+---^---+---^---+-------+---^---+
//        |       |       |       |       |       |       |
//  abcd  | ix 4  < ia 3  < kb 2  | db 3  | iy 4  < db 3  |
//   ^    |       |       |      \|       |       |       |
//        +-------+-------+-------+---^---+-------+---^---+
//        |       |       |       |       |       |       |
//  abcd  | ix 5  < ia 4  < ib 3  < dc 2  | iy 3  < dc 2  |
//    ^   |       |       |       |       |       |       |
//        +-------+-------+-------+---^---+-------+---^---+
//        |       |       |       |       |       |       |
//  abcd  | ix 4  < ia 3  < ib 2  < kd 1  | iy 2  < dd 1  |
//     ^  |       |       |       |      \|       |       |
//        +-------+-------+-------+-------+-------+---^---+
//        |       |       |       |       |       |       |
//  abcd  | ix 5  < ia 4  < ib 3  < id 2  < iy 1  < k0 0  |
//      ^ |       |       |       |       |       |       |
//        +-------+-------+-------+-------+-------+-------+

// Diff returns the sequence of keeps, insertions and deletions that transforms s1 into s2.
//
// Time complexity: O(len(s1) * len(s2))
func Diff(s1, s2 string) ([]Operation, error) {
	if !utf8.ValidString(s1) {
		return nil, fmt.Errorf("s1 is not a valid utf8 string")
	}
	if !utf8.ValidString(s2) {
		return nil, fmt.Errorf("s2 is not a valid utf8 string")
	}
	chars1, chars2 := []rune(s1), []rune(s2)
	m, n := len(chars1), len(chars2)
	table := make([]Operation, (m+1)*(n+1))
	coord := func(i, j int) int {
		return i*(n+1) + j
	}
	// Suffixes of s1 against an empty string are deleted.
	for i, ch := range chars1 {
		table[coord(i, n)] = Operation{Op: Delete, Char: ch, Dist: m - i}
	}
	// Suffixes of s2 against an empty string are inserted.
	for j, ch := range chars2 {
		table[coord(m, j)] = Operation{Op: Insert, Char: ch, Dist: n - j}
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if chars1[i] == chars2[j] {
				table[coord(i, j)] = Operation{Op: Keep, Char: chars1[i], Dist: table[coord(i+1, j+1)].Dist}
				continue
			}
			// Prefer inserting on a tie, so that insertions come before deletions.
			del, ins := table[coord(i+1, j)], table[coord(i, j+1)]
			if ins.Dist <= del.Dist {
				table[coord(i, j)] = Operation{Op: Insert, Char: chars2[j], Dist: 1 + ins.Dist}
			} else {
				table[coord(i, j)] = Operation{Op: Delete, Char: chars1[i], Dist: 1 + del.Dist}
			}
		}
	}
	var ops []Operation
	var i, j int
	for i < m || j < n {
		op := table[coord(i, j)]
		ops = append(ops, op)
		switch op.Op {
		case Keep:
			i++
			j++
		case Insert:
			j++
		case Delete:
			i++
		}
	}
	return ops, nil
}

// Distance returns the number of insertions and deletions to transform s1 into s2.
func Distance(s1, s2 string) (int, error) {
	ops, err := Diff(s1, s2)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}
	return ops[0].Dist, nil
}

// Splice replaces Delete characters starting at Index with Insert.
type Splice struct {
	Index  int
	Delete int
	Insert string
}

// Splices groups the result of Diff into splices. Each splice index is relative to the
// string resulting from applying the previous splices.
func Splices(s1, s2 string) ([]Splice, error) {
	ops, err := Diff(s1, s2)
	if err != nil {
		return nil, err
	}
	var splices []Splice
	var index int
	var current *Splice
	flush := func() {
		if current == nil {
			return
		}
		splices = append(splices, *current)
		index += utf8.RuneCountInString(current.Insert)
		current = nil
	}
	for _, op := range ops {
		if op.Op == Keep {
			flush()
			index++
			continue
		}
		if current == nil {
			current = &Splice{Index: index}
		}
		if op.Op == Insert {
			current.Insert += string(op.Char)
		} else {
			current.Delete++
		}
	}
	flush()
	return splices, nil
}

// Apply applies splices to s.
func Apply(s string, splices []Splice) (string, error) {
	chars := []rune(s)
	for _, sp := range splices {
		if sp.Index < 0 || sp.Delete < 0 || sp.Index+sp.Delete > len(chars) {
			return "", fmt.Errorf("splice %+v out of range for length %d", sp, len(chars))
		}
		rest := append([]rune(sp.Insert), chars[sp.Index+sp.Delete:]...)
		chars = append(chars[:sp.Index], rest...)
	}
	return string(chars), nil
}

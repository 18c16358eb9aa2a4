package doc_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/brunokim/opset/crdt"
	"github.com/brunokim/opset/doc"
)

// Tests are structured as a sequence of operations on the "text" field of a list of replicas.
//
// This indirection allows us to perform some actions for every mutation, like
// dumping the replicas into a file for inspection.
//
// Operations:
//
// insertText <local> <pos> <str>  -- insert str at position 'pos' of replica 'local'.
// deleteText <local> <pos> <n>    -- delete n chars from position 'pos' of replica 'local'.
// updateText <local> <str>        -- replace the text of replica 'local' with str.
// fork <local> <remote>           -- create replica 'remote' from replica 'local'.
// merge <local> <remote>          -- merge replica 'remote' into replica 'local'.
// undo <local>                    -- undo the last change of replica 'local'.
// check <local> <str>             -- check that the text of 'local' spells 'str'.
//
// Replicas are referred by their order of creation. Replica #i has actor ID "r<i>".

type operationType int

const (
	insertText operationType = iota
	deleteText
	updateText
	fork
	merge
	undo
	check
)

type operation struct {
	op            operationType
	local, remote int
	pos, n        int
	str           string
}

func (op operation) String() string {
	switch op.op {
	case insertText:
		return fmt.Sprintf("insert %q @ %d at replica #%d", op.str, op.pos, op.local)
	case deleteText:
		return fmt.Sprintf("delete %d chars @ %d from replica #%d", op.n, op.pos, op.local)
	case updateText:
		return fmt.Sprintf("update text of replica #%d to %q", op.local, op.str)
	case fork:
		return fmt.Sprintf("fork replica #%d into replica #%d", op.local, op.remote)
	case merge:
		return fmt.Sprintf("merge replica #%d into replica #%d", op.remote, op.local)
	case undo:
		return fmt.Sprintf("undo at replica #%d", op.local)
	case check:
		return fmt.Sprintf("check replica #%d is %q", op.local, op.str)
	}
	return ""
}

func setupTestFile(name string) (*os.File, error) {
	filename := fmt.Sprintf("testdata/%s.jsonl", name)
	baseDir := filepath.Dir(filename)
	os.MkdirAll(baseDir, 0777)
	return os.Create(filename)
}

func replicaText(t *testing.T, d *doc.Doc) (crdt.ObjectID, string) {
	t.Helper()
	id, ok := d.ObjectAt(d.Root(), "text")
	if !ok {
		t.Fatalf("%s: missing text", d.ActorID())
	}
	value, err := d.ObjectValue(id)
	if err != nil {
		t.Fatalf("%s: %v", d.ActorID(), err)
	}
	return id, string(value.(doc.Text))
}

// Execute sequence of operations dumping intermediate documents into testdata.
func testOperations(t *testing.T, ops []operation) []*doc.Doc {
	must := func(err error) {
		if err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	first, err := doc.Change(doc.InitWithActor("r0"), "init", func(s *doc.Session) error {
		return s.Set(s.Root(), "text", doc.Text(""))
	})
	must(err)
	replicas := []*doc.Doc{first}
	f, err := setupTestFile(t.Name())
	if err != nil {
		t.Log(err)
	}
	for i, op := range ops {
		d := replicas[op.local]
		text, str := replicaText(t, d)
		switch op.op {
		case insertText:
			d, err = doc.Change(d, op.String(), func(s *doc.Session) error {
				var chars []interface{}
				for _, ch := range op.str {
					chars = append(chars, string(ch))
				}
				return s.Insert(text, op.pos, chars...)
			})
			must(err)
		case deleteText:
			d, err = doc.Change(d, op.String(), func(s *doc.Session) error {
				return s.Splice(text, op.pos, op.n)
			})
			must(err)
		case updateText:
			d, err = doc.Change(d, op.String(), func(s *doc.Session) error {
				return s.UpdateText(text, op.str)
			})
			must(err)
		case fork:
			if op.remote != len(replicas) {
				t.Fatalf("fork: expecting remote index %d, got %d", op.remote, len(replicas))
			}
			remote, err := doc.Merge(doc.InitWithActor(fmt.Sprintf("r%d", op.remote)), d)
			must(err)
			replicas = append(replicas, remote)
		case merge:
			d, err = doc.Merge(d, replicas[op.remote])
			must(err)
		case undo:
			d, err = doc.Undo(d, op.String())
			must(err)
		case check:
			if str != op.str {
				t.Errorf("%d: got replica[%d] = %q, want %q", i, op.local, str, op.str)
			}
		}
		replicas[op.local] = d
		// Dump replicas into testfile.
		if f != nil && op.op != check {
			sites := make([]map[string]interface{}, len(replicas))
			for j, replica := range replicas {
				sites[j] = map[string]interface{}{
					"Actor": replica.ActorID(),
					"Clock": replica.Clock(),
					"Value": replica.Value(),
				}
			}
			bs, err := json.Marshal(map[string]interface{}{
				"Type":   "test",
				"Action": op.String(),
				"Sites":  sites,
			})
			if err != nil {
				t.Log(err)
				f.Close()
				f = nil
			} else {
				f.Write(bs)
				f.WriteString("\n")
			}
		}
	}
	if f != nil {
		f.Close()
	}
	return replicas
}

func TestTextEditing(t *testing.T) {
	testOperations(t, []operation{
		{op: insertText, local: 0, pos: 0, str: "hello"},
		{op: check, local: 0, str: "hello"},
		{op: deleteText, local: 0, pos: 1, n: 3},
		{op: check, local: 0, str: "ho"},
		{op: insertText, local: 0, pos: 1, str: "ell"},
		{op: check, local: 0, str: "hello"},
		{op: updateText, local: 0, str: "jello!"},
		{op: check, local: 0, str: "jello!"},
		{op: undo, local: 0},
		{op: check, local: 0, str: "hello"},
	})
}

func TestConcurrentTextEditing(t *testing.T) {
	testOperations(t, []operation{
		{op: insertText, local: 0, pos: 0, str: "ac"},
		{op: fork, local: 0, remote: 1},
		{op: fork, local: 0, remote: 2},
		{op: insertText, local: 0, pos: 1, str: "b"},
		{op: insertText, local: 1, pos: 1, str: "x"},
		{op: deleteText, local: 2, pos: 1, n: 1},
		{op: check, local: 0, str: "abc"},
		{op: check, local: 1, str: "axc"},
		{op: check, local: 2, str: "a"},
		// Concurrent insertions at the same position are ordered by actor, descending.
		{op: merge, local: 0, remote: 1},
		{op: check, local: 0, str: "axbc"},
		{op: merge, local: 0, remote: 2},
		{op: check, local: 0, str: "axb"},
		{op: merge, local: 2, remote: 0},
		{op: check, local: 2, str: "axb"},
		{op: merge, local: 1, remote: 2},
		{op: check, local: 1, str: "axb"},
	})
}

func TestDeleteConcurrentWithInsert(t *testing.T) {
	testOperations(t, []operation{
		{op: insertText, local: 0, pos: 0, str: "abc"},
		{op: fork, local: 0, remote: 1},
		{op: deleteText, local: 0, pos: 0, n: 3},
		{op: insertText, local: 1, pos: 2, str: "X"},
		{op: merge, local: 0, remote: 1},
		{op: merge, local: 1, remote: 0},
		{op: check, local: 0, str: "X"},
		{op: check, local: 1, str: "X"},
	})
}

package doc_test

import (
	"testing"

	"github.com/brunokim/opset/crdt"
	"github.com/brunokim/opset/doc"
	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

// Replicas edit a shared map and list concurrently, and exchange changes in arbitrary order.
// After all replicas receive all changes, they must have the same value.
type replicaMachine struct {
	replicas []*doc.Doc
	list     crdt.ObjectID
	// Changes created so far, for delivering out of order.
	changes []crdt.Change
}

var (
	actors = []string{"alice", "bob", "carol"}
	keys   = []string{"a", "b", "c"}
)

func (m *replicaMachine) Init(t *rapid.T) {
	first, err := doc.Change(doc.InitWithActor(actors[0]), "init", func(s *doc.Session) error {
		if err := s.Set(s.Root(), "list", []interface{}{}); err != nil {
			return err
		}
		m.list, _ = s.ObjectAt(s.Root(), "list")
		return nil
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	m.replicas = []*doc.Doc{first}
	for _, actor := range actors[1:] {
		replica, err := doc.Merge(doc.InitWithActor(actor), first)
		if err != nil {
			t.Fatalf("merge into %s: %v", actor, err)
		}
		m.replicas = append(m.replicas, replica)
	}
	m.changes = doc.GetChangesForActor(first, actors[0])
}

func (m *replicaMachine) edit(t *rapid.T, fn func(s *doc.Session) error) {
	i := rapid.IntRange(0, len(m.replicas)-1).Draw(t, "replica").(int)
	d := m.replicas[i]
	next, err := doc.Change(d, "", fn)
	if err != nil {
		t.Fatalf("%s: %v", d.ActorID(), err)
	}
	if next.Clock().Get(d.ActorID()) > d.Clock().Get(d.ActorID()) {
		changes := doc.GetChangesForActor(next, d.ActorID())
		m.changes = append(m.changes, changes[len(changes)-1])
	}
	m.replicas[i] = next
}

func (m *replicaMachine) SetKey(t *rapid.T) {
	key := rapid.SampledFrom(keys).Draw(t, "key").(string)
	value := rapid.IntRange(0, 9).Draw(t, "value").(int)
	m.edit(t, func(s *doc.Session) error {
		return s.Set(s.Root(), key, value)
	})
}

func (m *replicaMachine) DeleteKey(t *rapid.T) {
	key := rapid.SampledFrom(keys).Draw(t, "key").(string)
	m.edit(t, func(s *doc.Session) error {
		return s.Delete(s.Root(), key)
	})
}

func (m *replicaMachine) InsertElem(t *rapid.T) {
	pos := rapid.IntRange(0, 100).Draw(t, "pos").(int)
	value := rapid.IntRange(0, 9).Draw(t, "value").(int)
	m.edit(t, func(s *doc.Session) error {
		return s.Insert(m.list, pos%(s.Len(m.list)+1), value)
	})
}

func (m *replicaMachine) DeleteElem(t *rapid.T) {
	pos := rapid.IntRange(0, 100).Draw(t, "pos").(int)
	m.edit(t, func(s *doc.Session) error {
		n := s.Len(m.list)
		if n == 0 {
			return nil
		}
		return s.DeleteAt(m.list, pos%n)
	})
}

func (m *replicaMachine) Sync(t *rapid.T) {
	i := rapid.IntRange(0, len(m.replicas)-1).Draw(t, "local").(int)
	j := rapid.IntRange(0, len(m.replicas)-1).Draw(t, "remote").(int)
	if i == j {
		t.Skip("merging replica with itself")
	}
	merged, err := doc.Merge(m.replicas[i], m.replicas[j])
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	m.replicas[i] = merged
}

// Delivers a random selection of changes in random order, possibly repeated.
func (m *replicaMachine) Deliver(t *rapid.T) {
	i := rapid.IntRange(0, len(m.replicas)-1).Draw(t, "replica").(int)
	indices := rapid.SliceOfN(rapid.IntRange(0, len(m.changes)-1), 0, len(m.changes)).Draw(t, "changes").([]int)
	changes := make([]crdt.Change, len(indices))
	for k, idx := range indices {
		changes[k] = m.changes[idx]
	}
	next, _, err := doc.ApplyChanges(m.replicas[i], changes)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	m.replicas[i] = next
}

func (m *replicaMachine) Check(t *rapid.T) {
	want, _, err := doc.ApplyChanges(doc.InitWithActor("observer"), m.changes)
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	if missing := doc.GetMissingDeps(want); len(missing) > 0 {
		t.Fatalf("observer is missing %v", missing)
	}
	for _, replica := range m.replicas {
		got, _, err := doc.ApplyChanges(replica, m.changes)
		if err != nil {
			t.Fatalf("%s: %v", replica.ActorID(), err)
		}
		if diff := cmp.Diff(want.Value(), got.Value()); diff != "" {
			t.Fatalf("%s diverged: (-want, +got):\n%s", replica.ActorID(), diff)
		}
	}
}

func TestConvergence(t *testing.T) {
	rapid.Check(t, rapid.Run(&replicaMachine{}))
}

package doc_test

import (
	"testing"

	"github.com/brunokim/opset/codec"
	"github.com/brunokim/opset/crdt"
	"github.com/brunokim/opset/doc"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Builds a document with nested objects, conflicts, deletions and text edits from two actors.
func makeBusyDoc(t *testing.T) *doc.Doc {
	var list, text crdt.ObjectID
	alice := mustChange(t, doc.InitWithActor("alice"), func(s *doc.Session) error {
		err := s.Set(s.Root(), "todo", []interface{}{
			map[string]interface{}{"title": "buy milk", "done": false},
			map[string]interface{}{"title": "walk dog", "done": true},
		})
		if err != nil {
			return err
		}
		if err := s.Set(s.Root(), "notes", doc.Text("abc")); err != nil {
			return err
		}
		list, _ = s.ObjectAt(s.Root(), "todo")
		text, _ = s.ObjectAt(s.Root(), "notes")
		return nil
	})
	bob := mustMerge(t, doc.InitWithActor("bob"), alice)

	alice = mustChange(t, alice, func(s *doc.Session) error {
		item, _ := s.ListObjectAt(list, 0)
		if err := s.Set(item, "done", true); err != nil {
			return err
		}
		if err := s.DeleteAt(list, 1); err != nil {
			return err
		}
		return s.UpdateText(text, "xabc")
	})
	bob = mustChange(t, bob, func(s *doc.Session) error {
		item, _ := s.ListObjectAt(list, 0)
		if err := s.Set(item, "done", "maybe"); err != nil {
			return err
		}
		if err := s.Append(list, map[string]interface{}{"title": "sleep"}); err != nil {
			return err
		}
		if err := s.Set(s.Root(), "owner", "bob"); err != nil {
			return err
		}
		return s.UpdateText(text, "ab")
	})
	return mustMerge(t, alice, bob)
}

func TestBusyDoc(t *testing.T) {
	d := makeBusyDoc(t)
	checkValue(t, d, map[string]interface{}{
		"todo": []interface{}{
			map[string]interface{}{"title": "buy milk", "done": "maybe"},
			map[string]interface{}{"title": "sleep"},
		},
		"notes": doc.Text("xab"),
		"owner": "bob",
	})
}

func TestViewFromPatches(t *testing.T) {
	d := makeBusyDoc(t)
	changes, err := doc.GetChanges(doc.InitWithActor("carol"), d)
	require.NoError(t, err)

	// Applying all changes at once.
	view := doc.NewView()
	_, patches, err := doc.ApplyChanges(doc.InitWithActor("carol"), changes)
	require.NoError(t, err)
	require.NoError(t, view.Apply(patches))
	if diff := cmp.Diff(d.Value(), view.Value()); diff != "" {
		t.Errorf("all at once: (-want, +got):\n%s", diff)
	}

	// Applying changes one at a time, in reverse order.
	view = doc.NewView()
	carol := doc.InitWithActor("carol")
	for i := len(changes) - 1; i >= 0; i-- {
		carol, patches, err = doc.ApplyChanges(carol, changes[i:i+1])
		require.NoError(t, err)
		require.NoError(t, view.Apply(patches))
		if diff := cmp.Diff(carol.Value(), view.Value()); diff != "" {
			t.Errorf("change #%d: (-want, +got):\n%s", i, diff)
		}
	}
	if diff := cmp.Diff(d.Value(), view.Value()); diff != "" {
		t.Errorf("one at a time: (-want, +got):\n%s", diff)
	}
}

func TestDiff(t *testing.T) {
	d := makeBusyDoc(t)
	history := doc.GetHistory(d)
	for i, entry := range history {
		old, err := entry.Snapshot()
		require.NoError(t, err)

		view := doc.NewView()
		initial, err := doc.Diff(doc.InitWithActor("carol"), old)
		require.NoError(t, err)
		require.NoError(t, view.Apply(initial))

		patches, err := doc.Diff(old, d)
		require.NoError(t, err)
		require.NoError(t, view.Apply(patches))
		if diff := cmp.Diff(d.Value(), view.Value()); diff != "" {
			t.Errorf("diff from #%d: (-want, +got):\n%s", i, diff)
		}
	}

	patches, err := doc.Diff(d, d)
	require.NoError(t, err)
	assert.Empty(t, patches)
}

func TestViewErrors(t *testing.T) {
	view := doc.NewView()
	err := view.Apply([]crdt.Patch{{Action: crdt.PatchSet, Type: crdt.MapType, Obj: "unknown", Key: "x"}})
	assert.True(t, errors.Is(err, doc.ErrNotAnObject), "got %v", err)

	require.NoError(t, view.Apply([]crdt.Patch{{Action: crdt.PatchCreate, Type: crdt.ListType, Obj: "list"}}))
	err = view.Apply([]crdt.Patch{{Action: crdt.PatchRemove, Type: crdt.ListType, Obj: "list", Index: 0}})
	assert.True(t, errors.Is(err, doc.ErrIndexOutOfRange), "got %v", err)

	err = view.Apply([]crdt.Patch{{Action: crdt.PatchInsert, Type: crdt.MapType, Obj: crdt.RootID, Key: "x"}})
	assert.ErrorContains(t, err, `invalid action "insert" for map`)
}

func TestSaveLoad(t *testing.T) {
	d := makeBusyDoc(t)
	data, err := doc.Save(d)
	require.NoError(t, err)

	loaded, err := doc.Load(data, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", loaded.ActorID())
	assert.True(t, doc.Equal(d, loaded))
	assert.Equal(t, d.Clock(), loaded.Clock())

	// Loaded documents continue to replicate with the original.
	loaded = mustChange(t, loaded, func(s *doc.Session) error { return s.Set(s.Root(), "owner", "carol") })
	d = mustMerge(t, d, loaded)
	value, _ := d.Get(d.Root(), "owner")
	assert.Equal(t, "carol", value)

	_, err = doc.Load([]byte(`{"version": 99, "changes": []}`), "")
	assert.True(t, errors.Is(err, codec.ErrUnsupportedVersion), "got %v", err)
}

func TestLoadRandomActor(t *testing.T) {
	defer doc.MockUUIDs()()
	data, err := doc.Save(doc.InitWithActor("alice"))
	require.NoError(t, err)
	d, err := doc.Load(data, "")
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", d.ActorID())
}

package codec_test

import (
	"testing"

	"github.com/brunokim/opset/clock"
	"github.com/brunokim/opset/codec"
	"github.com/brunokim/opset/crdt"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	list := crdt.ObjectID("00000000-0000-0000-0000-000000000001")
	changes := []crdt.Change{
		{Actor: "alice", Seq: 1, Deps: clock.New(), Message: "init", Ops: []crdt.Op{
			{Action: crdt.Set, Obj: crdt.RootID, Key: "n", Value: 1.5},
			{Action: crdt.MakeList, Obj: list},
			{Action: crdt.Ins, Obj: list, Key: string(crdt.Head), Elem: 1},
			{Action: crdt.Set, Obj: list, Key: "alice:1", Value: "x"},
			{Action: crdt.Link, Obj: crdt.RootID, Key: "list", Value: string(list)},
		}},
		{Actor: "bob", Seq: 1, Deps: clock.Clock{"alice": 1}, Ops: []crdt.Op{
			{Action: crdt.Del, Obj: crdt.RootID, Key: "n"},
			{Action: crdt.Set, Obj: crdt.RootID, Key: "ok", Value: true},
			{Action: crdt.Set, Obj: crdt.RootID, Key: "none", Value: nil},
		}},
	}
	bs, err := codec.Encode(changes)
	require.NoError(t, err)
	got, err := codec.Decode(bs)
	require.NoError(t, err)
	require.Len(t, got, len(changes))
	for i := range changes {
		assert.True(t, changes[i].Equal(got[i]), "change %d: %v != %v", i, changes[i], got[i])
	}
}

func TestEncodeEmpty(t *testing.T) {
	bs, err := codec.Encode(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": 1, "changes": []}`, string(bs))
}

func TestDecodeIntegersAsFloats(t *testing.T) {
	data := `{"version": 1, "changes": [
		{"actor": "a", "seq": 1, "ops": [{"action": "set", "obj": "00000000-0000-0000-0000-000000000000", "key": "x", "value": 3}]}
	]}`
	got, err := codec.Decode([]byte(data))
	require.NoError(t, err)
	want := []crdt.Change{{
		Actor: "a",
		Seq:   1,
		Deps:  clock.New(),
		Ops:   []crdt.Op{{Action: crdt.Set, Obj: crdt.RootID, Key: "x", Value: 3.0}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want, +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `changes`, codec.ErrMalformed},
		{"unknown field", `{"version": 1, "changes": [], "extra": 0}`, codec.ErrMalformed},
		{"wrong type", `{"version": "1", "changes": []}`, codec.ErrMalformed},
		{"missing version", `{"changes": []}`, codec.ErrUnsupportedVersion},
		{"future version", `{"version": 2, "changes": []}`, codec.ErrUnsupportedVersion},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := codec.Decode([]byte(test.data))
			if !errors.Is(err, test.want) {
				t.Errorf("got err %v, want %v", err, test.want)
			}
		})
	}
}

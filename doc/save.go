package doc

import (
	"github.com/brunokim/opset/codec"
	"github.com/pkg/errors"
)

// Save encodes the history of a document.
func Save(d *Doc) ([]byte, error) {
	return codec.Encode(d.opSet.History())
}

// Load decodes a history produced by Save into a new document owned by actorID.
// If actorID is empty, a random one is used.
func Load(data []byte, actorID string) (*Doc, error) {
	changes, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}
	if actorID == "" {
		actorID = newUUID().String()
	}
	d := InitWithActor(actorID)
	d, _, err = ApplyChanges(d, changes)
	if err != nil {
		return nil, errors.Wrap(err, "replaying saved history")
	}
	return d, nil
}

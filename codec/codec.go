// Package codec serializes the history of a document, so that it may be stored and later
// replayed.
//
// The encoding is a JSON envelope with a format version and the list of changes in order of
// application:
//
//	{"version": 1, "changes": [{"actor": "alice", "seq": 1, "deps": {}, "ops": [...]}]}
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/brunokim/opset/clock"
	"github.com/brunokim/opset/crdt"
	"github.com/pkg/errors"
)

// Version is the current format version.
const Version = 1

// Errors returned while decoding.
var (
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrMalformed          = errors.New("malformed document")
)

type envelope struct {
	Version int           `json:"version"`
	Changes []crdt.Change `json:"changes"`
}

// Encode serializes a list of changes.
func Encode(changes []crdt.Change) ([]byte, error) {
	if changes == nil {
		changes = []crdt.Change{}
	}
	bs, err := json.Marshal(envelope{Version: Version, Changes: changes})
	if err != nil {
		return nil, errors.Wrap(err, "encoding changes")
	}
	return bs, nil
}

// Decode deserializes a list of changes produced by Encode.
//
// Numbers are decoded as float64, and links as strings.
func Decode(data []byte) ([]crdt.Change, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%v", err)
	}
	if env.Version != Version {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got %d, want %d", env.Version, Version)
	}
	for i, change := range env.Changes {
		if change.Deps == nil {
			env.Changes[i].Deps = clock.New()
		}
	}
	return env.Changes, nil
}

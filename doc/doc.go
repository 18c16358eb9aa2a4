/*
Package doc provides immutable handles to replicated JSON-like documents.

A Doc is a snapshot of the state of a document as seen by a single actor. Modifications are
made within a Session, started by Change, that records operations against a working copy
and commits them as a single change to a new Doc. The previous Doc remains valid.

	d1 := doc.InitWithActor("alice")
	d2, err := doc.Change(d1, "add title", func(s *doc.Session) error {
		return s.Set(s.Root(), "title", "Hello")
	})

Changes made by other actors are received with ApplyChanges or Merge, and the changes a
replica is missing are obtained with GetChanges.
*/
package doc

import (
	"github.com/brunokim/opset/clock"
	"github.com/brunokim/opset/crdt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	newUUID = uuid.New // Stubbed for mocking in mocks_test.go
)

// Errors returned by document operations.
var (
	ErrInvalidKey       = errors.New("invalid map key")
	ErrUnsupportedValue = errors.New("unsupported value type")
	ErrIndexOutOfRange  = errors.New("list index out of range")
	ErrNotAList         = errors.New("object is not a list or text")
	ErrNotAMap          = errors.New("object is not a map")
	ErrNotAnObject      = errors.New("unknown object")
	ErrSessionClosed    = errors.New("session is closed: changes must happen inside the change callback")
	ErrNestedChange     = errors.New("change is already in progress for this document")
	ErrDiverged         = errors.New("cannot diff two diverged documents")
	ErrMergeSelf        = errors.New("cannot merge an actor with itself")
)

// Doc is an immutable snapshot of a document.
type Doc struct {
	reader
	actorID string
	// session is set while a change callback is running.
	session *Session
}

// Init creates an empty document with a random actor ID.
func Init() *Doc {
	return InitWithActor(newUUID().String())
}

// InitWithActor creates an empty document with the given actor ID.
func InitWithActor(actorID string) *Doc {
	return &Doc{
		reader:  reader{opSet: crdt.NewOpSet()},
		actorID: actorID,
	}
}

func (d *Doc) with(opSet *crdt.OpSet) *Doc {
	return &Doc{
		reader:  reader{opSet: opSet},
		actorID: d.actorID,
	}
}

// ActorID returns the ID of the actor that owns this replica.
func (d *Doc) ActorID() string {
	return d.actorID
}

// OpSet returns the underlying operation set.
func (d *Doc) OpSet() *crdt.OpSet {
	return d.opSet
}

// Clock returns the latest applied change for each actor.
func (d *Doc) Clock() clock.Clock {
	return d.opSet.Clock()
}

// Root returns the ID of the root map.
func (d *Doc) Root() crdt.ObjectID {
	return crdt.RootID
}

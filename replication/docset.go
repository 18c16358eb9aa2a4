// Package replication keeps collections of documents in sync between replicas.
//
// A DocSet holds the documents of a replica, and a Connection runs the sync protocol for a
// DocSet against a single peer, exchanging vector clocks and the changes each side is
// missing. The transport is left to the caller, that provides a function to send messages
// and feeds received messages to Connection.ReceiveMsg.
package replication

import (
	"sort"
	"sync"

	"github.com/brunokim/opset/crdt"
	"github.com/brunokim/opset/doc"
	"github.com/pkg/errors"
)

// Handler is called with the new version of a document whenever it changes.
type Handler func(docID string, d *doc.Doc) error

// handlers is a registry of handlers that may be unregistered.
type handlers struct {
	nextID int
	byID   map[int]Handler
}

func (hs *handlers) add(h Handler) int {
	if hs.byID == nil {
		hs.byID = make(map[int]Handler)
	}
	id := hs.nextID
	hs.nextID++
	hs.byID[id] = h
	return id
}

// Returns handlers in order of registration.
func (hs *handlers) list() []Handler {
	ids := make([]int, 0, len(hs.byID))
	for id := range hs.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	result := make([]Handler, len(ids))
	for i, id := range ids {
		result[i] = hs.byID[id]
	}
	return result
}

func notify(hs []Handler, docID string, d *doc.Doc) error {
	for _, h := range hs {
		if err := h(docID, d); err != nil {
			return errors.Wrapf(err, "handling update of %s", docID)
		}
	}
	return nil
}

// +--------+
// | DocSet |
// +--------+

// DocSet is a thread-safe collection of documents, indexed by ID.
type DocSet struct {
	mu       sync.Mutex
	actorID  string
	docs     map[string]*doc.Doc
	handlers handlers
}

// NewDocSet returns an empty set. Documents created on receipt of remote changes are owned by
// actorID, or by a random actor if it's empty.
func NewDocSet(actorID string) *DocSet {
	return &DocSet{
		actorID: actorID,
		docs:    make(map[string]*doc.Doc),
	}
}

// DocIDs returns the IDs of all documents, sorted.
func (ds *DocSet) DocIDs() []string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ids := make([]string, 0, len(ds.docs))
	for id := range ds.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetDoc returns a document by ID.
func (ds *DocSet) GetDoc(docID string) (*doc.Doc, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	d, ok := ds.docs[docID]
	return d, ok
}

// SetDoc replaces a document and notifies handlers.
func (ds *DocSet) SetDoc(docID string, d *doc.Doc) error {
	ds.mu.Lock()
	ds.docs[docID] = d
	hs := ds.handlers.list()
	ds.mu.Unlock()
	return notify(hs, docID, d)
}

// ApplyChanges applies remote changes to a document, creating it if it doesn't exist, and
// notifies handlers.
func (ds *DocSet) ApplyChanges(docID string, changes []crdt.Change) (*doc.Doc, error) {
	ds.mu.Lock()
	d, ok := ds.docs[docID]
	if !ok {
		if ds.actorID != "" {
			d = doc.InitWithActor(ds.actorID)
		} else {
			d = doc.Init()
		}
	}
	next, _, err := doc.ApplyChanges(d, changes)
	if err != nil {
		ds.mu.Unlock()
		return d, errors.Wrapf(err, "applying changes to %s", docID)
	}
	ds.docs[docID] = next
	hs := ds.handlers.list()
	ds.mu.Unlock()
	return next, notify(hs, docID, next)
}

// RegisterHandler adds a handler to be called on every document update. Returns a function
// to unregister it.
func (ds *DocSet) RegisterHandler(h Handler) func() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	id := ds.handlers.add(h)
	return func() {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		delete(ds.handlers.byID, id)
	}
}

// +--------------+
// | WatchableDoc |
// +--------------+

// WatchableDoc is a single document that notifies handlers when it changes.
type WatchableDoc struct {
	mu       sync.Mutex
	d        *doc.Doc
	handlers handlers
}

// NewWatchableDoc wraps a document.
func NewWatchableDoc(d *doc.Doc) *WatchableDoc {
	return &WatchableDoc{d: d}
}

// Get returns the current version of the document.
func (w *WatchableDoc) Get() *doc.Doc {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.d
}

// Set replaces the document and notifies handlers.
func (w *WatchableDoc) Set(d *doc.Doc) error {
	w.mu.Lock()
	w.d = d
	hs := w.handlers.list()
	w.mu.Unlock()
	return notify(hs, "", d)
}

// ApplyChanges applies remote changes to the document and notifies handlers.
func (w *WatchableDoc) ApplyChanges(changes []crdt.Change) (*doc.Doc, error) {
	w.mu.Lock()
	next, _, err := doc.ApplyChanges(w.d, changes)
	if err != nil {
		w.mu.Unlock()
		return w.d, err
	}
	w.d = next
	hs := w.handlers.list()
	w.mu.Unlock()
	return next, notify(hs, "", next)
}

// RegisterHandler adds a handler to be called on every update, with an empty document ID.
// Returns a function to unregister it.
func (w *WatchableDoc) RegisterHandler(h Handler) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.handlers.add(h)
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.handlers.byID, id)
	}
}

package replication

import (
	"fmt"
	"sync"

	"github.com/brunokim/opset/clock"
	"github.com/brunokim/opset/crdt"
	"github.com/brunokim/opset/doc"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Message is exchanged between the two ends of a connection. It advertises the sender's clock
// for a document, and optionally carries changes the receiver is missing.
type Message struct {
	DocID   string        `json:"docId"`
	Clock   clock.Clock   `json:"clock"`
	Changes []crdt.Change `json:"changes,omitempty"`
}

func (m Message) String() string {
	return fmt.Sprintf("Message(%s, clock=%v, %d changes)", m.DocID, m.Clock, len(m.Changes))
}

// SendFunc delivers a message to the peer.
type SendFunc func(Message) error

// State is the phase of the sync protocol.
type State int

// Sync protocol phases.
const (
	// Idle connections have both sides with the same clocks for all documents.
	Idle State = iota
	// ExchangingClocks connections are learning which changes the peer is missing.
	ExchangingClocks
	// ExchangingChanges connections are sending or receiving changes.
	ExchangingChanges
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ExchangingClocks:
		return "exchanging-clocks"
	case ExchangingChanges:
		return "exchanging-changes"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrStaleDoc is returned when a document is updated to a version older than one already
// advertised to the peer.
var ErrStaleDoc = errors.New("document is older than the version advertised to peer")

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger of a connection.
func WithLogger(logger log.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// Connection runs the sync protocol between a DocSet and a single peer.
//
// Both ends run the same protocol. On Open, each end advertises the clocks of all its
// documents. On receipt of a clock, an end sends the changes that the peer is missing; on
// receipt of changes, it applies them and advertises its new clock. The exchange stops when
// both ends have advertised the same clocks.
type Connection struct {
	docSet *DocSet
	send   SendFunc
	logger log.Logger

	mu          sync.Mutex
	open        bool
	theirClock  map[string]clock.Clock
	ourClock    map[string]clock.Clock
	lastChanges bool
	unregister  func()
}

// NewConnection creates a connection for docSet that sends messages with send.
func NewConnection(docSet *DocSet, send SendFunc, opts ...Option) *Connection {
	c := &Connection{
		docSet:     docSet,
		send:       send,
		logger:     log.NewNopLogger(),
		theirClock: make(map[string]clock.Clock),
		ourClock:   make(map[string]clock.Clock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open advertises all documents to the peer and starts watching the DocSet for updates.
func (c *Connection) Open() error {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	for _, docID := range c.docSet.DocIDs() {
		d, _ := c.docSet.GetDoc(docID)
		if err := c.docChanged(docID, d); err != nil {
			return err
		}
	}
	unregister := c.docSet.RegisterHandler(c.docChanged)
	c.mu.Lock()
	c.unregister = unregister
	c.mu.Unlock()
	level.Debug(c.logger).Log("msg", "connection opened")
	return nil
}

// Close stops watching the DocSet.
func (c *Connection) Close() {
	c.mu.Lock()
	unregister := c.unregister
	c.unregister = nil
	c.open = false
	c.mu.Unlock()
	if unregister != nil {
		unregister()
	}
	level.Debug(c.logger).Log("msg", "connection closed")
}

// ReceiveMsg processes a message from the peer, returning the updated document, if any.
func (c *Connection) ReceiveMsg(msg Message) (*doc.Doc, error) {
	logger := log.With(c.logger, "doc", msg.DocID)
	level.Debug(logger).Log("msg", "received message", "clock", msg.Clock, "changes", len(msg.Changes))
	c.mu.Lock()
	if msg.Clock != nil {
		c.theirClock[msg.DocID] = c.theirClock[msg.DocID].Union(msg.Clock)
	}
	c.lastChanges = len(msg.Changes) > 0
	c.mu.Unlock()

	if len(msg.Changes) > 0 {
		d, err := c.docSet.ApplyChanges(msg.DocID, msg.Changes)
		if err != nil {
			level.Warn(logger).Log("msg", "failed to apply changes", "err", err)
			return nil, err
		}
		return d, nil
	}
	if d, ok := c.docSet.GetDoc(msg.DocID); ok {
		return d, c.maybeSendChanges(msg.DocID)
	}
	c.mu.Lock()
	_, requested := c.ourClock[msg.DocID]
	c.mu.Unlock()
	if !requested {
		// Request the unknown document by advertising an empty clock.
		level.Debug(logger).Log("msg", "requesting unknown document")
		return nil, c.sendMsg(msg.DocID, clock.New(), nil)
	}
	return nil, nil
}

// State returns the phase of the protocol.
func (c *Connection) State() State {
	docIDs := c.docSet.DocIDs()
	clocks := make(map[string]clock.Clock, len(docIDs))
	for _, docID := range docIDs {
		if d, ok := c.docSet.GetDoc(docID); ok {
			clocks[docID] = d.Clock()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return Idle
	}
	ids := mapset.NewThreadUnsafeSet[string](docIDs...)
	for docID := range c.theirClock {
		ids.Add(docID)
	}
	for docID := range c.ourClock {
		ids.Add(docID)
	}
	for _, docID := range ids.ToSlice() {
		ours := clocks[docID]
		if ours.Equal(c.theirClock[docID]) && ours.Equal(c.ourClock[docID]) {
			continue
		}
		if c.lastChanges {
			return ExchangingChanges
		}
		return ExchangingClocks
	}
	return Idle
}

// Called whenever a document of the DocSet changes.
func (c *Connection) docChanged(docID string, d *doc.Doc) error {
	c.mu.Lock()
	advertised, ok := c.ourClock[docID]
	c.mu.Unlock()
	if ok && !advertised.LessOrEqual(d.Clock()) {
		return errors.Wrapf(ErrStaleDoc, "%s: advertised %v, got %v", docID, advertised, d.Clock())
	}
	return c.maybeSendChanges(docID)
}

// Sends the changes the peer is missing, if its clock is known, or our clock if it changed
// since it was last advertised.
func (c *Connection) maybeSendChanges(docID string) error {
	d, ok := c.docSet.GetDoc(docID)
	if !ok {
		return nil
	}
	ours := d.Clock()

	c.mu.Lock()
	var changes []crdt.Change
	if theirs, known := c.theirClock[docID]; known {
		changes = doc.GetMissingChanges(d, theirs)
		if len(changes) > 0 {
			// Assume the peer will have everything we send.
			c.theirClock[docID] = theirs.Union(ours)
		}
	}
	advertised, sent := c.ourClock[docID]
	c.mu.Unlock()

	if len(changes) > 0 {
		return c.sendMsg(docID, ours, changes)
	}
	if !sent || !ours.Equal(advertised) {
		return c.sendMsg(docID, ours, nil)
	}
	return nil
}

func (c *Connection) sendMsg(docID string, clk clock.Clock, changes []crdt.Change) error {
	c.mu.Lock()
	c.ourClock[docID] = clk
	c.lastChanges = len(changes) > 0
	c.mu.Unlock()

	msg := Message{DocID: docID, Clock: clk, Changes: changes}
	level.Debug(c.logger).Log("msg", "sending message", "doc", docID, "clock", clk, "changes", len(changes))
	if err := c.send(msg); err != nil {
		return errors.Wrapf(err, "sending %v", msg)
	}
	return nil
}

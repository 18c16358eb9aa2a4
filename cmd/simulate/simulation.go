package main

import (
	"fmt"
	"math/rand"
	"reflect"

	"github.com/brunokim/opset/crdt"
	"github.com/brunokim/opset/doc"
	"github.com/brunokim/opset/replication"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// envelope is a message in flight to a connection.
type envelope struct {
	to  *replication.Connection
	msg replication.Message
}

type replica struct {
	actorID string
	docSet  *replication.DocSet
}

// simulation runs random edits on fully-connected replicas, delivering messages in random
// order.
type simulation struct {
	conf     Config
	logger   log.Logger
	rnd      *rand.Rand
	replicas []replica
	conns    []*replication.Connection
	inflight []envelope
	debug    chan<- debugMessage

	numEdits, numMessages int
}

func newSimulation(conf Config, logger log.Logger, debug chan<- debugMessage) *simulation {
	sim := &simulation{
		conf:   conf,
		logger: logger,
		rnd:    rand.New(rand.NewSource(conf.Seed)),
		debug:  debug,
	}
	for i := 0; i < conf.Replicas; i++ {
		actorID := fmt.Sprintf("r%d", i)
		sim.replicas = append(sim.replicas, replica{actorID, replication.NewDocSet(actorID)})
	}
	return sim
}

func docID(i int) string {
	return fmt.Sprintf("doc%d", i)
}

// Creates a connection from each replica to every other.
func (sim *simulation) connect() error {
	byPair := make(map[[2]int]*replication.Connection)
	for i := range sim.replicas {
		for j := range sim.replicas {
			if i == j {
				continue
			}
			i, j := i, j
			logger := log.With(sim.logger, "from", sim.replicas[i].actorID, "to", sim.replicas[j].actorID)
			byPair[[2]int{i, j}] = replication.NewConnection(sim.replicas[i].docSet, func(msg replication.Message) error {
				sim.inflight = append(sim.inflight, envelope{byPair[[2]int{j, i}], msg})
				return nil
			}, replication.WithLogger(logger))
			sim.conns = append(sim.conns, byPair[[2]int{i, j}])
		}
	}
	for _, conn := range sim.conns {
		if err := conn.Open(); err != nil {
			return err
		}
	}
	return nil
}

// Creates the documents at the first replica.
func (sim *simulation) setup() error {
	r := sim.replicas[0]
	for i := 0; i < sim.conf.Docs; i++ {
		d, err := doc.Change(doc.InitWithActor(r.actorID), "setup", func(s *doc.Session) error {
			if err := s.Set(s.Root(), "items", []interface{}{}); err != nil {
				return err
			}
			return s.Set(s.Root(), "text", doc.Text(""))
		})
		if err != nil {
			return err
		}
		if err := r.docSet.SetDoc(docID(i), d); err != nil {
			return err
		}
	}
	return nil
}

// Runs the simulation, returning an error if replicas don't converge.
func (sim *simulation) run() error {
	if err := sim.setup(); err != nil {
		return errors.Wrap(err, "setup")
	}
	if err := sim.connect(); err != nil {
		return errors.Wrap(err, "connect")
	}
	for step := 0; step < sim.conf.Steps; step++ {
		for len(sim.inflight) > 0 && sim.rnd.Float64() < sim.conf.DeliverProb {
			if err := sim.deliver(); err != nil {
				return err
			}
		}
		if err := sim.edit(); err != nil {
			return errors.Wrapf(err, "step %d", step)
		}
	}
	for len(sim.inflight) > 0 {
		if err := sim.deliver(); err != nil {
			return err
		}
	}
	level.Info(sim.logger).Log("msg", "simulation finished", "edits", sim.numEdits, "messages", sim.numMessages)
	return sim.checkConvergence()
}

// Delivers a random message in flight.
func (sim *simulation) deliver() error {
	i := sim.rnd.Intn(len(sim.inflight))
	env := sim.inflight[i]
	sim.inflight = append(sim.inflight[:i], sim.inflight[i+1:]...)
	sim.numMessages++
	if _, err := env.to.ReceiveMsg(env.msg); err != nil {
		return errors.Wrapf(err, "delivering %v", env.msg)
	}
	sim.writeDebug(map[string]interface{}{
		"Type":    "deliver",
		"Message": env.msg,
	})
	return nil
}

// Edits a random document of a random replica, if it has already received it.
func (sim *simulation) edit() error {
	r := sim.replicas[sim.rnd.Intn(len(sim.replicas))]
	id := docID(sim.rnd.Intn(sim.conf.Docs))
	d, ok := r.docSet.GetDoc(id)
	if !ok {
		level.Debug(sim.logger).Log("msg", "document not received yet", "replica", r.actorID, "doc", id)
		return nil
	}
	// The setup change may still be held, waiting for its dependencies.
	items, ok1 := d.ObjectAt(d.Root(), "items")
	text, ok2 := d.ObjectAt(d.Root(), "text")
	if !ok1 || !ok2 {
		level.Debug(sim.logger).Log("msg", "document not set up yet", "replica", r.actorID, "doc", id, "missing", doc.GetMissingDeps(d))
		return nil
	}
	var desc string
	next, err := doc.Change(d, "", func(s *doc.Session) error {
		n := s.Len(items)
		switch p := sim.rnd.Float64(); {
		case p < 0.3:
			key := fmt.Sprintf("k%d", sim.rnd.Intn(5))
			value := sim.rnd.Intn(100)
			desc = fmt.Sprintf("set %s = %d", key, value)
			return s.Set(s.Root(), key, value)
		case p < 0.5:
			pos := sim.rnd.Intn(n + 1)
			desc = fmt.Sprintf("insert item @ %d", pos)
			return s.Insert(items, pos, map[string]interface{}{"by": r.actorID})
		case p < 0.6 && n > 0:
			pos := sim.rnd.Intn(n)
			desc = fmt.Sprintf("delete item @ %d", pos)
			return s.DeleteAt(items, pos)
		default:
			value, err := s.ObjectValue(text)
			if err != nil {
				return err
			}
			str := []rune(string(value.(doc.Text)))
			pos := sim.rnd.Intn(len(str) + 1)
			ch := rune('a' + sim.rnd.Intn(26))
			updated := string(str[:pos]) + string(ch) + string(str[pos:])
			desc = fmt.Sprintf("insert %c @ %d", ch, pos)
			return s.UpdateText(text, updated)
		}
	})
	if err != nil {
		return err
	}
	sim.numEdits++
	level.Debug(sim.logger).Log("msg", "edit", "replica", r.actorID, "doc", id, "op", desc)
	sim.writeDebug(map[string]interface{}{
		"Type":    "edit",
		"Replica": r.actorID,
		"Doc":     id,
		"Op":      desc,
		"Value":   next.Value(),
	})
	return r.docSet.SetDoc(id, next)
}

func (sim *simulation) checkConvergence() error {
	for i := 0; i < sim.conf.Docs; i++ {
		id := docID(i)
		var want *doc.Doc
		for _, r := range sim.replicas {
			d, ok := r.docSet.GetDoc(id)
			if !ok {
				return errors.Errorf("%s: replica %s never received the document", id, r.actorID)
			}
			if missing := doc.GetMissingDeps(d); len(missing) > 0 {
				return errors.Errorf("%s: replica %s is missing %v", id, r.actorID, missing)
			}
			if want == nil {
				want = d
				continue
			}
			if !reflect.DeepEqual(want.Value(), d.Value()) {
				return errors.Errorf("%s: replicas %s and %s diverged", id, want.ActorID(), r.actorID)
			}
		}
	}
	for _, conn := range sim.conns {
		if state := conn.State(); state != replication.Idle {
			return errors.Errorf("connection is still %v", state)
		}
	}
	return nil
}

// Returns the final value of every document, as seen by the first replica.
func (sim *simulation) values() map[string]interface{} {
	values := make(map[string]interface{})
	for _, id := range sim.replicas[0].docSet.DocIDs() {
		d, _ := sim.replicas[0].docSet.GetDoc(id)
		values[id] = d.Value()
	}
	return values
}

// Returns the history of each document, as seen by the first replica.
func (sim *simulation) histories() map[string][]crdt.Change {
	histories := make(map[string][]crdt.Change)
	for _, id := range sim.replicas[0].docSet.DocIDs() {
		d, _ := sim.replicas[0].docSet.GetDoc(id)
		histories[id] = d.OpSet().History()
	}
	return histories
}

func (sim *simulation) writeDebug(x interface{}) {
	if sim.debug != nil {
		sim.debug <- debugMessage{msgType: writeDebug, payload: x}
	}
}

package dispatch

import (
	"github.com/hermesync/hermesync/internal/core/ecs"
	"github.com/hermesync/hermesync/pkg/generic"
)

// batch is one entity's slice of a herald batch, delivered to the Scribe
// as a unit.
type batch struct {
	entity ecs.Entity
	events []Event
}

// Envoy owns one partition. It groups incoming herald batches by entity
// and keeps at most one batch per entity in flight downstream; later
// batches for a busy entity wait in that entity's lane until the Scribe
// acks the previous one. Unrelated entities on the same partition proceed
// independently.
type Envoy struct {
	partition int
	maxDemand int
	in        <-chan []Event
	acks      chan ecs.Hash
	out       chan batch
	demand    chan<- demand
	pool      *generic.Pool[[]Event]
	quit      <-chan struct{}
}

// lane presence in the map marks the entity busy; waiting holds the
// batches queued behind the in-flight one, oldest first.
type lane struct {
	waiting []batch
}

func newEnvoy(partition, maxDemand, maxEvents int, in <-chan []Event, dem chan<- demand, pool *generic.Pool[[]Event], quit <-chan struct{}) *Envoy {
	return &Envoy{
		partition: partition,
		maxDemand: maxDemand,
		in:        in,
		pool:      pool,
		// Workers ack through a buffer sized to the in-flight cap, so an
		// ack never blocks a finishing worker.
		acks:   make(chan ecs.Hash, maxEvents+1),
		out:    make(chan batch),
		demand: dem,
		quit:   quit,
	}
}

func (e *Envoy) run() {
	lanes := make(map[ecs.Hash]*lane)
	if !e.announce() {
		return
	}
	for {
		select {
		case events := <-e.in:
			if !e.ingest(lanes, events) {
				return
			}
			if !e.announce() {
				return
			}
		case h := <-e.acks:
			if !e.release(lanes, h) {
				return
			}
		case <-e.quit:
			return
		}
	}
}

// announce asks the Herald for the next batch.
func (e *Envoy) announce() bool {
	select {
	case e.demand <- demand{partition: e.partition, n: e.maxDemand}:
		return true
	case <-e.quit:
		return false
	}
}

// ingest groups a herald batch by entity in arrival order and emits one
// downstream batch per idle entity.
func (e *Envoy) ingest(lanes map[ecs.Hash]*lane, events []Event) bool {
	var order []ecs.Hash
	groups := make(map[ecs.Hash][]Event)
	entities := make(map[ecs.Hash]ecs.Entity)
	for _, ev := range events {
		h := ev.Entity.Hash()
		if _, seen := groups[h]; !seen {
			order = append(order, h)
			entities[h] = ev.Entity
		}
		groups[h] = append(groups[h], ev)
	}
	// The herald batch is fully copied into per-entity groups; recycle it.
	e.pool.Put(events[:0])
	for _, h := range order {
		b := batch{entity: entities[h], events: groups[h]}
		if l, busy := lanes[h]; busy {
			l.waiting = append(l.waiting, b)
			continue
		}
		lanes[h] = &lane{}
		if !e.emit(b) {
			return false
		}
	}
	return true
}

// release handles a Scribe ack: promote the next waiting batch for the
// entity, or free its lane.
func (e *Envoy) release(lanes map[ecs.Hash]*lane, h ecs.Hash) bool {
	l, ok := lanes[h]
	if !ok {
		return true
	}
	if len(l.waiting) == 0 {
		delete(lanes, h)
		return true
	}
	next := l.waiting[0]
	l.waiting = l.waiting[1:]
	return e.emit(next)
}

func (e *Envoy) emit(b batch) bool {
	select {
	case e.out <- b:
		return true
	case <-e.quit:
		return false
	}
}

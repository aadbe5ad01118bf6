package dispatch

import (
	"fmt"
	"sync"

	"github.com/hermesync/hermesync/internal/core/ecs"
	"github.com/hermesync/hermesync/internal/core/observability/log"
)

// Resolver maps a handler type id to its component type. Dispatch reads it
// on every handler invocation, so implementations must be cheap and safe
// for concurrent use.
type Resolver func(ecs.TypeID) (ecs.ComponentType, bool)

// Scribe consumes one partition's batches and runs each on a transient
// worker goroutine. The semaphore bounds in-flight batches; a panicking
// handler kills only its worker, and the deferred ack frees the entity's
// lane either way.
type Scribe struct {
	in        <-chan batch
	acks      chan<- ecs.Hash
	sem       chan struct{}
	resolve   Resolver
	log       log.Log
	completed func(events int)
	quit      <-chan struct{}
	workers   *sync.WaitGroup
}

func newScribe(e *Envoy, maxEvents int, resolve Resolver, logger log.Log, completed func(int), workers *sync.WaitGroup, quit <-chan struct{}) *Scribe {
	return &Scribe{
		in:        e.out,
		acks:      e.acks,
		sem:       make(chan struct{}, maxEvents),
		resolve:   resolve,
		log:       logger,
		completed: completed,
		quit:      quit,
		workers:   workers,
	}
}

func (s *Scribe) run() {
	for {
		select {
		case b := <-s.in:
			select {
			case s.sem <- struct{}{}:
			case <-s.quit:
				return
			}
			s.workers.Add(1)
			go s.work(b)
		case <-s.quit:
			return
		}
	}
}

// work runs one entity batch to completion. The deferred block releases
// the semaphore slot, acks the Envoy and settles the completion counter on
// every exit path, including handler panics.
func (s *Scribe) work(b batch) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event worker crashed",
				log.String("entity", b.entity.Hash().String()),
				log.Int("events", len(b.events)),
				log.Any("panic", r),
			)
		}
		<-s.sem
		s.acks <- b.entity.Hash()
		s.completed(len(b.events))
		s.workers.Done()
	}()
	for _, ev := range b.events {
		s.dispatch(ev)
	}
}

// dispatch walks the event's handler list in registered order, verifying
// the drift checksum after every call. Halt stops this event only.
func (s *Scribe) dispatch(ev Event) {
	sum := ev.Checksum()
	for _, tid := range ev.Handlers {
		t, ok := s.resolve(tid)
		if !ok {
			panic(fmt.Errorf("%w: %s", ErrUnknownHandler, tid))
		}
		h, ok := t.(Handler)
		if !ok {
			continue
		}
		verdict, next := h.HandleEvent(ev.Name, ev)
		if next.Checksum() != sum {
			panic(fmt.Errorf("%w: %s on %s", ErrEventDrift, ev.Name, tid))
		}
		switch verdict {
		case Continue:
			ev = next
		case Halt:
			return
		default:
			panic(fmt.Errorf("%w: %s returned %d", ErrBadVerdict, tid, verdict))
		}
	}
}

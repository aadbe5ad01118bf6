package dispatch

import (
	"crypto/sha1"
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/hermesync/hermesync/internal/core/ecs"
)

// Verdict is a handler's propagation decision.
type Verdict uint8

const (
	// Continue passes the (possibly transformed) event to the next handler.
	Continue Verdict = iota
	// Halt stops propagation of this event; later events in the batch still
	// run.
	Halt
)

// Handler is the optional dispatch capability of a ComponentType. Types
// that do not implement it receive events as (Continue, event) no-ops.
type Handler interface {
	HandleEvent(name string, event Event) (Verdict, Event)
}

// Event is the unit of dispatch. Every field except Args is frozen once
// the event enters the pipeline; handlers transform Args and nothing else.
type Event struct {
	Name      string
	World     uuid.UUID
	Entity    ecs.Entity
	Timestamp time.Time
	Args      map[string]any
	Handlers  []ecs.TypeID
}

// NewEvent stamps a new event with the current time.
func NewEvent(name string, world uuid.UUID, entity ecs.Entity, args map[string]any, handlers []ecs.TypeID) Event {
	return Event{
		Name:      name,
		World:     world,
		Entity:    entity,
		Timestamp: time.Now(),
		Args:      args,
		Handlers:  handlers,
	}
}

// Checksum digests every frozen field of the event. The worker computes it
// before the first handler runs and re-verifies after each handler; any
// difference means a handler rewrote a field it must not touch.
type Checksum [sha1.Size]byte

func (e Event) Checksum() Checksum {
	d := sha1.New()
	d.Write([]byte(e.Name))
	d.Write([]byte{0})
	d.Write(e.World[:])
	h := e.Entity.Hash()
	d.Write(h[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.Timestamp.UnixNano()))
	d.Write(ts[:])
	for _, t := range e.Handlers {
		d.Write([]byte(t))
		d.Write([]byte{0})
	}
	var sum Checksum
	copy(sum[:], d.Sum(nil))
	return sum
}

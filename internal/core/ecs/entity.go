package ecs

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/google/uuid"
)

// nodeID distinguishes entities minted by different processes. It is part
// of the identity hash, never exposed on its own.
var nodeID = uuid.New()

// Hash is the 160-bit identity of an entity: SHA-1 over
// (node, world, context, ref). Two entities are equal iff their hashes are.
type Hash [sha1.Size]byte

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Entity is a context-scoped opaque identifier. Entities are minted by a
// Context and never outlive it; the zero value is not a valid entity.
type Entity struct {
	ref     uuid.UUID
	hash    Hash
	name    string
	parent  *Entity
	context uuid.UUID
	world   uuid.UUID
}

func newEntity(contextID, worldID uuid.UUID, name string, parent *Entity) Entity {
	ref := uuid.New()
	d := sha1.New()
	d.Write(nodeID[:])
	d.Write(worldID[:])
	d.Write(contextID[:])
	d.Write(ref[:])
	var h Hash
	copy(h[:], d.Sum(nil))
	return Entity{
		ref:     ref,
		hash:    h,
		name:    name,
		parent:  parent,
		context: contextID,
		world:   worldID,
	}
}

// Ref returns the process-unique opaque token of the entity.
func (e Entity) Ref() uuid.UUID { return e.ref }

// Hash returns the entity's identity hash.
func (e Entity) Hash() Hash { return e.hash }

// Name returns the entity's name, or "" when unnamed.
func (e Entity) Name() string { return e.name }

// Parent returns the entity this one was cloned from, or nil.
func (e Entity) Parent() *Entity { return e.parent }

// ContextID returns the handle of the owning Context.
func (e Entity) ContextID() uuid.UUID { return e.context }

// WorldID returns the handle of the owning World, or uuid.Nil.
func (e Entity) WorldID() uuid.UUID { return e.world }

func (e Entity) IsZero() bool { return e.hash.IsZero() }

// Equal reports identity: equal hashes.
func (e Entity) Equal(other Entity) bool { return e.hash == other.hash }

// Colocated reports whether both entities live in the same Context.
func (e Entity) Colocated(other Entity) bool { return e.context == other.context }

// Named reports whether the entity carries a name.
func (e Entity) Named() bool { return e.name != "" }

// ChildOf reports whether the entity was cloned from parent.
func (e Entity) ChildOf(parent Entity) bool {
	return e.parent != nil && e.parent.hash == parent.hash
}

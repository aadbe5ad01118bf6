package ecs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context is the storage core. It keeps four coherent indexes over every
// (entity, type, component, metadata) tuple:
//
//	mtable  entity hash -> entity, attached type set, metadata
//	ctable  entity hash -> component rows
//	tindex  type        -> component rows (inverse of ctable)
//	nindex  name        -> entity hash
//	aindex  bloom mask  -> entity hashes
//
// All mutations are serialised through a single writer goroutine. Reads go
// straight to the tables under a read lock and never queue behind the
// writer: a reader may observe a snapshot that is already stale, but never
// one that violates index coherence.
type Context struct {
	id    uuid.UUID
	world uuid.UUID

	mu     sync.RWMutex
	mtable map[Hash]*metaRow
	ctable map[Hash][]componentRow
	tindex map[TypeID][]componentRow
	nindex map[string]Hash
	aindex map[Mask][]Hash

	ops  chan func()
	quit chan struct{}

	closeOnce sync.Once
}

type metaRow struct {
	entity    Entity
	types     map[TypeID]struct{}
	metadata  map[string]any
	createdAt time.Time
	mask      Mask
}

type componentRow struct {
	entity    Entity
	typeID    TypeID
	component Component
}

// Row is one (entity, component) pair produced by the typed queries.
type Row struct {
	Entity    Entity
	Component Component
}

// EntityInfo is the mtable view of an entity.
type EntityInfo struct {
	Entity    Entity
	Types     []TypeID
	Metadata  map[string]any
	CreatedAt time.Time
}

// CreateOptions configure entity creation.
type CreateOptions struct {
	Name     string
	Parent   *Entity
	Metadata map[string]any
	World    uuid.UUID
}

// NewContext creates an empty Context and starts its writer goroutine.
func NewContext() *Context {
	c := &Context{
		id:     uuid.New(),
		mtable: make(map[Hash]*metaRow),
		ctable: make(map[Hash][]componentRow),
		tindex: make(map[TypeID][]componentRow),
		nindex: make(map[string]Hash),
		aindex: make(map[Mask][]Hash),
		ops:    make(chan func()),
		quit:   make(chan struct{}),
	}
	go c.writer()
	return c
}

// ID returns the Context handle.
func (c *Context) ID() uuid.UUID { return c.id }

// BindWorld records the owning World handle; entities created afterwards
// carry it. Called once by the World during construction.
func (c *Context) BindWorld(world uuid.UUID) { c.world = world }

// Close stops the writer goroutine. Pending callers receive
// ErrContextClosed.
func (c *Context) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
}

func (c *Context) writer() {
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.quit:
			return
		}
	}
}

// do runs fn inside the writer goroutine and waits for its reply.
func (c *Context) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.ops <- func() { reply <- fn() }:
		return <-reply
	case <-c.quit:
		return ErrContextClosed
	}
}

// Create allocates a fresh Entity bound to this Context.
func (c *Context) Create(opts CreateOptions) (Entity, error) {
	var out Entity
	err := c.do(func() error {
		e, err := c.create(opts)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (c *Context) create(opts CreateOptions) (Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opts.Name != "" {
		if _, taken := c.nindex[opts.Name]; taken {
			return Entity{}, fmt.Errorf("%w: %q", ErrNameAlreadyRegistered, opts.Name)
		}
	}
	world := opts.World
	if world == uuid.Nil {
		world = c.world
	}
	e := newEntity(c.id, world, opts.Name, opts.Parent)
	c.mtable[e.hash] = &metaRow{
		entity:    e,
		types:     make(map[TypeID]struct{}),
		metadata:  copyMeta(opts.Metadata),
		createdAt: time.Now(),
	}
	if e.name != "" {
		c.nindex[e.name] = e.hash
	}
	c.aindex[Mask{}] = append(c.aindex[Mask{}], e.hash)
	return e, nil
}

// Emplace attaches a component to the entity. The entity must not already
// hold a component of that type.
func (c *Context) Emplace(e Entity, component Component) error {
	return c.do(func() error {
		if err := c.emplace(e, component); err != nil {
			return err
		}
		fireHook(HookAttached, e, component)
		return nil
	})
}

func (c *Context) emplace(e Entity, component Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.mtable[e.hash]
	if !ok {
		return ErrEntityNotFound
	}
	t := component.Type().Name()
	if _, present := row.types[t]; present {
		return fmt.Errorf("%w: %s", ErrAlreadyInserted, t)
	}
	cr := componentRow{entity: row.entity, typeID: t, component: component}
	c.ctable[e.hash] = append(c.ctable[e.hash], cr)
	c.tindex[t] = append(c.tindex[t], cr)
	row.types[t] = struct{}{}
	c.remask(row, row.mask.Merge(TypeMask(component.Type())))
	return nil
}

// Replace overwrites a component the entity already holds. The archetype
// mask is unchanged.
func (c *Context) Replace(e Entity, component Component) error {
	return c.do(func() error {
		if err := c.replace(e, component); err != nil {
			return err
		}
		fireHook(HookUpdated, e, component)
		return nil
	})
}

func (c *Context) replace(e Entity, component Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.mtable[e.hash]
	if !ok {
		return ErrEntityNotFound
	}
	t := component.Type().Name()
	if _, present := row.types[t]; !present {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, t)
	}
	replaceRow(c.ctable[e.hash], e.hash, t, component)
	replaceRow(c.tindex[t], e.hash, t, component)
	return nil
}

func replaceRow(rows []componentRow, h Hash, t TypeID, component Component) {
	for i := range rows {
		if rows[i].entity.hash == h && rows[i].typeID == t {
			rows[i].component = component
			return
		}
	}
}

// Erase removes one component from the entity.
func (c *Context) Erase(e Entity, t ComponentType) error {
	var removed Component
	err := c.do(func() error {
		var err error
		removed, err = c.erase(e, t.Name())
		if err != nil {
			return err
		}
		fireHook(HookRemoved, e, removed)
		return nil
	})
	return err
}

func (c *Context) erase(e Entity, t TypeID) (Component, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.mtable[e.hash]
	if !ok {
		return nil, ErrEntityNotFound
	}
	if _, present := row.types[t]; !present {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, t)
	}
	var removed Component
	c.ctable[e.hash], removed = dropRow(c.ctable[e.hash], e.hash, t)
	c.tindex[t], _ = dropRow(c.tindex[t], e.hash, t)
	if len(c.tindex[t]) == 0 {
		delete(c.tindex, t)
	}
	delete(row.types, t)
	c.remask(row, remainingMask(c.ctable[e.hash]))
	return removed, nil
}

// EraseAll removes every component of the entity and resets its mask.
func (c *Context) EraseAll(e Entity) error {
	var removed []Component
	return c.do(func() error {
		var err error
		removed, err = c.eraseAll(e)
		if err != nil {
			return err
		}
		for _, component := range removed {
			fireHook(HookRemoved, e, component)
		}
		return nil
	})
}

func (c *Context) eraseAll(e Entity) ([]Component, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.mtable[e.hash]
	if !ok {
		return nil, ErrEntityNotFound
	}
	removed := c.detachAll(e.hash, row)
	return removed, nil
}

// detachAll removes every component row of the entity and resets types and
// mask. Caller holds the write lock.
func (c *Context) detachAll(h Hash, row *metaRow) []Component {
	var removed []Component
	for _, cr := range c.ctable[h] {
		removed = append(removed, cr.component)
		c.tindex[cr.typeID], _ = dropRow(c.tindex[cr.typeID], h, cr.typeID)
		if len(c.tindex[cr.typeID]) == 0 {
			delete(c.tindex, cr.typeID)
		}
	}
	delete(c.ctable, h)
	row.types = make(map[TypeID]struct{})
	c.remask(row, Mask{})
	return removed
}

// Assign replaces the entity's component set wholesale.
func (c *Context) Assign(e Entity, components []Component) error {
	var removed []Component
	return c.do(func() error {
		var err error
		removed, err = c.assign(e, components)
		if err != nil {
			return err
		}
		for _, component := range removed {
			fireHook(HookRemoved, e, component)
		}
		for _, component := range components {
			fireHook(HookAttached, e, component)
		}
		return nil
	})
}

func (c *Context) assign(e Entity, components []Component) ([]Component, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.mtable[e.hash]
	if !ok {
		return nil, ErrEntityNotFound
	}
	seen := make(map[TypeID]struct{}, len(components))
	for _, component := range components {
		t := component.Type().Name()
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInserted, t)
		}
		seen[t] = struct{}{}
	}
	removed := c.detachAll(e.hash, row)
	for _, component := range components {
		t := component.Type().Name()
		cr := componentRow{entity: row.entity, typeID: t, component: component}
		c.ctable[e.hash] = append(c.ctable[e.hash], cr)
		c.tindex[t] = append(c.tindex[t], cr)
		row.types[t] = struct{}{}
	}
	c.remask(row, maskOf(components))
	return removed, nil
}

// Patch replaces the entity's metadata wholesale. The core never merges
// metadata maps.
func (c *Context) Patch(e Entity, metadata map[string]any) error {
	return c.do(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		row, ok := c.mtable[e.hash]
		if !ok {
			return ErrEntityNotFound
		}
		row.metadata = copyMeta(metadata)
		return nil
	})
}

// Destroy removes the entity from all four indexes.
func (c *Context) Destroy(e Entity) error {
	var removed []Component
	return c.do(func() error {
		var err error
		removed, err = c.destroy(e)
		if err != nil {
			return err
		}
		for _, component := range removed {
			fireHook(HookRemoved, e, component)
		}
		return nil
	})
}

func (c *Context) destroy(e Entity) ([]Component, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.mtable[e.hash]
	if !ok {
		return nil, ErrEntityNotFound
	}
	removed := c.detachAll(e.hash, row)
	c.dropFromMask(row.mask, e.hash)
	if row.entity.name != "" {
		delete(c.nindex, row.entity.name)
	}
	delete(c.mtable, e.hash)
	return removed, nil
}

// Clear empties all four indexes.
func (c *Context) Clear() error {
	return c.do(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.mtable = make(map[Hash]*metaRow)
		c.ctable = make(map[Hash][]componentRow)
		c.tindex = make(map[TypeID][]componentRow)
		c.nindex = make(map[string]Hash)
		c.aindex = make(map[Mask][]Hash)
		return nil
	})
}

// Atomic runs fn inside the writer goroutine, serialised with every other
// mutation. fn receives a Writer exposing the full mutation set, allowing
// compound writes to commit without interleaving.
func (c *Context) Atomic(fn func(w *Writer) error) error {
	return c.do(func() error {
		return fn(&Writer{c: c})
	})
}

// Writer is the mutation surface handed to Atomic closures. It must not be
// retained after the closure returns.
type Writer struct {
	c *Context
}

func (w *Writer) Create(opts CreateOptions) (Entity, error) { return w.c.create(opts) }

func (w *Writer) Emplace(e Entity, component Component) error {
	if err := w.c.emplace(e, component); err != nil {
		return err
	}
	fireHook(HookAttached, e, component)
	return nil
}

func (w *Writer) Replace(e Entity, component Component) error {
	if err := w.c.replace(e, component); err != nil {
		return err
	}
	fireHook(HookUpdated, e, component)
	return nil
}

func (w *Writer) Erase(e Entity, t ComponentType) error {
	removed, err := w.c.erase(e, t.Name())
	if err != nil {
		return err
	}
	fireHook(HookRemoved, e, removed)
	return nil
}

func (w *Writer) EraseAll(e Entity) error {
	removed, err := w.c.eraseAll(e)
	if err != nil {
		return err
	}
	for _, component := range removed {
		fireHook(HookRemoved, e, component)
	}
	return nil
}

func (w *Writer) Assign(e Entity, components []Component) error {
	removed, err := w.c.assign(e, components)
	if err != nil {
		return err
	}
	for _, component := range removed {
		fireHook(HookRemoved, e, component)
	}
	for _, component := range components {
		fireHook(HookAttached, e, component)
	}
	return nil
}

func (w *Writer) Destroy(e Entity) error {
	removed, err := w.c.destroy(e)
	if err != nil {
		return err
	}
	for _, component := range removed {
		fireHook(HookRemoved, e, component)
	}
	return nil
}

// Info returns the mtable view of the entity.
func (c *Context) Info(e Entity) (EntityInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.mtable[e.hash]
	if !ok {
		return EntityInfo{}, false
	}
	return infoOf(row), true
}

// Lookup resolves a name to the mtable view of its entity.
func (c *Context) Lookup(name string) (EntityInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.nindex[name]
	if !ok {
		return EntityInfo{}, false
	}
	return infoOf(c.mtable[h]), true
}

// Exists reports whether the entity is alive in this Context.
func (c *Context) Exists(e Entity) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.mtable[e.hash]
	return ok
}

// ExistsName reports whether a name is registered.
func (c *Context) ExistsName(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.nindex[name]
	return ok
}

// Fetch returns the entity together with every attached component.
func (c *Context) Fetch(e Entity) (Entity, []Component, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchLocked(e.hash)
}

// FetchName is Fetch keyed by name.
func (c *Context) FetchName(name string) (Entity, []Component, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.nindex[name]
	if !ok {
		return Entity{}, nil, false
	}
	return c.fetchLocked(h)
}

func (c *Context) fetchLocked(h Hash) (Entity, []Component, bool) {
	row, ok := c.mtable[h]
	if !ok {
		return Entity{}, nil, false
	}
	rows := c.ctable[h]
	components := make([]Component, len(rows))
	for i, cr := range rows {
		components[i] = cr.component
	}
	return row.entity, components, true
}

// ChildrenOf returns the entities whose parent pointer references e.
func (c *Context) ChildrenOf(e Entity) []Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entity
	for _, row := range c.mtable {
		if row.entity.parent != nil && row.entity.parent.hash == e.hash {
			out = append(out, row.entity)
		}
	}
	return out
}

// remask moves the entity between aindex buckets. Caller holds the write
// lock.
func (c *Context) remask(row *metaRow, next Mask) {
	if row.mask == next {
		return
	}
	c.dropFromMask(row.mask, row.entity.hash)
	c.aindex[next] = append(c.aindex[next], row.entity.hash)
	row.mask = next
}

func (c *Context) dropFromMask(mask Mask, h Hash) {
	bucket := c.aindex[mask]
	for i, got := range bucket {
		if got == h {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.aindex, mask)
	} else {
		c.aindex[mask] = bucket
	}
}

func remainingMask(rows []componentRow) Mask {
	var m Mask
	for _, cr := range rows {
		m = m.Merge(TypeMask(cr.component.Type()))
	}
	return m
}

func dropRow(rows []componentRow, h Hash, t TypeID) ([]componentRow, Component) {
	for i := range rows {
		if rows[i].entity.hash == h && rows[i].typeID == t {
			removed := rows[i].component
			return append(rows[:i], rows[i+1:]...), removed
		}
	}
	return rows, nil
}

func fireHook(hook Hook, e Entity, component Component) {
	if component == nil {
		return
	}
	if aware, ok := component.Type().(HookAware); ok {
		aware.OnHook(hook, e, component)
	}
}

func infoOf(row *metaRow) EntityInfo {
	types := make([]TypeID, 0, len(row.types))
	for t := range row.types {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return EntityInfo{
		Entity:    row.entity,
		Types:     types,
		Metadata:  copyMeta(row.metadata),
		CreatedAt: row.createdAt,
	}
}

func copyMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

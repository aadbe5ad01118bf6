package world

import (
	"context"

	"github.com/google/uuid"

	"github.com/hermesync/hermesync/internal/core/dispatch"
	"github.com/hermesync/hermesync/internal/core/ecs"
	"github.com/hermesync/hermesync/internal/core/observability/log"
	"github.com/hermesync/hermesync/internal/core/registry"
	"github.com/hermesync/hermesync/pkg/sequence"
)

// Config holds the World options. Zero values fall back to the dispatch
// defaults and the process-wide Registry.
type Config struct {
	Partitions int
	MaxEvents  int
	Registry   *registry.Registry
	Logger     log.Log
}

// World binds one storage Context to one dispatch pipeline. It is the
// public surface of the runtime: entity lifecycle, queries and Send all go
// through it, while Context exposes the raw store for dirty reads.
type World struct {
	id       uuid.UUID
	ctx      *ecs.Context
	registry *registry.Registry
	pipeline *dispatch.Pipeline
	log      log.Log
}

// New creates a World with its own Context and a running pipeline.
func New(cfg Config) *World {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.LevelError)
	}
	w := &World{
		id:       uuid.New(),
		ctx:      ecs.NewContext(),
		registry: cfg.Registry,
		log:      cfg.Logger,
	}
	w.ctx.BindWorld(w.id)
	w.pipeline = dispatch.New(dispatch.Config{
		Partitions: cfg.Partitions,
		MaxEvents:  cfg.MaxEvents,
		Logger:     cfg.Logger,
	}, cfg.Registry.Lookup)
	return w
}

// ID returns the World handle.
func (w *World) ID() uuid.UUID { return w.id }

// Registry returns the Registry this World resolves handlers against.
func (w *World) Registry() *registry.Registry { return w.registry }

// Close tears down the pipeline, then the Context. In-flight workers run
// to completion; queued events are dropped.
func (w *World) Close() {
	w.pipeline.Close()
	w.ctx.Close()
}

// Create allocates a fresh entity.
func (w *World) Create(opts ecs.CreateOptions) (ecs.Entity, error) {
	opts.World = w.id
	return w.ctx.Create(opts)
}

// CreateFrom materialises the named prefab in this World, with optional
// per-component overrides.
func (w *World) CreateFrom(prefab string, opts registry.CloneOptions) (ecs.Entity, error) {
	opts.World = w.id
	return w.registry.Instantiate(prefab, w.ctx, opts)
}

// Clone copies an entity of this World; the clone's parent points at the
// source.
func (w *World) Clone(e ecs.Entity, opts registry.CloneOptions) (ecs.Entity, error) {
	opts.World = w.id
	return w.registry.Clone(w.ctx, e, w.ctx, opts)
}

// Destroy removes the entity from the store. Events already queued for it
// still run; their handlers observe the absence.
func (w *World) Destroy(e ecs.Entity) error { return w.ctx.Destroy(e) }

// Fetch returns the entity with its full component set.
func (w *World) Fetch(e ecs.Entity) (ecs.Entity, []ecs.Component, bool) {
	return w.ctx.Fetch(e)
}

// List returns every entity with its components.
func (w *World) List() []ecs.Fetched {
	return w.ctx.Entities().Collect()
}

// ListMap is List keyed by entity hash.
func (w *World) ListMap() map[ecs.Hash]ecs.Fetched {
	return sequence.ToMap(w.ctx.Entities(),
		func(f ecs.Fetched) ecs.Hash { return f.Entity.Hash() },
		func(f ecs.Fetched) ecs.Fetched { return f })
}

// Query passthroughs.

func (w *World) Exists(e ecs.Entity) bool { return w.ctx.Exists(e) }

func (w *World) ExistsName(name string) bool { return w.ctx.ExistsName(name) }

func (w *World) All(t ecs.ComponentType) []ecs.Row { return w.ctx.All(t) }

func (w *World) Get(e ecs.Entity, t ecs.ComponentType, def ecs.Component) ecs.Component {
	return w.ctx.Get(e, t, def)
}

func (w *World) Match(t ecs.ComponentType, props map[string]any) ([]ecs.Row, error) {
	return w.ctx.Match(t, props)
}

func (w *World) AtLeast(t ecs.ComponentType, prop string, v float64) []ecs.Row {
	return w.ctx.AtLeast(t, prop, v)
}

func (w *World) AtMost(t ecs.ComponentType, prop string, v float64) []ecs.Row {
	return w.ctx.AtMost(t, prop, v)
}

func (w *World) Between(t ecs.ComponentType, prop string, lo, hi float64) ([]ecs.Row, error) {
	return w.ctx.Between(t, prop, lo, hi)
}

func (w *World) Search(all, any, none []ecs.ComponentType) []ecs.Entity {
	return w.ctx.Search(all, any, none)
}

// Send builds an event for the entity and hands it to the pipeline. The
// handler list is the event's registered handler order filtered to the
// component types the entity holds right now.
func (w *World) Send(e ecs.Entity, name string, args map[string]any) error {
	info, ok := w.ctx.Info(e)
	if !ok {
		return ecs.ErrEntityNotFound
	}
	attached := make(map[ecs.TypeID]struct{}, len(info.Types))
	for _, t := range info.Types {
		attached[t] = struct{}{}
	}
	var handlers []ecs.TypeID
	for _, t := range w.registry.HandlersFor(name) {
		if _, ok = attached[t.Name()]; ok {
			handlers = append(handlers, t.Name())
		}
	}
	return w.pipeline.Notify(dispatch.NewEvent(name, w.id, e, args, handlers))
}

// Flush blocks until every event accepted so far has been processed or the
// context expires.
func (w *World) Flush(ctx context.Context) error { return w.pipeline.Flush(ctx) }

// Pending reports the number of accepted events not yet processed.
func (w *World) Pending() uint64 { return w.pipeline.Pending() }

// Context returns the raw storage Context for dirty reads.
func (w *World) Context() *ecs.Context { return w.ctx }

// WithContext runs fn inside the Context writer, serialised with every
// other mutation.
func (w *World) WithContext(fn func(*ecs.Writer) error) error {
	return w.ctx.Atomic(fn)
}

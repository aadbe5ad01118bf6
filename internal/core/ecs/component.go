package ecs

// TypeID is the stable identity of a component type: its registered alias.
// Index keys, handler lists and bloom terms are all derived from it, never
// from the component value's memory layout.
type TypeID string

// ComponentType is the capability contract a component definition must
// satisfy to participate in storage and dispatch. Property validation rules
// (min/max/regex/enums) live behind New and Cast and are not part of the
// core.
//
// A ComponentType may additionally implement dispatch-side capabilities
// (event handling) and HookAware; both are optional.
type ComponentType interface {
	// Name returns the alias under which the type is registered.
	Name() TypeID
	// Events returns the finite list of event names this type handles.
	Events() []string
	// New validates props and constructs a component value.
	New(props map[string]any) (Component, error)
	// Cast normalises raw input into a validated property map.
	Cast(props map[string]any) (map[string]any, error)
}

// Component is a typed plain-data record attached to an entity. A given
// entity holds at most one component per type.
type Component interface {
	Type() ComponentType
	// Props exposes the component's data as a property map. Query operators
	// (Match, AtLeast, ...) and the clone/prefab machinery read through it.
	Props() map[string]any
}

// Hook identifies a component lifecycle notification.
type Hook string

const (
	HookAttached Hook = "attached"
	HookUpdated  Hook = "updated"
	HookRemoved  Hook = "removed"
)

// HookAware is an optional capability of a ComponentType. OnHook is invoked
// by the Context writer after the mutation for that type has committed.
type HookAware interface {
	OnHook(hook Hook, entity Entity, component Component)
}

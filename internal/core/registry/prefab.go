package registry

import (
	"errors"
	"fmt"

	"github.com/hermesync/hermesync/internal/core/ecs"
)

// Prefab declares a template entity. Extends lists parent prefabs by name;
// inheritance is single-level per parent, deeper chains are built by
// registering the parents first.
type Prefab struct {
	Name       string
	Extends    []string
	Components map[ecs.TypeID]map[string]any
}

// RegisterPrefab resolves the prefab's inheritance chain and materialises
// it as a named entity in the Prefabs context. Parents are folded left to
// right, later parents winning per component type; the child's own
// properties then merge over the inherited map, child winning per key.
func (r *Registry) RegisterPrefab(p Prefab) (ecs.Entity, error) {
	if r.prefabs.ExistsName(p.Name) {
		return ecs.Entity{}, fmt.Errorf("%w: prefab %q", ErrAlreadyRegistered, p.Name)
	}
	inherited := make(map[ecs.TypeID]map[string]any)
	order := make([]ecs.TypeID, 0, len(p.Components))
	for _, parent := range p.Extends {
		_, components, ok := r.prefabs.FetchName(parent)
		if !ok {
			return ecs.Entity{}, fmt.Errorf("%w: parent %q", ErrPrefabNotFound, parent)
		}
		for _, c := range components {
			alias := c.Type().Name()
			if _, seen := inherited[alias]; !seen {
				order = append(order, alias)
			}
			inherited[alias] = copyProps(c.Props())
		}
	}
	for alias, props := range p.Components {
		if _, ok := r.Lookup(alias); !ok {
			return ecs.Entity{}, fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
		}
		if _, seen := inherited[alias]; !seen {
			order = append(order, alias)
		}
		inherited[alias] = mergeProps(inherited[alias], props)
	}
	components := make([]ecs.Component, 0, len(order))
	for _, alias := range order {
		t, ok := r.Lookup(alias)
		if !ok {
			return ecs.Entity{}, fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
		}
		c, err := t.New(inherited[alias])
		if err != nil {
			return ecs.Entity{}, fmt.Errorf("prefab %q component %s: %w", p.Name, alias, err)
		}
		components = append(components, c)
	}
	var out ecs.Entity
	err := r.prefabs.Atomic(func(w *ecs.Writer) error {
		e, err := w.Create(ecs.CreateOptions{
			Name:     p.Name,
			Metadata: map[string]any{"extends": append([]string(nil), p.Extends...)},
		})
		if err != nil {
			if errors.Is(err, ecs.ErrNameAlreadyRegistered) {
				return fmt.Errorf("%w: prefab %q", ErrAlreadyRegistered, p.Name)
			}
			return err
		}
		if len(components) > 0 {
			if err = w.Assign(e, components); err != nil {
				return err
			}
		}
		out = e
		return nil
	})
	if err != nil {
		return ecs.Entity{}, err
	}
	return out, nil
}

// FindPrefab resolves a prefab name to its template entity.
func (r *Registry) FindPrefab(name string) (ecs.Entity, bool) {
	e, _, ok := r.prefabs.FetchName(name)
	return e, ok
}

// Instantiate clones the named prefab into the target Context, applying
// overrides the same way Clone does.
func (r *Registry) Instantiate(name string, dst *ecs.Context, opts CloneOptions) (ecs.Entity, error) {
	template, ok := r.FindPrefab(name)
	if !ok {
		return ecs.Entity{}, fmt.Errorf("%w: %q", ErrPrefabNotFound, name)
	}
	return r.Clone(r.prefabs, template, dst, opts)
}

package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hermesync/hermesync/internal/core/ecs"
)

// CloneOptions configure a clone. Overrides are keyed by component alias
// and merged over the source components; an override for an alias the
// source does not carry attaches a fresh component of that type.
type CloneOptions struct {
	Name      string
	Metadata  map[string]any
	Overrides map[ecs.TypeID]map[string]any
	World     uuid.UUID
}

// Clone copies the source entity into the target Context. The clone's
// parent pointer references the source; components are rebuilt from the
// merged property maps and assigned in one write.
func (r *Registry) Clone(src *ecs.Context, e ecs.Entity, dst *ecs.Context, opts CloneOptions) (ecs.Entity, error) {
	source, components, ok := src.Fetch(e)
	if !ok {
		return ecs.Entity{}, ecs.ErrEntityNotFound
	}
	merged, err := r.mergeOverrides(components, opts.Overrides)
	if err != nil {
		return ecs.Entity{}, err
	}
	var out ecs.Entity
	err = dst.Atomic(func(w *ecs.Writer) error {
		clone, err := w.Create(ecs.CreateOptions{
			Name:     opts.Name,
			Parent:   &source,
			Metadata: opts.Metadata,
			World:    opts.World,
		})
		if err != nil {
			return err
		}
		if len(merged) > 0 {
			if err = w.Assign(clone, merged); err != nil {
				return err
			}
		}
		out = clone
		return nil
	})
	if err != nil {
		return ecs.Entity{}, err
	}
	return out, nil
}

// mergeOverrides rebuilds the component list with overrides applied. Each
// component is reconstructed through its type's New so property validation
// runs on the merged map.
func (r *Registry) mergeOverrides(components []ecs.Component, overrides map[ecs.TypeID]map[string]any) ([]ecs.Component, error) {
	props := make(map[ecs.TypeID]map[string]any, len(components))
	types := make(map[ecs.TypeID]ecs.ComponentType, len(components))
	order := make([]ecs.TypeID, 0, len(components)+len(overrides))
	for _, c := range components {
		alias := c.Type().Name()
		props[alias] = copyProps(c.Props())
		types[alias] = c.Type()
		order = append(order, alias)
	}
	for alias, over := range overrides {
		t, ok := types[alias]
		if !ok {
			t, ok = r.Lookup(alias)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
			}
			types[alias] = t
			order = append(order, alias)
		}
		props[alias] = mergeProps(props[alias], over)
	}
	out := make([]ecs.Component, 0, len(order))
	for _, alias := range order {
		c, err := types[alias].New(props[alias])
		if err != nil {
			return nil, fmt.Errorf("rebuild %s: %w", alias, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// mergeProps overlays child keys on base. The merge is one level deep:
// whole property values replace, never recurse.
func mergeProps(base, child map[string]any) map[string]any {
	out := copyProps(base)
	for k, v := range child {
		out[k] = v
	}
	return out
}

func copyProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

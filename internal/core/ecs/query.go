package ecs

import "fmt"

// All returns every (entity, component) row for the given type, in tindex
// order.
func (c *Context) All(t ComponentType) []Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows := c.tindex[t.Name()]
	out := make([]Row, len(rows))
	for i, cr := range rows {
		out[i] = Row{Entity: cr.entity, Component: cr.component}
	}
	return out
}

// Get returns the entity's component of the given type, or def when the
// entity does not hold one.
func (c *Context) Get(e Entity, t ComponentType, def Component) Component {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cr := range c.ctable[e.hash] {
		if cr.typeID == t.Name() {
			return cr.component
		}
	}
	return def
}

// Match returns the rows of the given type whose properties equal every
// entry of props. At least one property is required.
func (c *Context) Match(t ComponentType, props map[string]any) ([]Row, error) {
	if len(props) == 0 {
		return nil, ErrEmptyMatch
	}
	return c.filter(t, func(got map[string]any) bool {
		for k, want := range props {
			if got[k] != want {
				return false
			}
		}
		return true
	}), nil
}

// AtLeast returns the rows of the given type whose prop is numeric and
// >= v. Non-numeric or absent values never match.
func (c *Context) AtLeast(t ComponentType, prop string, v float64) []Row {
	return c.filter(t, func(got map[string]any) bool {
		f, ok := asFloat(got[prop])
		return ok && f >= v
	})
}

// AtMost returns the rows of the given type whose prop is numeric and
// <= v.
func (c *Context) AtMost(t ComponentType, prop string, v float64) []Row {
	return c.filter(t, func(got map[string]any) bool {
		f, ok := asFloat(got[prop])
		return ok && f <= v
	})
}

// Between returns the rows of the given type whose prop is numeric and
// within [lo, hi].
func (c *Context) Between(t ComponentType, prop string, lo, hi float64) ([]Row, error) {
	if lo > hi {
		return nil, fmt.Errorf("%w: %v > %v", ErrInvalidRange, lo, hi)
	}
	return c.filter(t, func(got map[string]any) bool {
		f, ok := asFloat(got[prop])
		return ok && f >= lo && f <= hi
	}), nil
}

func (c *Context) filter(t ComponentType, keep func(props map[string]any) bool) []Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Row
	for _, cr := range c.tindex[t.Name()] {
		if keep(cr.component.Props()) {
			out = append(out, Row{Entity: cr.entity, Component: cr.component})
		}
	}
	return out
}

// asFloat widens any Go numeric into a float64 for range comparison.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// AllOf returns the entities holding every one of the given types. The
// aindex narrows the scan to buckets whose mask covers the folded type
// mask; survivors are verified against the exact type set.
func (c *Context) AllOf(types ...ComponentType) []Entity {
	if len(types) == 0 {
		return nil
	}
	want := foldMasks(types)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entity
	for mask, bucket := range c.aindex {
		if !mask.ContainsAll(want) {
			continue
		}
		for _, h := range bucket {
			row := c.mtable[h]
			if hasAll(row, types) {
				out = append(out, row.entity)
			}
		}
	}
	return out
}

// AnyOf returns the entities holding at least one of the given types.
func (c *Context) AnyOf(types ...ComponentType) []Entity {
	if len(types) == 0 {
		return nil
	}
	want := foldMasks(types)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entity
	for mask, bucket := range c.aindex {
		if !mask.Intersects(want) {
			continue
		}
		for _, h := range bucket {
			row := c.mtable[h]
			if hasAny(row, types) {
				out = append(out, row.entity)
			}
		}
	}
	return out
}

// NoneOf returns the entities holding none of the given types. Buckets
// whose mask misses the folded mask are taken whole. Buckets that intersect
// it may still hold matches when the intersection is a bloom collision, so
// their entities are verified one by one.
func (c *Context) NoneOf(types ...ComponentType) []Entity {
	want := foldMasks(types)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entity
	for mask, bucket := range c.aindex {
		if mask.Intersects(want) {
			// Collisions aside, entities here hold a listed type;
			// verify instead of skipping.
			for _, h := range bucket {
				row := c.mtable[h]
				if !hasAny(row, types) {
					out = append(out, row.entity)
				}
			}
			continue
		}
		for _, h := range bucket {
			out = append(out, c.mtable[h].entity)
		}
	}
	return out
}

// Search combines the three set queries: entities holding every type in
// all, at least one in any, and none in none. Empty slices impose no
// constraint for their clause.
func (c *Context) Search(all, any, none []ComponentType) []Entity {
	wantAll := foldMasks(all)
	wantAny := foldMasks(any)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entity
	for mask, bucket := range c.aindex {
		if !mask.ContainsAll(wantAll) {
			continue
		}
		if len(any) > 0 && !mask.Intersects(wantAny) {
			continue
		}
		for _, h := range bucket {
			row := c.mtable[h]
			if !hasAll(row, all) {
				continue
			}
			if len(any) > 0 && !hasAny(row, any) {
				continue
			}
			if hasAny(row, none) {
				continue
			}
			out = append(out, row.entity)
		}
	}
	return out
}

func foldMasks(types []ComponentType) Mask {
	var m Mask
	for _, t := range types {
		m = m.Merge(TypeMask(t))
	}
	return m
}

func hasAll(row *metaRow, types []ComponentType) bool {
	for _, t := range types {
		if _, ok := row.types[t.Name()]; !ok {
			return false
		}
	}
	return true
}

func hasAny(row *metaRow, types []ComponentType) bool {
	for _, t := range types {
		if _, ok := row.types[t.Name()]; ok {
			return true
		}
	}
	return false
}

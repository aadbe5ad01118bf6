package ecs

import (
	"github.com/hermesync/hermesync/pkg/sequence"
)

// Fetched is one entity together with its full component set, as produced
// by the Entities stream.
type Fetched struct {
	Entity     Entity
	Components []Component
}

// Metadata streams the mtable view of every entity. The read lock is held
// for the duration of a single iteration pass.
func (c *Context) Metadata() *sequence.Iterator[EntityInfo] {
	return sequence.New(func(yield func(EntityInfo) bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for _, row := range c.mtable {
			if !yield(infoOf(row)) {
				return
			}
		}
	})
}

// Components streams every (entity, component) row of the given type.
func (c *Context) Components(t ComponentType) *sequence.Iterator[Row] {
	return sequence.New(func(yield func(Row) bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for _, cr := range c.tindex[t.Name()] {
			if !yield(Row{Entity: cr.entity, Component: cr.component}) {
				return
			}
		}
	})
}

// Entities streams every entity together with its attached components.
func (c *Context) Entities() *sequence.Iterator[Fetched] {
	return sequence.New(func(yield func(Fetched) bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for h, row := range c.mtable {
			rows := c.ctable[h]
			components := make([]Component, len(rows))
			for i, cr := range rows {
				components[i] = cr.component
			}
			if !yield(Fetched{Entity: row.entity, Components: components}) {
				return
			}
		}
	})
}

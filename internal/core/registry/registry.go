package registry

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/hermesync/hermesync/internal/core/ecs"
)

// Registry is the component, handler and prefab catalogue. Registration is
// rare and serialised; the catalogue itself lives in an atomic snapshot so
// dispatch-time reads never take a lock.
//
// A Registry is an ordinary value. Construct one per test or per process;
// Default exists for binaries that want a shared instance.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[catalogue]
	prefabs  *ecs.Context
}

// catalogue is the immutable registration state. Writers build a fresh one
// under the Registry mutex and swap it in.
type catalogue struct {
	order    []ecs.ComponentType
	byAlias  map[ecs.TypeID]ecs.ComponentType
	handlers map[string][]ecs.ComponentType
}

func emptyCatalogue() *catalogue {
	return &catalogue{
		byAlias:  make(map[ecs.TypeID]ecs.ComponentType),
		handlers: make(map[string][]ecs.ComponentType),
	}
}

func (c *catalogue) clone() *catalogue {
	next := &catalogue{
		order:    append([]ecs.ComponentType(nil), c.order...),
		byAlias:  make(map[ecs.TypeID]ecs.ComponentType, len(c.byAlias)),
		handlers: make(map[string][]ecs.ComponentType, len(c.handlers)),
	}
	for k, v := range c.byAlias {
		next.byAlias[k] = v
	}
	for k, v := range c.handlers {
		next.handlers[k] = append([]ecs.ComponentType(nil), v...)
	}
	return next
}

// New creates an empty Registry with its own Prefabs context.
func New() *Registry {
	r := &Registry{prefabs: ecs.NewContext()}
	r.snapshot.Store(emptyCatalogue())
	return r
}

var defaultRegistry = New()

// Default returns the process-wide Registry shared by the gateway binary.
func Default() *Registry { return defaultRegistry }

// RegisterComponents adds component types to the catalogue in the given
// order. The event-handler lookup is extended by appending, so handler
// order across registration batches is registration order. A duplicate
// alias rejects the whole batch.
func (r *Registry) RegisterComponents(types ...ecs.ComponentType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.snapshot.Load().clone()
	seen := make(map[ecs.TypeID]struct{}, len(types))
	for _, t := range types {
		alias := t.Name()
		if alias == "" {
			return fmt.Errorf("%w: empty alias", ErrUnknownAlias)
		}
		if _, dup := seen[alias]; dup {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, alias)
		}
		if _, taken := next.byAlias[alias]; taken {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, alias)
		}
		seen[alias] = struct{}{}
	}
	for _, t := range types {
		next.byAlias[t.Name()] = t
		next.order = append(next.order, t)
		for _, event := range t.Events() {
			next.handlers[event] = append(next.handlers[event], t)
		}
	}
	r.snapshot.Store(next)
	return nil
}

// Lookup resolves an alias to its component type.
func (r *Registry) Lookup(alias ecs.TypeID) (ecs.ComponentType, bool) {
	t, ok := r.snapshot.Load().byAlias[alias]
	return t, ok
}

// Components returns the catalogue in registration order.
func (r *Registry) Components() []ecs.ComponentType {
	c := r.snapshot.Load()
	return append([]ecs.ComponentType(nil), c.order...)
}

// HandlersFor returns the component types handling the event, in
// registration order. The returned slice is shared with the snapshot and
// must not be mutated.
func (r *Registry) HandlersFor(event string) []ecs.ComponentType {
	return r.snapshot.Load().handlers[event]
}

// Prefabs returns the dedicated prefab Context.
func (r *Registry) Prefabs() *ecs.Context { return r.prefabs }

// Reset clears the catalogue, the handler lookup and the prefab context.
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.prefabs.Clear(); err != nil {
		return err
	}
	r.snapshot.Store(emptyCatalogue())
	return nil
}

// DefaultAlias derives the catalogue alias for a component value: the
// snake_cased last segment of its Go type name. Component authors may use
// any alias; this is only the conventional default.
func DefaultAlias(v any) ecs.TypeID {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	name := t.Name()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return ecs.TypeID(b.String())
}

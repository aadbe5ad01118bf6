package ecs

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type stubType struct {
	alias  TypeID
	events []string
	hooks  []Hook
	mu     sync.Mutex
}

func (s *stubType) Name() TypeID     { return s.alias }
func (s *stubType) Events() []string { return s.events }

func (s *stubType) New(props map[string]any) (Component, error) {
	cast, err := s.Cast(props)
	if err != nil {
		return nil, err
	}
	return stubComponent{t: s, props: cast}, nil
}

func (s *stubType) Cast(props map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, nil
}

func (s *stubType) OnHook(hook Hook, _ Entity, _ Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

type stubComponent struct {
	t     *stubType
	props map[string]any
}

func (c stubComponent) Type() ComponentType  { return c.t }
func (c stubComponent) Props() map[string]any { return c.props }

func mustComponent(t *testing.T, ct ComponentType, props map[string]any) Component {
	t.Helper()
	c, err := ct.New(props)
	if err != nil {
		t.Fatalf("new component: %v", err)
	}
	return c
}

func TestCreateAndInfo(t *testing.T) {
	c := NewContext()
	defer c.Close()

	e, err := c.Create(CreateOptions{Name: "hero", Metadata: map[string]any{"zone": "north"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !e.Named() || e.Name() != "hero" {
		t.Fatalf("expected named entity, got %q", e.Name())
	}
	info, ok := c.Info(e)
	if !ok {
		t.Fatal("entity not found after create")
	}
	if info.Metadata["zone"] != "north" {
		t.Fatalf("metadata lost: %v", info.Metadata)
	}
	if len(info.Types) != 0 {
		t.Fatalf("fresh entity has types: %v", info.Types)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	c := NewContext()
	defer c.Close()

	if _, err := c.Create(CreateOptions{Name: "hero"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := c.Create(CreateOptions{Name: "hero"})
	if !errors.Is(err, ErrNameAlreadyRegistered) {
		t.Fatalf("expected ErrNameAlreadyRegistered, got %v", err)
	}
}

func TestEmplaceReplaceErase(t *testing.T) {
	c := NewContext()
	defer c.Close()

	health := &stubType{alias: "Health", events: []string{"Damage"}}
	e, err := c.Create(CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err = c.Emplace(e, mustComponent(t, health, map[string]any{"value": 100})); err != nil {
		t.Fatalf("emplace: %v", err)
	}
	if err = c.Emplace(e, mustComponent(t, health, map[string]any{"value": 50})); !errors.Is(err, ErrAlreadyInserted) {
		t.Fatalf("expected ErrAlreadyInserted, got %v", err)
	}
	if err = c.Replace(e, mustComponent(t, health, map[string]any{"value": 75})); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got := c.Get(e, health, nil)
	if got == nil || got.Props()["value"] != 75 {
		t.Fatalf("replace not visible: %v", got)
	}
	if err = c.Erase(e, health); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err = c.Erase(e, health); !errors.Is(err, ErrComponentNotFound) {
		t.Fatalf("expected ErrComponentNotFound, got %v", err)
	}
}

func TestMutationsRejectUnknownEntity(t *testing.T) {
	c := NewContext()
	defer c.Close()

	health := &stubType{alias: "Health"}
	ghost := newEntity(c.ID(), c.world, "", nil)

	if err := c.Emplace(ghost, mustComponent(t, health, nil)); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("emplace: expected ErrEntityNotFound, got %v", err)
	}
	if err := c.Destroy(ghost); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("destroy: expected ErrEntityNotFound, got %v", err)
	}
}

func TestAssignReplacesWholesale(t *testing.T) {
	c := NewContext()
	defer c.Close()

	health := &stubType{alias: "Health"}
	mana := &stubType{alias: "Mana"}
	pos := &stubType{alias: "Position"}

	e, _ := c.Create(CreateOptions{})
	if err := c.Emplace(e, mustComponent(t, health, map[string]any{"value": 10})); err != nil {
		t.Fatalf("emplace: %v", err)
	}
	err := c.Assign(e, []Component{
		mustComponent(t, mana, map[string]any{"value": 5}),
		mustComponent(t, pos, map[string]any{"x": 1}),
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	info, _ := c.Info(e)
	if len(info.Types) != 2 {
		t.Fatalf("expected 2 types after assign, got %v", info.Types)
	}
	if got := c.Get(e, health, nil); got != nil {
		t.Fatalf("old component survived assign: %v", got)
	}
}

func TestAssignRejectsDuplicateTypes(t *testing.T) {
	c := NewContext()
	defer c.Close()

	health := &stubType{alias: "Health"}
	e, _ := c.Create(CreateOptions{})
	err := c.Assign(e, []Component{
		mustComponent(t, health, map[string]any{"value": 1}),
		mustComponent(t, health, map[string]any{"value": 2}),
	})
	if !errors.Is(err, ErrAlreadyInserted) {
		t.Fatalf("expected ErrAlreadyInserted, got %v", err)
	}
	// The failed assign must leave the entity in place.
	if !c.Exists(e) {
		t.Fatal("entity lost")
	}
}

func TestDestroyDropsAllIndexes(t *testing.T) {
	c := NewContext()
	defer c.Close()

	health := &stubType{alias: "Health"}
	e, _ := c.Create(CreateOptions{Name: "hero"})
	_ = c.Emplace(e, mustComponent(t, health, map[string]any{"value": 1}))

	if err := c.Destroy(e); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if c.Exists(e) {
		t.Fatal("entity still exists")
	}
	if c.ExistsName("hero") {
		t.Fatal("name still registered")
	}
	if rows := c.All(health); len(rows) != 0 {
		t.Fatalf("tindex still holds rows: %d", len(rows))
	}
	// The released name is reusable.
	if _, err := c.Create(CreateOptions{Name: "hero"}); err != nil {
		t.Fatalf("name not released: %v", err)
	}
}

func TestPatchReplacesMetadata(t *testing.T) {
	c := NewContext()
	defer c.Close()

	e, _ := c.Create(CreateOptions{Metadata: map[string]any{"a": 1, "b": 2}})
	if err := c.Patch(e, map[string]any{"c": 3}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	info, _ := c.Info(e)
	if _, ok := info.Metadata["a"]; ok {
		t.Fatal("patch merged instead of replacing")
	}
	if info.Metadata["c"] != 3 {
		t.Fatalf("patched metadata lost: %v", info.Metadata)
	}
}

func TestFetchName(t *testing.T) {
	c := NewContext()
	defer c.Close()

	health := &stubType{alias: "Health"}
	e, _ := c.Create(CreateOptions{Name: "hero"})
	_ = c.Emplace(e, mustComponent(t, health, map[string]any{"value": 9}))

	got, components, ok := c.FetchName("hero")
	if !ok {
		t.Fatal("fetch by name failed")
	}
	if !got.Equal(e) {
		t.Fatal("wrong entity")
	}
	if len(components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(components))
	}
	if _, _, ok = c.FetchName("nobody"); ok {
		t.Fatal("fetch of unknown name succeeded")
	}
}

func TestHooksFireAfterCommit(t *testing.T) {
	c := NewContext()
	defer c.Close()

	health := &stubType{alias: "Health"}
	e, _ := c.Create(CreateOptions{})
	_ = c.Emplace(e, mustComponent(t, health, map[string]any{"value": 1}))
	_ = c.Replace(e, mustComponent(t, health, map[string]any{"value": 2}))
	_ = c.Erase(e, health)

	want := []Hook{HookAttached, HookUpdated, HookRemoved}
	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.hooks) != len(want) {
		t.Fatalf("hooks: %v", health.hooks)
	}
	for i, h := range want {
		if health.hooks[i] != h {
			t.Fatalf("hook %d: got %s, want %s", i, health.hooks[i], h)
		}
	}
}

func TestAtomicSerialisesCompoundWrites(t *testing.T) {
	c := NewContext()
	defer c.Close()

	health := &stubType{alias: "Health"}
	err := c.Atomic(func(w *Writer) error {
		e, err := w.Create(CreateOptions{Name: "boss"})
		if err != nil {
			return err
		}
		return w.Emplace(e, mustComponent(t, health, map[string]any{"value": 500}))
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if _, _, ok := c.FetchName("boss"); !ok {
		t.Fatal("compound write not visible")
	}
}

func TestOperationsAfterClose(t *testing.T) {
	c := NewContext()
	c.Close()

	_, err := c.Create(CreateOptions{})
	if !errors.Is(err, ErrContextClosed) {
		t.Fatalf("expected ErrContextClosed, got %v", err)
	}
}

func TestConcurrentCreates(t *testing.T) {
	c := NewContext()
	defer c.Close()

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := c.Create(CreateOptions{Name: fmt.Sprintf("e-%d", i)}); err != nil {
				t.Errorf("create %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if got := c.Metadata().Count(); got != n {
		t.Fatalf("expected %d entities, got %d", n, got)
	}
}

func TestChildrenOf(t *testing.T) {
	c := NewContext()
	defer c.Close()

	parent, _ := c.Create(CreateOptions{Name: "proto"})
	child, _ := c.Create(CreateOptions{Parent: &parent})
	if !child.ChildOf(parent) {
		t.Fatal("parent pointer lost")
	}
	kids := c.ChildrenOf(parent)
	if len(kids) != 1 || !kids[0].Equal(child) {
		t.Fatalf("children: %v", kids)
	}
}

package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesync/hermesync/internal/core/ecs"
)

type testType struct {
	alias  ecs.TypeID
	events []string
}

func (t *testType) Name() ecs.TypeID { return t.alias }
func (t *testType) Events() []string { return t.events }

func (t *testType) New(props map[string]any) (ecs.Component, error) {
	cast, err := t.Cast(props)
	if err != nil {
		return nil, err
	}
	return testComponent{t: t, props: cast}, nil
}

func (t *testType) Cast(props map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, nil
}

type testComponent struct {
	t     *testType
	props map[string]any
}

func (c testComponent) Type() ecs.ComponentType { return c.t }
func (c testComponent) Props() map[string]any   { return c.props }

func TestRegisterComponents(t *testing.T) {
	r := New()
	health := &testType{alias: "health", events: []string{"damage", "heal"}}
	mana := &testType{alias: "mana", events: []string{"damage"}}

	require.NoError(t, r.RegisterComponents(health, mana))

	got, ok := r.Lookup("health")
	assert.True(t, ok)
	assert.Equal(t, ecs.TypeID("health"), got.Name())

	order := r.Components()
	require.Len(t, order, 2)
	assert.Equal(t, ecs.TypeID("health"), order[0].Name())
	assert.Equal(t, ecs.TypeID("mana"), order[1].Name())
}

func TestRegisterRejectsDuplicateAlias(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterComponents(&testType{alias: "health"}))

	err := r.RegisterComponents(&testType{alias: "health"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	err = r.RegisterComponents(&testType{alias: "a"}, &testType{alias: "a"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	_, ok := r.Lookup("a")
	assert.False(t, ok, "failed batch must not register anything")
}

func TestHandlerOrderAcrossBatches(t *testing.T) {
	r := New()
	ping := &testType{alias: "ping", events: []string{"check"}}
	pong := &testType{alias: "pong", events: []string{"check"}}
	late := &testType{alias: "late", events: []string{"check"}}

	require.NoError(t, r.RegisterComponents(ping, pong))
	require.NoError(t, r.RegisterComponents(late))

	handlers := r.HandlersFor("check")
	require.Len(t, handlers, 3)
	assert.Equal(t, ecs.TypeID("ping"), handlers[0].Name())
	assert.Equal(t, ecs.TypeID("pong"), handlers[1].Name())
	assert.Equal(t, ecs.TypeID("late"), handlers[2].Name())
	assert.Empty(t, r.HandlersFor("unknown"))
}

func TestConcurrentHandlerReads(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterComponents(&testType{alias: "ping", events: []string{"check"}}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = r.HandlersFor("check")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		alias := ecs.TypeID(rune('a' + i))
		require.NoError(t, r.RegisterComponents(&testType{alias: alias, events: []string{"check"}}))
	}
	wg.Wait()
	assert.Len(t, r.HandlersFor("check"), 9)
}

func TestReset(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterComponents(&testType{alias: "health", events: []string{"damage"}}))
	_, err := r.RegisterPrefab(Prefab{Name: "being", Components: map[ecs.TypeID]map[string]any{
		"health": {"current": 100},
	}})
	require.NoError(t, err)

	require.NoError(t, r.Reset())
	_, ok := r.Lookup("health")
	assert.False(t, ok)
	assert.Empty(t, r.HandlersFor("damage"))
	_, ok = r.FindPrefab("being")
	assert.False(t, ok)
}

func TestDefaultAlias(t *testing.T) {
	type HealthPoints struct{}
	assert.Equal(t, ecs.TypeID("health_points"), DefaultAlias(HealthPoints{}))
	assert.Equal(t, ecs.TypeID("health_points"), DefaultAlias(&HealthPoints{}))
}

func TestClone(t *testing.T) {
	r := New()
	health := &testType{alias: "health"}
	pos := &testType{alias: "position"}
	require.NoError(t, r.RegisterComponents(health, pos))

	src := ecs.NewContext()
	defer src.Close()
	dst := ecs.NewContext()
	defer dst.Close()

	e, err := src.Create(ecs.CreateOptions{Name: "proto"})
	require.NoError(t, err)
	c, err := health.New(map[string]any{"current": 100, "maximum": 100})
	require.NoError(t, err)
	require.NoError(t, src.Emplace(e, c))

	clone, err := r.Clone(src, e, dst, CloneOptions{
		Overrides: map[ecs.TypeID]map[string]any{
			"health":   {"current": 50},
			"position": {"x": 1, "y": 2},
		},
	})
	require.NoError(t, err)
	assert.True(t, clone.ChildOf(e))

	got := dst.Get(clone, health, nil)
	require.NotNil(t, got)
	assert.Equal(t, 50, got.Props()["current"])
	assert.Equal(t, 100, got.Props()["maximum"])

	got = dst.Get(clone, pos, nil)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Props()["x"])
}

func TestCloneRejectsUnknownAliasAndMissingEntity(t *testing.T) {
	r := New()
	src := ecs.NewContext()
	defer src.Close()

	e, err := src.Create(ecs.CreateOptions{})
	require.NoError(t, err)

	_, err = r.Clone(src, e, src, CloneOptions{
		Overrides: map[ecs.TypeID]map[string]any{"ghost": {"x": 1}},
	})
	assert.ErrorIs(t, err, ErrUnknownAlias)

	require.NoError(t, src.Destroy(e))
	_, err = r.Clone(src, e, src, CloneOptions{})
	assert.ErrorIs(t, err, ecs.ErrEntityNotFound)
}

func TestPrefabInheritance(t *testing.T) {
	r := New()
	health := &testType{alias: "health"}
	pos := &testType{alias: "position"}
	selectable := &testType{alias: "selectable"}
	require.NoError(t, r.RegisterComponents(health, pos, selectable))

	_, err := r.RegisterPrefab(Prefab{
		Name: "Being",
		Components: map[ecs.TypeID]map[string]any{
			"health":     {"current": 100, "maximum": 100},
			"position":   {"x": 10, "y": 20},
			"selectable": {},
		},
	})
	require.NoError(t, err)

	_, err = r.RegisterPrefab(Prefab{
		Name:    "Human",
		Extends: []string{"Being"},
		Components: map[ecs.TypeID]map[string]any{
			"health":   {"current": 50},
			"position": {"x": 100, "y": 200},
		},
	})
	require.NoError(t, err)

	world := ecs.NewContext()
	defer world.Close()
	e, err := r.Instantiate("Human", world, CloneOptions{})
	require.NoError(t, err)

	got := world.Get(e, health, nil)
	require.NotNil(t, got)
	assert.Equal(t, 50, got.Props()["current"])
	assert.Equal(t, 100, got.Props()["maximum"])

	got = world.Get(e, pos, nil)
	require.NotNil(t, got)
	assert.Equal(t, 100, got.Props()["x"])
	assert.Equal(t, 200, got.Props()["y"])

	got = world.Get(e, selectable, nil)
	require.NotNil(t, got)
}

func TestPrefabRejections(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterComponents(&testType{alias: "health"}))

	_, err := r.RegisterPrefab(Prefab{Name: "Orc", Extends: []string{"Being"}})
	assert.ErrorIs(t, err, ErrPrefabNotFound)

	_, err = r.RegisterPrefab(Prefab{Name: "Orc", Components: map[ecs.TypeID]map[string]any{
		"ghost": {},
	}})
	assert.ErrorIs(t, err, ErrUnknownAlias)

	_, err = r.RegisterPrefab(Prefab{Name: "Orc", Components: map[ecs.TypeID]map[string]any{
		"health": {"current": 1},
	}})
	require.NoError(t, err)
	_, err = r.RegisterPrefab(Prefab{Name: "Orc"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = r.Instantiate("Ghost", ecs.NewContext(), CloneOptions{})
	assert.ErrorIs(t, err, ErrPrefabNotFound)
}

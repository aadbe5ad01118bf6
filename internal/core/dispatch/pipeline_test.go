package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hermesync/hermesync/internal/core/ecs"
)

// handlerType is a ComponentType whose dispatch behaviour is scripted per
// test through handle.
type handlerType struct {
	alias  ecs.TypeID
	events []string
	handle func(name string, ev Event) (Verdict, Event)
}

func (h *handlerType) Name() ecs.TypeID { return h.alias }
func (h *handlerType) Events() []string { return h.events }

func (h *handlerType) New(props map[string]any) (ecs.Component, error) {
	return handlerComponent{t: h, props: props}, nil
}

func (h *handlerType) Cast(props map[string]any) (map[string]any, error) {
	return props, nil
}

func (h *handlerType) HandleEvent(name string, ev Event) (Verdict, Event) {
	if h.handle == nil {
		return Continue, ev
	}
	return h.handle(name, ev)
}

type handlerComponent struct {
	t     *handlerType
	props map[string]any
}

func (c handlerComponent) Type() ecs.ComponentType { return c.t }
func (c handlerComponent) Props() map[string]any   { return c.props }

// recorder collects invocation marks across goroutines.
type recorder struct {
	mu    sync.Mutex
	marks []string
}

func (r *recorder) mark(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.marks...)
}

func resolverFor(types ...*handlerType) Resolver {
	byAlias := make(map[ecs.TypeID]ecs.ComponentType, len(types))
	for _, t := range types {
		byAlias[t.Name()] = t
	}
	return func(id ecs.TypeID) (ecs.ComponentType, bool) {
		t, ok := byAlias[id]
		return t, ok
	}
}

func testEntity(t *testing.T, ctx *ecs.Context) ecs.Entity {
	t.Helper()
	e, err := ctx.Create(ecs.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return e
}

func flush(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestPerEntityFIFO(t *testing.T) {
	rec := &recorder{}
	h := &handlerType{alias: "counter", events: []string{"tick"}}
	h.handle = func(_ string, ev Event) (Verdict, Event) {
		rec.mark(ev.Args["seq"].(string))
		return Continue, ev
	}
	p := New(Config{Partitions: 4}, resolverFor(h))
	defer p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	want := []string{"e1", "e2", "e3", "e4", "e5"}
	for _, seq := range want {
		ev := NewEvent("tick", uuid.Nil, e, map[string]any{"seq": seq}, []ecs.TypeID{"counter"})
		if err := p.Notify(ev); err != nil {
			t.Fatalf("notify %s: %v", seq, err)
		}
	}
	flush(t, p)

	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("invocations: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order broken at %d: %v", i, got)
		}
	}
}

func TestHandlerRegistrationOrder(t *testing.T) {
	rec := &recorder{}
	ping := &handlerType{alias: "ping", events: []string{"check"}}
	pong := &handlerType{alias: "pong", events: []string{"check"}}
	ping.handle = func(_ string, ev Event) (Verdict, Event) {
		rec.mark("ping")
		return Continue, ev
	}
	pong.handle = func(_ string, ev Event) (Verdict, Event) {
		rec.mark("pong")
		return Continue, ev
	}
	p := New(Config{Partitions: 2}, resolverFor(ping, pong))
	defer p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	ev := NewEvent("check", uuid.Nil, e, nil, []ecs.TypeID{"ping", "pong"})
	if err := p.Notify(ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	flush(t, p)

	got := rec.snapshot()
	if len(got) != 2 || got[0] != "ping" || got[1] != "pong" {
		t.Fatalf("handler order: %v", got)
	}
}

func TestSequentialSameEntity(t *testing.T) {
	var pingDone, pongStart time.Time
	var mu sync.Mutex
	ping := &handlerType{alias: "ping", events: []string{"ping"}}
	pong := &handlerType{alias: "pong", events: []string{"pong"}}
	ping.handle = func(_ string, ev Event) (Verdict, Event) {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		pingDone = time.Now()
		mu.Unlock()
		return Continue, ev
	}
	pong.handle = func(_ string, ev Event) (Verdict, Event) {
		mu.Lock()
		pongStart = time.Now()
		mu.Unlock()
		return Continue, ev
	}
	p := New(Config{Partitions: 4, MaxDemand: 1}, resolverFor(ping, pong))
	defer p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	if err := p.Notify(NewEvent("ping", uuid.Nil, e, nil, []ecs.TypeID{"ping"})); err != nil {
		t.Fatalf("notify ping: %v", err)
	}
	if err := p.Notify(NewEvent("pong", uuid.Nil, e, nil, []ecs.TypeID{"pong"})); err != nil {
		t.Fatalf("notify pong: %v", err)
	}
	flush(t, p)

	mu.Lock()
	defer mu.Unlock()
	if pongStart.Before(pingDone) {
		t.Fatalf("pong started %v before ping completed %v", pongStart, pingDone)
	}
}

func TestCrossEntityProgress(t *testing.T) {
	const partitions = 4
	block := make(chan struct{})
	done := make(chan struct{})

	blocker := &handlerType{alias: "blocker", events: []string{"check"}}
	blocker.handle = func(_ string, ev Event) (Verdict, Event) {
		<-block
		return Continue, ev
	}
	runner := &handlerType{alias: "runner", events: []string{"check"}}
	runner.handle = func(_ string, ev Event) (Verdict, Event) {
		close(done)
		return Continue, ev
	}
	p := New(Config{Partitions: partitions}, resolverFor(blocker, runner))
	unblock := sync.OnceFunc(func() { close(block) })
	defer p.Close()
	defer unblock()

	ctx := ecs.NewContext()
	defer ctx.Close()

	// Pick two entities that land on different partitions so the blocked
	// lane cannot shadow the live one.
	e1 := testEntity(t, ctx)
	e2 := testEntity(t, ctx)
	for partitionOf(e1, partitions) == partitionOf(e2, partitions) {
		e2 = testEntity(t, ctx)
	}

	if err := p.Notify(NewEvent("check", uuid.Nil, e1, nil, []ecs.TypeID{"blocker"})); err != nil {
		t.Fatalf("notify e1: %v", err)
	}
	if err := p.Notify(NewEvent("check", uuid.Nil, e2, nil, []ecs.TypeID{"runner"})); err != nil {
		t.Fatalf("notify e2: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second entity made no progress while first was blocked")
	}
	unblock()
	flush(t, p)
}

func TestHaltStopsPropagation(t *testing.T) {
	rec := &recorder{}
	gate := &handlerType{alias: "gate", events: []string{"check"}}
	gate.handle = func(_ string, ev Event) (Verdict, Event) {
		rec.mark("gate")
		return Halt, ev
	}
	after := &handlerType{alias: "after", events: []string{"check"}}
	after.handle = func(_ string, ev Event) (Verdict, Event) {
		rec.mark("after")
		return Continue, ev
	}
	p := New(Config{Partitions: 1}, resolverFor(gate, after))
	defer p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	handlers := []ecs.TypeID{"gate", "after"}
	_ = p.Notify(NewEvent("check", uuid.Nil, e, map[string]any{"n": 1}, handlers))
	_ = p.Notify(NewEvent("check", uuid.Nil, e, map[string]any{"n": 2}, handlers))
	flush(t, p)

	got := rec.snapshot()
	if len(got) != 2 || got[0] != "gate" || got[1] != "gate" {
		t.Fatalf("halt leaked past the gate: %v", got)
	}
}

func TestArgsTransformFlowsBetweenHandlers(t *testing.T) {
	seen := make(chan int, 1)
	halver := &handlerType{alias: "halver", events: []string{"damage"}}
	halver.handle = func(_ string, ev Event) (Verdict, Event) {
		next := ev
		next.Args = map[string]any{"amount": ev.Args["amount"].(int) / 2}
		return Continue, next
	}
	sink := &handlerType{alias: "sink", events: []string{"damage"}}
	sink.handle = func(_ string, ev Event) (Verdict, Event) {
		seen <- ev.Args["amount"].(int)
		return Continue, ev
	}
	p := New(Config{Partitions: 1}, resolverFor(halver, sink))
	defer p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	ev := NewEvent("damage", uuid.Nil, e, map[string]any{"amount": 40}, []ecs.TypeID{"halver", "sink"})
	if err := p.Notify(ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	flush(t, p)

	select {
	case got := <-seen:
		if got != 20 {
			t.Fatalf("args transform lost: %d", got)
		}
	default:
		t.Fatal("sink handler never ran")
	}
}

func TestDriftCrashFreesLane(t *testing.T) {
	rec := &recorder{}
	drifter := &handlerType{alias: "drifter", events: []string{"warp"}}
	drifter.handle = func(_ string, ev Event) (Verdict, Event) {
		next := ev
		next.Timestamp = ev.Timestamp.Add(time.Hour)
		return Continue, next
	}
	sane := &handlerType{alias: "sane", events: []string{"calm"}}
	sane.handle = func(_ string, ev Event) (Verdict, Event) {
		rec.mark("sane")
		return Continue, ev
	}
	p := New(Config{Partitions: 1}, resolverFor(drifter, sane))
	defer p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	if err := p.Notify(NewEvent("warp", uuid.Nil, e, nil, []ecs.TypeID{"drifter"})); err != nil {
		t.Fatalf("notify warp: %v", err)
	}
	flush(t, p)

	// The crashed worker must have acked; the entity's lane stays usable.
	if err := p.Notify(NewEvent("calm", uuid.Nil, e, nil, []ecs.TypeID{"sane"})); err != nil {
		t.Fatalf("notify calm: %v", err)
	}
	flush(t, p)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != "sane" {
		t.Fatalf("lane not freed after crash: %v", got)
	}
}

func TestUnknownHandlerCrashIsolated(t *testing.T) {
	p := New(Config{Partitions: 1}, resolverFor())
	defer p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	if err := p.Notify(NewEvent("boom", uuid.Nil, e, nil, []ecs.TypeID{"ghost"})); err != nil {
		t.Fatalf("notify: %v", err)
	}
	flush(t, p)
}

func TestMissingHandlerDefaultsToContinue(t *testing.T) {
	rec := &recorder{}
	// mute satisfies the component contract but not the Handler interface.
	mute := &handlerType{alias: "mute", events: []string{"check"}}
	tail := &handlerType{alias: "tail", events: []string{"check"}}
	tail.handle = func(_ string, ev Event) (Verdict, Event) {
		rec.mark("tail")
		return Continue, ev
	}
	resolve := func(id ecs.TypeID) (ecs.ComponentType, bool) {
		switch id {
		case "mute":
			return muteType{mute}, true
		case "tail":
			return tail, true
		}
		return nil, false
	}
	p := New(Config{Partitions: 1}, resolve)
	defer p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	if err := p.Notify(NewEvent("check", uuid.Nil, e, nil, []ecs.TypeID{"mute", "tail"})); err != nil {
		t.Fatalf("notify: %v", err)
	}
	flush(t, p)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != "tail" {
		t.Fatalf("silent handler broke the chain: %v", got)
	}
}

// muteType hides the HandleEvent method of the wrapped type.
type muteType struct {
	inner *handlerType
}

func (m muteType) Name() ecs.TypeID { return m.inner.alias }
func (m muteType) Events() []string { return m.inner.events }
func (m muteType) New(props map[string]any) (ecs.Component, error) {
	return m.inner.New(props)
}
func (m muteType) Cast(props map[string]any) (map[string]any, error) {
	return m.inner.Cast(props)
}

func TestFlushTimeout(t *testing.T) {
	block := make(chan struct{})
	blocker := &handlerType{alias: "blocker", events: []string{"check"}}
	blocker.handle = func(_ string, ev Event) (Verdict, Event) {
		<-block
		return Continue, ev
	}
	p := New(Config{Partitions: 1}, resolverFor(blocker))
	defer p.Close()
	defer close(block)

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	if err := p.Notify(NewEvent("check", uuid.Nil, e, nil, []ecs.TypeID{"blocker"})); err != nil {
		t.Fatalf("notify: %v", err)
	}
	tctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Flush(tctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestNotifyAfterClose(t *testing.T) {
	p := New(Config{Partitions: 1}, resolverFor())
	p.Close()

	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	err := p.Notify(NewEvent("check", uuid.Nil, e, nil, nil))
	if !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPartitionStability(t *testing.T) {
	ctx := ecs.NewContext()
	defer ctx.Close()
	e := testEntity(t, ctx)

	first := partitionOf(e, 8)
	for i := 0; i < 100; i++ {
		if got := partitionOf(e, 8); got != first {
			t.Fatalf("partition moved: %d -> %d", first, got)
		}
	}
}

package dispatch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hermesync/hermesync/internal/core/observability/log"
	"github.com/hermesync/hermesync/pkg/generic"
)

// Config holds the pipeline options.
type Config struct {
	// Partitions is the number of Envoy+Scribe lanes. All events for one
	// entity always land on the same partition.
	Partitions int
	// MaxEvents caps the in-flight batch count per partition.
	MaxEvents int
	// MaxDemand is the largest batch a partition requests from the Herald
	// at once.
	MaxDemand int
	Logger    log.Log
}

// DefaultConfig returns the standard pipeline options.
func DefaultConfig() Config {
	return Config{
		Partitions: runtime.NumCPU(),
		MaxEvents:  1000,
		MaxDemand:  64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Partitions <= 0 {
		c.Partitions = d.Partitions
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.MaxDemand <= 0 {
		c.MaxDemand = d.MaxDemand
	}
	if c.Logger == nil {
		c.Logger = log.New(log.LevelError)
	}
	return c
}

// Pipeline wires one Herald to P Envoy+Scribe partitions. It guarantees
// per-entity FIFO delivery and cross-entity parallelism up to the
// configured partition and batch limits.
type Pipeline struct {
	cfg    Config
	herald *Herald

	accepted  atomic.Uint64
	completed atomic.Uint64
	settled   chan struct{}

	quit      chan struct{}
	closeOnce sync.Once
	stages    sync.WaitGroup
	workers   sync.WaitGroup
}

// New starts the pipeline goroutines. The resolver is consulted on every
// handler invocation and is typically a Registry lookup.
func New(cfg Config, resolve Resolver) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:     cfg,
		settled: make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	pool := generic.NewHotPool(func() []Event {
		return make([]Event, 0, cfg.MaxDemand)
	}, cfg.Partitions)
	p.herald = newHerald(cfg.Partitions, pool, p.quit)
	p.stages.Add(1)
	go func() {
		defer p.stages.Done()
		p.herald.run()
	}()
	for i := 0; i < cfg.Partitions; i++ {
		envoy := newEnvoy(i, cfg.MaxDemand, cfg.MaxEvents, p.herald.outs[i], p.herald.demand, pool, p.quit)
		scribe := newScribe(envoy, cfg.MaxEvents, resolve, cfg.Logger, p.settle, &p.workers, p.quit)
		p.stages.Add(2)
		go func() {
			defer p.stages.Done()
			envoy.run()
		}()
		go func() {
			defer p.stages.Done()
			scribe.run()
		}()
	}
	return p
}

// Notify hands an event to the Herald. Per-entity order is the order of
// successful Notify calls.
func (p *Pipeline) Notify(ev Event) error {
	select {
	case p.herald.in <- ev:
		p.accepted.Add(1)
		return nil
	case <-p.quit:
		return ErrPipelineClosed
	}
}

func (p *Pipeline) settle(events int) {
	p.completed.Add(uint64(events))
	select {
	case p.settled <- struct{}{}:
	default:
	}
}

// Flush blocks until every accepted event has been processed or the
// context expires.
func (p *Pipeline) Flush(ctx context.Context) error {
	for {
		if p.completed.Load() >= p.accepted.Load() {
			return nil
		}
		select {
		case <-p.settled:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending reports the number of accepted events not yet processed.
func (p *Pipeline) Pending() uint64 {
	return p.accepted.Load() - p.completed.Load()
}

// Close stops the stages and waits for running workers to finish. Events
// still queued inside the Herald or an Envoy are dropped.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() { close(p.quit) })
	p.stages.Wait()
	p.workers.Wait()
}

package dispatch

import (
	"github.com/cespare/xxhash/v2"

	"github.com/hermesync/hermesync/internal/core/ecs"
	"github.com/hermesync/hermesync/pkg/generic"
)

// demand is one partition's request for a batch of at most n events.
type demand struct {
	partition int
	n         int
}

// Herald is the pipeline producer. It holds one FIFO queue per partition
// and emits a batch only when the partition's Envoy has announced demand.
// The partition queues are unbounded: a slow partition grows its own queue,
// Notify does not wait on it, and the other partitions keep flowing.
type Herald struct {
	in     chan Event
	demand chan demand
	outs   []chan []Event
	pool   *generic.Pool[[]Event]
	quit   <-chan struct{}
}

func newHerald(partitions int, pool *generic.Pool[[]Event], quit <-chan struct{}) *Herald {
	outs := make([]chan []Event, partitions)
	for i := range outs {
		// Capacity one: each partition has at most one granted batch in
		// flight, so emits never block the herald loop.
		outs[i] = make(chan []Event, 1)
	}
	return &Herald{
		in:     make(chan Event),
		demand: make(chan demand),
		outs:   outs,
		pool:   pool,
		quit:   quit,
	}
}

// partitionOf maps an entity to its lane. Deterministic across runs for a
// given entity hash, which keeps per-entity ordering stable.
func partitionOf(e ecs.Entity, partitions int) int {
	h := e.Hash()
	return int(xxhash.Sum64(h[:]) % uint64(partitions))
}

func (h *Herald) run() {
	queues := make([][]Event, len(h.outs))
	want := make([]int, len(h.outs))
	for {
		select {
		case ev := <-h.in:
			p := partitionOf(ev.Entity, len(h.outs))
			queues[p] = append(queues[p], ev)
			h.emit(queues, want, p)
		case d := <-h.demand:
			want[d.partition] = d.n
			h.emit(queues, want, d.partition)
		case <-h.quit:
			return
		}
	}
}

// emit pops up to the partition's pending demand and hands it downstream
// as one batch. The demand is consumed whole; the Envoy re-announces when
// it is ready for more.
func (h *Herald) emit(queues [][]Event, want []int, p int) {
	if want[p] == 0 || len(queues[p]) == 0 {
		return
	}
	n := want[p]
	if n > len(queues[p]) {
		n = len(queues[p])
	}
	batch := append(h.pool.Get()[:0], queues[p][:n]...)
	queues[p] = queues[p][n:]
	want[p] = 0
	h.outs[p] <- batch
}

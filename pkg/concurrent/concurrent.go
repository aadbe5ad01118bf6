package concurrent

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hermesync/hermesync/pkg/sequence"
)

// Concurrent runs action for every element in its own goroutine and waits
// for all of them. Returns the first error encountered.
func Concurrent[T any](i *sequence.Iterator[T], action func(T) error) error {
	var eg errgroup.Group
	next, stop := i.Pull()
	defer stop()
	for {
		value, valid := next()
		if !valid {
			break
		}
		eg.Go(func() error {
			return action(value)
		})
	}
	return eg.Wait()
}

// ParallelMute is Concurrent with errors discarded.
func ParallelMute[T any](i *sequence.Iterator[T], action func(T) error) {
	var wg sync.WaitGroup
	next, stop := i.Pull()
	defer stop()
	for {
		value, valid := next()
		if !valid {
			break
		}
		wg.Add(1)
		go func(v T) {
			defer wg.Done()
			_ = action(v)
		}(value)
	}
	wg.Wait()
}

// ParallelMap applies mapFn to every element with at most workers goroutines
// running at once, preserving order.
func ParallelMap[T any, R any](i *sequence.Iterator[T], workers int, mapFn func(T) R) []R {
	in := i.Collect()
	out := make([]R, len(in))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for idx, val := range in {
		wg.Add(1)
		sem <- struct{}{}
		go func(n int, v T) {
			defer wg.Done()
			out[n] = mapFn(v)
			<-sem
		}(idx, val)
	}
	wg.Wait()
	return out
}

// Throttle runs action for every element with at most concurrency goroutines
// in flight.
func Throttle[T any](i *sequence.Iterator[T], concurrency int, action func(T)) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	next, stop := i.Pull()
	defer stop()
	for {
		value, valid := next()
		if !valid {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(v T) {
			defer wg.Done()
			action(v)
			<-sem
		}(value)
	}
	wg.Wait()
}

// Merge fans multiple channels into one. The output closes once every input
// has closed.
func Merge[T any](chs ...<-chan T) <-chan T {
	out := make(chan T)
	var wg sync.WaitGroup
	wg.Add(len(chs))
	for _, ch := range chs {
		go func(c <-chan T) {
			defer wg.Done()
			for v := range c {
				out <- v
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

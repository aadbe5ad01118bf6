package sequence

import (
	"iter"
	"sort"
)

// Iterator is a lazy, chainable view over a sequence of T. Combinators
// return new iterators; nothing runs until a terminal call like Collect.
type Iterator[T any] struct {
	seq iter.Seq[T]
}

// New wraps a raw sequence function.
func New[T any](seq iter.Seq[T]) *Iterator[T] {
	return &Iterator[T]{seq: seq}
}

// From iterates over a slice.
func From[T any](data []T) *Iterator[T] {
	return New(func(yield func(T) bool) {
		for _, v := range data {
			if !yield(v) {
				return
			}
		}
	})
}

// FromMap iterates over a map's values in map order.
func FromMap[T any, K comparable](data map[K]T) *Iterator[T] {
	return New(func(yield func(T) bool) {
		for _, v := range data {
			if !yield(v) {
				return
			}
		}
	})
}

// FromChannel drains a channel until it closes.
func FromChannel[T any](ch <-chan T) *Iterator[T] {
	return New(func(yield func(T) bool) {
		for v := range ch {
			if !yield(v) {
				return
			}
		}
	})
}

// Seq exposes the underlying sequence function.
func (i *Iterator[T]) Seq() iter.Seq[T] {
	return i.seq
}

// Pull converts the iterator to pull style. The caller must call stop.
func (i *Iterator[T]) Pull() (next func() (T, bool), stop func()) {
	return iter.Pull(i.seq)
}

// Collect exhausts the iterator into a slice.
func (i *Iterator[T]) Collect() []T {
	var out []T
	i.seq(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Filter keeps only elements satisfying pred.
func (i *Iterator[T]) Filter(pred func(T) bool) *Iterator[T] {
	return New(func(yield func(T) bool) {
		i.seq(func(v T) bool {
			if pred(v) {
				return yield(v)
			}
			return true
		})
	})
}

// Each runs action on every element as it passes through.
func (i *Iterator[T]) Each(action func(T)) *Iterator[T] {
	return New(func(yield func(T) bool) {
		i.seq(func(v T) bool {
			action(v)
			return yield(v)
		})
	})
}

// Take yields at most the first n elements.
func (i *Iterator[T]) Take(n int) *Iterator[T] {
	return New(func(yield func(T) bool) {
		count := 0
		i.seq(func(v T) bool {
			if count >= n {
				return false
			}
			count++
			return yield(v)
		})
	})
}

// Find returns the first element matching pred.
func (i *Iterator[T]) Find(pred func(T) bool) (T, bool) {
	var out T
	found := false
	i.seq(func(v T) bool {
		if pred(v) {
			out = v
			found = true
			return false
		}
		return true
	})
	return out, found
}

// Any reports whether any element matches pred.
func (i *Iterator[T]) Any(pred func(T) bool) bool {
	_, found := i.Find(pred)
	return found
}

// First returns the first element.
func (i *Iterator[T]) First() (T, bool) {
	return i.Find(func(T) bool { return true })
}

// Count exhausts the iterator and returns the element count.
func (i *Iterator[T]) Count() int {
	count := 0
	i.seq(func(T) bool {
		count++
		return true
	})
	return count
}

// Sort collects the elements and returns an iterator over them in the order
// given by less. Eager.
func (i *Iterator[T]) Sort(less func(a, b T) bool) *Iterator[T] {
	data := i.Collect()
	sort.SliceStable(data, func(a, b int) bool {
		return less(data[a], data[b])
	})
	return From(data)
}

// ToArray maps each element through fn and collects the results.
func ToArray[T any, S any](it *Iterator[T], fn func(T) S) []S {
	var out []S
	it.seq(func(v T) bool {
		out = append(out, fn(v))
		return true
	})
	return out
}

// ToMap builds a map using key and value selectors. Later elements win on
// key collisions.
func ToMap[T any, K comparable, V any](it *Iterator[T], keyFn func(T) K, valFn func(T) V) map[K]V {
	m := make(map[K]V)
	it.seq(func(v T) bool {
		m[keyFn(v)] = valFn(v)
		return true
	})
	return m
}

// GroupBy buckets elements by key.
func GroupBy[T any, K comparable](it *Iterator[T], keyFn func(T) K) map[K][]T {
	groups := make(map[K][]T)
	it.seq(func(v T) bool {
		k := keyFn(v)
		groups[k] = append(groups[k], v)
		return true
	})
	return groups
}

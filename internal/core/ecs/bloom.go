package ecs

import (
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Archetype masks are fixed-parameter bloom filters sized for a small
// number of distinct component types. The term hashed for a type is
// (alias, declared events), which ties archetype identity to the
// registered handler contract.
const (
	bloomHashCount  = 6
	bloomTargetRate = 0.01
	bloomCapacity   = 100

	// maskWords must cover maskBits; checked at init.
	maskWords = 16
)

var maskBits = bloomBits(bloomCapacity)

func bloomBits(n int) int {
	perHash := math.Pow(bloomTargetRate, 1.0/float64(bloomHashCount))
	return int(math.Ceil(-float64(bloomHashCount*n) / math.Log(1-perHash)))
}

func init() {
	if maskBits > maskWords*64 {
		panic("ecs: bloom mask words do not cover the configured bit count")
	}
}

// Mask is an archetype bloom mask. It is a comparable value and is used
// directly as the aindex key.
type Mask [maskWords]uint64

// Merge returns the union of both masks.
func (m Mask) Merge(other Mask) Mask {
	var out Mask
	for i := range m {
		out[i] = m[i] | other[i]
	}
	return out
}

// ContainsAll reports whether every bit of other is set in m.
func (m Mask) ContainsAll(other Mask) bool {
	for i := range m {
		if m[i]&other[i] != other[i] {
			return false
		}
	}
	return true
}

// Intersects reports whether m and other share at least one bit.
func (m Mask) Intersects(other Mask) bool {
	for i := range m {
		if m[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

func (m Mask) IsZero() bool {
	return m == Mask{}
}

// TypeMask computes the bloom mask of a component type. The hash rounds are
// seeded xxhash sums over the (alias, events) term; the result is
// deterministic across runs and processes, which the archetype search
// relies on.
func TypeMask(t ComponentType) Mask {
	term := typeTerm(t)
	var m Mask
	for i := 0; i < bloomHashCount; i++ {
		d := xxhash.New()
		_, _ = d.Write([]byte{byte(i)})
		_, _ = d.WriteString(term)
		bit := d.Sum64() % uint64(maskBits)
		m[bit/64] |= 1 << (bit % 64)
	}
	return m
}

func typeTerm(t ComponentType) string {
	parts := append([]string{string(t.Name())}, t.Events()...)
	return strings.Join(parts, "\x1f")
}

// maskOf folds the type masks of a component list.
func maskOf(components []Component) Mask {
	var m Mask
	for _, c := range components {
		m = m.Merge(TypeMask(c.Type()))
	}
	return m
}

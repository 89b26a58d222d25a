package keyset

import (
	"iter"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// Set is a set of interned keys backed by a bitset.
//
// The zero value and a nil *Set are both valid empty sets for every read-only
// operation. Add and Remove mutate the receiver; the package level set
// algebra functions never mutate their operands and always return a new Set.
type Set struct {
	bits *bitset.BitSet
}

// New returns a set containing keys. Every key is interned.
func New(keys ...string) *Set {
	s := &Set{}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// FromHandles returns a set containing the given handles.
func FromHandles(handles ...Handle) *Set {
	s := &Set{}
	for _, h := range handles {
		s.AddHandle(h)
	}
	return s
}

// Add interns key and adds it to the set.
func (s *Set) Add(key string) {
	s.AddHandle(Intern(key))
}

// AddHandle adds h to the set.
func (s *Set) AddHandle(h Handle) {
	if s.bits == nil {
		s.bits = &bitset.BitSet{}
	}
	s.bits.Set(uint(h))
}

// Remove removes key from the set and reports whether it was present.
// Keys that were never interned are never members, and are not interned.
func (s *Set) Remove(key string) bool {
	h, ok := Lookup(key)
	if !ok {
		return false
	}
	return s.RemoveHandle(h)
}

// RemoveHandle removes h from the set and reports whether it was present.
func (s *Set) RemoveHandle(h Handle) bool {
	if !s.ContainsHandle(h) {
		return false
	}
	s.bits.Clear(uint(h))
	return true
}

// Contains reports whether key is in the set. It never interns key.
func (s *Set) Contains(key string) bool {
	h, ok := Lookup(key)
	return ok && s.ContainsHandle(h)
}

// ContainsHandle reports whether h is in the set.
func (s *Set) ContainsHandle(h Handle) bool {
	return s.backing().Test(uint(h))
}

// Len returns the number of keys in the set.
func (s *Set) Len() int {
	return int(s.backing().Count())
}

// IsEmpty reports whether the set has no members.
func (s *Set) IsEmpty() bool {
	return s.backing().None()
}

// Clone returns a copy of s.
func (s *Set) Clone() *Set {
	return &Set{bits: s.backing().Clone()}
}

// Handles iterates over the handles in the set in ascending order.
func (s *Set) Handles() iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		b := s.backing()
		for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
			if !yield(Handle(i)) {
				return
			}
		}
	}
}

// All iterates over the key names in the set. The order is stable for a
// given set but otherwise unspecified.
func (s *Set) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for h := range s.Handles() {
			if !yield(h.Name()) {
				return
			}
		}
	}
}

// Keys returns the key names in the set, sorted.
func (s *Set) Keys() []string {
	keys := slices.Collect(s.All())
	slices.Sort(keys)
	return keys
}

// String returns the sorted key names enclosed in braces.
func (s *Set) String() string {
	return "{" + strings.Join(s.Keys(), ", ") + "}"
}

// backing returns the bitset, or an empty one for a nil or zero Set.
func (s *Set) backing() *bitset.BitSet {
	if s == nil || s.bits == nil {
		return &bitset.BitSet{}
	}
	return s.bits
}

// Union returns the keys in a or b.
func Union(a, b *Set) *Set {
	return &Set{bits: a.backing().Union(b.backing())}
}

// Intersection returns the keys in both a and b.
func Intersection(a, b *Set) *Set {
	return &Set{bits: a.backing().Intersection(b.backing())}
}

// Difference returns the keys in a that are not in b.
func Difference(a, b *Set) *Set {
	return &Set{bits: a.backing().Difference(b.backing())}
}

// SymmetricDifference returns the keys in exactly one of a and b.
func SymmetricDifference(a, b *Set) *Set {
	return &Set{bits: a.backing().SymmetricDifference(b.backing())}
}

// IsSubsetOf reports whether every key in a is also in b.
func IsSubsetOf(a, b *Set) bool {
	return b.backing().IsSuperSet(a.backing())
}

// IsDisjoint reports whether a and b have no keys in common.
func IsDisjoint(a, b *Set) bool {
	return a.backing().IntersectionCardinality(b.backing()) == 0
}

// Equal reports whether a and b contain the same keys. Unlike
// bitset.BitSet.Equal it ignores the length of the backing storage.
func Equal(a, b *Set) bool {
	return a.backing().SymmetricDifference(b.backing()).None()
}

// Intersects reports whether a and b share at least one key.
func Intersects(a, b *Set) bool {
	return !IsDisjoint(a, b)
}

package keyset

import (
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func TestInternIsStable(t *testing.T) {
	a := Intern("Test.Intern.Stable")
	b := Intern("Test.Intern.Stable")
	if a != b {
		t.Errorf("Intern() = %d then %d, want same handle", a, b)
	}
	if got := a.Name(); got != "Test.Intern.Stable" {
		t.Errorf("Name() = %q", got)
	}
}

func TestLookupDoesNotIntern(t *testing.T) {
	if _, ok := Lookup("Test.Lookup.NeverSeen"); ok {
		t.Error("Lookup() found a key that was never interned")
	}
	s := New("Test.Lookup.Member")
	after := Interned()

	if s.Contains("Test.Lookup.AlsoNeverSeen") {
		t.Error("Contains() = true for unknown key")
	}
	if s.Remove("Test.Lookup.AlsoNeverSeen") {
		t.Error("Remove() = true for unknown key")
	}
	if got := Interned(); got != after {
		t.Errorf("Interned() = %d after Contains/Remove, want %d", got, after)
	}
}

func TestSetBasics(t *testing.T) {
	s := New("Battery.OnBattery", "Battery.ChargePercentage")

	if got := s.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if !s.Contains("Battery.OnBattery") {
		t.Error("Contains(OnBattery) = false")
	}

	s.Add("Battery.OnBattery")
	if got := s.Len(); got != 2 {
		t.Errorf("Len() after duplicate Add = %d, want 2", got)
	}

	if !s.Remove("Battery.OnBattery") {
		t.Error("Remove(OnBattery) = false")
	}
	if s.Remove("Battery.OnBattery") {
		t.Error("second Remove(OnBattery) = true")
	}
	if diff := cmp.Diff([]string{"Battery.ChargePercentage"}, s.Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestNilSetIsEmpty(t *testing.T) {
	var s *Set
	if !s.IsEmpty() || s.Len() != 0 || s.Contains("Battery.OnBattery") {
		t.Error("nil set is not empty")
	}
	other := New("Battery.OnBattery")
	if !Equal(Union(s, other), other) {
		t.Error("Union(nil, x) != x")
	}
	if !Intersection(s, other).IsEmpty() {
		t.Error("Intersection(nil, x) not empty")
	}
	if !IsSubsetOf(s, other) {
		t.Error("nil is not a subset")
	}
	for range s.All() {
		t.Error("nil set yielded a key")
	}
}

func TestAsymmetricSizes(t *testing.T) {
	// Force handles into different words so the backing slices differ in length.
	small := New("Test.Asym.Low")
	var keys []string
	for i := range 200 {
		keys = append(keys, fmt.Sprintf("Test.Asym.K%03d", i))
	}
	large := New(keys...)
	large.Add("Test.Asym.Low")

	if !IsSubsetOf(small, large) {
		t.Error("small should be a subset of large")
	}
	if IsSubsetOf(large, small) {
		t.Error("large should not be a subset of small")
	}
	if got := Difference(small, large).Len(); got != 0 {
		t.Errorf("Difference(small, large).Len() = %d, want 0", got)
	}
	if got := Difference(large, small).Len(); got != 200 {
		t.Errorf("Difference(large, small).Len() = %d, want 200", got)
	}
	if got := SymmetricDifference(small, large).Len(); got != 200 {
		t.Errorf("SymmetricDifference().Len() = %d, want 200", got)
	}
	if !Equal(Intersection(large, small), small) {
		t.Error("Intersection(large, small) != small")
	}

	// A set whose trailing words were cleared still equals a shorter one.
	large2 := large.Clone()
	for _, k := range keys {
		large2.Remove(k)
	}
	if !Equal(large2, small) || !Equal(small, large2) {
		t.Errorf("Equal(%v, %v) = false", large2, small)
	}
}

func TestZeroSetAndClones(t *testing.T) {
	var zero Set
	if !zero.IsEmpty() || zero.Contains("Test.Zero.A") {
		t.Error("zero Set is not empty")
	}
	if got := slices.Collect(zero.Handles()); len(got) != 0 {
		t.Errorf("zero Set Handles() = %v, want none", got)
	}

	zero.Add("Test.Zero.A")
	clone := zero.Clone()
	clone.Add("Test.Zero.B")
	if zero.Contains("Test.Zero.B") {
		t.Error("Add on a clone changed the original")
	}
	if !clone.RemoveHandle(Intern("Test.Zero.A")) || !zero.Contains("Test.Zero.A") {
		t.Error("RemoveHandle on a clone changed the original")
	}

	// Removing the highest member leaves storage behind; Equal ignores it.
	high := FromHandles(Intern("Test.Zero.A"), Handle(4096))
	high.RemoveHandle(Handle(4096))
	if !Equal(high, &zero) || !IsSubsetOf(high, &zero) || !IsSubsetOf(&zero, high) {
		t.Errorf("Equal(%v, %v) = false after trailing removal", high, &zero)
	}
	if IsDisjoint(high, &zero) || !Intersects(high, &zero) {
		t.Error("sets sharing Test.Zero.A reported disjoint")
	}
}

func TestOperandsAreNotMutated(t *testing.T) {
	a := New("Test.Mut.A", "Test.Mut.B")
	b := New("Test.Mut.B", "Test.Mut.C")
	wantA, wantB := a.Keys(), b.Keys()

	Union(a, b)
	Intersection(a, b)
	Difference(a, b)
	SymmetricDifference(a, b)

	if diff := cmp.Diff(wantA, a.Keys()); diff != "" {
		t.Errorf("a mutated (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantB, b.Keys()); diff != "" {
		t.Errorf("b mutated (-want +got):\n%s", diff)
	}
}

func TestIterationIsRestartable(t *testing.T) {
	s := New("Test.Iter.A", "Test.Iter.B", "Test.Iter.C")
	first := slices.Collect(s.All())
	second := slices.Collect(s.All())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("iteration order changed (-first +second):\n%s", diff)
	}

	n := 0
	for range s.All() {
		n++
		break
	}
	if n != 1 {
		t.Errorf("early break yielded %d keys", n)
	}
}

var propertyPool = func() []string {
	keys := make([]string, 150)
	for i := range keys {
		keys[i] = fmt.Sprintf("Prop.Key%03d", i)
	}
	return keys
}()

func drawSet(t *rapid.T, label string) *Set {
	keys := rapid.SliceOf(rapid.SampledFrom(propertyPool)).Draw(t, label)
	return New(keys...)
}

func TestSetAlgebraProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := drawSet(t, "a")
		b := drawSet(t, "b")

		if !Equal(Union(a, b), Union(b, a)) {
			t.Fatalf("union is not commutative: %v, %v", a, b)
		}
		if !Equal(Intersection(a, a), a) {
			t.Fatalf("intersection(a, a) != a for %v", a)
		}
		if !IsSubsetOf(Intersection(a, b), a) {
			t.Fatalf("intersection(a, b) not a subset of a")
		}
		if !IsDisjoint(a, Difference(b, a)) {
			t.Fatalf("a and b-a are not disjoint")
		}
		if got, want := Union(a, b).Len()+Intersection(a, b).Len(), a.Len()+b.Len(); got != want {
			t.Fatalf("|a∪b|+|a∩b| = %d, want %d", got, want)
		}
		if !Equal(SymmetricDifference(a, b), Difference(Union(a, b), Intersection(a, b))) {
			t.Fatalf("symmetric difference mismatch")
		}
	})
}

func TestSetMatchesMapModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := &Set{}
		model := map[string]bool{}

		t.Repeat(map[string]func(*rapid.T){
			"add": func(t *rapid.T) {
				k := rapid.SampledFrom(propertyPool).Draw(t, "key")
				s.Add(k)
				model[k] = true
			},
			"remove": func(t *rapid.T) {
				k := rapid.SampledFrom(propertyPool).Draw(t, "key")
				if got, want := s.Remove(k), model[k]; got != want {
					t.Fatalf("Remove(%s) = %v, want %v", k, got, want)
				}
				delete(model, k)
			},
			"": func(t *rapid.T) {
				if s.Len() != len(model) {
					t.Fatalf("Len() = %d, want %d", s.Len(), len(model))
				}
				for k := range s.All() {
					if !model[k] {
						t.Fatalf("unexpected member %s", k)
					}
				}
			},
		})
	})
}

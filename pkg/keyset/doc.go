// Package keyset provides interned key names and bitset-backed key sets.
//
// Every key name is mapped once to a small integer Handle. The mapping is
// process wide and append-only, so a Handle obtained at any point stays valid
// until the process exits. A Set stores handles as bits in a
// github.com/bits-and-blooms/bitset BitSet, which makes membership tests
// constant time and set algebra linear in the highest handle.
//
// # Basic Usage
//
//	battery := keyset.New("Battery.OnBattery", "Battery.ChargePercentage")
//	wanted := keyset.New("Battery.OnBattery", "Screen.Blanked")
//
//	both := keyset.Intersection(battery, wanted) // {Battery.OnBattery}
//	for key := range both.All() {
//	    fmt.Println(key)
//	}
//
// Contains and Remove never intern their argument: asking about a key nobody
// has registered does not grow the intern table.
package keyset

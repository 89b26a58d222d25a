// Package value defines the typed value carried by a context property.
//
// A Value is one of integer, double, boolean, string, or absent. Absent is a
// real value: it says the key is known but currently has no determinable
// value, which is different from a key that was never looked up.
package value

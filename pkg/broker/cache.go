package broker

import (
	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/value"
)

// valueCache is the last known value of every key that has been looked up.
// An entry holding value.Absent means the key was found undetermined; a
// missing entry means the key was never looked up.
type valueCache struct {
	entries map[keyset.Handle]value.Value
}

func newValueCache() *valueCache {
	return &valueCache{entries: make(map[keyset.Handle]value.Value)}
}

// insert overwrites the entry of every key in values, unchanged or not, and
// marks every key in undetermined absent.
func (c *valueCache) insert(values map[string]value.Value, undetermined *keyset.Set) {
	for k, v := range values {
		c.entries[keyset.Intern(k)] = v
	}
	for h := range undetermined.Handles() {
		c.entries[h] = value.Absent()
	}
}

// read returns the cached values of keys. Keys without an entry and keys
// cached as absent are both reported undeterminable.
func (c *valueCache) read(keys *keyset.Set) Result {
	res := Result{Values: make(map[string]value.Value)}
	undeterminable := &keyset.Set{}
	for h := range keys.Handles() {
		v, ok := c.entries[h]
		if !ok || v.IsAbsent() {
			undeterminable.AddHandle(h)
			continue
		}
		res.Values[h.Name()] = v
	}
	res.Undeterminable = undeterminable.Keys()
	return res
}

func (c *valueCache) lookup(key string) (value.Value, bool) {
	h, ok := keyset.Lookup(key)
	if !ok {
		return value.Value{}, false
	}
	v, ok := c.entries[h]
	return v, ok
}

func (c *valueCache) drop(keys *keyset.Set) {
	for h := range keys.Handles() {
		delete(c.entries, h)
	}
}

package broker

import (
	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/value"
)

// registration pairs a provider with the key set it advertised when it was
// registered.
type registration struct {
	provider Provider
	keys     *keyset.Set
}

// registry tracks installed providers and routes lookups and subscription
// edges to the providers owning the keys involved.
type registry struct {
	entries []registration
	valid   *keyset.Set
}

func newRegistry() *registry {
	return &registry{valid: &keyset.Set{}}
}

func (r *registry) register(p Provider) (*keyset.Set, error) {
	if r.indexOf(p) >= 0 {
		return nil, ErrProviderRegistered
	}
	keys := p.Keys().Clone()
	r.entries = append(r.entries, registration{provider: p, keys: keys})
	r.valid = keyset.Union(r.valid, keys)
	return keys, nil
}

// unregister removes p and returns the keys that are no longer owned by any
// provider.
func (r *registry) unregister(p Provider) (*keyset.Set, error) {
	i := r.indexOf(p)
	if i < 0 {
		return nil, ErrProviderNotFound
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)

	// Another provider may still own some of the keys.
	valid := &keyset.Set{}
	for _, e := range r.entries {
		valid = keyset.Union(valid, e.keys)
	}
	lost := keyset.Difference(r.valid, valid)
	r.valid = valid
	return lost, nil
}

func (r *registry) indexOf(p Provider) int {
	for i, e := range r.entries {
		if e.provider == p {
			return i
		}
	}
	return -1
}

// get asks every provider owning some of keys for values. Each provider sees
// the full request; answers for keys it does not own are discarded.
func (r *registry) get(keys *keyset.Set) (map[string]value.Value, *keyset.Set) {
	values := make(map[string]value.Value)
	unavailable := &keyset.Set{}

	for _, e := range r.entries {
		if keyset.IsDisjoint(e.keys, keys) {
			continue
		}
		got, missing := e.provider.Get(keys)
		for k, v := range got {
			if e.keys.Contains(k) && keys.Contains(k) {
				values[k] = v
			}
		}
		unavailable = keyset.Union(unavailable, keyset.Intersection(missing, keyset.Intersection(e.keys, keys)))
	}
	return values, unavailable
}

func (r *registry) firstSubscribed(keys *keyset.Set) {
	for _, e := range r.entries {
		mine := keyset.Intersection(keys, e.keys)
		if !mine.IsEmpty() {
			e.provider.KeysSubscribed(mine)
		}
	}
}

func (r *registry) lastUnsubscribed(keys, remaining *keyset.Set) {
	for _, e := range r.entries {
		mine := keyset.Intersection(keys, e.keys)
		if !mine.IsEmpty() {
			e.provider.KeysUnsubscribed(mine, keyset.Intersection(remaining, e.keys))
		}
	}
}

var _ edgeListener = (*registry)(nil)

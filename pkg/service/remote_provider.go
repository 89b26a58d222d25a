package service

import (
	"sync"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/value"
	"github.com/contextkit/contextd/pkg/wire"
)

// notifyFunc sends a notification to the connection behind a session.
type notifyFunc func(op wire.Operation, payload any)

// remoteProvider stands in for a provider living on the other end of a
// connection. Subscription edges are forwarded as notifications and Get is
// answered from the values the remote last committed.
type remoteProvider struct {
	keys   *keyset.Set
	notify notifyFunc

	mu      sync.Mutex
	values  map[string]value.Value
	active  *keyset.Set
	retired bool
}

var _ broker.Provider = (*remoteProvider)(nil)

func newRemoteProvider(keys *keyset.Set, notify notifyFunc) *remoteProvider {
	return &remoteProvider{
		keys:   keys,
		notify: notify,
		values: make(map[string]value.Value),
		active: &keyset.Set{},
	}
}

// Keys returns the keys the remote provides.
func (p *remoteProvider) Keys() *keyset.Set {
	return p.keys
}

// Get answers from the last committed values. Keys never committed, or
// committed as undetermined, are unavailable.
func (p *remoteProvider) Get(keys *keyset.Set) (map[string]value.Value, *keyset.Set) {
	p.mu.Lock()
	defer p.mu.Unlock()

	values := make(map[string]value.Value)
	unavailable := &keyset.Set{}
	for k := range keyset.Intersection(keys, p.keys).All() {
		if v, ok := p.values[k]; ok {
			values[k] = v
		} else {
			unavailable.Add(k)
		}
	}
	return values, unavailable
}

// KeysSubscribed forwards keys the remote has not been told about yet.
func (p *remoteProvider) KeysSubscribed(keys *keyset.Set) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.retired {
		return
	}
	fresh := keyset.Difference(keys, p.active)
	p.active = keyset.Union(p.active, keys)
	if !fresh.IsEmpty() {
		p.notify(wire.OpKeysSubscribed, &wire.EdgePayload{Keys: fresh.Keys()})
	}
}

// KeysUnsubscribed forwards the edge together with the keys that stay
// subscribed.
func (p *remoteProvider) KeysUnsubscribed(keys, remaining *keyset.Set) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.retired {
		return
	}
	p.active = keyset.Difference(p.active, keys)
	p.notify(wire.OpKeysUnsubscribed, &wire.EdgePayload{
		Keys:      keys.Keys(),
		Remaining: remaining.Keys(),
	})
}

// foreign returns the keys of a commit that the remote does not provide.
func (p *remoteProvider) foreign(values map[string]value.Value, undetermined []string) []string {
	var out []string
	for k := range values {
		if !p.keys.Contains(k) {
			out = append(out, k)
		}
	}
	for _, k := range undetermined {
		if !p.keys.Contains(k) {
			out = append(out, k)
		}
	}
	return out
}

// update records committed values. values holds no absent entries.
func (p *remoteProvider) update(values map[string]value.Value, undetermined []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, v := range values {
		p.values[k] = v
	}
	for _, k := range undetermined {
		delete(p.values, k)
	}
}

// takeOver carries values and subscription state over from the proxy this
// one replaces, and silences the old one.
func (p *remoteProvider) takeOver(old *remoteProvider) {
	old.mu.Lock()
	old.retired = true
	values, active := old.values, old.active
	old.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range values {
		p.values[k] = v
	}
	p.active = keyset.Intersection(active, p.keys)
}

func (p *remoteProvider) retire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retired = true
}

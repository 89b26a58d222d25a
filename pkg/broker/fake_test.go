package broker

import (
	"maps"
	"sync"

	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/value"
)

// fakeProvider answers Get from a fixed table and tracks which of its keys
// are subscribed.
type fakeProvider struct {
	keys   *keyset.Set
	values map[string]value.Value
	active *keyset.Set

	// onSubscribed runs inside KeysSubscribed when set.
	onSubscribed func(keys *keyset.Set)
}

func newFakeProvider(keys ...string) *fakeProvider {
	return &fakeProvider{
		keys:   keyset.New(keys...),
		values: make(map[string]value.Value),
		active: &keyset.Set{},
	}
}

func (p *fakeProvider) Keys() *keyset.Set { return p.keys }

func (p *fakeProvider) Get(keys *keyset.Set) (map[string]value.Value, *keyset.Set) {
	out := make(map[string]value.Value)
	for k, v := range p.values {
		if keys.Contains(k) {
			out[k] = v
		}
	}
	return out, nil
}

func (p *fakeProvider) KeysSubscribed(keys *keyset.Set) {
	p.active = keyset.Union(p.active, keys)
	if p.onSubscribed != nil {
		p.onSubscribed(keys)
	}
}

func (p *fakeProvider) KeysUnsubscribed(keys, _ *keyset.Set) {
	p.active = keyset.Difference(p.active, keys)
}

// changeRecorder collects the notifications of one subscriber.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Result
	notify  chan struct{}
}

func newChangeRecorder(s *Subscriber) *changeRecorder {
	r := &changeRecorder{notify: make(chan struct{}, 64)}
	s.OnChanged(func(res Result) {
		r.mu.Lock()
		defer r.mu.Unlock()
		res.Values = maps.Clone(res.Values)
		r.changes = append(r.changes, res)
		select {
		case r.notify <- struct{}{}:
		default:
		}
	})
	return r
}

func (r *changeRecorder) take() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.changes
	r.changes = nil
	return c
}

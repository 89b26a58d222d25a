package provider

import (
	"fmt"

	"github.com/contextkit/contextd/pkg/keyset"
)

// Group joins the subscription edges of several properties that share a
// source, such as values read from one sensor. OnFirstSubscriber fires when
// any member becomes subscribed and OnLastSubscriber when none is left.
type Group struct {
	service *Service
	keys    *keyset.Set

	// Guarded by service.mu.
	subscribed bool
	onFirst    func()
	onLast     func()
}

// NewGroup creates a group over keys, which must all belong to s. A group
// created while members are subscribed starts out subscribed without firing
// its hook.
func (s *Service) NewGroup(keys ...string) (*Group, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		if _, ok := s.properties[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, k)
		}
	}
	g := &Group{service: s, keys: keyset.New(keys...)}
	g.subscribed = keyset.Intersects(g.keys, s.subscribed)
	s.groups = append(s.groups, g)
	return g, nil
}

// Keys returns the member keys, sorted.
func (g *Group) Keys() []string {
	return g.keys.Keys()
}

// IsSubscribed reports whether any member has a subscriber.
func (g *Group) IsSubscribed() bool {
	g.service.mu.Lock()
	defer g.service.mu.Unlock()
	return g.subscribed
}

// OnFirstSubscriber sets the hook run when the first member gains a
// subscriber.
func (g *Group) OnFirstSubscriber(fn func()) {
	g.service.mu.Lock()
	defer g.service.mu.Unlock()
	g.onFirst = fn
}

// OnLastSubscriber sets the hook run when the last subscribed member loses
// its subscriber.
func (g *Group) OnLastSubscriber(fn func()) {
	g.service.mu.Lock()
	defer g.service.mu.Unlock()
	g.onLast = fn
}

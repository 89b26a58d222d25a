package broker

import (
	"context"
	"time"

	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/log"
	"github.com/contextkit/contextd/pkg/value"
)

// Subscriber is the broker-side state of one client identity: the keys it
// is subscribed to and where its change notifications go.
//
// A Subscriber is owned by its Manager. Its state is guarded by the manager
// lock, so calls on one Subscriber are linearized with each other and with
// change fan-out.
type Subscriber struct {
	manager  *Manager
	identity string

	// Guarded by manager.mu.
	keys      *keyset.Set
	closed    bool
	onChanged func(Result)
}

// Identity returns the client identity this subscriber belongs to.
func (s *Subscriber) Identity() string {
	return s.identity
}

// OnChanged sets the handler for change notifications.
//
// The handler runs with the manager lock held, in the order changes were
// applied. It must not block and must not call back into the Manager; hand
// the notification to a queue instead.
func (s *Subscriber) OnChanged(fn func(Result)) {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	s.onChanged = fn
}

// Subscribe adds keys to the subscription and returns the current values of
// every requested key the broker knows about, including keys that were
// already subscribed. Unknown keys are dropped.
func (s *Subscriber) Subscribe(keys []string) (Result, error) {
	var res Result
	err := s.SubscribeFunc(keys, func(r Result) { res = r })
	return res, err
}

// SubscribeFunc is Subscribe with the result delivered to reply while the
// manager lock is still held. A transport that queues reply before any later
// change notification preserves snapshot-then-changes ordering for the
// client.
func (s *Subscriber) SubscribeFunc(keys []string, reply func(Result)) error {
	m := s.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}

	checked := m.checkKeys(keys)
	added := keyset.Difference(checked, s.keys)
	first := m.usage.add(added)
	s.keys = keyset.Union(s.keys, added)

	m.metrics.subscribedKeys.Add(context.Background(), int64(first.Len()))
	m.logEvent(log.Event{
		ConnectionID: s.identity,
		Category:     log.CategorySubscription,
		Subscription: &log.SubscriptionEvent{
			Action:          log.SubscriptionActionSubscribe,
			Keys:            checked.Keys(),
			Added:           added.Keys(),
			FirstSubscribed: first.Keys(),
		},
	})

	res := m.getInternal(checked)
	if reply != nil {
		reply(res)
	}
	return nil
}

// Unsubscribe removes keys from the subscription. Keys that are unknown or
// not subscribed are ignored.
func (s *Subscriber) Unsubscribe(keys []string) error {
	m := s.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}

	checked := m.checkKeys(keys)
	s.release(keyset.Intersection(checked, s.keys), log.SubscriptionActionUnsubscribe)
	return nil
}

// Keys returns the subscribed keys, sorted.
func (s *Subscriber) Keys() []string {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	return s.keys.Keys()
}

// Close unsubscribes from every key and detaches the subscriber from its
// Manager. Further calls return ErrSubscriberClosed. Closing twice is a
// no-op.
func (s *Subscriber) Close() {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	s.manager.closeSubscriber(s, "closed")
}

// release drops keys from the subscription. Called with the manager lock
// held.
func (s *Subscriber) release(keys *keyset.Set, action log.SubscriptionAction) {
	m := s.manager
	last := m.usage.remove(keys)
	s.keys = keyset.Difference(s.keys, keys)

	m.metrics.subscribedKeys.Add(context.Background(), -int64(last.Len()))
	m.logEvent(log.Event{
		ConnectionID: s.identity,
		Category:     log.CategorySubscription,
		Subscription: &log.SubscriptionEvent{
			Action:           action,
			Keys:             keys.Keys(),
			LastUnsubscribed: last.Keys(),
		},
	})
}

// onValueChanged filters a committed change down to the subscribed keys and
// delivers it if anything is left. Called with the manager lock held.
func (s *Subscriber) onValueChanged(values map[string]value.Value, undetermined *keyset.Set) bool {
	if s.closed || s.onChanged == nil {
		return false
	}

	res := Result{Values: make(map[string]value.Value)}
	for k, v := range values {
		if s.keys.Contains(k) {
			res.Values[k] = v
		}
	}
	res.Undeterminable = keyset.Intersection(undetermined, s.keys).Keys()
	if res.IsEmpty() {
		return false
	}

	s.onChanged(res)
	return true
}

// logEvent stamps and records a broker event. Called with the manager lock
// held so events appear in the order they happened.
func (m *Manager) logEvent(event log.Event) {
	if m.events == nil {
		return
	}
	event.Timestamp = time.Now()
	event.Layer = log.LayerBroker
	m.events.Log(event)
}

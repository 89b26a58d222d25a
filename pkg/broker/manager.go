package broker

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/log"
	"github.com/contextkit/contextd/pkg/value"
)

// Config configures a Manager.
type Config struct {
	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// EventLogger receives structured broker events: subscriptions, commits,
	// subscriber and provider lifecycle. Nil disables event capture.
	EventLogger log.Logger

	// MeterProvider supplies the broker's instruments. Nil uses the global
	// OpenTelemetry provider.
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{}
}

// Manager coordinates providers and subscribers around a single value cache.
//
// One mutex guards the cache, the usage counter, the provider registry and
// the subscriber table, so every change fan-out observes a consistent
// post-commit snapshot.
type Manager struct {
	mu sync.Mutex

	logger  *slog.Logger
	events  log.Logger
	metrics *metrics

	registry    *registry
	usage       *usageCounter
	cache       *valueCache
	subscribers map[string]*Subscriber

	// valid is a published copy of registry.valid, readable without mu.
	valid atomic.Pointer[keyset.Set]

	queue   *commitQueue
	flushMu sync.Mutex
}

// NewManager creates a manager with the default configuration.
func NewManager() *Manager {
	return NewManagerWithConfig(DefaultConfig())
}

// NewManagerWithConfig creates a manager with a custom configuration.
func NewManagerWithConfig(config Config) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Manager{
		logger:      logger,
		events:      config.EventLogger,
		metrics:     newMetrics(config.MeterProvider),
		registry:    newRegistry(),
		cache:       newValueCache(),
		subscribers: make(map[string]*Subscriber),
		queue:       newCommitQueue(),
	}
	m.usage = newUsageCounter(m.registry, logger)
	m.valid.Store(&keyset.Set{})
	return m
}

// Register installs a provider. Keys of p that already have subscribers are
// reported to p through KeysSubscribed before Register returns.
func (m *Manager) Register(p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.registry.register(p)
	if err != nil {
		return err
	}
	m.valid.Store(m.registry.valid)

	if active := keyset.Intersection(keys, m.usage.subscribed); !active.IsEmpty() {
		p.KeysSubscribed(active)
	}

	m.logger.Info("provider registered", "keys", keys.Len())
	m.logEvent(log.Event{
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityProvider,
			NewState: "registered",
			Keys:     keys.Keys(),
		},
	})
	return nil
}

// Unregister removes a provider. Keys that no provider owns any more are
// dropped from the cache, and subscribers holding them are told they are
// undetermined.
func (m *Manager) Unregister(p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lost, err := m.registry.unregister(p)
	if err != nil {
		return err
	}
	m.valid.Store(m.registry.valid)
	m.cache.drop(lost)

	if !lost.IsEmpty() {
		m.fanOut(nil, lost)
	}

	m.logger.Info("provider unregistered", "lost_keys", lost.Len())
	m.logEvent(log.Event{
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityProvider,
			OldState: "registered",
			NewState: "unregistered",
			Keys:     lost.Keys(),
		},
	})
	return nil
}

// Get returns the current values of keys without touching any subscription.
// Keys no provider owns are reported undeterminable.
func (m *Manager) Get(keys []string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	checked := m.checkKeys(keys)
	res := m.getInternal(checked)

	// Unknown keys are not interned, so merge them as plain strings.
	if checked.Len() < len(keys) {
		for _, k := range keys {
			if !checked.Contains(k) {
				res.Undeterminable = append(res.Undeterminable, k)
			}
		}
		slices.Sort(res.Undeterminable)
		res.Undeterminable = slices.Compact(res.Undeterminable)
	}
	return res
}

// GetSubscriber returns the subscriber for identity, creating it on first
// use. The same identity always yields the same subscriber until it is
// closed or the identity is lost.
func (m *Manager) GetSubscriber(identity string) *Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.subscribers[identity]; ok {
		return s
	}

	s := &Subscriber{
		manager:  m,
		identity: identity,
		keys:     &keyset.Set{},
	}
	m.subscribers[identity] = s
	m.metrics.subscribers.Add(context.Background(), 1)

	m.logger.Debug("subscriber created", "identity", identity)
	m.logEvent(log.Event{
		ConnectionID: identity,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscriber,
			NewState: "created",
		},
	})
	return s
}

// IdentityLost tears down the subscriber of a client that has become
// unreachable, releasing all of its subscriptions. Unknown identities are
// ignored.
func (m *Manager) IdentityLost(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.subscribers[identity]; ok {
		m.closeSubscriber(s, "identity lost")
	}
}

// closeSubscriber releases everything s holds. Called with m.mu held.
func (m *Manager) closeSubscriber(s *Subscriber, reason string) {
	if s.closed {
		return
	}
	s.release(s.keys, log.SubscriptionActionRelease)
	s.closed = true
	s.onChanged = nil
	if m.subscribers[s.identity] == s {
		delete(m.subscribers, s.identity)
	}
	m.metrics.subscribers.Add(context.Background(), -1)

	m.logger.Debug("subscriber closed", "identity", s.identity, "reason", reason)
	m.logEvent(log.Event{
		ConnectionID: s.identity,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscriber,
			OldState: "created",
			NewState: "closed",
			Reason:   reason,
		},
	})
}

// PropertyValuesChanged applies a change synchronously: every touched key
// must be owned by a registered provider, otherwise nothing is applied and
// an *InvalidKeysError is returned. On success the cache is updated and
// every subscriber is offered the change.
//
// It must not be called from inside a Provider callback; commit a ChangeSet
// there instead.
func (m *Manager) PropertyValuesChanged(values map[string]value.Value, undetermined []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.propertyValuesChanged(values, undetermined)
}

func (m *Manager) propertyValuesChanged(values map[string]value.Value, undetermined []string) error {
	if err := m.validate(m.registry.valid, values, undetermined); err != nil {
		m.metrics.commit(false)
		m.logger.Error("rejecting change set", "error", err)
		m.logEvent(log.Event{
			Category: log.CategoryCommit,
			Commit: &log.CommitEvent{
				Changed:      sortedKeys(values),
				Undetermined: undetermined,
				InvalidKeys:  err.Keys,
			},
		})
		return err
	}

	und := keyset.New(undetermined...)
	m.cache.insert(values, und)
	notified := m.fanOut(values, und)

	m.metrics.commit(true)
	m.logEvent(log.Event{
		Category: log.CategoryCommit,
		Commit: &log.CommitEvent{
			Changed:      sortedKeys(values),
			Undetermined: und.Keys(),
			Accepted:     true,
			Notified:     notified,
		},
	})
	return nil
}

// fanOut offers a change to every live subscriber and returns how many
// were notified. Called with m.mu held.
func (m *Manager) fanOut(values map[string]value.Value, undetermined *keyset.Set) int {
	notified := 0
	for _, s := range m.subscribers {
		if s.onValueChanged(values, undetermined) {
			notified++
		}
	}
	if notified > 0 {
		m.metrics.notifications.Add(context.Background(), int64(notified))
	}
	return notified
}

// validate returns the keys of a change that valid does not contain. Keys
// are looked up without interning.
func (m *Manager) validate(valid *keyset.Set, values map[string]value.Value, undetermined []string) *InvalidKeysError {
	var invalid []string
	for k := range values {
		if !valid.Contains(k) {
			invalid = append(invalid, k)
		}
	}
	for _, k := range undetermined {
		if !valid.Contains(k) {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	slices.Sort(invalid)
	return &InvalidKeysError{Keys: slices.Compact(invalid)}
}

// checkKeys returns the requested keys that some provider owns. Called with
// m.mu held.
func (m *Manager) checkKeys(requested []string) *keyset.Set {
	checked := &keyset.Set{}
	for _, k := range requested {
		if h, ok := keyset.Lookup(k); ok && m.registry.valid.ContainsHandle(h) {
			checked.AddHandle(h)
		}
	}
	return checked
}

// getInternal fetches keys from the providers, stores the answers and reads
// the keys back from the cache. Called with m.mu held.
func (m *Manager) getInternal(keys *keyset.Set) Result {
	if keys.IsEmpty() {
		return Result{Values: make(map[string]value.Value)}
	}
	values, unavailable := m.registry.get(keys)
	m.cache.insert(values, unavailable)
	return m.cache.read(keys)
}

// NumberOfSubscribers returns how many subscribers hold key.
func (m *Manager) NumberOfSubscribers(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage.numberOfSubscribers(key)
}

// SubscribedKeys returns the keys that have at least one subscriber.
func (m *Manager) SubscribedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage.subscribed.Keys()
}

// ValidKeys returns the keys owned by registered providers.
func (m *Manager) ValidKeys() []string {
	return m.valid.Load().Keys()
}

// SubscriberCount returns the number of live subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// CachedValue returns the cached value of key. ok is false when the key has
// never been looked up.
func (m *Manager) CachedValue(key string) (v value.Value, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.lookup(key)
}

func sortedKeys(values map[string]value.Value) []string {
	return slices.Sorted(maps.Keys(values))
}

package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/value"
)

// Provider library errors.
var (
	// ErrUnknownKey is returned when asking for a key the service does not own.
	ErrUnknownKey = errors.New("key not owned by this service")

	// ErrInstalled is returned when installing a service twice.
	ErrInstalled = errors.New("service already installed")

	// ErrNotInstalled is returned when uninstalling a service that is not
	// installed.
	ErrNotInstalled = errors.New("service not installed")

	// ErrNoKeys is returned when creating a service or group without keys.
	ErrNoKeys = errors.New("no keys given")
)

// Config configures a Service.
type Config struct {
	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{}
}

// Service owns a fixed list of keys on behalf of a provider. It keeps the
// last value set for every key, answers broker lookups from those values and
// turns subscription edges into per-property and per-group hooks.
//
// A Service satisfies broker.Provider. Install registers it with a Manager;
// from then on every value change is committed as a ChangeSet.
type Service struct {
	keys   *keyset.Set
	logger *slog.Logger

	mu         sync.Mutex
	manager    *broker.Manager
	properties map[string]*Property
	groups     []*Group
	subscribed *keyset.Set
}

var _ broker.Provider = (*Service)(nil)

// NewService creates a service for keys with the default configuration.
func NewService(keys ...string) (*Service, error) {
	return NewServiceWithConfig(DefaultConfig(), keys...)
}

// NewServiceWithConfig creates a service for keys with a custom
// configuration.
func NewServiceWithConfig(config Config, keys ...string) (*Service, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Service{
		keys:       keyset.New(keys...),
		logger:     logger,
		properties: make(map[string]*Property, len(keys)),
		subscribed: &keyset.Set{},
	}
	for k := range s.keys.All() {
		s.properties[k] = &Property{service: s, key: k}
	}
	return s, nil
}

// Property returns the handle for key. The same handle is returned on every
// call.
func (s *Service) Property(key string) (*Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return p, nil
}

// Install registers the service with m. Keys that already have subscribers
// fire their first-subscriber hooks before Install returns.
func (s *Service) Install(m *broker.Manager) error {
	s.mu.Lock()
	if s.manager != nil {
		s.mu.Unlock()
		return ErrInstalled
	}
	s.manager = m
	s.mu.Unlock()

	// Register calls back into KeysSubscribed, so s.mu must not be held.
	if err := m.Register(s); err != nil {
		s.mu.Lock()
		s.manager = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to register service: %w", err)
	}
	s.logger.Debug("service installed", "keys", s.keys.Len())
	return nil
}

// Uninstall removes the service from its Manager. Subscription state is
// reset without firing hooks.
func (s *Service) Uninstall() error {
	s.mu.Lock()
	m := s.manager
	s.mu.Unlock()
	if m == nil {
		return ErrNotInstalled
	}

	if err := m.Unregister(s); err != nil {
		return fmt.Errorf("failed to unregister service: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.manager = nil
	s.subscribed = &keyset.Set{}
	for _, g := range s.groups {
		g.subscribed = false
	}
	s.logger.Debug("service uninstalled")
	return nil
}

// Keys returns the keys the service owns.
func (s *Service) Keys() *keyset.Set {
	return s.keys
}

// Get answers from the last values set. Keys that were never set or were
// unset are reported unavailable.
func (s *Service) Get(keys *keyset.Set) (map[string]value.Value, *keyset.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make(map[string]value.Value)
	unavailable := &keyset.Set{}
	for k := range keyset.Intersection(keys, s.keys).All() {
		if v := s.properties[k].value; v.IsAbsent() {
			unavailable.Add(k)
		} else {
			values[k] = v
		}
	}
	return values, unavailable
}

// KeysSubscribed fires the first-subscriber hooks of the affected properties
// and groups.
func (s *Service) KeysSubscribed(keys *keyset.Set) {
	s.mu.Lock()
	added := keyset.Difference(keyset.Intersection(keys, s.keys), s.subscribed)
	s.subscribed = keyset.Union(s.subscribed, added)

	var hooks []func()
	for k := range added.All() {
		if fn := s.properties[k].onFirst; fn != nil {
			hooks = append(hooks, fn)
		}
	}
	for _, g := range s.groups {
		if !g.subscribed && keyset.Intersects(g.keys, s.subscribed) {
			g.subscribed = true
			if g.onFirst != nil {
				hooks = append(hooks, g.onFirst)
			}
		}
	}
	s.mu.Unlock()

	s.logger.Debug("keys subscribed", "keys", added.Keys())
	for _, fn := range hooks {
		fn()
	}
}

// KeysUnsubscribed fires the last-subscriber hooks of the affected
// properties and groups.
func (s *Service) KeysUnsubscribed(keys, _ *keyset.Set) {
	s.mu.Lock()
	removed := keyset.Intersection(keys, s.subscribed)
	s.subscribed = keyset.Difference(s.subscribed, removed)

	var hooks []func()
	for k := range removed.All() {
		if fn := s.properties[k].onLast; fn != nil {
			hooks = append(hooks, fn)
		}
	}
	for _, g := range s.groups {
		if g.subscribed && !keyset.Intersects(g.keys, s.subscribed) {
			g.subscribed = false
			if g.onLast != nil {
				hooks = append(hooks, g.onLast)
			}
		}
	}
	s.mu.Unlock()

	s.logger.Debug("keys unsubscribed", "keys", removed.Keys())
	for _, fn := range hooks {
		fn()
	}
}

// commit publishes one key change if the service is installed. Called with
// s.mu held; Commit only enqueues, so no manager lock is taken.
func (s *Service) commit(key string, v value.Value) error {
	if s.manager == nil {
		return nil
	}
	if err := s.manager.NewChangeSet().AddValue(key, v).Commit(); err != nil {
		s.logger.Error("failed to commit property", "key", key, "error", err)
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

package provider

import (
	"github.com/contextkit/contextd/pkg/value"
)

// Property is the handle for one key of a Service.
type Property struct {
	service *Service
	key     string

	// Guarded by service.mu.
	value   value.Value
	onFirst func()
	onLast  func()
}

// Key returns the property key.
func (p *Property) Key() string {
	return p.key
}

// Value returns the last value set, absent if none.
func (p *Property) Value() value.Value {
	p.service.mu.Lock()
	defer p.service.mu.Unlock()
	return p.value
}

// Set stores v and, if it differs from the stored value and the service is
// installed, commits it to the broker. Setting an absent value is Unset.
func (p *Property) Set(v value.Value) error {
	p.service.mu.Lock()
	defer p.service.mu.Unlock()

	if v.Equal(p.value) {
		return nil
	}
	p.value = v
	return p.service.commit(p.key, v)
}

// SetInt sets an integer value.
func (p *Property) SetInt(i int64) error { return p.Set(value.Int(i)) }

// SetDouble sets a double value.
func (p *Property) SetDouble(f float64) error { return p.Set(value.Double(f)) }

// SetBool sets a boolean value.
func (p *Property) SetBool(b bool) error { return p.Set(value.Bool(b)) }

// SetString sets a string value.
func (p *Property) SetString(s string) error { return p.Set(value.String(s)) }

// Unset marks the property undetermined.
func (p *Property) Unset() error {
	return p.Set(value.Absent())
}

// IsSubscribed reports whether the key has at least one subscriber.
func (p *Property) IsSubscribed() bool {
	p.service.mu.Lock()
	defer p.service.mu.Unlock()
	return p.service.subscribed.Contains(p.key)
}

// OnFirstSubscriber sets the hook run when the key gains its first
// subscriber. Hooks run inside a broker callback: they must not block, and
// they may call Set.
func (p *Property) OnFirstSubscriber(fn func()) {
	p.service.mu.Lock()
	defer p.service.mu.Unlock()
	p.onFirst = fn
}

// OnLastSubscriber sets the hook run when the key loses its last
// subscriber.
func (p *Property) OnLastSubscriber(fn func()) {
	p.service.mu.Lock()
	defer p.service.mu.Unlock()
	p.onLast = fn
}

package broker

import (
	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/value"
)

// Provider owns a fixed set of keys and supplies their values.
//
// All methods are called with the manager lock held. They must return
// promptly and must not call back into the Manager synchronously. A provider
// that needs to publish values from inside a callback commits a ChangeSet,
// which is queued and never blocks.
type Provider interface {
	// Keys returns the keys this provider owns. The set must not change while
	// the provider is registered.
	Keys() *keyset.Set

	// Get returns the values it can answer right now for keys, together with
	// the keys it knows to be undeterminable. keys may include keys owned by
	// other providers; those are ignored. A provider that would have to block
	// to answer reports the key unavailable and commits the value later.
	Get(keys *keyset.Set) (values map[string]value.Value, unavailable *keyset.Set)

	// KeysSubscribed is called when keys gain their first subscriber.
	KeysSubscribed(keys *keyset.Set)

	// KeysUnsubscribed is called when keys lose their last subscriber.
	// remaining holds this provider's keys that still have subscribers.
	KeysUnsubscribed(keys, remaining *keyset.Set)
}

// Result carries resolved values together with the keys that have no
// determinable value.
//
// Values never holds absent values when returned from Get or Subscribe.
// Undeterminable is sorted and nil when empty.
type Result struct {
	Values         map[string]value.Value
	Undeterminable []string
}

// IsEmpty reports whether r carries neither values nor undeterminable keys.
func (r Result) IsEmpty() bool {
	return len(r.Values) == 0 && len(r.Undeterminable) == 0
}

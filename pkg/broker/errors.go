package broker

import (
	"errors"
	"fmt"
	"strings"
)

// Broker errors.
var (
	// ErrInvalidKey is returned when a change set names a key that no
	// registered provider owns.
	ErrInvalidKey = errors.New("key not provided by any registered provider")

	// ErrSubscriberClosed is returned by operations on a subscriber whose
	// client identity has been torn down.
	ErrSubscriberClosed = errors.New("subscriber closed")

	// ErrChangeSetDone is returned when a change set is committed or
	// cancelled a second time.
	ErrChangeSetDone = errors.New("change set already committed or cancelled")

	// ErrManagerStopped is returned when committing after the coordination
	// loop has exited.
	ErrManagerStopped = errors.New("manager stopped")

	// ErrProviderRegistered is returned when registering a provider twice.
	ErrProviderRegistered = errors.New("provider already registered")

	// ErrProviderNotFound is returned when unregistering an unknown provider.
	ErrProviderNotFound = errors.New("provider not registered")
)

// InvalidKeysError reports the keys of a rejected change set that are not
// owned by any registered provider. Nothing from the change set was applied.
type InvalidKeysError struct {
	Keys []string
}

func (e *InvalidKeysError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidKey, strings.Join(e.Keys, ", "))
}

// Unwrap returns ErrInvalidKey.
func (e *InvalidKeysError) Unwrap() error {
	return ErrInvalidKey
}

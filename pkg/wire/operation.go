package wire

// Operation identifies what a request asks for or what a notification
// announces.
type Operation uint8

// Requests from clients and remote providers to the broker.
const (
	// OpGet reads values without subscribing.
	OpGet Operation = 1

	// OpGetSubscriber returns the subscriber handle of the connection.
	OpGetSubscriber Operation = 2

	// OpSubscribe adds keys to a subscriber and returns their values.
	OpSubscribe Operation = 3

	// OpUnsubscribe removes keys from a subscriber.
	OpUnsubscribe Operation = 4

	// OpProvide registers the connection as the provider of keys.
	OpProvide Operation = 5

	// OpCommit applies a change set from a remote provider.
	OpCommit Operation = 6

	// OpNumberOfSubscribers reports subscriber counts of keys.
	OpNumberOfSubscribers Operation = 7

	// OpListKeys lists the provided and the subscribed keys.
	OpListKeys Operation = 8
)

// Notifications from the broker.
const (
	// OpChanged delivers filtered value changes to a subscriber.
	OpChanged Operation = 32

	// OpKeysSubscribed tells a remote provider that keys gained their first
	// subscriber.
	OpKeysSubscribed Operation = 33

	// OpKeysUnsubscribed tells a remote provider that keys lost their last
	// subscriber.
	OpKeysUnsubscribed Operation = 34
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpGet:
		return "Get"
	case OpGetSubscriber:
		return "GetSubscriber"
	case OpSubscribe:
		return "Subscribe"
	case OpUnsubscribe:
		return "Unsubscribe"
	case OpProvide:
		return "Provide"
	case OpCommit:
		return "Commit"
	case OpNumberOfSubscribers:
		return "NumberOfSubscribers"
	case OpListKeys:
		return "ListKeys"
	case OpChanged:
		return "Changed"
	case OpKeysSubscribed:
		return "KeysSubscribed"
	case OpKeysUnsubscribed:
		return "KeysUnsubscribed"
	default:
		return "Unknown"
	}
}

// IsRequest reports whether o is valid in a request.
func (o Operation) IsRequest() bool {
	return o >= OpGet && o <= OpListKeys
}

// IsNotification reports whether o is valid in a notification.
func (o Operation) IsNotification() bool {
	return o >= OpChanged && o <= OpKeysUnsubscribed
}

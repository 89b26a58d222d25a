package log

import (
	"strings"
	"time"

	"github.com/contextkit/contextd/pkg/wire"
)

// Event is a single captured broker event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the client connection, which is also the
	// subscriber identity. Empty for events not tied to a client.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame        *FrameEvent        `cbor:"10,keyasint,omitempty"` // Transport layer
	Message      *MessageEvent      `cbor:"11,keyasint,omitempty"` // Wire layer
	StateChange  *StateChangeEvent  `cbor:"12,keyasint,omitempty"` // Lifecycle
	ControlMsg   *ControlMsgEvent   `cbor:"13,keyasint,omitempty"` // Ping/pong/close
	Subscription *SubscriptionEvent `cbor:"14,keyasint,omitempty"` // Broker layer
	Commit       *CommitEvent       `cbor:"15,keyasint,omitempty"` // Broker layer
	Error        *ErrorEventData    `cbor:"16,keyasint,omitempty"` // Any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerBroker is the subscription and value distribution engine.
	LayerBroker Layer = 2
	// LayerService is the request dispatch layer.
	LayerService Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerBroker:
		return "BROKER"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (request/response/notification).
	CategoryMessage Category = 0
	// CategoryControl indicates a control message (ping/pong/close).
	CategoryControl Category = 1
	// CategoryState indicates a lifecycle change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategorySubscription indicates a subscribe, unsubscribe or release.
	CategorySubscription Category = 4
	// CategoryCommit indicates an applied or rejected change set.
	CategoryCommit Category = 5
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategorySubscription:
		return "SUBSCRIPTION"
	case CategoryCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name as returned by Category.String,
// ignoring case.
func ParseCategory(s string) (Category, bool) {
	for c := CategoryMessage; c <= CategoryCommit; c++ {
		if strings.EqualFold(c.String(), s) {
			return c, true
		}
	}
	return 0, false
}

// ParseLayer parses a layer name as returned by Layer.String, ignoring case.
func ParseLayer(s string) (Layer, bool) {
	for l := LayerTransport; l <= LayerService; l++ {
		if strings.EqualFold(l.String(), s) {
			return l, true
		}
	}
	return 0, false
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded message at the wire layer.
type MessageEvent struct {
	// Type distinguishes request/response/notification.
	Type MessageType `cbor:"1,keyasint"`

	// MessageID correlates request/response pairs (0 for notifications).
	MessageID uint32 `cbor:"2,keyasint"`

	// For requests and notifications: the operation.
	Operation *wire.Operation `cbor:"3,keyasint,omitempty"`

	// For responses: the status code.
	Status *wire.Status `cbor:"4,keyasint,omitempty"`

	// Keys named by the message.
	Keys []string `cbor:"5,keyasint,omitempty"`

	// ProcessingTime is the duration from request receipt to response send (response only).
	ProcessingTime *time.Duration `cbor:"6,keyasint,omitempty"`
}

// MessageType distinguishes request/response/notification.
type MessageType uint8

const (
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 1
	// MessageTypeNotification indicates a notification message.
	MessageTypeNotification MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeNotification:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection, subscriber and provider lifecycle.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`

	// Keys affected by the change, such as the keys a provider owns.
	Keys []string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySubscriber indicates a subscriber was created or closed.
	StateEntitySubscriber StateEntity = 1
	// StateEntityProvider indicates a provider was registered or removed.
	StateEntityProvider StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscriber:
		return "SUBSCRIBER"
	case StateEntityProvider:
		return "PROVIDER"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures transport-level control messages.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgPing indicates a ping message.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong indicates a pong message.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgClose indicates a close message.
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// SubscriptionEvent captures a change to one subscriber's key set.
type SubscriptionEvent struct {
	// Action that changed the subscription.
	Action SubscriptionAction `cbor:"1,keyasint"`

	// Keys the action applied to, after unknown keys were dropped.
	Keys []string `cbor:"2,keyasint,omitempty"`

	// Added holds the keys that were not subscribed before (subscribe only).
	Added []string `cbor:"3,keyasint,omitempty"`

	// FirstSubscribed holds the keys that gained their first subscriber.
	FirstSubscribed []string `cbor:"4,keyasint,omitempty"`

	// LastUnsubscribed holds the keys that lost their last subscriber.
	LastUnsubscribed []string `cbor:"5,keyasint,omitempty"`
}

// SubscriptionAction identifies what changed a subscription.
type SubscriptionAction uint8

const (
	// SubscriptionActionSubscribe is a client subscribe.
	SubscriptionActionSubscribe SubscriptionAction = 0
	// SubscriptionActionUnsubscribe is a client unsubscribe.
	SubscriptionActionUnsubscribe SubscriptionAction = 1
	// SubscriptionActionRelease is the teardown of a subscriber.
	SubscriptionActionRelease SubscriptionAction = 2
)

// String returns the action name.
func (a SubscriptionAction) String() string {
	switch a {
	case SubscriptionActionSubscribe:
		return "SUBSCRIBE"
	case SubscriptionActionUnsubscribe:
		return "UNSUBSCRIBE"
	case SubscriptionActionRelease:
		return "RELEASE"
	default:
		return "UNKNOWN"
	}
}

// CommitEvent captures a change set being applied or rejected.
type CommitEvent struct {
	// Changed holds the keys that received a value.
	Changed []string `cbor:"1,keyasint,omitempty"`

	// Undetermined holds the keys marked undetermined.
	Undetermined []string `cbor:"2,keyasint,omitempty"`

	// Accepted is false when the change set was rejected.
	Accepted bool `cbor:"3,keyasint"`

	// InvalidKeys holds the keys that caused a rejection.
	InvalidKeys []string `cbor:"4,keyasint,omitempty"`

	// Notified is the number of subscribers that received a notification.
	Notified int `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

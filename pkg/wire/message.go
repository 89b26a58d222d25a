package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/contextkit/contextd/pkg/value"
)

// MessageType discriminates the messages sharing a connection.
type MessageType uint8

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeRequest
	MessageTypeResponse
	MessageTypeNotification
	MessageTypeControl
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	case MessageTypeNotification:
		return "notification"
	case MessageTypeControl:
		return "control"
	default:
		return "unknown"
	}
}

// envelope is the on-wire form of every message.
//
// CBOR encoding:
//
//	{
//	  1: type,        // uint8: 1=request, 2=response, 3=notification, 4=control
//	  2: messageId,   // uint32: request/response correlation, ping sequence
//	  3: code,        // uint8: operation, status or control type
//	  4: payload      // operation-specific CBOR item
//	}
type envelope struct {
	Type      MessageType     `cbor:"1,keyasint"`
	MessageID uint32          `cbor:"2,keyasint,omitempty"`
	Code      uint8           `cbor:"3,keyasint"`
	Payload   cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// Request is a call from a client or remote provider to the broker.
type Request struct {
	MessageID uint32
	Operation Operation
	Payload   cbor.RawMessage
}

// NewRequest builds a request with payload encoded as CBOR. A nil payload
// is omitted.
func NewRequest(id uint32, op Operation, payload any) (*Request, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Request{MessageID: id, Operation: op, Payload: raw}, nil
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return fmt.Errorf("messageId 0 is reserved")
	}
	if !r.Operation.IsRequest() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	return nil
}

// DecodePayload decodes the request payload into v.
func (r *Request) DecodePayload(v any) error {
	return decodePayload(r.Payload, v)
}

// Response answers the request with the same message ID.
type Response struct {
	MessageID uint32
	Status    Status
	Payload   cbor.RawMessage
}

// NewResponse builds a response with payload encoded as CBOR.
func NewResponse(id uint32, status Status, payload any) (*Response, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Response{MessageID: id, Status: status, Payload: raw}, nil
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// DecodePayload decodes the response payload into v.
func (r *Response) DecodePayload(v any) error {
	return decodePayload(r.Payload, v)
}

// Err returns nil for a successful response and a *StatusError otherwise.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	serr := &StatusError{Status: r.Status}
	var ep ErrorPayload
	if err := r.DecodePayload(&ep); err == nil {
		serr.Message = ep.Message
		serr.Keys = ep.Keys
	}
	return serr
}

// StatusError is a failed response.
type StatusError struct {
	Status  Status
	Message string
	Keys    []string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Notification is an unsolicited message from the broker.
type Notification struct {
	Operation Operation
	Payload   cbor.RawMessage
}

// NewNotification builds a notification with payload encoded as CBOR.
func NewNotification(op Operation, payload any) (*Notification, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Notification{Operation: op, Payload: raw}, nil
}

// DecodePayload decodes the notification payload into v.
func (n *Notification) DecodePayload(v any) error {
	return decodePayload(n.Payload, v)
}

// KeysPayload carries a list of keys.
// Used by Get, Provide and NumberOfSubscribers requests.
type KeysPayload struct {
	Keys []string `cbor:"1,keyasint,omitempty"`
}

// SubscriberPayload carries a subscriber handle (GetSubscriber response).
type SubscriberPayload struct {
	Subscriber string `cbor:"1,keyasint"`
}

// SubscribePayload addresses keys on a subscriber handle.
// Used by Subscribe and Unsubscribe requests.
type SubscribePayload struct {
	Subscriber string   `cbor:"1,keyasint"`
	Keys       []string `cbor:"2,keyasint,omitempty"`
}

// ValuesPayload carries values and undeterminable keys.
// Used by Get and Subscribe responses, Changed notifications and Commit
// requests. An absent value in Values keeps its key on the wire.
type ValuesPayload struct {
	Values         map[string]value.Value `cbor:"1,keyasint,omitempty"`
	Undeterminable []string               `cbor:"2,keyasint,omitempty"`
}

// EdgePayload carries subscribe and unsubscribe edges to a remote provider.
type EdgePayload struct {
	Keys      []string `cbor:"1,keyasint,omitempty"`
	Remaining []string `cbor:"2,keyasint,omitempty"`
}

// CountsPayload carries subscriber counts (NumberOfSubscribers response).
type CountsPayload struct {
	Counts map[string]uint32 `cbor:"1,keyasint,omitempty"`
}

// KeyListPayload lists keys known to the broker (ListKeys response).
type KeyListPayload struct {
	Provided   []string `cbor:"1,keyasint,omitempty"`
	Subscribed []string `cbor:"2,keyasint,omitempty"`
}

// ErrorPayload adds detail to a failed response.
type ErrorPayload struct {
	Message string   `cbor:"1,keyasint,omitempty"`
	Keys    []string `cbor:"2,keyasint,omitempty"`
}

// ControlMessage represents a transport-level control message.
// These are separate from the request/response/notification model.
type ControlMessage struct {
	Type     ControlMessageType
	Sequence uint32
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check connection liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose initiates graceful connection close.
	ControlClose ControlMessageType = 3
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	default:
		return "unknown"
	}
}

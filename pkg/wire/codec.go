package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for broker messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for broker messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient for forward compatibility: unknown keys are ignored.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func encodePayload(payload any) (cbor.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// EncodeRequest encodes a request message to CBOR bytes.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(envelope{
		Type:      MessageTypeRequest,
		MessageID: req.MessageID,
		Code:      uint8(req.Operation),
		Payload:   req.Payload,
	})
}

// DecodeRequest decodes CBOR bytes into a request message.
func DecodeRequest(data []byte) (*Request, error) {
	env, err := decodeEnvelope(data, MessageTypeRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	req := &Request{MessageID: env.MessageID, Operation: Operation(env.Code), Payload: env.Payload}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

// EncodeResponse encodes a response message to CBOR bytes.
func EncodeResponse(resp *Response) ([]byte, error) {
	return Marshal(envelope{
		Type:      MessageTypeResponse,
		MessageID: resp.MessageID,
		Code:      uint8(resp.Status),
		Payload:   resp.Payload,
	})
}

// DecodeResponse decodes CBOR bytes into a response message.
func DecodeResponse(data []byte) (*Response, error) {
	env, err := decodeEnvelope(data, MessageTypeResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &Response{MessageID: env.MessageID, Status: Status(env.Code), Payload: env.Payload}, nil
}

// EncodeNotification encodes a notification message to CBOR bytes.
func EncodeNotification(notif *Notification) ([]byte, error) {
	if !notif.Operation.IsNotification() {
		return nil, fmt.Errorf("invalid notification operation: %d", notif.Operation)
	}
	return Marshal(envelope{
		Type:    MessageTypeNotification,
		Code:    uint8(notif.Operation),
		Payload: notif.Payload,
	})
}

// DecodeNotification decodes CBOR bytes into a notification message.
func DecodeNotification(data []byte) (*Notification, error) {
	env, err := decodeEnvelope(data, MessageTypeNotification)
	if err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return &Notification{Operation: Operation(env.Code), Payload: env.Payload}, nil
}

// EncodeControlMessage encodes a control message (ping/pong/close) to CBOR bytes.
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	return Marshal(envelope{
		Type:      MessageTypeControl,
		MessageID: msg.Sequence,
		Code:      uint8(msg.Type),
	})
}

// DecodeControlMessage decodes CBOR bytes into a control message.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	env, err := decodeEnvelope(data, MessageTypeControl)
	if err != nil {
		return nil, fmt.Errorf("failed to decode control message: %w", err)
	}
	return &ControlMessage{Type: ControlMessageType(env.Code), Sequence: env.MessageID}, nil
}

// PeekMessageType returns the type of an encoded message without decoding
// its payload.
func PeekMessageType(data []byte) (MessageType, error) {
	var peek struct {
		Type MessageType `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return MessageTypeUnknown, fmt.Errorf("failed to peek message: %w", err)
	}
	if peek.Type < MessageTypeRequest || peek.Type > MessageTypeControl {
		return MessageTypeUnknown, fmt.Errorf("unknown message type: %d", peek.Type)
	}
	return peek.Type, nil
}

func decodeEnvelope(data []byte, want MessageType) (*envelope, error) {
	var env envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type != want {
		return nil, fmt.Errorf("not a %s message: %s", want, env.Type)
	}
	return &env, nil
}

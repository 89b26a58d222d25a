package transport

import (
	"time"

	"github.com/contextkit/contextd/pkg/log"
	"github.com/contextkit/contextd/pkg/wire"
)

// EncodePing encodes a ping control message.
func EncodePing(seq uint32) ([]byte, error) {
	return wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPing, Sequence: seq})
}

// EncodePong encodes a pong control message.
func EncodePong(seq uint32) ([]byte, error) {
	return wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPong, Sequence: seq})
}

// EncodeClose encodes a close control message.
func EncodeClose() ([]byte, error) {
	return wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlClose})
}

// decodeControl returns the control message in data, or nil if data holds
// another message type. Requests and control messages share the envelope
// layout, so the type is peeked before decoding.
func decodeControl(data []byte) *wire.ControlMessage {
	if typ, err := wire.PeekMessageType(data); err != nil || typ != wire.MessageTypeControl {
		return nil
	}
	msg, err := wire.DecodeControlMessage(data)
	if err != nil {
		return nil
	}
	return msg
}

func logControl(logger log.Logger, connID, remote string, msgType wire.ControlMessageType, direction log.Direction) {
	if logger == nil {
		return
	}

	var t log.ControlMsgType
	switch msgType {
	case wire.ControlPing:
		t = log.ControlMsgPing
	case wire.ControlPong:
		t = log.ControlMsgPong
	case wire.ControlClose:
		t = log.ControlMsgClose
	default:
		return
	}

	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		RemoteAddr:   remote,
		ControlMsg:   &log.ControlMsgEvent{Type: t},
	})
}

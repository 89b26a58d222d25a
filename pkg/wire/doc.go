// Package wire defines the CBOR message format spoken between contextd and
// its clients and remote providers.
//
// Every message is a CBOR map with integer keys wrapped in a length-prefixed
// frame (see package transport). The envelope carries the message type, a
// correlation ID, a one-byte code and an operation-specific payload:
//
//	{1: type, 2: messageId, 3: code, 4: payload}
//
// # Message Types
//
//   - Request: client or remote provider to broker (Get, Subscribe, Commit, ...)
//   - Response: broker to requester, correlated by messageId, code is a Status
//   - Notification: broker to client (Changed) or to a remote provider
//     (KeysSubscribed, KeysUnsubscribed)
//   - Control: transport-level ping, pong and close
//
// # Absent Values
//
// A key that maps to null in a ValuesPayload is present but has no value.
// Receivers treat it the same as a key listed as undeterminable.
package wire

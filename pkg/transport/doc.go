// Package transport carries contextd messages over stream sockets.
//
// The broker listens on TCP (local network, reachable through mDNS
// discovery) or on a unix socket (local clients). Each message is a single
// CBOR item from package wire preceded by a 4-byte big-endian length.
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│       TCP or unix socket       │
//	└────────────────────────────────┘
//
// # Ordering
//
// Every ServerConn has one outbound queue drained by a dedicated writer.
// Responses and notifications reach the client in the order they were
// queued, and queuing never blocks the broker. A client that falls more
// than MaxOutboundQueue frames behind is disconnected.
//
// # Keep-Alive
//
// Either side may send ping control messages. The receiver answers with a
// pong carrying the same sequence number. After MaxMissedPongs unanswered
// pings the connection is closed, which the broker treats as the client's
// identity being lost.
package transport

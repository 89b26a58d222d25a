// Package discovery implements mDNS/DNS-SD discovery of contextd brokers.
//
// A broker reachable over TCP advertises the _contextd._tcp service. The
// instance name is configurable and defaults to the host name. TXT records:
//
//   - ver: protocol version, major.minor (required)
//   - net: tcp or unix (required)
//   - path: socket path, required for unix brokers
//   - host: host name of the broker (optional)
//   - keys: number of keys currently provided (optional)
//
// Browsers drop advertisements whose major version differs from their own.
// An Announcer refreshes the keys record as providers come and go.
package discovery

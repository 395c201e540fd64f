// Package transport moves onion datagrams between nodes.
//
// # Overview
//
// The onion layer never performs I/O itself. This package provides the
// boundary it needs:
//   - Transport: send an opaque datagram to an ipport.IPPort
//   - Dispatcher: route inbound datagrams to a Handler by their first byte
//   - SourceLimiter: per-source token buckets in front of the dispatcher
//
// The UDP implementation lives in lib/transport/udp.
//
// # Thread Safety
//
// Dispatcher and SourceLimiter are safe for concurrent access. Handlers
// may be invoked from the transport's read loop concurrently with handler
// registration.
package transport

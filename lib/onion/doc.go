// Package onion implements three-hop onion packets with stateless return
// routing.
//
// # Overview
//
// An originator picks three relays and builds a Path. EncodeSend wraps a
// payload in three layers of NaCl box encryption, one per relay:
//
//	originator → hop1 → hop2 → hop3 → destination
//
// Each relay peels exactly one layer with Onion.DecodeSend and learns only
// the address of the next hop. Before forwarding, the relay appends a
// return tag: its predecessor's address sealed with a secret only the
// relay knows. The destination receives the payload followed by a
// three-layer return tag and answers with EncodeResponse. On the way back
// each relay peels its own tag layer with Onion.DecodeResponse, so no relay
// keeps any per-request state.
//
// # Packet Kinds
//
//	0x80 send initial   originator → hop1
//	0x81 send 1         hop1 → hop2
//	0x82 send 2         hop2 → hop3
//	0x8c recv 3         destination → hop3
//	0x8d recv 2         hop3 → hop2
//	0x8e recv 1         hop2 → hop1
//
// The packet delivered from hop3 to the destination carries no kind byte of
// its own; the first payload byte is expected to identify the application
// message.
//
// # Return Tag Secret
//
// Return tags are sealed with a symmetric secret that rotates on a fixed
// schedule. The previous secret stays valid for one rotation period, so a
// tag is accepted for at least one and at most two periods after it was
// created.
//
// # Thread Safety
//
// All encode and decode operations are safe for concurrent use. The only
// shared mutable state is the per-hop key caches and the rotating secret,
// both internally synchronized.
package onion
